// Package template expands ${...} placeholders in tour text: narration,
// selectors and action arguments.
package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"docent/internal/core"
)

// varPattern matches ${var}, ${env:VAR} and ${fn(args)} placeholders.
var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Substitute replaces placeholders in text. Scenario variables take
// precedence over built-in functions of the same spelling. Returns all
// errors joined if several placeholders cannot be resolved. Text without
// placeholders is returned unchanged.
func Substitute(text string, vars core.Variables) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var errs []error
	result := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-1])

		if envName, ok := strings.CutPrefix(name, "env:"); ok {
			if val, ok := os.LookupEnv(envName); ok {
				return val
			}
			errs = append(errs, fmt.Errorf("env var %q not set", envName))
			return match
		}

		if vars != nil {
			if val, ok := vars.Get(name); ok {
				return fmt.Sprintf("%v", val)
			}
		}

		val, isFunc, err := evalFunction(name)
		if isFunc {
			if err != nil {
				errs = append(errs, err)
				return match
			}
			return val
		}

		errs = append(errs, fmt.Errorf("variable %q not found", name))
		return match
	})

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return result, nil
}

// SubstituteAll applies Substitute to every element of texts.
// Returns all errors joined, each prefixed with the element's index.
func SubstituteAll(texts []string, vars core.Variables) ([]string, error) {
	if texts == nil {
		return nil, nil
	}

	result := make([]string, len(texts))
	var errs []error
	for i, text := range texts {
		substituted, err := Substitute(text, vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("[%d]: %w", i, err))
			continue
		}
		result[i] = substituted
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return result, nil
}

// SubstituteMap applies substitution to all values in a map.
// Returns all errors joined if any substitution fails.
func SubstituteMap(m map[string]string, vars core.Variables) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}

	result := make(map[string]string, len(m))
	var errs []error

	for k, v := range m {
		substituted, err := Substitute(v, vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", k, err))
			continue
		}
		result[k] = substituted
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return result, nil
}
