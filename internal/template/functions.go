package template

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// now is replaced in tests.
var now = time.Now

// functions holds the built-ins usable as ${name(args)}.
var functions = map[string]func(args string) (string, error){
	"uuid":         fnUUID,
	"timestamp":    fnTimestamp,
	"timestamp_ms": fnTimestampMs,
	"date":         fnDate,
	"random":       fnRandom,
}

// evalFunction evaluates a built-in function call. The second result is
// false when expr is not a call to a known function.
func evalFunction(expr string) (string, bool, error) {
	open := strings.Index(expr, "(")
	if open == -1 || !strings.HasSuffix(expr, ")") {
		return "", false, nil
	}

	name := strings.TrimSpace(expr[:open])
	fn, ok := functions[name]
	if !ok {
		return "", false, nil
	}

	result, err := fn(expr[open+1 : len(expr)-1])
	if err != nil {
		return "", true, fmt.Errorf("function %s: %w", name, err)
	}
	return result, true, nil
}

func noArgs(name, args string) error {
	if strings.TrimSpace(args) != "" {
		return fmt.Errorf("%s() takes no arguments", name)
	}
	return nil
}

func fnUUID(args string) (string, error) {
	if err := noArgs("uuid", args); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

// fnTimestamp returns the current Unix time in seconds.
func fnTimestamp(args string) (string, error) {
	if err := noArgs("timestamp", args); err != nil {
		return "", err
	}
	return strconv.FormatInt(now().Unix(), 10), nil
}

func fnTimestampMs(args string) (string, error) {
	if err := noArgs("timestamp_ms", args); err != nil {
		return "", err
	}
	return strconv.FormatInt(now().UnixMilli(), 10), nil
}

// fnDate formats the current time with a Go layout, RFC 3339 by default.
// Usage: date(Jan 2, 2006)
func fnDate(args string) (string, error) {
	layout := strings.TrimSpace(args)
	if layout == "" {
		layout = time.RFC3339
	}
	return now().Format(layout), nil
}

// fnRandom returns an integer in [min, max].
// Usage: random(min,max)
func fnRandom(args string) (string, error) {
	lo, hi, ok := strings.Cut(args, ",")
	if !ok {
		return "", fmt.Errorf("random(min,max) requires exactly 2 arguments")
	}
	minV, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid min value: %w", err)
	}
	maxV, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid max value: %w", err)
	}
	if minV > maxV {
		return "", fmt.Errorf("min (%d) must be <= max (%d)", minV, maxV)
	}

	n, err := rand.Int(rand.Reader, big.NewInt(maxV-minV+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(minV+n.Int64(), 10), nil
}
