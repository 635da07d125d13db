package analytics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// FormatText writes the session report in human-readable form.
func FormatText(w io.Writer, s *Summary) {
	if s.Events == 0 {
		fmt.Fprintln(w, "No events recorded")
		return
	}

	outcome := "stopped"
	if s.Completed {
		outcome = "completed"
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Docent - Tour Session")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Session:      %s\n", s.SessionID)
	fmt.Fprintf(w, "Outcome:      %s\n", outcome)
	fmt.Fprintf(w, "Duration:     %s\n", FormatDuration(s.Duration))
	fmt.Fprintf(w, "Events:       %d (%s)\n", s.Events, strings.Join(s.EventTypes(), ", "))
	fmt.Fprintf(w, "Steps:        %d started, %d completed\n", s.StepsStarted, s.StepsCompleted)
	fmt.Fprintf(w, "Pauses:       %d\n", s.Pauses)
	fmt.Fprintf(w, "Interactions: %d\n", s.InteractionPoints)

	if len(s.Steps) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "By Step:")
		for _, st := range s.Steps {
			fmt.Fprintf(w, "  %-15s started=%d completed=%d time=%s\n",
				st.ID, st.Started, st.Completed, FormatDuration(st.Time))
		}
	}
}

// FormatJSON writes the session report as indented JSON.
func FormatJSON(w io.Writer, s *Summary) {
	byType := make(map[string]int, len(s.ByType))
	for t, n := range s.ByType {
		byType[string(t)] = n
	}

	steps := make([]jsonStep, 0, len(s.Steps))
	for _, st := range s.Steps {
		steps = append(steps, jsonStep{
			ID:        st.ID,
			Started:   st.Started,
			Completed: st.Completed,
			Time:      FormatDuration(st.Time),
		})
	}

	output := struct {
		SessionID         string         `json:"sessionId"`
		Events            int            `json:"events"`
		ByType            map[string]int `json:"byType"`
		Duration          string         `json:"duration"`
		StepsStarted      int            `json:"stepsStarted"`
		StepsCompleted    int            `json:"stepsCompleted"`
		Pauses            int            `json:"pauses"`
		InteractionPoints int            `json:"interactionPoints"`
		Completed         bool           `json:"completed"`
		Exited            bool           `json:"exited"`
		Steps             []jsonStep     `json:"steps"`
	}{
		SessionID:         s.SessionID,
		Events:            s.Events,
		ByType:            byType,
		Duration:          s.Duration.Round(time.Millisecond).String(),
		StepsStarted:      s.StepsStarted,
		StepsCompleted:    s.StepsCompleted,
		Pauses:            s.Pauses,
		InteractionPoints: s.InteractionPoints,
		Completed:         s.Completed,
		Exited:            s.Exited,
		Steps:             steps,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output) // stdout errors are unrecoverable
}

type jsonStep struct {
	ID        string `json:"id"`
	Started   int    `json:"started"`
	Completed int    `json:"completed"`
	Time      string `json:"time"`
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// EventTypes returns the event types present in s in sorted order.
func (s *Summary) EventTypes() []string {
	out := make([]string, 0, len(s.ByType))
	for t := range s.ByType {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}
