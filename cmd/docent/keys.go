package main

import (
	"io"

	"docent/internal/orchestrator"
)

// controller is the part of the orchestrator the keyboard drives.
type controller interface {
	RequestNextStep()
	GoToPreviousStep()
	Pause()
	Resume()
	Stop()
	State() orchestrator.State
	SuppressInteractions(suppress bool)
	InteractionsSuppressed() bool
}

// handleKey applies one key press and reports whether the tour is over.
func handleKey(c controller, b byte) bool {
	switch b {
	case 'n', ' ', '\r', '\n':
		c.RequestNextStep()
	case 'b':
		c.GoToPreviousStep()
	case 'p':
		if c.State() == orchestrator.StatePaused {
			c.Resume()
		} else {
			c.Pause()
		}
	case 'r':
		c.Resume()
	case 'i':
		c.SuppressInteractions(!c.InteractionsSuppressed())
	case 'q', 0x03:
		c.Stop()
		return true
	}
	return false
}

// readKeys forwards single bytes from r until it fails, then closes keys.
func readKeys(r io.Reader, keys chan<- byte) {
	defer close(keys)
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			keys <- buf[0]
		}
		if err != nil {
			return
		}
	}
}
