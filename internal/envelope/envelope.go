// Package envelope defines the decision envelope every kernel operation
// returns, and renders it either as JSON or as a short human-readable text
// block depending on the output mode in force.
package envelope

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/csk-next/csk/internal/clierr"
)

// Next names the recommended follow-up operation and any alternatives, so
// a caller (human or orchestrating agent) always knows what to do after
// reading an envelope.
type Next struct {
	Recommended  string   `json:"recommended,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Envelope is the uniform shape every kernel operation returns.
type Envelope struct {
	Summary string         `json:"summary"`
	Status  string         `json:"status"` // "ok", "error", "blocked"
	Next    Next           `json:"next,omitempty"`
	Refs    []string       `json:"refs,omitempty"`
	Errors  []string       `json:"errors,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// OK builds a successful envelope.
func OK(summary string, data map[string]any) Envelope {
	return Envelope{Summary: summary, Status: "ok", Data: data}
}

// Blocked builds an envelope reporting that the task is blocked pending
// human or external action, not a hard failure.
func Blocked(summary string, data map[string]any) Envelope {
	return Envelope{Summary: summary, Status: "blocked", Data: data}
}

// FromError builds an error envelope from a kernel error. Non-*clierr.Error
// values are wrapped with clierr.InternalError.
func FromError(err error) Envelope {
	var summary string
	var code string
	if ce, ok := err.(*clierr.Error); ok {
		summary = ce.Message
		code = string(ce.Code)
	} else {
		summary = err.Error()
		code = string(clierr.InternalError)
	}
	return Envelope{
		Summary: summary,
		Status:  "error",
		Errors:  []string{code + ": " + summary},
	}
}

// WithNext attaches the recommended next operation and returns e for
// chaining.
func (e Envelope) WithNext(recommended string, alternatives ...string) Envelope {
	e.Next = Next{Recommended: recommended, Alternatives: alternatives}
	return e
}

// WithRefs attaches artifact references and returns e for chaining.
func (e Envelope) WithRefs(refs ...string) Envelope {
	e.Refs = refs
	return e
}

// Mode selects how an envelope is rendered at the process boundary.
type Mode int

const (
	// ModeAuto renders JSON when stdout is not a terminal, text otherwise.
	ModeAuto Mode = iota
	ModeJSON
	ModeText
)

var isTerminalFn = func() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Detect resolves the effective render mode from explicit flags and the
// CSK_OUTPUT environment variable, falling back to TTY auto-detection.
func Detect(jsonFlag, textFlag bool) Mode {
	if jsonFlag {
		return ModeJSON
	}
	if textFlag {
		return ModeText
	}
	switch os.Getenv("CSK_OUTPUT") {
	case "json":
		return ModeJSON
	case "text":
		return ModeText
	}
	if isTerminalFn() {
		return ModeText
	}
	return ModeJSON
}

// Write renders e to w according to mode.
func Write(w io.Writer, e Envelope, mode Mode) error {
	if mode == ModeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	}
	return writeText(w, e)
}

func writeText(w io.Writer, e Envelope) error {
	if _, err := fmt.Fprintf(w, "%s: %s\n", e.Status, e.Summary); err != nil {
		return err
	}
	if e.Next.Recommended != "" {
		if _, err := fmt.Fprintf(w, "next: %s\n", e.Next.Recommended); err != nil {
			return err
		}
	}
	for _, alt := range e.Next.Alternatives {
		if _, err := fmt.Fprintf(w, "  or: %s\n", alt); err != nil {
			return err
		}
	}
	for _, ref := range e.Refs {
		if _, err := fmt.Fprintf(w, "ref: %s\n", ref); err != nil {
			return err
		}
	}
	for _, errLine := range e.Errors {
		if _, err := fmt.Fprintf(w, "error: %s\n", errLine); err != nil {
			return err
		}
	}
	return nil
}
