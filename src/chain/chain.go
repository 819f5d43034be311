// Package chain records the outcome of ordered fallible steps, such as the
// degrade cascades of the classifier and the history manager.
package chain

import (
	"fmt"
	"strings"
)

// Outcome tags the result of one step.
type Outcome int

const (
	OK Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Step is one entry of a trace.
type Step struct {
	Name    string
	Outcome Outcome
	Reason  string
}

func (s Step) String() string {
	if s.Reason == "" {
		return s.Name + "=" + s.Outcome.String()
	}
	return fmt.Sprintf("%s=%s(%s)", s.Name, s.Outcome, s.Reason)
}

// Trace is an ordered list of steps.
type Trace []Step

func (t *Trace) OK(name, format string, args ...any) {
	t.add(name, OK, format, args...)
}

func (t *Trace) Skip(name, format string, args ...any) {
	t.add(name, Skipped, format, args...)
}

func (t *Trace) Fail(name string, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	*t = append(*t, Step{Name: name, Outcome: Failed, Reason: reason})
}

func (t *Trace) add(name string, o Outcome, format string, args ...any) {
	reason := format
	if len(args) > 0 {
		reason = fmt.Sprintf(format, args...)
	}
	*t = append(*t, Step{Name: name, Outcome: o, Reason: reason})
}

// Outcome returns the outcome of the last step called name.
func (t Trace) Outcome(name string) (Outcome, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Name == name {
			return t[i].Outcome, true
		}
	}
	return 0, false
}

// Failed reports whether any step failed.
func (t Trace) Failed() bool {
	for _, s := range t {
		if s.Outcome == Failed {
			return true
		}
	}
	return false
}

func (t Trace) String() string {
	parts := make([]string, len(t))
	for i, s := range t {
		parts[i] = s.String()
	}
	return strings.Join(parts, " -> ")
}
