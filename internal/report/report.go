// Package report renders load decisions into human- and machine-readable
// audit reports. Rendering is pure; writing the result anywhere is the
// caller's business.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gantryproject/gantry/internal/license"
	"github.com/gantryproject/gantry/internal/resolver"
)

// Status classifies one logical name's outcome.
type Status string

const (
	StatusAdmitted   Status = "admitted"
	StatusUnresolved Status = "unresolved"
)

// RejectionLine is one rejected candidate in priority order.
type RejectionLine struct {
	Source string `json:"source"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Entry is the report line for one logical name.
type Entry struct {
	Name     string          `json:"name"`
	Status   Status          `json:"status"`
	Source   string          `json:"source,omitempty"`
	Path     string          `json:"path,omitempty"`
	State    *license.State  `json:"state,omitempty"`
	Warning  string          `json:"warning,omitempty"`
	Rejected []RejectionLine `json:"rejected,omitempty"`
}

// Report is the structured audit trail of a full resolver run.
type Report struct {
	RunID       uuid.UUID `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Admitted    int       `json:"admitted"`
	Unresolved  int       `json:"unresolved"`
	Entries     []Entry   `json:"entries"`
}

// New builds a report from a decision map. Entries are sorted by name so
// the rendering is stable.
func New(decisions map[string]*resolver.LoadDecision) *Report {
	r := &Report{
		RunID:       uuid.New(),
		GeneratedAt: time.Now().UTC(),
	}

	names := make([]string, 0, len(decisions))
	for name := range decisions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := decisions[name]
		entry := Entry{Name: name, Status: StatusUnresolved}

		if d.Admitted != nil {
			entry.Status = StatusAdmitted
			entry.Source = string(d.Admitted.Source)
			entry.Path = d.Admitted.Path
			entry.State = d.State
			entry.Warning = d.Warning
			r.Admitted++
		} else {
			r.Unresolved++
		}

		for _, rej := range d.Rejected {
			entry.Rejected = append(entry.Rejected, RejectionLine{
				Source: string(rej.Component.Source),
				Path:   rej.Component.Path,
				Reason: rej.Reason,
			})
		}

		r.Entries = append(r.Entries, entry)
	}

	return r
}

// Text renders the report line-oriented for terminals.
func (r *Report) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Load report %s (%s)\n", r.RunID, r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Admitted: %d  Unresolved: %d\n\n", r.Admitted, r.Unresolved)

	for _, e := range r.Entries {
		switch e.Status {
		case StatusAdmitted:
			line := fmt.Sprintf("%-30s admitted  source=%s", e.Name, e.Source)
			if e.State != nil {
				line += fmt.Sprintf(" state=%s", e.State.Kind)
			}
			b.WriteString(line + "\n")
			if e.Warning != "" {
				fmt.Fprintf(&b, "%-30s   warning: %s\n", "", e.Warning)
			}
		case StatusUnresolved:
			fmt.Fprintf(&b, "%-30s UNRESOLVED\n", e.Name)
		}

		for _, rej := range e.Rejected {
			fmt.Fprintf(&b, "%-30s   rejected %s candidate: %s\n", "", rej.Source, rej.Reason)
		}
	}

	return b.String()
}

// JSON renders the report as an indented JSON document.
func (r *Report) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}
