package importer

import (
	"fmt"
	"io"
	"time"

	"github.com/legrimoire/grimoire-data/internal/wine"
)

// Error kinds listed in the report.
const (
	KindMalformed = "malformed"
	KindAmbiguous = "ambiguous"
	KindConflict  = "conflict"
	KindRecord    = "record"
	KindField     = "field"
)

// RecordError is one skipped record or dropped field in the report.
type RecordError struct {
	Line     int               `json:"line"`
	Kind     string            `json:"kind"`
	Identity string            `json:"identity,omitempty"`
	Field    string            `json:"field,omitempty"`
	Message  string            `json:"message"`
	Raw      map[string]string `json:"raw,omitempty"`
}

func (e RecordError) String() string {
	s := fmt.Sprintf("line %d [%s]", e.Line, e.Kind)
	if e.Identity != "" {
		s += " " + e.Identity
	}
	return s + ": " + e.Message
}

// ImportStats holds the counters of one import run. It is also the
// checkpoint payload.
type ImportStats struct {
	Source    wine.Source `json:"source"`
	Processed int         `json:"processed"`
	Inserted  int         `json:"inserted"`
	Updated   int         `json:"updated"`
	Unchanged int         `json:"unchanged"`
	Skipped   int         `json:"skipped"`
	Conflicts int         `json:"conflicts"`

	Errors   []RecordError `json:"errors,omitempty"`
	Warnings []RecordError `json:"warnings,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`

	// LastOffset is the number of input rows consumed, resumed rows
	// included.
	LastOffset int `json:"last_offset"`
	// Resumed is the number of rows skipped because an earlier run
	// already handled them.
	Resumed int `json:"resumed,omitempty"`
}

// Duration returns the run time so far.
func (s *ImportStats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns the one-line outcome of the run.
func (s *ImportStats) Summary() string {
	return fmt.Sprintf(
		"source=%s processed=%d inserted=%d updated=%d unchanged=%d skipped=%d errors=%d warnings=%d conflicts=%d duration=%s",
		s.Source, s.Processed, s.Inserted, s.Updated, s.Unchanged, s.Skipped,
		len(s.Errors), len(s.Warnings), s.Conflicts, s.Duration().Round(time.Millisecond))
}

// WriteReport writes the summary followed by every skipped record and
// dropped field.
func (s *ImportStats) WriteReport(w io.Writer) error {
	if _, err := fmt.Fprintln(w, s.Summary()); err != nil {
		return err
	}
	if s.Resumed > 0 {
		if _, err := fmt.Fprintf(w, "resumed after %d rows\n", s.Resumed); err != nil {
			return err
		}
	}
	for _, group := range []struct {
		title string
		items []RecordError
	}{
		{"errors", s.Errors},
		{"warnings", s.Warnings},
	} {
		if len(group.items) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s (%d):\n", group.title, len(group.items)); err != nil {
			return err
		}
		for _, e := range group.items {
			if _, err := fmt.Fprintf(w, "  %s\n", e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ImportStats) clone() *ImportStats {
	out := *s
	out.Errors = append([]RecordError(nil), s.Errors...)
	out.Warnings = append([]RecordError(nil), s.Warnings...)
	return &out
}
