// Package dryrun carries the --dry-run switch and renders what a command
// would have done instead of doing it.
package dryrun

import (
	"context"
	"fmt"
	"io"
)

type contextKey string

const dryRunKey contextKey = "dry_run_enabled"

// WithDryRun returns a context with dry-run mode enabled/disabled.
func WithDryRun(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, dryRunKey, enabled)
}

// IsEnabled returns true if dry-run mode is enabled.
func IsEnabled(ctx context.Context) bool {
	if v, ok := ctx.Value(dryRunKey).(bool); ok {
		return v
	}
	return false
}

// Detail is one labelled value of a preview, printed in insertion order.
type Detail struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Preview describes an operation that was not carried out.
type Preview struct {
	Operation   string   `json:"operation"`
	Target      string   `json:"target"`
	Description string   `json:"description,omitempty"`
	Details     []Detail `json:"details,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	DryRun      bool     `json:"dry_run"`
}

// Add appends a detail and returns p for chaining.
func (p *Preview) Add(key string, value any) *Preview {
	p.Details = append(p.Details, Detail{Key: key, Value: value})
	return p
}

// Warn appends a warning and returns p for chaining.
func (p *Preview) Warn(format string, args ...any) *Preview {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
	return p
}

// Write prints the preview as text.
func (p *Preview) Write(w io.Writer) {
	_, _ = fmt.Fprintf(w, "[DRY-RUN] Would %s %s\n", p.Operation, p.Target)

	if p.Description != "" {
		_, _ = fmt.Fprintf(w, "%s\n", p.Description)
	}
	width := 0
	for _, d := range p.Details {
		width = max(width, len(d.Key))
	}
	for _, d := range p.Details {
		_, _ = fmt.Fprintf(w, "  %-*s  %v\n", width+1, d.Key+":", d.Value)
	}
	for _, warning := range p.Warnings {
		_, _ = fmt.Fprintf(w, "  ! %s\n", warning)
	}
	_, _ = fmt.Fprintln(w, "No changes made (dry-run mode)")
}
