package outfmt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"text/tabwriter"

	"github.com/comanda/chatsync/internal/filter"
)

// Formatter renders one command's result: JSON, JSONL or a template in the
// machine modes, aligned tables in text mode.
type Formatter struct {
	ctx       context.Context
	out       io.Writer
	errOut    io.Writer
	tabWriter *tabwriter.Writer
}

// NewFormatter creates a new Formatter
func NewFormatter(ctx context.Context, out, errOut io.Writer) *Formatter {
	return &Formatter{
		ctx:       ctx,
		out:       out,
		errOut:    errOut,
		tabWriter: tabwriter.NewWriter(out, 0, 4, 2, ' ', 0),
	}
}

// Output writes data in the context's machine mode. In text mode it writes
// nothing; callers render tables themselves. Lists are enveloped first,
// then --jq and --template apply. JSONL writes a list one element per line.
func (f *Formatter) Output(data any) error {
	if !IsJSON(f.ctx) {
		return nil
	}
	v, err := f.shape(data)
	if err != nil {
		return err
	}
	if tmpl := GetTemplate(f.ctx); tmpl != "" {
		return WriteTemplate(f.out, v, tmpl)
	}
	if IsJSONL(f.ctx) {
		return writeLines(f.out, v)
	}
	return WriteJSONMaybeCompact(f.out, v, IsCompact(f.ctx))
}

// shape envelopes data. With a query or template it also decodes the JSON
// form, so both address fields by their JSON names.
func (f *Formatter) shape(data any) (any, error) {
	v := envelope(data)
	query := GetQuery(f.ctx)
	if query == "" && GetTemplate(f.ctx) == "" {
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	return filter.ApplyFromJSON(raw, query)
}

// writeLines writes the items of an envelope, or the elements of a list
// result, one per line. Anything else is a single line.
func writeLines(w io.Writer, v any) error {
	if m, ok := v.(map[string]any); ok {
		if items, ok := m["items"]; ok {
			v = items
		}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return WriteJSONLine(w, v)
	}
	for i := range rv.Len() {
		if err := WriteJSONLine(w, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// StartTable writes table headers. Returns true if in text mode.
func (f *Formatter) StartTable(headers []string) bool {
	if IsJSON(f.ctx) {
		return false
	}
	f.Row(headers...)
	return true
}

// Row writes a single row to the table.
func (f *Formatter) Row(columns ...string) {
	for i, col := range columns {
		if i > 0 {
			_, _ = fmt.Fprint(f.tabWriter, "\t")
		}
		_, _ = fmt.Fprint(f.tabWriter, col)
	}
	_, _ = fmt.Fprintln(f.tabWriter)
}

// EndTable flushes the table output.
func (f *Formatter) EndTable() error {
	return f.tabWriter.Flush()
}

// Empty writes a message to stderr indicating no results.
func (f *Formatter) Empty(message string) {
	_, _ = fmt.Fprintln(f.errOut, message)
}
