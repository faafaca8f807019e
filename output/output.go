// Package output writes the human-readable progress report of the backup
// command. Structured logs go to stderr; the report goes to stdout so it
// lands in the Job's pod log next to them.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"
)

// Printer writes report lines to a single writer.
type Printer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// New returns a Printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w, now: time.Now}
}

var std = New(os.Stdout)

func (p *Printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Header opens the report for one object.
func (p *Printer) Header(mode, kind, name, namespace string) {
	p.line("=== mysql-operator %s: %s %s/%s ===", strings.ToLower(mode), kind, namespace, name)
	p.Field("Started", p.now().UTC().Format(time.RFC3339))
}

func (p *Printer) Section(title string) {
	p.line("--- %s ---", title)
}

func (p *Printer) Field(label, value string) {
	p.line("  %-9s %s", label+":", value)
}

func (p *Printer) Success(format string, args ...any) {
	p.line("[OK] "+format, args...)
}

func (p *Printer) Fail(format string, args ...any) {
	p.line("[FAIL] "+format, args...)
}

// Complete closes the report.
func (p *Printer) Complete(msg string) {
	p.line("=== %s ===", msg)
}

func Header(mode, kind, name, namespace string) { std.Header(mode, kind, name, namespace) }
func Section(title string)                      { std.Section(title) }
func Field(label, value string)                 { std.Field(label, value) }
func Success(format string, args ...any)        { std.Success(format, args...) }
func Fail(format string, args ...any)           { std.Fail(format, args...) }
func Complete(msg string)                       { std.Complete(msg) }

// FormatBytes renders a size with binary units, e.g. "1.5GiB".
func FormatBytes(b int64) string {
	return units.BytesSize(float64(b))
}
