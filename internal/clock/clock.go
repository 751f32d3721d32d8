// Package clock formats timestamps for log output and status lines, the
// way the teacher's xmit.go/tq.go format transmitted/received timestamps
// with github.com/lestrrat-go/strftime rather than time.Format layouts.
package clock

import (
	"time"

	"github.com/lestrrat-go/strftime"
)

// DefaultFormat matches the teacher's default timestamp format string.
const DefaultFormat = "%H:%M:%S"

// Formatter formats time.Time values with a cached strftime pattern.
type Formatter struct {
	f *strftime.Strftime
}

// NewFormatter compiles pattern once for repeated use. Falls back to
// DefaultFormat if pattern is empty.
func NewFormatter(pattern string) (*Formatter, error) {
	if pattern == "" {
		pattern = DefaultFormat
	}

	f, err := strftime.New(pattern)
	if err != nil {
		return nil, err
	}

	return &Formatter{f: f}, nil
}

// Format renders t using the compiled pattern.
func (fm *Formatter) Format(t time.Time) string {
	return fm.f.FormatString(t)
}
