package console

import "strings"

// maxLineBytes force-terminates a line that never sees a newline, so binary
// output cannot grow the partial buffer without bound.
const maxLineBytes = 4096

// lineRing keeps the newest max lines of PTY output for the persisted
// session buffer. Carriage returns are dropped; the unterminated final line
// is included in String output.
type lineRing struct {
	max     int
	buf     []string
	start   int
	count   int
	partial []byte
}

func newLineRing(max int) *lineRing {
	if max < 1 {
		max = 1
	}
	return &lineRing{max: max, buf: make([]string, max)}
}

// Write consumes raw PTY bytes, splitting them into lines.
func (r *lineRing) Write(p []byte) {
	for _, b := range p {
		switch b {
		case '\n':
			r.push(string(r.partial))
			r.partial = r.partial[:0]
		case '\r':
		default:
			r.partial = append(r.partial, b)
			if len(r.partial) >= maxLineBytes {
				r.push(string(r.partial))
				r.partial = r.partial[:0]
			}
		}
	}
}

// Seed restores a previously persisted buffer, trimming to capacity.
func (r *lineRing) Seed(s string) {
	if s == "" {
		return
	}
	for _, line := range strings.Split(s, "\n") {
		r.push(line)
	}
}

func (r *lineRing) push(line string) {
	if r.count < r.max {
		r.buf[(r.start+r.count)%r.max] = line
		r.count++
		return
	}
	r.buf[r.start] = line
	r.start = (r.start + 1) % r.max
}

// Lines returns the buffered lines oldest-first, excluding the partial line.
func (r *lineRing) Lines() []string {
	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%r.max]
	}
	return out
}

// String renders the buffer for persistence, partial line included.
func (r *lineRing) String() string {
	var sb strings.Builder
	for i := 0; i < r.count; i++ {
		sb.WriteString(r.buf[(r.start+i)%r.max])
		sb.WriteByte('\n')
	}
	sb.Write(r.partial)
	return sb.String()
}
