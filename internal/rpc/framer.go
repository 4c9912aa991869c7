package rpc

import "bytes"

// Framer splits a raw byte stream into complete newline-delimited lines,
// carrying partial lines across chunk boundaries. It performs no JSON
// parsing; callers decode each returned line independently so one malformed
// line never aborts the rest of a chunk.
type Framer struct {
	buf []byte
}

// Feed appends chunk to the carry-over buffer and returns every complete
// line it now holds. Lines are split on \n with a trailing \r trimmed, and
// empty lines are dropped. The final element after the last newline stays
// buffered until a later chunk completes it.
func (f *Framer) Feed(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(f.buf[:i], []byte{'\r'})
		f.buf = f.buf[i+1:]
		if len(line) == 0 {
			continue
		}
		// Copy out: the backing array is reused as the buffer shrinks.
		out := make([]byte, len(line))
		copy(out, line)
		lines = append(lines, out)
	}
	return lines
}

// Buffered returns the number of carry-over bytes awaiting a newline.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset discards any buffered partial line.
func (f *Framer) Reset() { f.buf = nil }
