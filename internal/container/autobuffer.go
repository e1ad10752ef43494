package container

import "errors"

// ErrOverflow is returned once an AutoBuffer exceeds its maximum capacity;
// the flag is sticky so callers can batch several writes and check once.
var ErrOverflow = errors.New("autobuffer: capacity exceeded")

// AutoBuffer is a growing byte buffer used by the RFC5444 fabric to hold
// an encoded packet (the codec's output) before it is sent. Once
// overflowed is set, further writes are no-ops and Err keeps returning
// ErrOverflow until Reset.
type AutoBuffer struct {
	buf      []byte
	max      int
	overflow bool
}

// NewAutoBuffer creates a buffer that refuses to grow past maxLen bytes
// (0 means unbounded).
func NewAutoBuffer(maxLen int) *AutoBuffer {
	return &AutoBuffer{max: maxLen}
}

// Write appends p, unless doing so would exceed the configured maximum,
// in which case the overflow flag is set and nothing is appended.
func (a *AutoBuffer) Write(p []byte) (int, error) {
	if a.overflow {
		return 0, ErrOverflow
	}
	if a.max > 0 && len(a.buf)+len(p) > a.max {
		a.overflow = true
		return 0, ErrOverflow
	}
	a.buf = append(a.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte under the same overflow rule as Write.
func (a *AutoBuffer) WriteByte(b byte) error {
	_, err := a.Write([]byte{b})
	return err
}

// Bytes returns the buffer's current content; the slice is invalidated by
// the next Write.
func (a *AutoBuffer) Bytes() []byte { return a.buf }

func (a *AutoBuffer) Len() int { return len(a.buf) }

// Err returns ErrOverflow if the sticky flag is set, else nil.
func (a *AutoBuffer) Err() error {
	if a.overflow {
		return ErrOverflow
	}
	return nil
}

// Reset empties the buffer and clears the overflow flag.
func (a *AutoBuffer) Reset() {
	a.buf = a.buf[:0]
	a.overflow = false
}
