package transport

import (
	"time"

	"github.com/arloliu/go-visa1/internal/util"
)

const readChunkSize = 256

// readFunc reads into p waiting at most timeout. It returns 0 and a nil
// error when nothing arrived in time.
type readFunc func(p []byte, timeout time.Duration) (int, error)

// lineReader adds terminator scanning on top of a timed read. Bytes read
// past a terminator are kept for the next call.
type lineReader struct {
	read  readFunc
	buf   []byte
	chunk [readChunkSize]byte
}

// readUntil returns the bytes up to and including the first terminator.
// When timeout elapses first, whatever was read is returned with a nil error.
func (r *lineReader) readUntil(terminators []byte, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	scanned := 0

	for {
		if i := indexAny(r.buf[scanned:], terminators); i >= 0 {
			return r.take(scanned + i + 1), nil
		}
		scanned = len(r.buf)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return r.take(len(r.buf)), nil
		}

		n, err := r.read(r.chunk[:], remaining)
		r.buf = append(r.buf, r.chunk[:n]...)
		if err != nil {
			return nil, err
		}
	}
}

// readBuffered reads into p, serving buffered bytes first.
func (r *lineReader) readBuffered(p []byte, timeout time.Duration) (int, error) {
	if len(r.buf) > 0 {
		n := copy(p, r.buf)
		r.take(n)

		return n, nil
	}

	return r.read(p, timeout)
}

// reset drops buffered bytes.
func (r *lineReader) reset() {
	r.buf = nil
}

// take removes and returns the first n buffered bytes.
func (r *lineReader) take(n int) []byte {
	out := util.CloneSlice(r.buf[:n], 0)
	r.buf = r.buf[n:]
	if len(r.buf) == 0 {
		r.buf = nil
	}

	return out
}

func indexAny(data []byte, set []byte) int {
	for i, b := range data {
		for _, t := range set {
			if b == t {
				return i
			}
		}
	}

	return -1
}
