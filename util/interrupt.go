package util

import (
	"errors"
	"io"
)

// ErrInterrupted is returned by an InterruptibleReader once its done
// channel is closed.
var ErrInterrupted = errors.New("read interrupted")

// InterruptibleReader wraps a reader whose Read cannot be cancelled
// (such as os.Stdin) so that a pending Read returns [ErrInterrupted]
// as soon as done is closed.  The underlying Read keeps running in the
// background and its result is discarded; the reader must not be used
// after an interruption.
type InterruptibleReader struct {
	r    io.Reader
	done <-chan struct{}
	buf  []byte
	res  chan readResult
}

type readResult struct {
	n   int
	err error
}

// NewInterruptibleReader returns an InterruptibleReader over r.
func NewInterruptibleReader(r io.Reader, done <-chan struct{}) *InterruptibleReader {
	return &InterruptibleReader{
		r:    r,
		done: done,
		buf:  make([]byte, DefaultBufSize),
		res:  make(chan readResult, 1),
	}
}

func (ir *InterruptibleReader) Read(p []byte) (int, error) {
	select {
	case <-ir.done:
		return 0, ErrInterrupted
	default:
	}

	buf := ir.buf
	if len(p) < len(buf) {
		buf = buf[:len(p)]
	}
	go func() {
		n, err := ir.r.Read(buf)
		ir.res <- readResult{n, err}
	}()

	select {
	case res := <-ir.res:
		return copy(p, buf[:res.n]), res.err
	case <-ir.done:
		return 0, ErrInterrupted
	}
}
