package util

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// errWriter fails after accepting limit bytes.
type errWriter struct {
	limit int
	buf   bytes.Buffer
}

func (w *errWriter) Write(p []byte) (int, error) {
	room := w.limit - w.buf.Len()
	if room <= 0 {
		return 0, errors.New("disk full")
	}
	if len(p) > room {
		w.buf.Write(p[:room])
		return room, errors.New("disk full")
	}
	return w.buf.Write(p)
}

func TestCopyPooled(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), DefaultBufSize/5) // two buffers' worth
	var out bytes.Buffer

	n, err := CopyPooled(&out, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("CopyPooled: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("n = %d, want %d", n, len(payload))
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Error("output differs from input")
	}
}

func TestCopyPooled_Empty(t *testing.T) {
	var out bytes.Buffer
	n, err := CopyPooled(&out, bytes.NewReader(nil))
	if err != nil || n != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", n, err)
	}
}

func TestCopyPooled_WriteError(t *testing.T) {
	w := &errWriter{limit: 7}
	n, err := CopyPooled(w, bytes.NewReader([]byte("hello world")))
	if err == nil {
		t.Fatal("expected write error")
	}
	if n != 7 {
		t.Errorf("n = %d, want 7 (partial count)", n)
	}
}

func TestCopyPooled_ReadError(t *testing.T) {
	r := io.MultiReader(bytes.NewReader([]byte("abc")), iotestErrReader{})
	var out bytes.Buffer
	n, err := CopyPooled(&out, r)
	if err == nil {
		t.Fatal("expected read error")
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func BenchmarkBufPool(b *testing.B) {
	b.Run("pool", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := GetBuf()
			_ = (*buf)[0]
			PutBuf(buf)
		}
	})
	b.Run("alloc", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf := make([]byte, DefaultBufSize)
			_ = buf[0]
		}
	})
}

func BenchmarkCopyPooled(b *testing.B) {
	payload := bytes.Repeat([]byte("X"), 4*DefaultBufSize)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CopyPooled(io.Discard, bytes.NewReader(payload)) //nolint:errcheck
	}
}
