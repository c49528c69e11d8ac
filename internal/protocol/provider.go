package protocol

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// ErrStalled is returned by a DataProvider when the peer stopped sending
// before the declared frame length was delivered.
var ErrStalled = errors.New("request body stalled")

// ProviderError wraps a failure of the underlying stream. It is never the
// client's fault in a recoverable way: the connection has to go.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return "read request: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

type deadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// DataProvider is a reader bounded to the remainder of one frame. When the
// source supports deadlines each read is given at most timeout to make
// progress.
//
// Reaching the end of the frame yields io.EOF. A read that times out yields
// ErrStalled. Any other failure of the source, including a premature end of
// stream, yields a *ProviderError. Both failures are sticky.
type DataProvider struct {
	r         io.Reader
	dr        deadlineReader
	timeout   time.Duration
	remaining int64
	consumed  int64
	err       error
}

// NewDataProvider bounds r to length bytes.
func NewDataProvider(r io.Reader, length int64, timeout time.Duration) *DataProvider {
	p := &DataProvider{r: r, timeout: timeout, remaining: max(length, 0)}
	if dr, ok := r.(deadlineReader); ok && timeout > 0 {
		p.dr = dr
	}
	return p
}

func (p *DataProvider) Read(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if p.remaining <= 0 {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}
	if int64(len(b)) > p.remaining {
		b = b[:p.remaining]
	}

	if p.dr != nil {
		if err := p.dr.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
			p.err = &ProviderError{Err: err}
			return 0, p.err
		}
	}

	n, err := p.r.Read(b)
	p.remaining -= int64(n)
	p.consumed += int64(n)

	if err != nil {
		if isTimeout(err) {
			p.err = ErrStalled
		} else {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			p.err = &ProviderError{Err: err}
		}
		return n, p.err
	}
	return n, nil
}

// Remaining is the number of frame bytes not read yet.
func (p *DataProvider) Remaining() int64 {
	return p.remaining
}

// Consumed is the number of frame bytes read so far.
func (p *DataProvider) Consumed() int64 {
	return p.consumed
}

// Stalled reports whether a read timed out.
func (p *DataProvider) Stalled() bool {
	return errors.Is(p.err, ErrStalled)
}

// Failed returns the stream failure, if any. Stalls are not stream failures.
func (p *DataProvider) Failed() error {
	var pe *ProviderError
	if errors.As(p.err, &pe) {
		return pe
	}
	return nil
}

// Discard skips the unread remainder of the frame so the stream is positioned
// at the next frame. It does nothing after a stall, since the peer never sent
// the missing bytes.
func (p *DataProvider) Discard() error {
	if p.Stalled() {
		return nil
	}
	if p.err != nil {
		return p.err
	}
	if p.remaining == 0 {
		return nil
	}

	_, err := io.Copy(io.Discard, p)
	if errors.Is(err, ErrStalled) {
		return nil
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ClassifyReadError turns a low level error met while reading a frame into
// the error the request handler branches on: a *FormatError for anything the
// client can be told about, a *ProviderError for a broken stream.
func ClassifyReadError(err error) error {
	if err == nil {
		return nil
	}

	var pe *ProviderError
	switch {
	case errors.As(err, &pe):
		return err
	case errors.Is(err, ErrStalled):
		return &FormatError{Message: "request body stalled before the declared length", Err: err}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &FormatError{Message: "request body truncated", Err: err}
	case IsFormatError(err):
		return err
	default:
		return &ProviderError{Err: err}
	}
}
