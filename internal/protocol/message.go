package protocol

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// Request is what a servlet receives.
type Request struct {
	Header Header
	Body   Body

	// Remote is the client address. Set by the server, may be nil in tests.
	Remote net.Addr
}

// Response is what a servlet returns.
type Response struct {
	Status  Status
	Entries []Entry
}

// OK builds a successful response.
func OK(entries ...Entry) *Response {
	return &Response{Status: StatusOK, Entries: entries}
}

// Fail builds an error response carrying a single client-safe message.
func Fail(status Status, message string) *Response {
	return &Response{Status: status, Entries: []Entry{String(message)}}
}

// Failf is Fail with a formatted message.
func Failf(status Status, format string, args ...any) *Response {
	return Fail(status, fmt.Sprintf(format, args...))
}

// Size is the encoded size of the response, frame prefix included.
func (r *Response) Size() int {
	n := FramePrefixSize + 2
	for _, e := range r.Entries {
		n += e.Size()
	}
	return n
}

// AppendTo appends the framed response for the request with the given id
// to b.
func (r *Response) AppendTo(b []byte, id byte) []byte {
	b = binary.BigEndian.AppendUint64(b, uint64(r.Size()-FramePrefixSize))
	b = append(b, id, byte(r.Status))
	return AppendEntries(b, r.Entries...)
}

// Encode returns the framed response for the request with the given id.
func (r *Response) Encode(id byte) []byte {
	return r.AppendTo(make([]byte, 0, r.Size()), id)
}

// DecodeResponse reads one framed response. It is the client side of
// Response.Encode.
func DecodeResponse(r io.Reader) (byte, *Response, error) {
	n, err := ReadFrameLength(r)
	if err != nil {
		return 0, nil, err
	}
	if n < 2 {
		return 0, nil, fmt.Errorf("response frame too short: %d", n)
	}

	lr := io.LimitReader(r, n)
	var head [2]byte
	if _, err := io.ReadFull(lr, head[:]); err != nil {
		return 0, nil, err
	}

	resp := &Response{Status: Status(head[1])}
	remaining := n - 2
	for remaining > 0 {
		e, err := ReadEntry(lr, remaining)
		if err != nil {
			return head[0], resp, err
		}
		resp.Entries = append(resp.Entries, e)
		remaining -= int64(e.Size())
	}
	return head[0], resp, nil
}

// Servlet serves every request addressed to one resource.
type Servlet interface {
	Resource() Resource
	Handle(ctx context.Context, req *Request) *Response
}

// ServletFunc adapts a function to a Servlet for a fixed resource.
type ServletFunc struct {
	Res Resource
	Fn  func(ctx context.Context, req *Request) *Response
}

func (f ServletFunc) Resource() Resource { return f.Res }

func (f ServletFunc) Handle(ctx context.Context, req *Request) *Response {
	return f.Fn(ctx, req)
}
