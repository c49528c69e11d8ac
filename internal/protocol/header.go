package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const fixedHeaderSize = 4

// SessionID is the opaque identifier issued at LOGIN.
type SessionID [SessionIDSize]byte

// IsZero reports whether id is unset.
func (id SessionID) IsZero() bool {
	return id == SessionID{}
}

// Header is the decoded request header.
type Header struct {
	ID       byte
	Flags    byte
	Method   Method
	Resource Resource

	// Session is zero for LOGIN requests, which carry none.
	Session SessionID
}

// HasSession reports whether the header carries a session id on the wire.
func (h Header) HasSession() bool {
	return h.Method != MethodLogin
}

// Size is the encoded size of the header.
func (h Header) Size() int {
	if h.HasSession() {
		return fixedHeaderSize + SessionIDSize
	}
	return fixedHeaderSize
}

// AppendTo appends the wire form of h to b.
func (h Header) AppendTo(b []byte) []byte {
	b = append(b, h.ID, h.Flags, byte(h.Method), byte(h.Resource))
	if h.HasSession() {
		b = append(b, h.Session[:]...)
	}
	return b
}

// HeaderError is returned by DecodeHeader when the header bytes were read but
// name an unknown method or resource. Header holds whatever was decoded.
type HeaderError struct {
	Header Header
	Status Status
	Err    error
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Status, e.Err)
}

func (e *HeaderError) Unwrap() error {
	return e.Err
}

// DecodeHeader reads a request header from r. Read failures are returned
// unchanged so the caller can tell a broken stream from a short frame. An
// unknown method or resource yields a *HeaderError; the session bytes are
// not read in that case.
func DecodeHeader(r io.Reader, resources *ResourceSet) (Header, error) {
	var fixed [fixedHeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Header{}, err
	}

	h := Header{ID: fixed[0], Flags: fixed[1], Method: Method(fixed[2])}

	if !h.Method.Valid() {
		return h, &HeaderError{
			Header: h,
			Status: StatusUnknownMethod,
			Err:    fmt.Errorf("%w: %d", ErrUnknownMethod, fixed[2]),
		}
	}

	res, ok := resources.Lookup(fixed[3])
	h.Resource = res
	if !ok {
		return h, &HeaderError{
			Header: h,
			Status: StatusUnknownResource,
			Err:    fmt.Errorf("%w: %d", ErrUnknownResource, fixed[3]),
		}
	}

	if h.HasSession() {
		if _, err := io.ReadFull(r, h.Session[:]); err != nil {
			return h, err
		}
	}
	return h, nil
}

// EncodeRequest builds a complete request frame: length prefix, header and
// body.
func EncodeRequest(h Header, body []byte) []byte {
	n := h.Size() + len(body)
	b := make([]byte, FramePrefixSize, FramePrefixSize+n)
	binary.BigEndian.PutUint64(b, uint64(n))
	b = h.AppendTo(b)
	return append(b, body...)
}

// EncodeClose builds the frame that asks the server to close the connection.
func EncodeClose() []byte {
	b := make([]byte, FramePrefixSize)
	var closing int64 = -1
	binary.BigEndian.PutUint64(b, uint64(closing))
	return b
}

// ReadFrameLength reads the signed length prefix of a frame.
func ReadFrameLength(r io.Reader) (int64, error) {
	var prefix [FramePrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(prefix[:])), nil
}
