package protocol

import (
	"io"
)

// Body gives a servlet sequential access to the request entries.
type Body interface {
	// Next returns the next entry, or io.EOF once the body is exhausted.
	Next() (Entry, error)
}

// Deserializer decodes the body of a request from a DataProvider.
//
// A non-reactive deserializer consumes the whole body before returning, so
// the connection can read the next frame while the request is dispatched. A
// reactive one hands back a Body that keeps reading from the provider, and
// the connection stays blocked until the request has been answered.
type Deserializer interface {
	Reactive() bool
	Deserialize(p *DataProvider) (Body, error)
}

// Entries is a fully decoded body.
type Entries struct {
	list []Entry
	pos  int
}

// NewEntries wraps already decoded entries.
func NewEntries(entries ...Entry) *Entries {
	return &Entries{list: entries}
}

func (e *Entries) Next() (Entry, error) {
	if e.pos >= len(e.list) {
		return Entry{}, io.EOF
	}
	entry := e.list[e.pos]
	e.pos++
	return entry, nil
}

// All returns every entry regardless of the read position.
func (e *Entries) All() []Entry {
	return e.list
}

// EntryDeserializer reads every entry up to the end of the frame.
type EntryDeserializer struct {
	// MaxEntries bounds the number of entries in one body. Zero means no limit.
	MaxEntries int
}

func (d EntryDeserializer) Reactive() bool { return false }

func (d EntryDeserializer) Deserialize(p *DataProvider) (Body, error) {
	var list []Entry
	for p.Remaining() > 0 {
		if d.MaxEntries > 0 && len(list) == d.MaxEntries {
			return nil, Formatf("request body has more than %d entries", d.MaxEntries)
		}

		e, err := ReadEntry(p, p.Remaining())
		if err != nil {
			return nil, ClassifyReadError(err)
		}
		list = append(list, e)
	}
	return NewEntries(list...), nil
}

// ReactiveEntryDeserializer defers decoding to the servlet, which pulls
// entries straight from the connection.
type ReactiveEntryDeserializer struct{}

func (ReactiveEntryDeserializer) Reactive() bool { return true }

func (ReactiveEntryDeserializer) Deserialize(p *DataProvider) (Body, error) {
	return &EntryStream{p: p}, nil
}

// EntryStream decodes entries lazily from the frame.
type EntryStream struct {
	p *DataProvider
}

func (s *EntryStream) Next() (Entry, error) {
	if s.p.Remaining() == 0 {
		return Entry{}, io.EOF
	}
	e, err := ReadEntry(s.p, s.p.Remaining())
	if err != nil {
		return Entry{}, ClassifyReadError(err)
	}
	return e, nil
}

// ReadAll collects every remaining entry of b.
func ReadAll(b Body) ([]Entry, error) {
	if b == nil {
		return nil, nil
	}
	var out []Entry
	for {
		e, err := b.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

// NewDeserializer returns the deserializer registered under name.
func NewDeserializer(name string) (Deserializer, bool) {
	switch name {
	case "", "entries":
		return EntryDeserializer{}, true
	case "reactive":
		return ReactiveEntryDeserializer{}, true
	}
	return nil, false
}
