package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Tag is the one byte type marker that starts every DataEntry.
type Tag byte

const (
	TagByte Tag = iota
	TagShort
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagString
	TagRaw
	TagNull
	TagArrayBegin
	TagArrayEnd
)

var tagNames = [...]string{
	TagByte:       "byte",
	TagShort:      "short",
	TagInt:        "int",
	TagLong:       "long",
	TagFloat:      "float",
	TagDouble:     "double",
	TagString:     "string",
	TagRaw:        "raw",
	TagNull:       "null",
	TagArrayBegin: "array-begin",
	TagArrayEnd:   "array-end",
}

func (t Tag) Valid() bool {
	return int(t) < len(tagNames)
}

func (t Tag) String() string {
	if t.Valid() {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", byte(t))
}

// fixedSize is the payload size of fixed width tags, -1 for variable ones.
func (t Tag) fixedSize() int {
	switch t {
	case TagByte:
		return 1
	case TagShort:
		return 2
	case TagInt, TagFloat:
		return 4
	case TagLong, TagDouble:
		return 8
	case TagNull, TagArrayBegin, TagArrayEnd:
		return 0
	default:
		return -1
	}
}

// Entry is a single typed value. Value holds int8, int16, int32, int64,
// float32, float64, string or []byte depending on Tag, and nil for markers.
// Build entries with the constructors below.
type Entry struct {
	Tag   Tag
	Value any
}

func Byte(v int8) Entry      { return Entry{Tag: TagByte, Value: v} }
func Short(v int16) Entry    { return Entry{Tag: TagShort, Value: v} }
func Int(v int32) Entry      { return Entry{Tag: TagInt, Value: v} }
func Long(v int64) Entry     { return Entry{Tag: TagLong, Value: v} }
func Float(v float32) Entry  { return Entry{Tag: TagFloat, Value: v} }
func Double(v float64) Entry { return Entry{Tag: TagDouble, Value: v} }
func String(v string) Entry  { return Entry{Tag: TagString, Value: v} }
func Raw(v []byte) Entry     { return Entry{Tag: TagRaw, Value: v} }
func Null() Entry            { return Entry{Tag: TagNull} }
func ArrayBegin() Entry      { return Entry{Tag: TagArrayBegin} }
func ArrayEnd() Entry        { return Entry{Tag: TagArrayEnd} }

// AsInt returns the value of an integral entry widened to int64.
func (e Entry) AsInt() (int64, bool) {
	switch v := e.Value.(type) {
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// AsFloat returns the value of a float or double entry.
func (e Entry) AsFloat() (float64, bool) {
	switch v := e.Value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func (e Entry) AsString() (string, bool) {
	v, ok := e.Value.(string)
	return v, ok && e.Tag == TagString
}

func (e Entry) AsBytes() ([]byte, bool) {
	v, ok := e.Value.([]byte)
	return v, ok && e.Tag == TagRaw
}

// Size is the number of bytes AppendEntry writes for e.
func (e Entry) Size() int {
	switch e.Tag {
	case TagString:
		s, _ := e.Value.(string)
		return 1 + 4 + len(s)
	case TagRaw:
		b, _ := e.Value.([]byte)
		return 1 + 4 + len(b)
	default:
		return 1 + e.Tag.fixedSize()
	}
}

func (e Entry) String() string {
	switch e.Tag {
	case TagNull, TagArrayBegin, TagArrayEnd:
		return e.Tag.String()
	case TagRaw:
		b, _ := e.Value.([]byte)
		return fmt.Sprintf("raw[%d]", len(b))
	default:
		return fmt.Sprintf("%s(%v)", e.Tag, e.Value)
	}
}

// AppendEntry appends the wire form of e to b. An entry whose Value does not
// match its Tag panics; use the constructors.
func AppendEntry(b []byte, e Entry) []byte {
	b = append(b, byte(e.Tag))

	switch e.Tag {
	case TagByte:
		return append(b, byte(e.Value.(int8)))
	case TagShort:
		return binary.BigEndian.AppendUint16(b, uint16(e.Value.(int16)))
	case TagInt:
		return binary.BigEndian.AppendUint32(b, uint32(e.Value.(int32)))
	case TagLong:
		return binary.BigEndian.AppendUint64(b, uint64(e.Value.(int64)))
	case TagFloat:
		return binary.BigEndian.AppendUint32(b, math.Float32bits(e.Value.(float32)))
	case TagDouble:
		return binary.BigEndian.AppendUint64(b, math.Float64bits(e.Value.(float64)))
	case TagString:
		s := e.Value.(string)
		b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
		return append(b, s...)
	case TagRaw:
		raw, _ := e.Value.([]byte)
		b = binary.BigEndian.AppendUint32(b, uint32(len(raw)))
		return append(b, raw...)
	case TagNull, TagArrayBegin, TagArrayEnd:
		return b
	default:
		panic(fmt.Sprintf("protocol: cannot encode %s", e.Tag))
	}
}

// AppendEntries appends every entry in order.
func AppendEntries(b []byte, entries ...Entry) []byte {
	for _, e := range entries {
		b = AppendEntry(b, e)
	}
	return b
}

// EncodeEntries returns the wire form of entries.
func EncodeEntries(entries ...Entry) []byte {
	size := 0
	for _, e := range entries {
		size += e.Size()
	}
	return AppendEntries(make([]byte, 0, size), entries...)
}

// ReadEntry decodes one entry from r. limit bounds the bytes the entry may
// occupy so a corrupt length cannot trigger a huge allocation. Read errors
// are returned unchanged; content errors are *FormatError.
func ReadEntry(r io.Reader, limit int64) (Entry, error) {
	var scratch [8]byte

	if _, err := io.ReadFull(r, scratch[:1]); err != nil {
		return Entry{}, err
	}
	tag := Tag(scratch[0])
	if !tag.Valid() {
		return Entry{}, Formatf("unknown entry tag %d", scratch[0])
	}
	limit--

	if size := tag.fixedSize(); size >= 0 {
		if int64(size) > limit {
			return Entry{}, Formatf("%s entry truncated", tag)
		}
		if _, err := io.ReadFull(r, scratch[:size]); err != nil {
			return Entry{}, err
		}
		return decodeFixed(tag, scratch[:size]), nil
	}

	if limit < 4 {
		return Entry{}, Formatf("%s entry truncated", tag)
	}
	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return Entry{}, err
	}
	n := int64(binary.BigEndian.Uint32(scratch[:4]))
	if n > limit-4 {
		return Entry{}, Formatf("%s entry length %d exceeds remaining body", tag, n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Entry{}, err
	}
	if tag == TagString {
		return String(string(buf)), nil
	}
	return Raw(buf), nil
}

func decodeFixed(tag Tag, p []byte) Entry {
	switch tag {
	case TagByte:
		return Byte(int8(p[0]))
	case TagShort:
		return Short(int16(binary.BigEndian.Uint16(p)))
	case TagInt:
		return Int(int32(binary.BigEndian.Uint32(p)))
	case TagLong:
		return Long(int64(binary.BigEndian.Uint64(p)))
	case TagFloat:
		return Float(math.Float32frombits(binary.BigEndian.Uint32(p)))
	case TagDouble:
		return Double(math.Float64frombits(binary.BigEndian.Uint64(p)))
	default:
		return Entry{Tag: tag}
	}
}
