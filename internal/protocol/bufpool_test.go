package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolSizeClasses(t *testing.T) {
	tests := []struct {
		size    int
		wantCap int
	}{
		{1, smallBufferSize},
		{smallBufferSize, smallBufferSize},
		{smallBufferSize + 1, mediumBufferSize},
		{largeBufferSize, largeBufferSize},
		{largeBufferSize + 1, largeBufferSize + 1},
	}

	for _, tt := range tests {
		buf := GetBuffer(tt.size)
		assert.Len(t, buf, tt.size)
		assert.Equal(t, tt.wantCap, cap(buf))
		PutBuffer(buf)
	}

	// Unpooled and nil slices are ignored.
	PutBuffer(make([]byte, 10))
	PutBuffer(nil)
}

func TestResponseAppendToMatchesEncode(t *testing.T) {
	resp := OK(Int(7), String("blackhole"), Raw([]byte{1, 2, 3}))
	require.Equal(t, FramePrefixSize+2+Int(7).Size()+String("blackhole").Size()+Raw([]byte{1, 2, 3}).Size(), resp.Size())

	buf := GetBuffer(resp.Size())
	defer PutBuffer(buf)

	pooled := resp.AppendTo(buf[:0], 4)
	assert.Equal(t, resp.Encode(4), pooled)

	id, got, err := DecodeResponse(bytes.NewReader(pooled))
	require.NoError(t, err)
	assert.Equal(t, byte(4), id)
	assert.Equal(t, resp.Entries, got.Entries)
}
