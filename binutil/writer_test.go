package binutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignTo(t *testing.T) {
	assert.Equal(t, uint32(0x400), AlignTo(0x201, 0x200))
	assert.Equal(t, uint32(0x1000), AlignTo(0x1000, 0x1000))
	assert.Equal(t, uint32(13), AlignTo(13, 0))
}

func TestWriterTracksOffset(t *testing.T) {
	var buf bytes.Buffer
	w := Writer{W: &buf}
	w.WriteLE(struct {
		A uint16
		B uint32
	}{1, 2})
	w.Write([]byte{9})
	w.Pad(16)
	require.NoError(t, w.Err)
	assert.Equal(t, uint32(16), w.Offset)
	assert.Equal(t, []byte{1, 0, 2, 0, 0, 0, 9, 0, 0, 0, 0, 0, 0, 0, 0, 0}, buf.Bytes())
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, assert.AnError }

func TestWriterKeepsFirstError(t *testing.T) {
	w := Writer{W: failWriter{}}
	w.WriteLE(uint32(1))
	w.Write([]byte{1})
	w.Pad(8)
	assert.Equal(t, assert.AnError, w.Err)
	assert.Equal(t, uint32(0), w.Offset)
}
