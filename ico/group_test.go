package ico

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleEntries = []ICONDIRENTRY{
	{Width: 16, Height: 16, ColorCount: 16, Planes: 1, BitCount: 4, BytesInRes: 296, ImageOffset: 54},
	{Width: 0, Height: 0, Planes: 1, BitCount: 32, BytesInRes: 9662, ImageOffset: 350},
	{Width: 48, Height: 0, Reserved: 0, Planes: 1, BitCount: 8, BytesInRes: 3752, ImageOffset: 10012},
}

func TestBuildGroup(t *testing.T) {
	group := BuildGroup(ICONDIR{Type: TypeIcon, Count: 3}, sampleEntries)

	assert.Equal(t, ICONDIR{Type: TypeIcon, Count: 3}, group.ICONDIR)
	assert.Equal(t, []GRPICONDIRENTRY{
		{Width: 16, Height: 16, ColorCount: 16, Planes: 1, BitCount: 4, BytesInRes: 296, ID: 1},
		{Width: 256, Height: 256, Planes: 1, BitCount: 32, BytesInRes: 9662, ID: 2},
		{Width: 48, Height: 256, Planes: 1, BitCount: 8, BytesInRes: 3752, ID: 3},
	}, group.Entries)
}

func TestBuildGroupPanicsOnCountMismatch(t *testing.T) {
	assert.Panics(t, func() {
		BuildGroup(ICONDIR{Type: TypeIcon, Count: 2}, sampleEntries)
	})
}

func TestGroupBytes(t *testing.T) {
	group := BuildGroup(ICONDIR{Type: TypeIcon, Count: 2}, sampleEntries[:2])
	b := group.Bytes()

	require.Len(t, b, 6+2*14)
	assert.Equal(t, int64(len(b)), group.Size())
	assert.Equal(t, []byte{
		0, 0, 1, 0, 2, 0,
		16, 16, 16, 0, 1, 0, 4, 0, 0x28, 0x01, 0, 0, 1, 0,
		0, 0, 0, 0, 1, 0, 32, 0, 0xbe, 0x25, 0, 0, 2, 0,
	}, b)

	// Same input, same bytes.
	assert.Equal(t, b, BuildGroup(ICONDIR{Type: TypeIcon, Count: 2}, sampleEntries[:2]).Bytes())
}

func TestGroupRoundTrip(t *testing.T) {
	group := BuildGroup(ICONDIR{Type: TypeIcon, Count: 3}, sampleEntries)
	back, err := ParseGroup(group.Bytes())
	require.NoError(t, err)

	assert.Equal(t, group.ICONDIR, back.ICONDIR)
	require.Len(t, back.Entries, len(sampleEntries))
	for i, src := range sampleEntries {
		got := back.Entries[i]
		assert.Equal(t, dimension(src.Width), got.Width)
		assert.Equal(t, dimension(src.Height), got.Height)
		assert.Equal(t, src.ColorCount, got.ColorCount)
		assert.Equal(t, src.Planes, got.Planes)
		assert.Equal(t, src.BitCount, got.BitCount)
		assert.Equal(t, src.BytesInRes, got.BytesInRes)
		assert.Equal(t, uint16(i+1), got.ID)
	}
}

func TestParseGroupCorrupt(t *testing.T) {
	b := BuildGroup(ICONDIR{Type: TypeIcon, Count: 3}, sampleEntries).Bytes()
	for _, data := range [][]byte{b[:4], b[:6+14*2+13], append([]byte{0, 0, 2, 0}, b[4:]...)} {
		_, err := ParseGroup(data)
		assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
	}
}
