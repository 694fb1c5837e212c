package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentalwings/icoswap"
	"github.com/dentalwings/icoswap/internal/petest"
)

func TestReplaceAndList(t *testing.T) {
	dir := t.TempDir()
	exePath := filepath.Join(dir, "app.exe")
	icoPath := filepath.Join(dir, "app.ico")
	require.NoError(t, os.WriteFile(exePath, petest.Build(petest.Layout{}), 0o755))

	require.NoError(t, os.WriteFile(icoPath, oneImage(), 0o644))

	require.NoError(t, run([]string{"icoswap", "replace", "--lang", "1033", exePath, icoPath}))
	require.NoError(t, run([]string{"icoswap", "list", exePath}))

	groups, err := icoswap.ListIcons(exePath)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, uint16(1033), groups[0].Lang)
}

func oneImage() []byte {
	icon := make([]byte, 22+40)
	binary.LittleEndian.PutUint16(icon[2:], 1)
	binary.LittleEndian.PutUint16(icon[4:], 1)
	icon[6], icon[7] = 1, 1
	binary.LittleEndian.PutUint32(icon[6+8:], 40)
	binary.LittleEndian.PutUint32(icon[6+12:], 22)
	return icon
}

func TestReplaceCheckSum(t *testing.T) {
	dir := t.TempDir()
	exePath := filepath.Join(dir, "app.exe")
	icoPath := filepath.Join(dir, "app.ico")
	require.NoError(t, os.WriteFile(exePath, petest.Build(petest.Layout{}), 0o755))
	require.NoError(t, os.WriteFile(icoPath, oneImage(), 0o644))

	require.NoError(t, run([]string{"icoswap", "replace", "--checksum", exePath, icoPath}))

	b, err := os.ReadFile(exePath)
	require.NoError(t, err)
	off := petest.CheckSumOffset(b)
	assert.NotZero(t, binary.LittleEndian.Uint32(b[off:]))
	assert.Equal(t, petest.Checksum(b, off), binary.LittleEndian.Uint32(b[off:]))
}

func TestUsage(t *testing.T) {
	assert.Error(t, run([]string{"icoswap", "replace", "only-one-arg"}))
	assert.Error(t, run([]string{"icoswap", "list"}))
	assert.Error(t, run([]string{"icoswap", "syso"}))
	assert.Error(t, run([]string{"icoswap", "replace", "--lang", "70000", "a.exe", "a.ico"}))
}
