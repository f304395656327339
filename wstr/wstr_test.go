package wstr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/winfs/fserr"
	"github.com/mirrorfs/winfs/wstr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, text := range []string{
		"",
		"a.txt",
		`\dir\sub\file`,
		"héllo wörld",
		"日本語ファイル名",
		"emoji \U0001F600 name", // surrogate pair on the wire
	} {
		buf, err := wstr.Encode(text)
		require.NoError(t, err, text)
		require.NotZero(t, len(buf))
		assert.EqualValues(t, 0, buf[len(buf)-1], "missing terminator")
		assert.Equal(t, text, wstr.Decode(buf), text)

		strict, err := wstr.DecodeStrict(buf)
		require.NoError(t, err, text)
		assert.Equal(t, text, strict)
	}
}

func TestEncodeRejectsBadNames(t *testing.T) {
	_, err := wstr.Encode("a\x00b")
	assert.ErrorIs(t, err, fserr.InvalidName)

	// A surrogate code point smuggled in as raw WTF-8 bytes;
	// string(rune(0xD800)) would already be U+FFFD.
	_, err = wstr.Encode("\xed\xa0\x80")
	assert.ErrorIs(t, err, fserr.InvalidName)

	_, err = wstr.Encode("trailing \xff byte")
	assert.ErrorIs(t, err, fserr.InvalidName)
}

func TestEncodeFixed(t *testing.T) {
	dst := make([]uint16, 8)
	n, err := wstr.EncodeFixed("abc", dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", wstr.DecodeBounded(dst, len(dst)))
	for _, u := range dst[3:] {
		assert.Zero(t, u, "remainder not zero filled")
	}

	_, err = wstr.EncodeFixed("too long name", dst)
	assert.ErrorIs(t, err, fserr.NameTooLong)
}

func TestDecodeBounded(t *testing.T) {
	// Non-terminated, length-bounded kernel buffer.
	buf := []uint16{'a', 'b', 'c', 'd'}
	assert.Equal(t, "ab", wstr.DecodeBounded(buf, 2))
	assert.Equal(t, "abcd", wstr.DecodeBounded(buf, 16))

	// NUL wins over the bound.
	buf = []uint16{'a', 0, 'c'}
	assert.Equal(t, "a", wstr.DecodeBounded(buf, 3))
}

func TestDecodeStrictRejectsUnpairedSurrogate(t *testing.T) {
	for _, buf := range [][]uint16{
		{'a', 0xD800, 'b'},         // lone high half
		{'a', 0xDC00, 'b'},         // lone low half
		{0xD800},                   // high half at end
		{0xD800, 0xD800, 0xDC00},   // high half before a valid pair
	} {
		_, err := wstr.DecodeStrict(buf)
		assert.ErrorIs(t, err, fserr.InvalidName, "%v", buf)
	}

	// Lenient Decode substitutes instead of failing.
	assert.Equal(t, "a�b", wstr.Decode([]uint16{'a', 0xDC00, 'b'}))
}
