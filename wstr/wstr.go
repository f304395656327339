// Package wstr converts between Go strings and the UTF-16
// encoding the kernel uses for paths, labels and directory
// entry names.
//
// Two buffer shapes are supported: NUL-terminated sequences
// (paths) and length-bounded sequences without a terminator
// (fixed-capacity kernel buffers). Decoding never reads past
// the declared bound.
package wstr

import (
	"unicode/utf16"
	"unicode/utf8"

	"github.com/mirrorfs/winfs/fserr"
)

// validate rejects names that cannot survive a UTF-16 round
// trip. Surrogate code points are invalid UTF-8, so checking the
// raw bytes catches their WTF-8 encodings; ranging over runes
// would not, since decoding replaces them with U+FFFD.
func validate(s string) error {
	if !utf8.ValidString(s) {
		return fserr.New(fserr.InvalidName,
			"name is not valid UTF-8")
	}
	for _, r := range s {
		if r == 0 {
			return fserr.New(fserr.InvalidName,
				"name contains NUL")
		}
	}
	return nil
}

// Encode converts s into a NUL-terminated UTF-16 sequence,
// rejecting interior NULs and malformed UTF-8, surrogate
// encodings included.
func Encode(s string) ([]uint16, error) {
	if err := validate(s); err != nil {
		return nil, err
	}
	buf := utf16.Encode([]rune(s))
	return append(buf, 0), nil
}

// EncodeBare is Encode without the trailing NUL, for records
// whose length is carried out of band.
func EncodeBare(s string) ([]uint16, error) {
	if err := validate(s); err != nil {
		return nil, err
	}
	return utf16.Encode([]rune(s)), nil
}

// EncodeFixed writes s into the fixed-capacity buffer dst
// without a terminator, zero filling the remainder. It fails
// with NameTooLong when the encoded form does not fit, leaving
// dst untouched. The number of code units written is returned.
func EncodeFixed(s string, dst []uint16) (int, error) {
	buf, err := EncodeBare(s)
	if err != nil {
		return 0, err
	}
	if len(buf) > len(dst) {
		return 0, fserr.Newf(fserr.NameTooLong,
			"name needs %d of %d code units", len(buf), len(dst))
	}
	n := copy(dst, buf)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return n, nil
}

// Decode converts a UTF-16 sequence up to its first NUL (or its
// end, whichever comes first). Unpaired surrogates decode to
// U+FFFD, matching the platform's lenient conversion.
func Decode(buf []uint16) string {
	for i, u := range buf {
		if u == 0 {
			buf = buf[:i]
			break
		}
	}
	return string(utf16.Decode(buf))
}

// DecodeBounded is Decode restricted to at most max code units,
// for buffers that may lack a terminator.
func DecodeBounded(buf []uint16, max int) string {
	if max < len(buf) {
		buf = buf[:max]
	}
	return Decode(buf)
}

// DecodeStrict is Decode that fails with InvalidName when the
// sequence contains an unpaired surrogate instead of
// substituting U+FFFD.
func DecodeStrict(buf []uint16) (string, error) {
	for i, u := range buf {
		if u == 0 {
			buf = buf[:i]
			break
		}
	}
	for i := 0; i < len(buf); i++ {
		switch u := buf[i]; {
		case u >= surr1 && u < surr2:
			// High half must be followed by a low half.
			if i+1 >= len(buf) ||
				buf[i+1] < surr2 || buf[i+1] >= surr3 {
				return "", fserr.New(fserr.InvalidName,
					"buffer contains unpaired surrogate")
			}
			i++
		case u >= surr2 && u < surr3:
			return "", fserr.New(fserr.InvalidName,
				"buffer contains unpaired surrogate")
		}
	}
	return string(utf16.Decode(buf)), nil
}

const (
	surr1 = 0xd800
	surr2 = 0xdc00
	surr3 = 0xe000
)
