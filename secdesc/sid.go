package secdesc

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/mirrorfs/winfs/fserr"
)

const (
	sidRevision        = 1
	sidMaxSubAuthority = 15
	sidHeaderSize      = 8
)

// SID is a decoded security identifier.
type SID struct {
	Revision            uint8
	IdentifierAuthority [6]byte
	SubAuthorities      []uint32
}

// NewSID builds a SID from an identifier authority value and
// its sub-authorities, e.g. NewSID(5, 32, 544) for the builtin
// administrators group.
func NewSID(authority uint64, subAuthorities ...uint32) *SID {
	s := &SID{Revision: sidRevision, SubAuthorities: subAuthorities}
	for i := 0; i < 6; i++ {
		s.IdentifierAuthority[5-i] = byte(authority >> (8 * i))
	}
	return s
}

// Well-known identifiers used as defaults by in-process
// filesystems that do not track real ownership.
func Everyone() *SID           { return NewSID(1, 0) }
func LocalSystem() *SID        { return NewSID(5, 18) }
func AuthenticatedUsers() *SID { return NewSID(5, 11) }
func BuiltinAdministrators() *SID {
	return NewSID(5, 32, 544)
}
func BuiltinUsers() *SID { return NewSID(5, 32, 545) }

func (s *SID) authorityValue() uint64 {
	var v uint64
	for _, b := range s.IdentifierAuthority {
		v = v<<8 | uint64(b)
	}
	return v
}

// String renders the usual S-1-5-... form.
func (s *SID) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "S-%d-%d", s.Revision, s.authorityValue())
	for _, sub := range s.SubAuthorities {
		fmt.Fprintf(&b, "-%d", sub)
	}
	return b.String()
}

// ParseSID parses the S-1-5-... form.
func ParseSID(text string) (*SID, error) {
	parts := strings.Split(text, "-")
	if len(parts) < 3 || parts[0] != "S" {
		return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
			"malformed SID %q", text)
	}
	revision, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
			"malformed SID revision in %q", text)
	}
	authority, err := strconv.ParseUint(parts[2], 10, 48)
	if err != nil {
		return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
			"malformed SID authority in %q", text)
	}
	subs := parts[3:]
	if len(subs) > sidMaxSubAuthority {
		return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
			"SID %q has too many sub-authorities", text)
	}
	result := NewSID(authority)
	result.Revision = uint8(revision)
	for _, part := range subs {
		sub, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
				"malformed SID sub-authority in %q", text)
		}
		result.SubAuthorities = append(
			result.SubAuthorities, uint32(sub))
	}
	return result, nil
}

func (s *SID) encodedSize() int {
	return sidHeaderSize + 4*len(s.SubAuthorities)
}

func (s *SID) encode(dst []byte) int {
	dst[0] = s.Revision
	dst[1] = uint8(len(s.SubAuthorities))
	copy(dst[2:8], s.IdentifierAuthority[:])
	for i, sub := range s.SubAuthorities {
		binary.LittleEndian.PutUint32(dst[8+4*i:], sub)
	}
	return s.encodedSize()
}

func decodeSID(blob []byte, offset int) (*SID, error) {
	if offset < 0 || offset+sidHeaderSize > len(blob) {
		return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
			"SID at offset %d escapes blob of %d bytes",
			offset, len(blob))
	}
	body := blob[offset:]
	count := int(body[1])
	if count > sidMaxSubAuthority {
		return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
			"SID claims %d sub-authorities", count)
	}
	if sidHeaderSize+4*count > len(body) {
		return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
			"SID sub-authorities escape blob")
	}
	s := &SID{Revision: body[0]}
	copy(s.IdentifierAuthority[:], body[2:8])
	for i := 0; i < count; i++ {
		s.SubAuthorities = append(s.SubAuthorities,
			binary.LittleEndian.Uint32(body[8+4*i:]))
	}
	return s, nil
}
