package secdesc

import (
	"encoding/binary"

	"github.com/mirrorfs/winfs/fserr"
)

// Control flags of the descriptor header. Only the structural
// ones are interpreted here; the rest pass through untouched.
const (
	ControlOwnerDefaulted = 0x0001
	ControlGroupDefaulted = 0x0002
	ControlDACLPresent    = 0x0004
	ControlDACLDefaulted  = 0x0008
	ControlSACLPresent    = 0x0010
	ControlSACLDefaulted  = 0x0020
	ControlSelfRelative   = 0x8000
)

// ACE types with a known access-mask + SID body. Other types
// are preserved as raw bytes.
const (
	AceTypeAccessAllowed = 0x00
	AceTypeAccessDenied  = 0x01
)

// Standard access mask bits, for building default descriptors.
const (
	MaskGenericRead  = 0x80000000
	MaskGenericWrite = 0x40000000
	MaskGenericAll   = 0x10000000
	MaskFileAll      = 0x001F01FF
)

const (
	headerSize    = 20
	aclHeaderSize = 8
	aceHeaderSize = 4
	aclRevision   = 2
	sdRevision    = 1
)

// ACE is one access-control entry. Entries of a known type
// carry a decoded Mask and Trustee; other types carry their
// body verbatim in Opaque so the blob round-trips.
type ACE struct {
	Type    uint8
	Flags   uint8
	Mask    uint32
	Trustee *SID
	Opaque  []byte
}

// Allow builds an access-allowed entry.
func Allow(trustee *SID, mask uint32) ACE {
	return ACE{Type: AceTypeAccessAllowed, Mask: mask, Trustee: trustee}
}

// Deny builds an access-denied entry.
func Deny(trustee *SID, mask uint32) ACE {
	return ACE{Type: AceTypeAccessDenied, Mask: mask, Trustee: trustee}
}

// ACL is a decoded access-control list.
type ACL struct {
	Revision uint8
	ACEs     []ACE
}

// Descriptor is the decoded view of a self-relative security
// descriptor blob.
type Descriptor struct {
	Revision uint8
	Control  uint16
	Owner    *SID
	Group    *SID
	SACL     *ACL
	DACL     *ACL
}

func (a *ACE) bodySize() int {
	if a.Opaque != nil {
		return len(a.Opaque)
	}
	return 4 + a.Trustee.encodedSize()
}

func (a *ACE) encodedSize() int {
	return aceHeaderSize + a.bodySize()
}

func (l *ACL) encodedSize() int {
	size := aclHeaderSize
	for i := range l.ACEs {
		size += l.ACEs[i].encodedSize()
	}
	return size
}

func (l *ACL) encode(dst []byte) int {
	size := l.encodedSize()
	dst[0] = l.Revision
	dst[1] = 0
	binary.LittleEndian.PutUint16(dst[2:], uint16(size))
	binary.LittleEndian.PutUint16(dst[4:], uint16(len(l.ACEs)))
	binary.LittleEndian.PutUint16(dst[6:], 0)
	offset := aclHeaderSize
	for i := range l.ACEs {
		ace := &l.ACEs[i]
		dst[offset] = ace.Type
		dst[offset+1] = ace.Flags
		binary.LittleEndian.PutUint16(
			dst[offset+2:], uint16(ace.encodedSize()))
		body := dst[offset+aceHeaderSize:]
		if ace.Opaque != nil {
			copy(body, ace.Opaque)
		} else {
			binary.LittleEndian.PutUint32(body, ace.Mask)
			ace.Trustee.encode(body[4:])
		}
		offset += ace.encodedSize()
	}
	return size
}

func decodeACL(blob []byte, offset int) (*ACL, error) {
	if offset < 0 || offset+aclHeaderSize > len(blob) {
		return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
			"ACL at offset %d escapes blob of %d bytes",
			offset, len(blob))
	}
	body := blob[offset:]
	size := int(binary.LittleEndian.Uint16(body[2:]))
	count := int(binary.LittleEndian.Uint16(body[4:]))
	if size < aclHeaderSize || size > len(body) {
		return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
			"ACL claims %d bytes, %d available", size, len(body))
	}
	result := &ACL{Revision: body[0]}
	cursor := aclHeaderSize
	for i := 0; i < count; i++ {
		if cursor+aceHeaderSize > size {
			return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
				"ACE %d escapes its ACL", i)
		}
		aceSize := int(binary.LittleEndian.Uint16(body[cursor+2:]))
		if aceSize < aceHeaderSize || cursor+aceSize > size {
			return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
				"ACE %d claims %d bytes", i, aceSize)
		}
		ace := ACE{Type: body[cursor], Flags: body[cursor+1]}
		aceBody := body[cursor+aceHeaderSize : cursor+aceSize]
		switch ace.Type {
		case AceTypeAccessAllowed, AceTypeAccessDenied:
			if len(aceBody) < 4 {
				return nil, fserr.Newf(
					fserr.InvalidSecurityDescriptor,
					"ACE %d truncated", i)
			}
			ace.Mask = binary.LittleEndian.Uint32(aceBody)
			trustee, err := decodeSID(aceBody, 4)
			if err != nil {
				return nil, err
			}
			ace.Trustee = trustee
		default:
			ace.Opaque = append([]byte(nil), aceBody...)
		}
		result.ACEs = append(result.ACEs, ace)
		cursor += aceSize
	}
	return result, nil
}

// Decode parses a self-relative security descriptor blob,
// failing with InvalidSecurityDescriptor on any structural
// defect. The blob is not retained.
func Decode(blob []byte) (*Descriptor, error) {
	if len(blob) < headerSize {
		return nil, fserr.Newf(fserr.InvalidSecurityDescriptor,
			"blob of %d bytes is shorter than the header", len(blob))
	}
	control := binary.LittleEndian.Uint16(blob[2:])
	if control&ControlSelfRelative == 0 {
		return nil, fserr.New(fserr.InvalidSecurityDescriptor,
			"descriptor is not self-relative")
	}
	d := &Descriptor{Revision: blob[0], Control: control}
	offsetOwner := int(binary.LittleEndian.Uint32(blob[4:]))
	offsetGroup := int(binary.LittleEndian.Uint32(blob[8:]))
	offsetSACL := int(binary.LittleEndian.Uint32(blob[12:]))
	offsetDACL := int(binary.LittleEndian.Uint32(blob[16:]))
	var err error
	if offsetOwner != 0 {
		if d.Owner, err = decodeSID(blob, offsetOwner); err != nil {
			return nil, err
		}
	}
	if offsetGroup != 0 {
		if d.Group, err = decodeSID(blob, offsetGroup); err != nil {
			return nil, err
		}
	}
	if control&ControlSACLPresent != 0 && offsetSACL != 0 {
		if d.SACL, err = decodeACL(blob, offsetSACL); err != nil {
			return nil, err
		}
	}
	if control&ControlDACLPresent != 0 && offsetDACL != 0 {
		if d.DACL, err = decodeACL(blob, offsetDACL); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Validate checks structural well-formedness without keeping
// the decoded view.
func Validate(blob []byte) error {
	_, err := Decode(blob)
	return err
}

// Encode lays the descriptor out in canonical self-relative
// form: header, owner, group, SACL, DACL. Presence bits in
// Control are normalized to match the fields actually present.
func (d *Descriptor) Encode() []byte {
	size := headerSize
	if d.Owner != nil {
		size += d.Owner.encodedSize()
	}
	if d.Group != nil {
		size += d.Group.encodedSize()
	}
	if d.SACL != nil {
		size += d.SACL.encodedSize()
	}
	if d.DACL != nil {
		size += d.DACL.encodedSize()
	}
	blob := make([]byte, size)

	control := d.Control | ControlSelfRelative
	control &^= ControlSACLPresent | ControlDACLPresent
	if d.SACL != nil {
		control |= ControlSACLPresent
	}
	if d.DACL != nil {
		control |= ControlDACLPresent
	}
	revision := d.Revision
	if revision == 0 {
		revision = sdRevision
	}
	blob[0] = revision
	binary.LittleEndian.PutUint16(blob[2:], control)

	offset := headerSize
	if d.Owner != nil {
		binary.LittleEndian.PutUint32(blob[4:], uint32(offset))
		offset += d.Owner.encode(blob[offset:])
	}
	if d.Group != nil {
		binary.LittleEndian.PutUint32(blob[8:], uint32(offset))
		offset += d.Group.encode(blob[offset:])
	}
	if d.SACL != nil {
		binary.LittleEndian.PutUint32(blob[12:], uint32(offset))
		offset += d.SACL.encode(blob[offset:])
	}
	if d.DACL != nil {
		binary.LittleEndian.PutUint32(blob[16:], uint32(offset))
		offset += d.DACL.encode(blob[offset:])
	}
	return blob
}

// New builds a descriptor with the given owner, group and
// discretionary entries, ready to Encode.
func New(owner, group *SID, aces ...ACE) *Descriptor {
	d := &Descriptor{
		Revision: sdRevision,
		Owner:    owner,
		Group:    group,
	}
	if aces != nil {
		d.DACL = &ACL{Revision: aclRevision, ACEs: aces}
	}
	return d
}
