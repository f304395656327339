package secdesc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorfs/winfs/fserr"
	"github.com/mirrorfs/winfs/secdesc"
)

func sampleDescriptor() *secdesc.Descriptor {
	return secdesc.New(
		secdesc.LocalSystem(),
		secdesc.BuiltinAdministrators(),
		secdesc.Allow(secdesc.Everyone(), secdesc.MaskGenericRead),
		secdesc.Allow(secdesc.LocalSystem(), secdesc.MaskFileAll),
		secdesc.Deny(secdesc.BuiltinUsers(), secdesc.MaskGenericWrite),
	)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	blob := sampleDescriptor().Encode()

	decoded, err := secdesc.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "S-1-5-18", decoded.Owner.String())
	assert.Equal(t, "S-1-5-32-544", decoded.Group.String())
	require.NotNil(t, decoded.DACL)
	require.Len(t, decoded.DACL.ACEs, 3)
	assert.Equal(t, "S-1-1-0", decoded.DACL.ACEs[0].Trustee.String())
	assert.EqualValues(t, secdesc.MaskGenericRead, decoded.DACL.ACEs[0].Mask)
	assert.EqualValues(t, secdesc.AceTypeAccessDenied, decoded.DACL.ACEs[2].Type)

	// The round-trip law.
	assert.Equal(t, blob, decoded.Encode())
}

func TestDecodeEncodeIsStableForUnknownAceTypes(t *testing.T) {
	d := sampleDescriptor()
	d.DACL.ACEs = append(d.DACL.ACEs, secdesc.ACE{
		Type:   0x11, // audit-style entry the codec does not model
		Flags:  0x02,
		Opaque: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	})
	blob := d.Encode()

	decoded, err := secdesc.Decode(blob)
	require.NoError(t, err)
	require.Len(t, decoded.DACL.ACEs, 4)
	assert.Equal(t, blob, decoded.Encode())
}

func TestOwnerlessDescriptor(t *testing.T) {
	blob := secdesc.New(nil, nil,
		secdesc.Allow(secdesc.Everyone(), secdesc.MaskGenericAll)).Encode()
	decoded, err := secdesc.Decode(blob)
	require.NoError(t, err)
	assert.Nil(t, decoded.Owner)
	assert.Nil(t, decoded.Group)
	assert.Equal(t, blob, decoded.Encode())
}

func TestDecodeRejectsMalformedBlobs(t *testing.T) {
	good := sampleDescriptor().Encode()

	cases := map[string][]byte{
		"empty":        {},
		"short header": good[:10],
		"truncated":    good[:len(good)-3],
	}

	// Owner offset pointing past the end of the blob.
	escape := append([]byte(nil), good...)
	escape[4] = 0xff
	escape[5] = 0xff
	cases["owner escape"] = escape

	// Absolute (non self-relative) descriptor.
	absolute := append([]byte(nil), good...)
	absolute[2] = 0
	absolute[3] = 0
	cases["absolute"] = absolute

	for name, blob := range cases {
		err := secdesc.Validate(blob)
		assert.ErrorIs(t, err, fserr.InvalidSecurityDescriptor, name)
	}
}

func TestSIDStringRoundTrip(t *testing.T) {
	for _, text := range []string{
		"S-1-1-0", "S-1-5-18", "S-1-5-32-544",
		"S-1-5-21-1004336348-1177238915-682003330-512",
	} {
		sid, err := secdesc.ParseSID(text)
		require.NoError(t, err, text)
		assert.Equal(t, text, sid.String())
	}

	for _, text := range []string{"", "S", "X-1-5", "S-1-x", "S-1-5-y"} {
		_, err := secdesc.ParseSID(text)
		assert.Error(t, err, text)
	}
}
