package stun

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPriorityRoundTrip(t *testing.T) {
	p := Priority(126240000)
	got, err := DecodePriority(p.Encode())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestUseCandidateRoundTrip(t *testing.T) {
	u := UseCandidate{}
	require.Empty(t, u.Encode())
	got, err := DecodeUseCandidate(u.Encode())
	require.NoError(t, err)
	require.Equal(t, u, got)
}

func TestIceControlledRoundTrip(t *testing.T) {
	c := IceControlled(0x1122334455667788)
	got, err := DecodeIceControlled(c.Encode())
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestIceControllingRoundTrip(t *testing.T) {
	c := IceControlling(0x8877665544332211)
	got, err := DecodeIceControlling(c.Encode())
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestDecodePriorityWrongLength(t *testing.T) {
	_, err := DecodePriority([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestIsSTUNMessage(t *testing.T) {
	msg := make([]byte, 20)
	msg[0] = 0x00
	msg[1] = 0x01
	msg[2] = 0x00
	msg[3] = 0x00
	msg[4] = 0x21
	msg[5] = 0x12
	msg[6] = 0xA4
	msg[7] = 0x42

	ok, length, incomplete := IsSTUNMessage(msg)
	require.True(t, ok)
	require.False(t, incomplete)
	require.Equal(t, 20, length)

	sipInvite := []byte("INVITE sip:bob@example.com SIP/2.0\r\n")
	ok, _, _ = IsSTUNMessage(sipInvite)
	require.False(t, ok)

	ok, _, incomplete = IsSTUNMessage(msg[:10])
	require.True(t, ok)
	require.True(t, incomplete)
}
