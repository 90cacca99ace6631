package sip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionExpiresHeaderValue(t *testing.T) {
	h := &SessionExpiresHeader{Interval: 1800, Refresher: "uac"}
	require.Equal(t, "1800;refresher=uac", h.Value())
	require.Equal(t, "Session-Expires: 1800;refresher=uac", h.String())
}

func TestSessionExpiresHeaderNoRefresher(t *testing.T) {
	h := &SessionExpiresHeader{Interval: 1800}
	require.Equal(t, "1800", h.Value())
}

func TestMinSEHeaderValue(t *testing.T) {
	h := MinSEHeader(90)
	require.Equal(t, "90", h.Value())
	require.Equal(t, "Min-SE: 90", h.String())
}
