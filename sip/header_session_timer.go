package sip

import (
	"io"
	"strconv"
	"strings"
)

// SessionExpiresHeader is the RFC 4028 Session-Expires header: an interval
// in seconds plus an optional refresher param identifying which side (uac
// or uas) is responsible for sending the next refresh.
type SessionExpiresHeader struct {
	Interval  uint32
	Refresher string // "uac", "uas", or "" if absent
}

func (h *SessionExpiresHeader) Name() string { return "Session-Expires" }

func (h *SessionExpiresHeader) Value() string {
	var buffer strings.Builder
	h.ValueStringWrite(&buffer)
	return buffer.String()
}

func (h *SessionExpiresHeader) ValueStringWrite(buffer io.StringWriter) {
	buffer.WriteString(strconv.FormatUint(uint64(h.Interval), 10))
	if h.Refresher != "" {
		buffer.WriteString(";refresher=")
		buffer.WriteString(h.Refresher)
	}
}

func (h *SessionExpiresHeader) String() string {
	var buffer strings.Builder
	h.StringWrite(&buffer)
	return buffer.String()
}

func (h *SessionExpiresHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *SessionExpiresHeader) headerClone() Header {
	return &SessionExpiresHeader{Interval: h.Interval, Refresher: h.Refresher}
}

// MinSEHeader is the RFC 4028 Min-SE header: the smallest session interval
// this endpoint is willing to accept.
type MinSEHeader uint32

func (h MinSEHeader) Name() string { return "Min-SE" }

func (h MinSEHeader) Value() string { return strconv.FormatUint(uint64(h), 10) }

func (h MinSEHeader) String() string {
	var buffer strings.Builder
	h.StringWrite(&buffer)
	return buffer.String()
}

func (h MinSEHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	buffer.WriteString(h.Value())
}

func (h *MinSEHeader) headerClone() Header {
	clone := *h
	return &clone
}
