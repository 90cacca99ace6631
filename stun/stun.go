// Package stun provides the minimal RFC 5389 support the SIP transport
// layer needs to demultiplex STUN traffic off the same socket: message-type
// detection, and codecs for four ICE attributes (attr.go). It is not a STUN implementation; full attribute
// coverage, integrity and fingerprint validation stay an external
// collaborator's job.
package stun

import "encoding/binary"

// magicCookie is the fixed RFC 5389 cookie present at bytes 4-8 of every
// STUN message header.
const magicCookie uint32 = 0x2112A442

const headerLen = 20

// IsSTUNMessage reports whether b looks like a STUN message per RFC 5389
// §6: the two most-significant bits of the first byte are zero, and the
// magic cookie sits at byte offset 4. length is the total message length
// (header + body) declared in the STUN header; incomplete is true when b
// is a plausible STUN header but shorter than the declared length, telling
// the caller (the streaming framer) to wait for more bytes.
func IsSTUNMessage(b []byte) (ok bool, length int, incomplete bool) {
	if len(b) < 2 {
		return false, 0, len(b) > 0 && b[0]&0xC0 == 0
	}
	if b[0]&0xC0 != 0 {
		return false, 0, false
	}
	if len(b) < headerLen {
		return true, 0, true
	}
	if binary.BigEndian.Uint32(b[4:8]) != magicCookie {
		return false, 0, false
	}
	bodyLen := int(binary.BigEndian.Uint16(b[2:4]))
	total := headerLen + bodyLen
	if len(b) < total {
		return true, total, true
	}
	return true, total, false
}
