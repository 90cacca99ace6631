package stun

import (
	"encoding/binary"
	"fmt"
)

// Attribute type numbers, grounded on the ICE attribute codecs in
// original_source/media/stun-types/src/attributes/ice.rs.
const (
	AttrPriority      uint16 = 0x0024
	AttrUseCandidate  uint16 = 0x0025
	AttrIceControlled uint16 = 0x8029
	AttrIceControlling uint16 = 0x802A
)

// Priority is the ICE candidate priority attribute (RFC 8445 §16.1).
type Priority uint32

func (p Priority) Type() uint16 { return AttrPriority }

func (p Priority) Encode() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(p))
	return b
}

func DecodePriority(value []byte) (Priority, error) {
	if len(value) != 4 {
		return 0, fmt.Errorf("stun: priority value must be 4 bytes, got %d", len(value))
	}
	return Priority(binary.BigEndian.Uint32(value)), nil
}

// UseCandidate is a zero-length flag attribute (RFC 8445 §16.1).
type UseCandidate struct{}

func (UseCandidate) Type() uint16 { return AttrUseCandidate }

func (UseCandidate) Encode() []byte { return nil }

func DecodeUseCandidate(value []byte) (UseCandidate, error) {
	return UseCandidate{}, nil
}

// IceControlled carries the ICE tie-breaker for the controlled agent.
type IceControlled uint64

func (c IceControlled) Type() uint16 { return AttrIceControlled }

func (c IceControlled) Encode() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(c))
	return b
}

func DecodeIceControlled(value []byte) (IceControlled, error) {
	if len(value) != 8 {
		return 0, fmt.Errorf("stun: ice-controlled value must be 8 bytes, got %d", len(value))
	}
	return IceControlled(binary.BigEndian.Uint64(value)), nil
}

// IceControlling carries the ICE tie-breaker for the controlling agent.
type IceControlling uint64

func (c IceControlling) Type() uint16 { return AttrIceControlling }

func (c IceControlling) Encode() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(c))
	return b
}

func DecodeIceControlling(value []byte) (IceControlling, error) {
	if len(value) != 8 {
		return 0, fmt.Errorf("stun: ice-controlling value must be 8 bytes, got %d", len(value))
	}
	return IceControlling(binary.BigEndian.Uint64(value)), nil
}
