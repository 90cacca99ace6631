package parser

import (
	"strconv"
	"strings"

	"github.com/nexsip/sipua/sip"
)

// parseSessionExpires parses the RFC 4028 Session-Expires header:
// "<delta-seconds>[;refresher=uac|uas]".
func parseSessionExpires(headerName string, headerText string) (sip.Header, error) {
	parts := strings.Split(headerText, ";")
	interval, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return nil, err
	}

	h := &sip.SessionExpiresHeader{Interval: uint32(interval)}
	for _, p := range parts[1:] {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) == 2 && strings.EqualFold(strings.TrimSpace(kv[0]), "refresher") {
			h.Refresher = strings.TrimSpace(kv[1])
		}
	}
	return h, nil
}

// parseMinSE parses the RFC 4028 Min-SE header: "<delta-seconds>".
func parseMinSE(headerName string, headerText string) (sip.Header, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(headerText), 10, 32)
	if err != nil {
		return nil, err
	}
	h := sip.MinSEHeader(value)
	return &h, nil
}
