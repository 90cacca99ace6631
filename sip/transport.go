package sip

import (
	"context"
	"net"
	"strconv"
)

var (
	// IdleConnection will keep connections idle even after transaction terminate
	// -1 	- single response or request will close
	// 0 	- close connection immediatelly after transaction terminate
	// 1 	- keep connection idle after transaction termination
	IdleConnection int = 1
)

const (
	// Transport for different sip messages. GO uses lowercase, but for message parsing, we should
	// use this constants for setting message Transport
	TransportUDP = "UDP"
	TransportTCP = "TCP"
	TransportTLS = "TLS"
	TransportWS  = "WS"
	TransportWSS = "WSS"

	// DefaultProtocol is assumed when a request or response carries no
	// Via and no transport URI parameter to infer one from.
	DefaultProtocol = TransportUDP
)

// Transport implements network specific features.
type Transport interface {
	Network() string

	// GetConnection returns connection from transport
	// addr must be resolved to IP:port
	GetConnection(addr string) (Connection, error)
	CreateConnection(ctx context.Context, laddr Addr, raddr Addr, handler MessageHandler) (Connection, error)
	String() string
	Close() error
}

type Addr struct {
	IP   net.IP // Must be in IP format
	Port int
}

func (a *Addr) String() string {
	if a.IP == nil {
		return net.JoinHostPort("", strconv.Itoa(a.Port))
	}

	return net.JoinHostPort(a.IP.String(), strconv.Itoa(a.Port))
}

func ParseAddr(addr string) (host string, port int, err error) {
	host, pstr, err := net.SplitHostPort(addr)
	if err != nil {
		return host, port, err
	}

	port, err = strconv.Atoi(pstr)
	return host, port, err
}

// DefaultPort returns the RFC 3261 §19.1.2 default port for transport, or
// the plain SIP default (5060) for transports without their own default.
func DefaultPort(transport string) int {
	switch ASCIIToLower(transport) {
	case "tls", "wss":
		return 5061
	default:
		return 5060
	}
}
