package sip

import "net"

// Connection is the sip-package-level view of a transport connection,
// satisfied by transport.Connection's concrete stream/datagram wrappers.
type Connection interface {
	// LocalAddr used for connection
	LocalAddr() net.Addr
	// WriteMsg marshals message and sends to socket
	WriteMsg(msg Message) error
	// Reference of connection can be increased/decreased to prevent closing too early
	Ref(i int) int
	// TryClose decreases reference and if ref == 0 closes connection. Returns last ref.
	TryClose() (int, error)

	Close() error
}
