package transport

import (
	"time"

	"github.com/rs/zerolog"
)

// transportBufferSize bounds a single Read() off a socket. 65535 covers
// the largest UDP datagram; stream transports read in the same sized
// chunks and rely on the incremental parser to reassemble messages that
// span reads.
const transportBufferSize = 65535

// Stream-transport lifecycle defaults (spec.md §4.1, §6). A transport
// with no usage holding it runs an idle timer and is destroyed on expiry;
// a keep-alive timer fires in either state and writes a double-CRLF ping.
var (
	StreamIdleTimeout       = 32 * time.Second
	StreamKeepAliveInterval = 10 * time.Second
)

// streamLifecycle owns the idle-reaper and keep-alive ping for one stream
// connection (spec.md §4.1's Unused/InUse state machine). It does not
// track Unused/InUse as a named state explicitly; idle is derived from
// the connection's own refcount, which every Connection implementation
// already maintains for the unrelated purpose of deferring Close until
// the last usage drops its reference.
type streamLifecycle struct {
	write func([]byte) (int, error)
	close func() error
	idle  func() bool
	log   zerolog.Logger
}

// run blocks until closed fires or the connection is torn down by either
// timer. Callers spawn it in its own goroutine alongside readConnection
// and close the closed channel from the same defer that tears down the
// read loop.
func (k *streamLifecycle) run(closed <-chan struct{}) {
	ping := time.NewTicker(StreamKeepAliveInterval)
	defer ping.Stop()
	idleCheck := time.NewTicker(StreamIdleTimeout)
	defer idleCheck.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if _, err := k.write([]byte("\r\n\r\n")); err != nil {
				k.log.Debug().Err(err).Msg("keep-alive ping failed, closing connection")
				k.close()
				return
			}
		case <-idleCheck.C:
			if k.idle != nil && k.idle() {
				k.log.Debug().Msg("stream idle timeout, closing connection")
				k.close()
				return
			}
		}
	}
}
