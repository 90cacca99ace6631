package dialog

import (
	"sync"

	"github.com/nexsip/sipua/sip"
	"github.com/nexsip/sipua/transaction"

	"github.com/rs/zerolog/log"
)

// Usage is a dialog-scoped handler: INVITE sessions, subscriptions, or any
// other usage that needs to see in-order, in-dialog requests. Receive
// returns true if it consumed the request; a usage that declines lets the
// next registered usage (or the layer's default handling) see it.
type Usage interface {
	Name() string
	Receive(req *sip.Request, tx sip.ServerTransaction) bool
}

// entry tracks per-dialog CSeq ordering state and the usages subscribed to it.
type entry struct {
	mu           sync.Mutex
	backlog      map[uint32]*sip.Request
	nextPeerCSeq *uint32
	usages       []*usageSlot
	nextSlot     int
}

type usageSlot struct {
	id    int
	usage Usage
}

func newEntry() *entry {
	return &entry{backlog: make(map[uint32]*sip.Request)}
}

// Layer is the dialog matching and fan-out stage of the endpoint dispatcher.
// It sits in front of the transaction layer's request handler: requests
// that can't be matched to a dialog fall through to Unmatched. A matched
// request that no registered usage claims is answered 404 Not Found (an
// unclaimed ACK is dropped).
type Layer struct {
	mu      sync.Mutex
	dialogs map[Key]*entry

	// Unmatched receives requests the dialog layer could not key, or
	// could not find a dialog for. Defaults to a 405 Method Not Allowed.
	Unmatched transaction.RequestHandler
}

func NewLayer() *Layer {
	return &Layer{
		dialogs:   make(map[Key]*entry),
		Unmatched: defaultUnmatched,
	}
}

func defaultUnmatched(req *sip.Request, tx sip.ServerTransaction) {
	if req.IsAck() {
		return
	}
	res := sip.NewResponseFromRequest(req, 405, "Method Not Allowed", nil)
	if err := tx.Respond(res); err != nil {
		log.Error().Err(err).Msg("dialog: failed responding to unmatched request")
	}
}

// Receive implements transaction.RequestHandler and is meant to be wired
// via (*transaction.Layer).OnRequest.
func (dl *Layer) Receive(req *sip.Request, tx sip.ServerTransaction) {
	key, ok := KeyFromIncoming(req)
	if !ok {
		dl.Unmatched(req, tx)
		return
	}

	dl.mu.Lock()
	e, found := dl.dialogs[key]
	dl.mu.Unlock()
	if !found {
		dl.Unmatched(req, tx)
		return
	}

	requests := dl.order(e, req)
	if requests == nil {
		// Backlogged: out of order, nothing to deliver yet.
		return
	}

	e.mu.Lock()
	usages := make([]*usageSlot, len(e.usages))
	copy(usages, e.usages)
	e.mu.Unlock()

	log.Debug().Stringer("dialog", key).Msg("dialog matched incoming request")

	for _, r := range requests {
		dl.dispatch(usages, r, tx)
	}
}

// order applies the CSeq ordering rules of RFC 3261 12.2.2 and returns the
// contiguous run of requests ready for delivery, or nil if req was
// backlogged for later delivery.
func (dl *Layer) order(e *entry, req *sip.Request) []*sip.Request {
	cseq, ok := req.CSeq()
	if !ok {
		return []*sip.Request{req}
	}
	requestCSeq := cseq.SeqNo

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.nextPeerCSeq == nil {
		// First request seen on this dialog: jump straight into the
		// Equal case by seeding the expectation with what arrived.
		e.nextPeerCSeq = &requestCSeq
	}

	switch {
	case requestCSeq < *e.nextPeerCSeq:
		// ACKs legally carry the INVITE's CSeq and are expected here.
		if !req.IsAck() {
			log.Warn().Uint32("cseq", requestCSeq).Msg("dialog: incoming request has CSeq lower than expected")
		}
		return []*sip.Request{req}

	case requestCSeq == *e.nextPeerCSeq:
		requests := []*sip.Request{req}
		next := requestCSeq
		for {
			next++
			queued, ok := e.backlog[next]
			if !ok {
				break
			}
			delete(e.backlog, next)
			requests = append(requests, queued)
		}
		// next now sits one past the last request just delivered.
		e.nextPeerCSeq = &next
		return requests

	default:
		e.backlog[requestCSeq] = req
		log.Debug().Uint32("cseq", requestCSeq).Msg("dialog: received request above expected CSeq, backlogged")
		return nil
	}
}

func (dl *Layer) dispatch(usages []*usageSlot, req *sip.Request, tx sip.ServerTransaction) {
	for _, slot := range usages {
		if slot.usage.Receive(req, tx) {
			return
		}
	}

	if req.IsAck() {
		// No usage expected this ACK; cannot respond to it regardless.
		return
	}

	res := sip.NewResponseFromRequest(req, 404, "Not Found", nil)
	if err := tx.Respond(res); err != nil {
		log.Error().Err(err).Msg("dialog: failed responding to unclaimed in-dialog request")
	}
}

// Put registers a freshly created dialog so future in-dialog requests can
// be matched to it. peerCSeq seeds the ordering state when the dialog's
// creator already observed the peer's first CSeq (e.g. UAS confirming an
// INVITE); pass nil when unknown.
func (dl *Layer) Put(key Key, peerCSeq *uint32) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	e := newEntry()
	if peerCSeq != nil {
		seeded := *peerCSeq + 1
		e.nextPeerCSeq = &seeded
	}
	dl.dialogs[key] = e
}

// Delete drops the dialog entry, e.g. once a BYE transaction completes.
func (dl *Layer) Delete(key Key) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	delete(dl.dialogs, key)
}

// RegisterUsage subscribes usage to key's dialog and returns a guard whose
// Close removes it again. Returns ok=false if the dialog does not exist.
func (dl *Layer) RegisterUsage(key Key, usage Usage) (*UsageGuard, bool) {
	dl.mu.Lock()
	e, ok := dl.dialogs[key]
	dl.mu.Unlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	id := e.nextSlot
	e.nextSlot++
	e.usages = append(e.usages, &usageSlot{id: id, usage: usage})
	e.mu.Unlock()

	return &UsageGuard{entry: e, id: id}, true
}

// UsageGuard's lifetime bounds the registration of a usage inside a
// dialog. Closing it removes the usage.
type UsageGuard struct {
	entry *entry
	id    int
}

// Close removes the usage from its dialog. Safe to call multiple times.
func (g *UsageGuard) Close() {
	if g == nil || g.entry == nil {
		return
	}
	g.entry.mu.Lock()
	for i, slot := range g.entry.usages {
		if slot.id == g.id {
			g.entry.usages = append(g.entry.usages[:i], g.entry.usages[i+1:]...)
			break
		}
	}
	g.entry.mu.Unlock()
	g.entry = nil
}
