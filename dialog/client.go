package dialog

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/nexsip/sipua/sip"
)

// Builder assembles outgoing requests for a not-yet-established dialog,
// then promotes itself into a Dialog once a response carrying a To-tag
// arrives. It mirrors the split between pre-dialog request construction
// and the dialog proper: everything here is about the initial request
// (commonly INVITE or SUBSCRIBE); transport-level headers (Via,
// Record-Route handling) are left to the caller's client so Builder
// stays transport-agnostic. Max-Forwards is set here, to 70.
type Builder struct {
	localCSeq  uint32
	localURI   sip.Uri
	localTag   string
	localDName string
	contact    sip.ContactHeader
	callID     string
	target     sip.Uri
}

// NewBuilder seeds a dialog builder for a request addressed to target,
// sent from localURI (with a freshly generated local tag) and reachable
// back at contact.
func NewBuilder(localURI sip.Uri, localDisplayName string, contact sip.ContactHeader, target sip.Uri) *Builder {
	return &Builder{
		localCSeq:  randomSeqNo(),
		localURI:   localURI,
		localDName: localDisplayName,
		localTag:   sip.GenerateTagN(10),
		contact:    contact,
		callID:     sip.GenerateTagN(16),
		target:     target,
	}
}

func randomSeqNo() uint32 {
	var b [4]byte
	// crypto/rand is never expected to error on a platform we run on;
	// fall back to a fixed starting CSeq rather than propagating an error
	// from a constructor that otherwise can't fail.
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.BigEndian.Uint32(b[:]) & 0x7FFFFFFF
}

// CreateRequest builds method addressed to the dialog's target, carrying
// Max-Forwards (70), From (with the builder's local tag), To, Call-ID,
// CSeq and Contact. The caller is expected to run it through a client's
// request-building chain (Via) before sending.
func (b *Builder) CreateRequest(method sip.RequestMethod) *sip.Request {
	req := sip.NewRequest(method, b.target)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	from := &sip.FromHeader{
		DisplayName: b.localDName,
		Address:     b.localURI,
		Params:      sip.NewParams(),
	}
	from.Params.Add("tag", b.localTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{
		Address: b.target,
		Params:  sip.NewParams(),
	}
	req.AppendHeader(to)

	callID := sip.CallIDHeader(b.callID)
	req.AppendHeader(&callID)

	req.AppendHeader(&sip.CSeqHeader{SeqNo: b.localCSeq, MethodName: method})

	contact := b.contact
	req.AppendHeader(&contact)

	return req
}

// ConfirmFromResponse validates that response carries the To-tag RFC
// 3261 12.1.1 requires for dialog establishment and returns the Dialog
// built from it. The dialog is not registered with a Layer here; call
// Layer.Put with dialog.Key() once the caller decides the dialog should
// accept further in-dialog requests (e.g. after ACK is sent for a 2xx).
func (b *Builder) ConfirmFromResponse(res *sip.Response) (*Dialog, error) {
	to, ok := res.To()
	if !ok {
		return nil, fmt.Errorf("dialog: response missing To header")
	}
	peerTag, ok := to.Params.Get("tag")
	if !ok {
		return nil, fmt.Errorf("dialog: response To header missing tag, cannot establish dialog")
	}

	routeSet := collectRecordRoutes(res)

	localSeq := &atomic.Uint32{}
	localSeq.Store(b.localCSeq)

	return &Dialog{
		CallID:      b.callID,
		LocalTag:    b.localTag,
		RemoteTag:   peerTag,
		LocalURI:    b.localURI,
		RemoteURI:   to.Address,
		LocalSeq:    localSeq,
		RouteSet:    routeSet,
		LocalTarget: b.contact,
	}, nil
}

func collectRecordRoutes(res *sip.Response) []sip.Uri {
	rr, ok := res.RecordRoute()
	if !ok {
		return nil
	}
	var routeSet []sip.Uri
	for hop := rr; hop != nil; hop = hop.Next {
		routeSet = append(routeSet, hop.Address)
	}
	return routeSet
}

// Dialog is an established RFC 3261 12 dialog: enough state to build
// further in-dialog requests (BYE, re-INVITE, UPDATE) addressed through
// the peer's route set, and to key incoming in-dialog requests back to
// this dialog.
type Dialog struct {
	CallID    string
	LocalTag  string
	RemoteTag string

	LocalURI  sip.Uri
	RemoteURI sip.Uri

	// LocalSeq is the CSeq of the last request this side originated in
	// the dialog; NewRequest increments it before use.
	LocalSeq *atomic.Uint32
	// RemoteSeq tracks the peer's last-seen CSeq for in-dialog requests
	// we've received; nil until the first one arrives.
	RemoteSeq *atomic.Uint32

	RouteSet    []sip.Uri
	LocalTarget sip.ContactHeader
}

// Key returns the dialog's matching key from this side's perspective,
// i.e. as whichever party originated the request that established it.
func (d *Dialog) Key() Key {
	return Key{CallID: d.CallID, LocalTag: d.LocalTag, RemoteTag: d.RemoteTag}
}

// NewRequest builds an in-dialog request per RFC 3261 12.2.1.1: target
// refresh via RemoteURI, a bumped local CSeq, and a Route set rebuilt
// from the dialog's stored route set (reversed is not needed here since
// RouteSet is already stored in the order it must appear on requests we
// send, per RFC 3261 12.1.2).
func (d *Dialog) NewRequest(method sip.RequestMethod) *sip.Request {
	return d.newRequestWithSeq(method, d.LocalSeq.Add(1))
}

// NewAck builds the ACK for a 2xx response to an in-dialog INVITE. Unlike
// NewRequest, it does not bump LocalSeq: RFC 3261 13.2.2.4 requires the
// ACK to carry the same CSeq number as the INVITE it acknowledges, with
// only the method changed to ACK.
func (d *Dialog) NewAck(inviteCSeq uint32) *sip.Request {
	return d.newRequestWithSeq(sip.ACK, inviteCSeq)
}

func (d *Dialog) newRequestWithSeq(method sip.RequestMethod, seq uint32) *sip.Request {
	req := sip.NewRequest(method, d.RemoteURI)

	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	from := &sip.FromHeader{Address: d.LocalURI, Params: sip.NewParams()}
	from.Params.Add("tag", d.LocalTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: d.RemoteURI, Params: sip.NewParams()}
	to.Params.Add("tag", d.RemoteTag)
	req.AppendHeader(to)

	callID := sip.CallIDHeader(d.CallID)
	req.AppendHeader(&callID)

	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: method})

	contact := d.LocalTarget
	req.AppendHeader(&contact)

	var prevRoute *sip.RouteHeader
	for _, hop := range d.RouteSet {
		route := &sip.RouteHeader{Address: hop}
		if prevRoute == nil {
			req.AppendHeader(route)
		} else {
			prevRoute.Next = route
		}
		prevRoute = route
	}

	return req
}

// ObserveIncomingSeq records a peer CSeq seen on an in-dialog request,
// used by callers building their own ordering on top of a Dialog that
// isn't registered with a Layer (e.g. tests).
func (d *Dialog) ObserveIncomingSeq(seq uint32) {
	if d.RemoteSeq == nil {
		d.RemoteSeq = &atomic.Uint32{}
	}
	d.RemoteSeq.Store(seq)
}
