// Package dialog implements the RFC 3261 dialog layer: matching in-dialog
// requests to their dialog by (Call-ID, local-tag, remote-tag), ordering
// them by CSeq, and fanning them out to registered usages.
package dialog

import (
	"fmt"

	"github.com/nexsip/sipua/sip"
)

// Key identifies a dialog by its three defining components, RFC 3261 12.
type Key struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

func (k Key) String() string {
	return fmt.Sprintf("%s;local=%s;remote=%s", k.CallID, k.LocalTag, k.RemoteTag)
}

// KeyFromIncoming builds the dialog key of an incoming request as seen by
// its receiver: the To-tag is ours (local), the From-tag is the peer's.
// Returns ok=false if the request carries no To-tag, meaning it cannot
// belong to an established dialog (e.g. an initial INVITE).
func KeyFromIncoming(req *sip.Request) (Key, bool) {
	callID, ok := req.CallID()
	if !ok {
		return Key{}, false
	}

	to, ok := req.To()
	if !ok {
		return Key{}, false
	}
	toTag, ok := to.Params.Get("tag")
	if !ok {
		return Key{}, false
	}

	from, ok := req.From()
	if !ok {
		return Key{}, false
	}
	fromTag, ok := from.Params.Get("tag")
	if !ok {
		return Key{}, false
	}

	return Key{
		CallID:    string(*callID),
		LocalTag:  toTag,
		RemoteTag: fromTag,
	}, true
}

// KeyFromResponse builds the dialog key of a 2xx/provisional response as
// seen by the UAC that sent the original request: here the To-tag belongs
// to the peer (remote) and the From-tag is ours (local).
func KeyFromResponse(res *sip.Response) (Key, bool) {
	callID, ok := res.CallID()
	if !ok {
		return Key{}, false
	}

	to, ok := res.To()
	if !ok {
		return Key{}, false
	}
	toTag, ok := to.Params.Get("tag")
	if !ok {
		return Key{}, false
	}

	from, ok := res.From()
	if !ok {
		return Key{}, false
	}
	fromTag, ok := from.Params.Get("tag")
	if !ok {
		return Key{}, false
	}

	return Key{
		CallID:    string(*callID),
		LocalTag:  fromTag,
		RemoteTag: toTag,
	}, true
}
