package dialog

import (
	"testing"

	"github.com/nexsip/sipua/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTaggedRequest(t *testing.T, callID, fromTag, toTag string) *sip.Request {
	t.Helper()

	req := sip.NewRequest(sip.BYE, sip.Uri{Host: "peer.example.com"})

	from := &sip.FromHeader{Address: sip.Uri{Host: "local.example.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", fromTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: sip.Uri{Host: "peer.example.com"}, Params: sip.NewParams()}
	to.Params.Add("tag", toTag)
	req.AppendHeader(to)

	id := sip.CallIDHeader(callID)
	req.AppendHeader(&id)

	req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.BYE})

	return req
}

func TestKeyFromIncoming(t *testing.T) {
	req := newTaggedRequest(t, "call-1", "remote-tag", "local-tag")

	key, ok := KeyFromIncoming(req)
	require.True(t, ok)
	assert.Equal(t, Key{CallID: "call-1", LocalTag: "local-tag", RemoteTag: "remote-tag"}, key)
}

func TestKeyFromIncomingMissingToTag(t *testing.T) {
	req := sip.NewRequest(sip.BYE, sip.Uri{Host: "peer.example.com"})
	from := &sip.FromHeader{Address: sip.Uri{Host: "local.example.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", "remote-tag")
	req.AppendHeader(from)
	to := &sip.ToHeader{Address: sip.Uri{Host: "peer.example.com"}, Params: sip.NewParams()}
	req.AppendHeader(to)
	id := sip.CallIDHeader("call-1")
	req.AppendHeader(&id)

	_, ok := KeyFromIncoming(req)
	assert.False(t, ok)
}

func TestKeyFromResponseIsMirrorOfIncoming(t *testing.T) {
	res := sip.NewResponse(200, "OK")

	from := &sip.FromHeader{Address: sip.Uri{Host: "local.example.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", "local-tag")
	res.AppendHeader(from)

	to := &sip.ToHeader{Address: sip.Uri{Host: "peer.example.com"}, Params: sip.NewParams()}
	to.Params.Add("tag", "remote-tag")
	res.AppendHeader(to)

	id := sip.CallIDHeader("call-1")
	res.AppendHeader(&id)

	key, ok := KeyFromResponse(res)
	require.True(t, ok)
	assert.Equal(t, Key{CallID: "call-1", LocalTag: "local-tag", RemoteTag: "remote-tag"}, key)
}
