package dialog

import (
	"sync/atomic"
	"testing"

	"github.com/nexsip/sipua/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAtomicSeq(v uint32) *atomic.Uint32 {
	a := &atomic.Uint32{}
	a.Store(v)
	return a
}

func TestBuilderCreateRequestCarriesDialogHeaders(t *testing.T) {
	contact := sip.ContactHeader{Address: sip.Uri{Host: "10.0.0.1", Port: 5060}}
	b := NewBuilder(
		sip.Uri{User: "alice", Host: "alice.example.com"},
		"Alice",
		contact,
		sip.Uri{User: "bob", Host: "bob.example.com"},
	)

	req := b.CreateRequest(sip.INVITE)

	from, ok := req.From()
	require.True(t, ok)
	tag, ok := from.Params.Get("tag")
	require.True(t, ok)
	assert.Equal(t, b.localTag, tag)
	assert.Equal(t, "Alice", from.DisplayName)

	to, ok := req.To()
	require.True(t, ok)
	_, hasTag := to.Params.Get("tag")
	assert.False(t, hasTag, "initial request must not carry a To-tag")

	cseq, ok := req.CSeq()
	require.True(t, ok)
	assert.Equal(t, sip.INVITE, cseq.MethodName)

	maxFwd, ok := req.MaxForwards()
	require.True(t, ok)
	assert.EqualValues(t, 70, maxFwd.Val())
}

func TestBuilderConfirmFromResponseRequiresToTag(t *testing.T) {
	b := NewBuilder(sip.Uri{Host: "alice.example.com"}, "", sip.ContactHeader{}, sip.Uri{Host: "bob.example.com"})

	res := sip.NewResponse(200, "OK")
	to := &sip.ToHeader{Address: sip.Uri{Host: "bob.example.com"}, Params: sip.NewParams()}
	res.AppendHeader(to)

	_, err := b.ConfirmFromResponse(res)
	assert.Error(t, err)
}

func TestBuilderConfirmFromResponseBuildsDialogWithRouteSet(t *testing.T) {
	b := NewBuilder(sip.Uri{Host: "alice.example.com"}, "", sip.ContactHeader{}, sip.Uri{Host: "bob.example.com"})

	res := sip.NewResponse(200, "OK")
	to := &sip.ToHeader{Address: sip.Uri{Host: "bob.example.com"}, Params: sip.NewParams()}
	to.Params.Add("tag", "bob-tag")
	res.AppendHeader(to)

	rr1 := &sip.RecordRouteHeader{Address: sip.Uri{Host: "proxy1.example.com"}}
	rr2 := &sip.RecordRouteHeader{Address: sip.Uri{Host: "proxy2.example.com"}}
	rr1.Next = rr2
	res.AppendHeader(rr1)

	dialog, err := b.ConfirmFromResponse(res)
	require.NoError(t, err)
	assert.Equal(t, "bob-tag", dialog.RemoteTag)
	assert.Equal(t, b.localTag, dialog.LocalTag)
	require.Len(t, dialog.RouteSet, 2)
	assert.Equal(t, "proxy1.example.com", dialog.RouteSet[0].Host)
	assert.Equal(t, "proxy2.example.com", dialog.RouteSet[1].Host)
}

func TestDialogNewRequestAddsRouteHeadersInOrder(t *testing.T) {
	d := &Dialog{
		CallID:    "call-1",
		LocalTag:  "local-tag",
		RemoteTag: "remote-tag",
		LocalURI:  sip.Uri{Host: "alice.example.com"},
		RemoteURI: sip.Uri{Host: "bob.example.com"},
		RouteSet: []sip.Uri{
			{Host: "proxy1.example.com"},
			{Host: "proxy2.example.com"},
		},
		LocalTarget: sip.ContactHeader{Address: sip.Uri{Host: "10.0.0.1", Port: 5060}},
	}
	d.LocalSeq = newAtomicSeq(10)

	req := d.NewRequest(sip.BYE)

	cseq, ok := req.CSeq()
	require.True(t, ok)
	assert.EqualValues(t, 11, cseq.SeqNo, "NewRequest must bump the stored CSeq before building the request")

	route, ok := req.Route()
	require.True(t, ok)
	assert.Equal(t, "proxy1.example.com", route.Address.Host)
	require.NotNil(t, route.Next)
	assert.Equal(t, "proxy2.example.com", route.Next.Address.Host)

	req2 := d.NewRequest(sip.BYE)
	cseq2, _ := req2.CSeq()
	assert.EqualValues(t, 12, cseq2.SeqNo, "each call must bump CSeq again")
}
