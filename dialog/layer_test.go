package dialog

import (
	"testing"

	"github.com/nexsip/sipua/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServerTx is a minimal sip.ServerTransaction for exercising the
// dialog layer's default-response paths without a real transport.
type fakeServerTx struct {
	responses []*sip.Response
	done      chan struct{}
}

func newFakeServerTx() *fakeServerTx {
	return &fakeServerTx{done: make(chan struct{})}
}

func (f *fakeServerTx) Respond(res *sip.Response) error {
	f.responses = append(f.responses, res)
	return nil
}
func (f *fakeServerTx) Acks() <-chan *sip.Request             { return nil }
func (f *fakeServerTx) OnCancel(fn sip.FnTxCancel) bool       { return true }
func (f *fakeServerTx) Terminate()                            {}
func (f *fakeServerTx) OnTerminate(fn sip.FnTxTerminate) bool { return true }
func (f *fakeServerTx) Done() <-chan struct{}                 { return f.done }
func (f *fakeServerTx) Err() error                            { return nil }

// recordingUsage claims every request handed to it and records them in
// the order received.
type recordingUsage struct {
	seen []*sip.Request
}

func (u *recordingUsage) Name() string { return "recording" }
func (u *recordingUsage) Receive(req *sip.Request, tx sip.ServerTransaction) bool {
	u.seen = append(u.seen, req)
	return true
}

func (u *recordingUsage) cseqs() []uint32 {
	out := make([]uint32, len(u.seen))
	for i, r := range u.seen {
		c, _ := r.CSeq()
		out[i] = c.SeqNo
	}
	return out
}

func inDialogRequest(t *testing.T, seq uint32, ack bool) *sip.Request {
	t.Helper()
	method := sip.INVITE
	if ack {
		method = sip.ACK
	}
	req := sip.NewRequest(method, sip.Uri{Host: "peer.example.com"})

	from := &sip.FromHeader{Address: sip.Uri{Host: "peer.example.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", "remote-tag")
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: sip.Uri{Host: "local.example.com"}, Params: sip.NewParams()}
	to.Params.Add("tag", "local-tag")
	req.AppendHeader(to)

	id := sip.CallIDHeader("call-1")
	req.AppendHeader(&id)

	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: method})

	return req
}

func testKey() Key {
	return Key{CallID: "call-1", LocalTag: "local-tag", RemoteTag: "remote-tag"}
}

func TestLayerDeliversInOrderRequestsImmediately(t *testing.T) {
	dl := NewLayer()
	dl.Put(testKey(), nil)
	usage := &recordingUsage{}
	_, ok := dl.RegisterUsage(testKey(), usage)
	require.True(t, ok)

	tx := newFakeServerTx()
	dl.Receive(inDialogRequest(t, 1, false), tx)

	assert.Equal(t, []uint32{1}, usage.cseqs())
}

func TestLayerBacklogsOutOfOrderAndDrainsContiguousRun(t *testing.T) {
	dl := NewLayer()
	dl.Put(testKey(), nil)
	usage := &recordingUsage{}
	_, ok := dl.RegisterUsage(testKey(), usage)
	require.True(t, ok)

	tx := newFakeServerTx()

	// CSeq 1 establishes the expectation; 3 and 4 arrive before 2.
	dl.Receive(inDialogRequest(t, 1, false), tx)
	dl.Receive(inDialogRequest(t, 3, false), tx)
	dl.Receive(inDialogRequest(t, 4, false), tx)
	assert.Equal(t, []uint32{1}, usage.cseqs(), "3 and 4 must stay backlogged until 2 arrives")

	dl.Receive(inDialogRequest(t, 2, false), tx)
	assert.Equal(t, []uint32{1, 2, 3, 4}, usage.cseqs(), "2 arriving must drain the contiguous backlog of 3 and 4")
}

func TestLayerDeliversLowerCSeqACKWithoutWarningPath(t *testing.T) {
	dl := NewLayer()
	dl.Put(testKey(), nil)
	usage := &recordingUsage{}
	_, ok := dl.RegisterUsage(testKey(), usage)
	require.True(t, ok)

	tx := newFakeServerTx()
	dl.Receive(inDialogRequest(t, 5, false), tx)
	dl.Receive(inDialogRequest(t, 5, true), tx)

	assert.Equal(t, []uint32{5, 5}, usage.cseqs())
}

func TestLayerRespondsNotFoundWhenNoUsageClaims(t *testing.T) {
	dl := NewLayer()
	dl.Put(testKey(), nil)

	tx := newFakeServerTx()
	dl.Receive(inDialogRequest(t, 1, false), tx)

	require.Len(t, tx.responses, 1)
	assert.Equal(t, 404, tx.responses[0].StatusCode)
}

func TestLayerUnmatchedFallsThroughToUnmatchedHandler(t *testing.T) {
	dl := NewLayer()
	called := false
	dl.Unmatched = func(req *sip.Request, tx sip.ServerTransaction) {
		called = true
	}

	req := sip.NewRequest(sip.INVITE, sip.Uri{Host: "peer.example.com"})
	dl.Receive(req, newFakeServerTx())

	assert.True(t, called, "request with no To-tag cannot match a dialog and must fall through")
}

func TestUsageGuardCloseRemovesUsage(t *testing.T) {
	dl := NewLayer()
	dl.Put(testKey(), nil)
	usage := &recordingUsage{}
	guard, ok := dl.RegisterUsage(testKey(), usage)
	require.True(t, ok)

	guard.Close()

	tx := newFakeServerTx()
	dl.Receive(inDialogRequest(t, 1, false), tx)

	assert.Empty(t, usage.seen, "closed guard must no longer receive dialog requests")
	require.Len(t, tx.responses, 1)
	assert.Equal(t, 404, tx.responses[0].StatusCode)
}
