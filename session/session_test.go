package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexsip/sipua/dialog"
	"github.com/nexsip/sipua/sip"
	"github.com/nexsip/sipua/siptest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServerTx is a minimal sip.ServerTransaction, mirroring
// dialog.fakeServerTx for tests that never touch a real transport.
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

// fakeMessageWriter records every message handed to WriteMsg, standing in
// for *transport.Layer in ACK-on-refresh tests.
type fakeMessageWriter struct {
	sent []sip.Message
}

func (w *fakeMessageWriter) WriteMsg(msg sip.Message) error {
	w.sent = append(w.sent, msg)
	return nil
}

func testDialog() *dialog.Dialog {
	seq := &atomic.Uint32{}
	seq.Store(10)
	return &dialog.Dialog{
		CallID:      "call-1",
		LocalTag:    "local-tag",
		RemoteTag:   "remote-tag",
		LocalURI:    sip.Uri{Host: "local.example.com"},
		RemoteURI:   sip.Uri{Host: "peer.example.com"},
		LocalSeq:    seq,
		LocalTarget: sip.ContactHeader{Address: sip.Uri{Host: "local.example.com"}},
	}
}

func inDialogInviteFromPeer(seq uint32) *sip.Request {
	req := sip.NewRequest(sip.INVITE, sip.Uri{Host: "local.example.com"})

	from := &sip.FromHeader{Address: sip.Uri{Host: "peer.example.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", "remote-tag")
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: sip.Uri{Host: "local.example.com"}, Params: sip.NewParams()}
	to.Params.Add("tag", "local-tag")
	req.AppendHeader(to)

	id := sip.CallIDHeader("call-1")
	req.AppendHeader(&id)

	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.INVITE})

	return req
}

func newTestSession(t *testing.T, txLayer transactionRequester, tpl messageWriter, refresher Refresher, interval time.Duration) (*Session, *dialog.Layer) {
	t.Helper()
	dl := dialog.NewLayer()
	d := testDialog()
	dl.Put(d.Key(), d)

	s, err := New(dl, txLayer, tpl, d, RoleUAC, refresher, interval)
	require.NoError(t, err)
	return s, dl
}

func TestSessionReceiveClaimsInDialogMethods(t *testing.T) {
	s, _ := newTestSession(t, nil, nil, RefresherUAC, 0)

	tx := newFakeServerTx()
	assert.True(t, s.Receive(inDialogInviteFromPeer(11), tx))

	bye := inDialogInviteFromPeer(12)
	bye.Method = sip.BYE
	assert.True(t, s.Receive(bye, tx))

	other := inDialogInviteFromPeer(13)
	other.Method = sip.OPTIONS
	assert.False(t, s.Receive(other, tx))
}

func TestDriveSurfacesReInviteThenResetsTimer(t *testing.T) {
	s, _ := newTestSession(t, nil, nil, RefresherUAC, time.Hour)

	tx := newFakeServerTx()
	req := inDialogInviteFromPeer(11)
	require.True(t, s.Receive(req, tx))

	outcome, err := s.Drive(context.Background())
	require.NoError(t, err)

	reinv, ok := outcome.(ReInviteReceived)
	require.True(t, ok, "expected ReInviteReceived, got %T", outcome)
	assert.Same(t, req, reinv.Request())
}

func TestReInviteRespondSuccessWaitsForMatchingAck(t *testing.T) {
	s, _ := newTestSession(t, nil, nil, RefresherUAC, 0)

	tx := newFakeServerTx()
	req := inDialogInviteFromPeer(11)
	require.True(t, s.Receive(req, tx))

	outcome, err := s.Drive(context.Background())
	require.NoError(t, err)
	reinv := outcome.(ReInviteReceived)

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)

	done := make(chan struct{})
	var ackErr error
	go func() {
		defer close(done)
		_, ackErr = reinv.RespondSuccess(context.Background(), res)
	}()

	// RespondSuccess must block until the matching ACK arrives.
	select {
	case <-done:
		t.Fatal("RespondSuccess returned before ACK was delivered")
	case <-time.After(20 * time.Millisecond):
	}

	ack := inDialogInviteFromPeer(11)
	ack.Method = sip.ACK
	assert.True(t, s.Receive(ack, tx))

	<-done
	require.NoError(t, ackErr)
	require.Len(t, tx.responses, 1)
	assert.Equal(t, 200, tx.responses[0].StatusCode)
}

func TestByeDefaultRespondsAndTerminatesSession(t *testing.T) {
	s, _ := newTestSession(t, nil, nil, RefresherUAC, 0)

	tx := newFakeServerTx()
	bye := inDialogInviteFromPeer(11)
	bye.Method = sip.BYE
	require.True(t, s.Receive(bye, tx))

	outcome, err := s.Drive(context.Background())
	require.NoError(t, err)
	byeOutcome := outcome.(ByeEvent)

	require.NoError(t, byeOutcome.ProcessDefault())
	require.Len(t, tx.responses, 1)
	assert.Equal(t, 200, tx.responses[0].StatusCode)

	// The session must now report Terminated rather than deliver further
	// events.
	outcome2, err := s.Drive(context.Background())
	require.NoError(t, err)
	assert.IsType(t, Terminated{}, outcome2)
}

func TestRefreshNeededFiresForTheResponsibleSideAndAcksOnce(t *testing.T) {
	tpl := &fakeMessageWriter{}
	requester := &siptest.ClientTxRequester{
		OnRequest: func(req *sip.Request) *sip.Response {
			return sip.NewResponseFromRequest(req, 200, "OK", nil)
		},
	}

	s, _ := newTestSession(t, requester, tpl, RefresherUAC, 10*time.Millisecond)

	outcome, err := s.Drive(context.Background())
	require.NoError(t, err)
	refresh, ok := outcome.(RefreshNeeded)
	require.True(t, ok, "expected RefreshNeeded, got %T", outcome)

	res, err := refresh.ProcessDefault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	require.Len(t, tpl.sent, 1, "a single ACK must be sent for the 2xx")
	ack, ok := tpl.sent[0].(*sip.Request)
	require.True(t, ok)
	assert.Equal(t, sip.ACK, ack.Method)
}

func TestMissedRefreshFromPeerTerminatesSession(t *testing.T) {
	requester := &siptest.ClientTxRequester{
		OnRequest: func(req *sip.Request) *sip.Response {
			return sip.NewResponseFromRequest(req, 200, "OK", nil)
		},
	}
	s, _ := newTestSession(t, requester, &fakeMessageWriter{}, RefresherUAS, 5*time.Millisecond)

	outcome, err := s.Drive(context.Background())
	require.NoError(t, err)
	assert.IsType(t, Terminated{}, outcome)
}
