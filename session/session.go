// Package session implements the RFC 3261/4028 INVITE-session usage: the
// dialog.Usage that owns an established call, drives its session-refresh
// timer, and hands the caller typed outcomes to act on.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nexsip/sipua/dialog"
	"github.com/nexsip/sipua/sip"
	"github.com/nexsip/sipua/transaction"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Role is which side of the INVITE transaction that established this
// session's dialog this session plays.
type Role int

const (
	RoleUAC Role = iota
	RoleUAS
)

func (r Role) String() string {
	if r == RoleUAC {
		return "uac"
	}
	return "uas"
}

// Refresher identifies which side is responsible for sending the next
// in-dialog refresh, per RFC 4028 §3.
type Refresher int

const (
	RefresherUnspecified Refresher = iota
	RefresherUAC
	RefresherUAS
)

func (r Refresher) headerValue() string {
	switch r {
	case RefresherUAC:
		return "uac"
	case RefresherUAS:
		return "uas"
	default:
		return ""
	}
}

// state is the session's own lifecycle, distinct from the dialog's CSeq
// ordering state.
type state int

const (
	stateConfirmed state = iota
	stateTerminating
	stateTerminated
)

// AwaitedAck gates a 2xx response about to be sent for a re-INVITE on the
// ACK that must follow it, per RFC 6026: RespondSuccess installs this
// before the response goes out, and the next ACK the dialog layer
// delivers with a matching CSeq wakes whoever is waiting on notify.
type AwaitedAck struct {
	cseq   uint32
	notify chan *sip.Request
}

type eventKind int

const (
	kindReInvite eventKind = iota
	kindBye
)

type usageEvent struct {
	kind eventKind
	req  *sip.Request
	tx   sip.ServerTransaction
}

// transactionRequester is the subset of *transaction.Layer a Session needs
// to drive its own in-dialog requests (refresh INVITE, BYE). Accepting the
// interface instead of the concrete layer lets tests substitute a recorder
// that never touches a real transport.
type transactionRequester interface {
	Request(ctx context.Context, req *sip.Request) (*transaction.ClientTx, error)
}

// messageWriter is the subset of *transport.Layer Session needs to send a
// 2xx ACK directly: RFC 6026 excludes it from the client INVITE
// transaction's own retransmission handling.
type messageWriter interface {
	WriteMsg(msg sip.Message) error
}

// Session is the usage registered against a dialog.Layer entry for an
// established call. Exactly one Role/Refresher pair is fixed for its
// lifetime; Drive cooperatively multiplexes session-timer expiry against
// incoming re-INVITE/BYE/ACK traffic and returns a typed Outcome for the
// caller to act on (with a default handler available on each).
type Session struct {
	role      Role
	dialogs   *dialog.Layer
	txLayer   transactionRequester
	tpl       messageWriter
	dlg       *dialog.Dialog
	guard     *dialog.UsageGuard

	timer *SessionTimer

	events chan usageEvent

	mu          sync.Mutex
	state       state
	awaitedAck  *AwaitedAck
	ackCacheSeq uint32
	ackCache    *sip.Request

	log zerolog.Logger
}

// New builds a Session over an already-established dialog and registers
// it as that dialog's usage (the dialog must already have been Put into
// dialogs). refresher and interval configure the RFC 4028 session timer;
// interval <= 0 disables refresh — the session then only ends via
// Terminate or a BYE from the peer.
func New(dialogs *dialog.Layer, txLayer transactionRequester, tpl messageWriter, dlg *dialog.Dialog, role Role, refresher Refresher, interval time.Duration) (*Session, error) {
	if interval > 0 && refresher == RefresherUnspecified {
		return nil, fmt.Errorf("session: refresher must be UAC or UAS when refresh is enabled")
	}
	s := &Session{
		role:    role,
		dialogs: dialogs,
		txLayer: txLayer,
		tpl:     tpl,
		dlg:     dlg,
		events:  make(chan usageEvent, 8),
		timer:   newSessionTimer(refresher, interval),
		log:     log.Logger.With().Str("caller", "session.Session").Stringer("dialog", dlg.Key()).Logger(),
	}

	guard, ok := dialogs.RegisterUsage(dlg.Key(), s)
	if !ok {
		return nil, fmt.Errorf("session: dialog %s not registered with layer", dlg.Key())
	}
	s.guard = guard
	sessionsActive.Inc()
	return s, nil
}

// Name implements dialog.Usage.
func (s *Session) Name() string { return "invite-session" }

// Receive implements dialog.Usage. It claims in-dialog INVITE, BYE and ACK
// requests: re-INVITE/BYE become usage events for Drive to surface; ACKs
// are matched against any AwaitedAck installed by RespondSuccess.
func (s *Session) Receive(req *sip.Request, tx sip.ServerTransaction) bool {
	switch req.Method {
	case sip.ACK:
		s.matchAwaitedAck(req)
		return true
	case sip.INVITE:
		s.publish(usageEvent{kind: kindReInvite, req: req, tx: tx})
		return true
	case sip.BYE:
		s.publish(usageEvent{kind: kindBye, req: req, tx: tx})
		return true
	default:
		return false
	}
}

func (s *Session) publish(ev usageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateTerminated {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("method", string(ev.req.Method)).Msg("session: usage event dropped, buffer full")
	}
}

func (s *Session) matchAwaitedAck(req *sip.Request) {
	cseq, ok := req.CSeq()
	if !ok {
		return
	}

	s.mu.Lock()
	awaited := s.awaitedAck
	if awaited == nil || awaited.cseq != cseq.SeqNo {
		s.mu.Unlock()
		return
	}
	s.awaitedAck = nil
	s.mu.Unlock()

	select {
	case awaited.notify <- req:
	default:
	}
}

// Outcome is the result of a single Drive call. Each concrete type
// carries its own default handler, named after the Rust reference's
// process_default/respond_success.
type Outcome interface {
	outcome()
}

// RefreshNeeded means the session timer fired and this side is the
// refresher: a new in-dialog INVITE is due.
type RefreshNeeded struct{ s *Session }

func (RefreshNeeded) outcome() {}

// ProcessDefault builds the refresh INVITE, drives it through the
// transaction layer, and ACKs every 2xx seen (constructing the ACK once
// per CSeq, per Testable Property #2, and resending the cached copy for
// each retransmission) until the client transaction ends.
func (e RefreshNeeded) ProcessDefault(ctx context.Context) (*sip.Response, error) {
	return e.s.sendRefreshInvite(ctx)
}

// ReInviteReceived means the peer sent an in-dialog INVITE; the server
// transaction tx is already live, built by the transaction layer before
// this request reached the dialog layer.
type ReInviteReceived struct {
	s   *Session
	req *sip.Request
	tx  sip.ServerTransaction
}

func (ReInviteReceived) outcome() {}

func (e ReInviteReceived) Request() *sip.Request { return e.req }

// RespondSuccess installs an AwaitedAck for this re-INVITE's CSeq before
// sending res, then blocks until the matching ACK arrives or ctx ends.
func (e ReInviteReceived) RespondSuccess(ctx context.Context, res *sip.Response) (*sip.Request, error) {
	return e.s.respondSuccess(ctx, e.req, e.tx, res)
}

// RespondReject sends a non-2xx final response; no AwaitedAck is needed
// since the server transaction's own FSM generates the ACK for a non-2xx
// final per RFC 3261 17.2.1.
func (e ReInviteReceived) RespondReject(res *sip.Response) error {
	return e.tx.Respond(res)
}

// ByeEvent means the peer sent BYE; the session moves to Terminating as
// soon as Drive returns this outcome.
type ByeEvent struct {
	s   *Session
	req *sip.Request
	tx  sip.ServerTransaction
}

func (ByeEvent) outcome() {}

func (e ByeEvent) Request() *sip.Request { return e.req }

// ProcessDefault responds 200 OK and marks the session terminated.
func (e ByeEvent) ProcessDefault() error {
	res := sip.NewResponseFromRequest(e.req, 200, "OK", nil)
	err := e.tx.Respond(res)
	e.s.close(reasonBye)
	return err
}

// Terminated means the usage-event channel closed (the session is done)
// or a missed refresh forced termination; no further Drive calls should
// be made.
type Terminated struct{}

func (Terminated) outcome() {}

// Drive cooperatively waits on the session timer and incoming usage
// events, returning exactly one Outcome per call. It must be called in a
// loop by the owner of the session for as long as the session is alive.
func (s *Session) Drive(ctx context.Context) (Outcome, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.timer.wait():
		return s.handleTimerFired(ctx)
	case ev, ok := <-s.events:
		if !ok {
			return Terminated{}, nil
		}
		return s.handleUsageEvent(ev), nil
	}
}

func (s *Session) handleTimerFired(ctx context.Context) (Outcome, error) {
	if s.timer.weAreRefresher(s.role) {
		s.timer.reset()
		return RefreshNeeded{s: s}, nil
	}

	// Peer was the refresher and missed its window: RFC 4028 §10 has us
	// tear the session down rather than wait indefinitely.
	if _, err := s.terminate(ctx, reasonRefreshMissed); err != nil {
		return nil, err
	}
	return Terminated{}, nil
}

func (s *Session) handleUsageEvent(ev usageEvent) Outcome {
	switch ev.kind {
	case kindReInvite:
		s.timer.reset()
		return ReInviteReceived{s: s, req: ev.req, tx: ev.tx}
	case kindBye:
		s.mu.Lock()
		if s.state == stateConfirmed {
			s.state = stateTerminating
		}
		s.mu.Unlock()
		return ByeEvent{s: s, req: ev.req, tx: ev.tx}
	default:
		panic("session: unknown usage event kind")
	}
}

// addVia stamps a fresh top Via onto an in-dialog request we originate.
// dialog.Dialog builds everything but Via (a transport-level header left
// to the caller per its own doc comment); the transaction layer needs one
// to compute the client transaction key, so every request Session hands
// it must carry one.
func (s *Session) addVia(req *sip.Request) {
	via := &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       req.Transport(),
		Host:            s.dlg.LocalTarget.Address.Host,
		Port:            s.dlg.LocalTarget.Address.Port,
		Params:          sip.NewParams(),
	}
	via.Params.Add("branch", sip.GenerateBranchN(16))
	req.AppendHeader(via)
}

func (s *Session) sendRefreshInvite(ctx context.Context) (*sip.Response, error) {
	req := s.dlg.NewRequest(sip.INVITE)
	s.addVia(req)
	s.applySessionExpires(req)

	tx, err := s.txLayer.Request(ctx, req)
	if err != nil {
		refreshesTotal.WithLabelValues(outcomeFailed).Inc()
		return nil, fmt.Errorf("session: refresh INVITE: %w", err)
	}

	cseq, ok := req.CSeq()
	if !ok {
		tx.Terminate()
		refreshesTotal.WithLabelValues(outcomeFailed).Inc()
		return nil, errors.New("session: refresh INVITE built without CSeq")
	}

	// A background reader keeps draining tx for as long as the
	// transaction itself stays alive (Timer_M, RFC 6026), re-ACKing every
	// 2xx retransmission with the cached ACK from ackOnce (Testable
	// Property #2) instead of only the first one. ProcessDefault itself
	// returns as soon as the first final response is in, the same as the
	// root package's Client.Do.
	final := make(chan *sip.Response, 1)
	go func() {
		for res := range tx.Responses() {
			if res.IsProvisional() {
				continue
			}
			if res.IsSuccess() {
				if err := s.ackOnce(cseq.SeqNo, res); err != nil {
					s.log.Error().Err(err).Msg("session: failed sending ACK for refresh 2xx")
				}
			}
			select {
			case final <- res:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		refreshesTotal.WithLabelValues(outcomeFailed).Inc()
		return nil, ctx.Err()
	case res := <-final:
		if res.IsSuccess() {
			refreshesTotal.WithLabelValues(outcomeSuccess).Inc()
		} else {
			refreshesTotal.WithLabelValues(outcomeFailed).Inc()
		}
		return res, nil
	}
}

func (s *Session) applySessionExpires(req *sip.Request) {
	if s.timer.interval <= 0 {
		return
	}
	req.AppendHeader(&sip.SessionExpiresHeader{
		Interval:  uint32(s.timer.interval / time.Second),
		Refresher: s.timer.refresher.headerValue(),
	})
}

// ackOnce builds the ACK for a 2xx response once per CSeq and resends the
// cached copy (byte-identical, per Testable Property #2/Scenario S3) for
// every subsequent retransmission of the same 2xx.
func (s *Session) ackOnce(cseq uint32, res *sip.Response) error {
	s.mu.Lock()
	ack := s.ackCache
	if ack == nil || s.ackCacheSeq != cseq {
		ack = s.dlg.NewAck(cseq)
		s.ackCacheSeq = cseq
		s.ackCache = ack
	}
	s.mu.Unlock()

	return s.tpl.WriteMsg(ack)
}

func (s *Session) respondSuccess(ctx context.Context, req *sip.Request, tx sip.ServerTransaction, res *sip.Response) (*sip.Request, error) {
	cseq, ok := req.CSeq()
	if !ok {
		return nil, errors.New("session: re-INVITE missing CSeq")
	}

	notify := make(chan *sip.Request, 1)
	s.mu.Lock()
	s.awaitedAck = &AwaitedAck{cseq: cseq.SeqNo, notify: notify}
	s.mu.Unlock()

	if err := tx.Respond(res); err != nil {
		s.mu.Lock()
		s.awaitedAck = nil
		s.mu.Unlock()
		return nil, fmt.Errorf("session: responding to re-INVITE: %w", err)
	}

	select {
	case ack := <-notify:
		return ack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminate marks the session terminated (refusing further in-dialog
// requests), sends a BYE, and returns the final response, per the Rust
// reference's terminate(). Safe to call once; a second call reports an
// error rather than sending a second BYE.
func (s *Session) Terminate(ctx context.Context) (*sip.Response, error) {
	return s.terminate(ctx, reasonLocal)
}

func (s *Session) terminate(ctx context.Context, reason string) (*sip.Response, error) {
	s.mu.Lock()
	if s.state == stateTerminated {
		s.mu.Unlock()
		return nil, errors.New("session: already terminated")
	}
	s.state = stateTerminating
	s.mu.Unlock()

	req := s.dlg.NewRequest(sip.BYE)
	s.addVia(req)
	tx, err := s.txLayer.Request(ctx, req)
	if err != nil {
		s.close(reason)
		return nil, fmt.Errorf("session: sending BYE: %w", err)
	}
	defer tx.Terminate()

	var res *sip.Response
	select {
	case r, ok := <-tx.Responses():
		if ok {
			res = r
		}
	case <-ctx.Done():
		s.close(reason)
		return nil, ctx.Err()
	}

	s.close(reason)
	return res, nil
}

func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.state == stateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = stateTerminated
	s.timer.stop()
	close(s.events)
	s.mu.Unlock()

	s.guard.Close()
	sessionsActive.Dec()
	terminationsTotal.WithLabelValues(reason).Inc()
}
