package session

import "time"

// SessionTimer drives RFC 4028 session-refresh expiry. It fires once per
// interval and is reset whenever a refresh goes out (ours) or a re-INVITE
// arrives (the peer's); an in-dialog UPDATE is not claimed by Session and
// does not reset it. An interval of 0 disables refresh: wait() then never
// fires and the session only ends via Terminate or a BYE from the peer.
type SessionTimer struct {
	interval  time.Duration
	refresher Refresher
	timer     *time.Timer
}

func newSessionTimer(refresher Refresher, interval time.Duration) *SessionTimer {
	t := &SessionTimer{interval: interval, refresher: refresher}
	if interval > 0 {
		t.timer = time.NewTimer(interval)
	}
	return t
}

func (t *SessionTimer) wait() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.C
}

func (t *SessionTimer) reset() {
	if t.timer == nil {
		return
	}
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
	t.timer.Reset(t.interval)
}

func (t *SessionTimer) stop() {
	if t.timer == nil {
		return
	}
	t.timer.Stop()
}

// weAreRefresher reports whether role is the side responsible for sending
// the next refresh. Refresher must be resolved (UAC or UAS) by the time
// the timer fires; RefresherUnspecified reaching here is a caller bug (the
// Session constructor requires a resolved refresher).
func (t *SessionTimer) weAreRefresher(role Role) bool {
	switch t.refresher {
	case RefresherUAC:
		return role == RoleUAC
	case RefresherUAS:
		return role == RoleUAS
	default:
		panic("session: session timer fired with unspecified refresher")
	}
}
