package siptest

import (
	"context"

	"github.com/nexsip/sipua/sip"
	"github.com/nexsip/sipua/transaction"

	"github.com/rs/zerolog/log"
)

// ClientTxRequester drives a single synchronous request/response exchange
// for tests: OnRequest computes the response fed back into the
// transaction once it's created.
type ClientTxRequester struct {
	OnRequest func(req *sip.Request) *sip.Response
}

func (r *ClientTxRequester) Request(ctx context.Context, req *sip.Request) (*transaction.ClientTx, error) {
	key, err := transaction.MakeClientTxKey(req)
	if err != nil {
		return nil, err
	}
	rec := newConnRecorder()
	tx := transaction.NewClientTx(key, req, rec, log.Logger)
	if err := tx.Init(); err != nil {
		return nil, err
	}

	resp := r.OnRequest(req)
	go tx.Receive(resp)

	return tx, nil
}

// ClientTxResponder lets a test feed further responses (e.g. a
// retransmitted 2xx) into a transaction started by
// ClientTxRequesterResponder.
type ClientTxResponder struct {
	tx *transaction.ClientTx
}

func (r *ClientTxResponder) Receive(res *sip.Response) {
	r.tx.Receive(res)
}

// ClientTxRequesterResponder is like ClientTxRequester but hands the test
// a ClientTxResponder instead of a single canned response, so it can
// simulate retransmissions.
type ClientTxRequesterResponder struct {
	OnRequest func(req *sip.Request, w *ClientTxResponder)
}

func (r *ClientTxRequesterResponder) Request(ctx context.Context, req *sip.Request) (*transaction.ClientTx, error) {
	key, err := transaction.MakeClientTxKey(req)
	if err != nil {
		return nil, err
	}
	rec := newConnRecorder()
	tx := transaction.NewClientTx(key, req, rec, log.Logger)
	if err := tx.Init(); err != nil {
		return nil, err
	}
	w := ClientTxResponder{tx: tx}
	go r.OnRequest(req, &w)
	return tx, nil
}
