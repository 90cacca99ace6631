// Command sipuad is a loopback smoke-test binary: it stands up one UAS and
// one UAC on the same process and drives a single basic call (spec.md §8
// scenario S1) through the transaction and dialog layers, printing the
// resulting dialog state. It is not part of the library surface.
package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/nexsip/sipua"
	"github.com/nexsip/sipua/dialog"
	"github.com/nexsip/sipua/sip"

	"github.com/sirupsen/logrus"
)

func main() {
	uasAddr := flag.String("uas", "127.0.0.1:5060", "UAS listen address")
	uacAddr := flag.String("uac", "127.0.0.2:5060", "UAC local address")
	tran := flag.String("t", "udp", "Transport")
	debug := flag.Bool("debug", false, "Verbose logging")
	flag.Parse()

	cli := logrus.New()
	cli.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		cli.SetLevel(logrus.DebugLevel)
		sip.SIPDebug = true
	}

	ua, err := sipua.NewUA(sipua.WithUserAgent("sipuad"))
	if err != nil {
		cli.WithError(err).Fatal("failed to set up user agent")
	}

	srv, err := sipua.NewServer(ua)
	if err != nil {
		cli.WithError(err).Fatal("failed to set up UAS")
	}

	acked := make(chan struct{}, 1)
	srv.OnInvite(func(req *sip.Request, tx sip.ServerTransaction) {
		contact := contactHeader("uas", *uasAddr)
		res := sip.NewResponseFromRequest(req, int(sip.StatusOK), "OK", nil)
		res.AppendHeader(&contact)
		if err := tx.Respond(res); err != nil {
			cli.WithError(err).Error("failed to send 200 OK")
		}
	})
	srv.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {
		cli.Info("UAS received ACK on its server transaction")
		select {
		case acked <- struct{}{}:
		default:
		}
	})

	client, err := sipua.NewClient(ua, sipua.WithClientAddr(*uacAddr))
	if err != nil {
		cli.WithError(err).Fatal("failed to set up UAC")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx, *tran, *uasAddr)
	time.Sleep(200 * time.Millisecond)
	cli.Infof("UAS listening on %s/%s", *uasAddr, strings.ToUpper(*tran))

	target := sip.Uri{User: "uas", Host: hostOf(*uasAddr), Port: portOf(*uasAddr)}
	local := sip.Uri{User: "uac", Host: hostOf(*uacAddr), Port: portOf(*uacAddr)}
	contact := contactHeader("uac", *uacAddr)

	builder := dialog.NewBuilder(local, "uac", contact, target)
	invite := builder.CreateRequest(sip.INVITE)
	invite.SetTransport(strings.ToUpper(*tran))

	tx, err := client.TransactionRequest(ctx, invite)
	if err != nil {
		cli.WithError(err).Fatal("failed to start INVITE transaction")
	}
	defer tx.Terminate()

	res, err := awaitFinal(tx)
	if err != nil {
		cli.WithError(err).Fatal("INVITE failed")
	}
	cli.Infof("UAC received %d %s", res.StatusCode, res.Reason)

	if !res.IsSuccess() {
		cli.Fatal("call rejected")
	}

	d, err := builder.ConfirmFromResponse(res)
	if err != nil {
		cli.WithError(err).Fatal("failed to establish dialog from response")
	}

	cseq, _ := invite.CSeq()
	ack := d.NewAck(cseq.SeqNo)
	ack.SetTransport(strings.ToUpper(*tran))
	ack.SetDestination(*uasAddr)
	if err := client.WriteRequest(ack); err != nil {
		cli.WithError(err).Fatal("failed to send ACK")
	}

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		cli.Fatal("UAS never observed our ACK")
	}

	cli.Infof("call established: local_cseq=%d call-id=%s", d.LocalSeq.Load(), d.CallID)
}

func awaitFinal(tx sip.ClientTransaction) (*sip.Response, error) {
	for {
		select {
		case res := <-tx.Responses():
			if res.IsProvisional() {
				continue
			}
			return res, nil
		case <-tx.Done():
			return nil, tx.Err()
		}
	}
}

func contactHeader(user, addr string) sip.ContactHeader {
	return sip.ContactHeader{
		Address: sip.Uri{User: user, Host: hostOf(addr), Port: portOf(addr), UriParams: sip.NewParams(), Headers: sip.NewParams()},
		Params:  sip.NewParams(),
	}
}

func hostOf(addr string) string {
	host, _, err := sip.ParseAddr(addr)
	if err != nil {
		return addr
	}
	return host
}

func portOf(addr string) int {
	_, port, err := sip.ParseAddr(addr)
	if err != nil {
		return 0
	}
	return port
}
