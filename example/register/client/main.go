package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nexsip/sipua"
	"github.com/nexsip/sipua/parser"
	"github.com/nexsip/sipua/sip"
	"github.com/nexsip/sipua/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	extIP := flag.String("ip", "127.0.0.50:5060", "My exernal ip")
	dst := flag.String("srv", "127.0.0.1:5060", "Destination")
	tran := flag.String("t", "udp", "Transport")
	username := flag.String("u", "alice", "SIP Username")
	password := flag.String("p", "alice", "Password")
	flag.Parse()

	// Make SIP Debugging available
	transport.SIPDebug = os.Getenv("SIP_DEBUG") != ""

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(zerolog.InfoLevel)

	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		log.Logger = log.Logger.Level(lvl)
	}

	// Setup UAC
	ua, err := sipua.NewUA(
		sipua.WithUserAgent(*username),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Fail to setup user agent")
	}

	srv, err := sipua.NewServer(ua)
	if err != nil {
		log.Fatal().Err(err).Msg("Fail to setup server handle")
	}

	client, err := sipua.NewClient(ua, sipua.WithClientAddr(*extIP))
	if err != nil {
		log.Fatal().Err(err).Msg("Fail to setup client handle")
	}

	ctx := context.Background()
	go srv.ListenAndServe(ctx, *tran, *extIP)

	// Wait that our server loads
	time.Sleep(1 * time.Second)
	log.Info().Str("addr", *extIP).Msg("Server listening on")

	// Create basic REGISTER request structure
	recipient := &sip.Uri{}
	if err := parser.ParseUri(fmt.Sprintf("sip:%s@%s", *username, *dst), recipient); err != nil {
		log.Fatal().Err(err).Msg("Fail to parse recipient URI")
	}
	req := sip.NewRequest(sip.REGISTER, recipient)
	req.AppendHeader(
		sip.NewHeader("Contact", fmt.Sprintf("<sip:%s@%s>", *username, *extIP)),
	)
	req.SetTransport(strings.ToUpper(*tran))

	log.Info().Msg(req.StartLine())
	res, err := client.Do(ctx, req.Clone())
	if err != nil {
		log.Fatal().Err(err).Msg("Fail to send register request")
	}

	log.Info().Int("status", int(res.StatusCode)).Msg("Received status")
	if res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired {
		res, err = client.DoDigestAuth(ctx, req, res, sipua.DigestAuth{
			Username: *username,
			Password: *password,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Fail to authenticate")
		}
	}

	if res.StatusCode != sip.StatusOK {
		log.Fatal().Int("status", int(res.StatusCode)).Msg("Fail to register")
	}

	log.Info().Msg("Client registered")
}
