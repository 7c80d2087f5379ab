// termclient sends one auth request to a payrouter terminal listener and
// prints the reply line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/payrouter/internal/logging"
	"github.com/danmuck/payrouter/internal/terminal"
	"github.com/danmuck/payrouter/internal/terminal/wire"
	"github.com/rs/zerolog/log"
)

type options struct {
	client  terminal.Client
	id      uint64
	message wire.AuthRequest
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("termclient", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.client.Addr, "addr", "127.0.0.1:9000", "terminal listener address")
	fs.DurationVar(&o.client.Timeout, "timeout", 15*time.Second, "dial and reply timeout")
	fs.BoolVar(&o.client.TLS.Enabled, "tls", false, "use TLS")
	fs.BoolVar(&o.client.TLS.Mutual, "mtls", false, "present a client certificate")
	fs.StringVar(&o.client.TLS.CAFile, "ca", "", "CA bundle for server verification")
	fs.StringVar(&o.client.TLS.CertFile, "cert", "", "client certificate (mtls)")
	fs.StringVar(&o.client.TLS.KeyFile, "key", "", "client key (mtls)")
	fs.StringVar(&o.client.TLS.ServerName, "server-name", "", "TLS server name override")
	fs.Uint64Var(&o.id, "id", uint64(time.Now().UnixNano()), "message id")
	fs.StringVar(&o.message.Protocol, "protocol", "POS Terminal -101.1 (4-digit approval)", "protocol name")
	fs.StringVar(&o.message.Amount, "amount", "", "decimal amount")
	fs.StringVar(&o.message.AuthCode, "auth-code", "", "approval code")
	fs.StringVar(&o.message.CardNumber, "card", "", "card number")
	fs.StringVar(&o.message.PayoutType, "payout-type", "", "USDT-ERC-20 | USDT-TRC-20")
	fs.StringVar(&o.message.MerchantWallet, "wallet", "", "merchant wallet for payouts")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.client.TLS.Mutual {
		o.client.TLS.Enabled = true
	}
	if o.message.Amount == "" || o.message.AuthCode == "" || o.message.CardNumber == "" {
		return options{}, fmt.Errorf("-amount, -auth-code and -card are required")
	}
	return o, nil
}

func main() {
	logging.ConfigureRuntime("termclient")
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "termclient: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.client.Timeout)
	defer cancel()
	reply, err := o.client.Send(ctx, o.id, o.message)
	if err != nil {
		log.Error().Err(err).Str("addr", o.client.Addr).Msg("termclient_send_failed")
		os.Exit(1)
	}
	fmt.Println(reply.Raw)
	if !reply.Valid() {
		os.Exit(1)
	}
}
