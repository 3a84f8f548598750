package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/bitfsorg/btcrelay-go/config"
	"github.com/bitfsorg/btcrelay-go/relay"
)

type initCommand struct {
	app *app

	Height uint32 `long:"height" required:"true" description:"height of the trusted header"`
	Header string `long:"header" description:"hex-encoded 80-byte header; fetched from the node when empty"`
}

func (c *initCommand) Execute([]string) error {
	r, err := c.app.openRelay()
	if err != nil {
		return err
	}
	defer r.Close()

	if c.Header != "" {
		raw, err := decodeHex("header", c.Header)
		if err != nil {
			return err
		}
		if err := r.Initialize(raw, c.Height); err != nil {
			return err
		}
	} else {
		rl, err := c.app.newRelayer(r)
		if err != nil {
			return err
		}
		if err := rl.Initialize(c.app.ctx, c.Height); err != nil {
			return err
		}
	}

	if !c.app.saved {
		if err := config.SaveConfig(config.ConfigPath(c.app.cfg.DataDir), c.app.cfg); err != nil {
			return err
		}
	}
	return printBest(c.app, r)
}

type submitCommand struct {
	app *app

	Args struct {
		Headers []string `positional-arg-name:"header" required:"1" description:"hex-encoded 80-byte headers, parents first"`
	} `positional-args:"yes"`
}

func (c *submitCommand) Execute([]string) error {
	r, err := c.app.openRelay()
	if err != nil {
		return err
	}
	defer r.Close()

	for _, h := range c.Args.Headers {
		raw, err := decodeHex("header", h)
		if err != nil {
			return err
		}
		height, err := r.StoreBlockHeader(raw)
		switch {
		case errors.Is(err, relay.ErrDuplicateBlock):
			fmt.Fprintf(c.app.out, "%d duplicate\n", height)
		case err != nil:
			return err
		default:
			fmt.Fprintf(c.app.out, "%d stored\n", height)
		}
	}
	return printBest(c.app, r)
}

type verifyCommand struct {
	app *app

	Height        uint32  `long:"height" description:"block height; with --proof verifies offline"`
	Proof         string  `long:"proof" description:"hex-encoded merkle block proof"`
	Confirmations *uint32 `long:"confirmations" description:"required confirmations (default from config)"`
	AllowUnsafe   bool    `long:"allow-unsafe" description:"accept fewer confirmations than required"`
	Recipient     string  `long:"recipient" description:"address the transaction must pay"`
	MinValue      int64   `long:"min-value" description:"minimum payment in satoshis"`
	OpReturn      string  `long:"op-return" description:"hex payload the transaction must carry in an OP_RETURN output"`

	Args struct {
		TxID string `positional-arg-name:"txid" required:"yes" description:"transaction id"`
	} `positional-args:"yes"`
}

func (c *verifyCommand) Execute([]string) error {
	txid, err := chainhash.NewHashFromStr(c.Args.TxID)
	if err != nil {
		return fmt.Errorf("invalid txid: %w", err)
	}
	required := c.app.cfg.RequiredConfirmations
	if c.Confirmations != nil {
		required = *c.Confirmations
	}
	exp, payment, err := c.expectation()
	if err != nil {
		return err
	}

	r, err := c.app.openRelay()
	if err != nil {
		return err
	}
	defer r.Close()

	if c.Proof != "" {
		if payment {
			return errors.New("payment checks need the node; drop --proof")
		}
		proof, err := decodeHex("proof", c.Proof)
		if err != nil {
			return err
		}
		if err := r.VerifyTransactionInclusion(*txid, c.Height, proof, required, c.AllowUnsafe); err != nil {
			return err
		}
		fmt.Fprintf(c.app.out, "%s included at height %d\n", txid, c.Height)
		return nil
	}

	rl, err := c.app.newRelayer(r)
	if err != nil {
		return err
	}
	if payment {
		inc, _, err := rl.VerifyPayment(c.app.ctx, *txid, required, exp)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.app.out, "%s pays as expected at height %d (%d confirmations)\n", txid, inc.BlockHeight, inc.Confirmations)
		return nil
	}
	inc, err := rl.VerifyTx(c.app.ctx, *txid, required)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.app.out, "%s included at height %d in %s (%d confirmations)\n", txid, inc.BlockHeight, inc.BlockHash, inc.Confirmations)
	return nil
}

// expectation reports whether any payment check was requested.
func (c *verifyCommand) expectation() (relay.Expectation, bool, error) {
	exp := relay.Expectation{
		MinValue:  btcutil.Amount(c.MinValue),
		Recipient: c.Recipient,
	}
	if c.OpReturn != "" {
		data, err := decodeHex("op_return", c.OpReturn)
		if err != nil {
			return exp, false, err
		}
		exp.OpReturn = data
	}
	return exp, c.Recipient != "" || c.MinValue > 0 || exp.OpReturn != nil, nil
}

type bestCommand struct {
	app *app
}

func (c *bestCommand) Execute([]string) error {
	r, err := c.app.openRelay()
	if err != nil {
		return err
	}
	defer r.Close()
	return printBest(c.app, r)
}

type hashCommand struct {
	app *app

	Args struct {
		Height uint32 `positional-arg-name:"height" required:"yes"`
	} `positional-args:"yes"`
}

func (c *hashCommand) Execute([]string) error {
	r, err := c.app.openRelay()
	if err != nil {
		return err
	}
	defer r.Close()

	hash, err := r.BlockHash(c.Args.Height)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.app.out, hash)
	return nil
}

type forksCommand struct {
	app *app
}

func (c *forksCommand) Execute([]string) error {
	r, err := c.app.openRelay()
	if err != nil {
		return err
	}
	defer r.Close()

	best, err := r.BestBlock()
	if err != nil {
		return err
	}
	for _, f := range r.Forks() {
		mark := " "
		if f.ID == best.Chain {
			mark = "*"
		}
		fmt.Fprintf(c.app.out, "%s chain %d parent %d heights %d-%d tip %s\n",
			mark, f.ID, f.Parent, f.StartHeight, f.TipHeight, f.TipHash)
	}
	return nil
}

type syncCommand struct {
	app *app

	Follow   bool          `long:"follow" description:"keep syncing until interrupted"`
	Interval time.Duration `long:"interval" default:"30s" description:"poll interval with --follow"`
}

func (c *syncCommand) Execute([]string) error {
	r, err := c.app.openRelay()
	if err != nil {
		return err
	}
	defer r.Close()

	rl, err := c.app.newRelayer(r)
	if err != nil {
		return err
	}

	if !c.Follow {
		n, err := rl.Sync(c.app.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.app.out, "%d headers stored\n", n)
		return printBest(c.app, r)
	}

	startMetricsServer(c.app.ctx, c.app.cfg.MetricsAddr, c.app.logger)
	c.app.logger.Info("following node", zap.Duration("interval", c.Interval))
	return rl.Run(c.app.ctx, c.Interval)
}

func printBest(a *app, r *relay.Relay) error {
	best, err := r.BestBlock()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "best %d %s\n", best.Height, best.Hash)
	return nil
}

func decodeHex(what, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s hex: %w", what, err)
	}
	return b, nil
}
