package relay

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

// Expectation describes the payment a transaction must make. Zero fields
// are not checked.
type Expectation struct {
	// MinValue is the smallest acceptable value of a single output. With a
	// Recipient set it applies to outputs paying that address only.
	MinValue btcutil.Amount

	// Recipient is the address, encoded for the relay's network, that an
	// output must pay.
	Recipient string

	// OpReturn is the exact payload an OP_RETURN output must carry.
	OpReturn []byte
}

// ValidateTransaction parses rawTx and checks it against exp using the
// address rules of net. It returns the parsed transaction.
func ValidateTransaction(rawTx []byte, exp Expectation, net *chaincfg.Params) (*bitcoin.Transaction, error) {
	if net == nil {
		return nil, fmt.Errorf("%w: network params", bitcoin.ErrNilParam)
	}
	tx, err := bitcoin.ParseTransaction(rawTx)
	if err != nil {
		return nil, err
	}

	outputs := tx.Outputs
	if exp.Recipient != "" {
		addr, err := btcutil.DecodeAddress(exp.Recipient, net)
		if err != nil {
			return nil, fmt.Errorf("%w: recipient %q: %w", ErrWrongRecipient, exp.Recipient, err)
		}
		outputs = outputsPaying(tx.Outputs, addr, net)
		if len(outputs) == 0 {
			return nil, fmt.Errorf("%w: no output pays %s", ErrWrongRecipient, exp.Recipient)
		}
	}

	if exp.MinValue > 0 {
		var best btcutil.Amount
		for _, out := range outputs {
			best = max(best, btcutil.Amount(out.Value))
		}
		if best < exp.MinValue {
			return nil, fmt.Errorf("%w: largest output %v, want %v", ErrInsufficientValue, best, exp.MinValue)
		}
	}

	if exp.OpReturn != nil && !hasOpReturn(tx, exp.OpReturn) {
		return nil, fmt.Errorf("%w: expected payload %x", ErrInvalidOpReturn, exp.OpReturn)
	}
	return tx, nil
}

func outputsPaying(outs []bitcoin.TxOut, addr btcutil.Address, net *chaincfg.Params) []bitcoin.TxOut {
	var matched []bitcoin.TxOut
	for _, out := range outs {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.Script, net)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if a.EncodeAddress() == addr.EncodeAddress() {
				matched = append(matched, out)
				break
			}
		}
	}
	return matched
}

func hasOpReturn(tx *bitcoin.Transaction, want []byte) bool {
	for _, payload := range tx.OpReturnOutputs() {
		if bytes.Equal(payload, want) {
			return true
		}
	}
	return false
}
