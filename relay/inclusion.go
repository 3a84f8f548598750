package relay

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

// VerifyTransactionInclusion checks that txid is committed to the
// main-chain block at height by rawProof, a serialized partial merkle tree
// whose header must be that block's. Unless allowUnsafe is set the block
// must have at least requiredConfirmations confirmations, counting itself.
func (r *Relay) VerifyTransactionInclusion(txid chainhash.Hash, height uint32, rawProof []byte, requiredConfirmations uint32, allowUnsafe bool) error {
	started := time.Now()
	err := r.verifyInclusion(txid, height, rawProof, requiredConfirmations, allowUnsafe)
	r.metrics.ObserveInclusion(err, started)
	if err != nil {
		r.logger.Debug("inclusion rejected",
			zap.Stringer("txid", txid),
			zap.Uint32("height", height),
			zap.Error(err))
	}
	return err
}

func (r *Relay) verifyInclusion(txid chainhash.Hash, height uint32, rawProof []byte, required uint32, allowUnsafe bool) error {
	r.mu.RLock()
	e, err := r.store.headerAt(height)
	var hash chainhash.Hash
	if err == nil {
		hash = e.Hash
	}
	best := r.store.best.Height
	r.mu.RUnlock()
	if err != nil {
		return err
	}

	mp, err := bitcoin.ParseMerkleProof(rawProof)
	if err != nil {
		return err
	}
	if got := mp.Header.BlockHash(); got != hash {
		return fmt.Errorf("%w: proof header %s is not block %s at height %d",
			ErrInvalidMerkleProof, got, hash, height)
	}
	if _, err := mp.Verify(txid); err != nil {
		return err
	}

	if allowUnsafe {
		return nil
	}
	if confirmations := best - height + 1; confirmations < required {
		return fmt.Errorf("%w: %d of %d", ErrInsufficientConfirmations, confirmations, required)
	}
	return nil
}

// VerifyAndValidateTransaction checks that rawTx is included at height, as
// VerifyTransactionInclusion does, and that it makes the payment exp
// describes. It returns the parsed transaction.
func (r *Relay) VerifyAndValidateTransaction(rawTx []byte, height uint32, rawProof []byte, requiredConfirmations uint32, allowUnsafe bool, exp Expectation) (*bitcoin.Transaction, error) {
	tx, err := ValidateTransaction(rawTx, exp, r.params.Net)
	if err != nil {
		return nil, err
	}
	if err := r.VerifyTransactionInclusion(tx.TxID(), height, rawProof, requiredConfirmations, allowUnsafe); err != nil {
		return nil, err
	}
	return tx, nil
}
