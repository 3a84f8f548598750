package network

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// rpcInvalidAddressOrKey is bitcoind's code for unknown blocks and transactions.
const rpcInvalidAddressOrKey = -5

// verboseTxResult is the part of a verbose getrawtransaction reply the
// client reads.
type verboseTxResult struct {
	BlockHash     string `json:"blockhash"`
	Confirmations int64  `json:"confirmations"`
}

// GetBlockCount returns the height of the node's best chain tip.
func (c *RPCClient) GetBlockCount(ctx context.Context) (height uint32, err error) {
	started := time.Now()
	defer func() { c.metrics.Observe("get_block_count", err, started) }()

	if err = c.Call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetBlockHash returns the hash of the main-chain block at height.
func (c *RPCClient) GetBlockHash(ctx context.Context, height uint32) (hash chainhash.Hash, err error) {
	started := time.Now()
	defer func() { c.metrics.Observe("get_block_hash", err, started) }()

	var hashHex string
	if err = c.Call(ctx, "getblockhash", []interface{}{height}, &hashHex); err != nil {
		return chainhash.Hash{}, err
	}
	return decodeHash(hashHex)
}

// GetBlockHeader returns the raw 80-byte block header for the given block hash.
func (c *RPCClient) GetBlockHeader(ctx context.Context, hash chainhash.Hash) (raw []byte, err error) {
	started := time.Now()
	defer func() { c.metrics.Observe("get_block_header", err, started) }()

	var headerHex string
	if err = c.Call(ctx, "getblockheader", []interface{}{hash.String(), false}, &headerHex); err != nil {
		return nil, err
	}
	return decodeHex("header", headerHex)
}

// GetTxBlockHash returns the hash of the block confirming txid. The node
// must run with -txindex or hold txid in its wallet.
func (c *RPCClient) GetTxBlockHash(ctx context.Context, txid chainhash.Hash) (hash chainhash.Hash, err error) {
	started := time.Now()
	defer func() { c.metrics.Observe("get_tx_block_hash", err, started) }()

	var result verboseTxResult
	if err = c.Call(ctx, "getrawtransaction", []interface{}{txid.String(), true}, &result); err != nil {
		return chainhash.Hash{}, notFound(err, ErrTxNotFound)
	}
	if result.Confirmations <= 0 || result.BlockHash == "" {
		err = fmt.Errorf("%w: %s", ErrNotConfirmed, txid)
		return chainhash.Hash{}, err
	}
	return decodeHash(result.BlockHash)
}

// GetTxOutProof returns the serialized merkle block proving txid is in blockHash.
func (c *RPCClient) GetTxOutProof(ctx context.Context, txid, blockHash chainhash.Hash) (proof []byte, err error) {
	started := time.Now()
	defer func() { c.metrics.Observe("get_tx_out_proof", err, started) }()

	params := []interface{}{[]string{txid.String()}, blockHash.String()}
	var proofHex string
	if err = c.Call(ctx, "gettxoutproof", params, &proofHex); err != nil {
		return nil, notFound(err, ErrTxNotFound)
	}
	return decodeHex("proof", proofHex)
}

// GetRawTransaction returns the serialized transaction for txid.
func (c *RPCClient) GetRawTransaction(ctx context.Context, txid chainhash.Hash) (raw []byte, err error) {
	started := time.Now()
	defer func() { c.metrics.Observe("get_raw_transaction", err, started) }()

	var rawHex string
	if err = c.Call(ctx, "getrawtransaction", []interface{}{txid.String(), false}, &rawHex); err != nil {
		return nil, notFound(err, ErrTxNotFound)
	}
	return decodeHex("transaction", rawHex)
}

// notFound rewrites bitcoind's "invalid address or key" error as sentinel.
func notFound(err, sentinel error) error {
	var rerr *rpcError
	if errors.As(err, &rerr) && rerr.Code == rpcInvalidAddressOrKey {
		return fmt.Errorf("%w: %s", sentinel, rerr.Message)
	}
	return err
}

func decodeHash(s string) (chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil || len(s) != 2*chainhash.HashSize {
		return chainhash.Hash{}, fmt.Errorf("%w: invalid hash %q", ErrInvalidResponse, s)
	}
	return *h, nil
}

func decodeHex(what, s string) ([]byte, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s hex: %w", ErrInvalidResponse, what, err)
	}
	return data, nil
}
