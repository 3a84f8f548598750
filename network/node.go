package network

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Node is the subset of a full node's RPC surface the relayer consumes.
// RPCClient implements it against bitcoind.
type Node interface {
	// GetBlockCount returns the height of the node's best chain tip.
	GetBlockCount(ctx context.Context) (uint32, error)

	// GetBlockHash returns the hash of the node's main-chain block at height.
	GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, error)

	// GetBlockHeader returns the raw 80-byte header of the given block.
	GetBlockHeader(ctx context.Context, hash chainhash.Hash) ([]byte, error)

	// GetTxBlockHash returns the hash of the block that confirms txid.
	// It returns ErrNotConfirmed for mempool transactions and ErrTxNotFound
	// when the node does not know txid.
	GetTxBlockHash(ctx context.Context, txid chainhash.Hash) (chainhash.Hash, error)

	// GetTxOutProof returns a serialized merkle block proving txid is in
	// the given block.
	GetTxOutProof(ctx context.Context, txid, blockHash chainhash.Hash) ([]byte, error)

	// GetRawTransaction returns the serialized transaction.
	GetRawTransaction(ctx context.Context, txid chainhash.Hash) ([]byte, error)
}

var _ Node = (*RPCClient)(nil)
