package relay

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

// ChainID identifies a chain in the store. The chain created by Initialize
// has ID 0; every fork gets the next unused ID. IDs are never reused.
type ChainID uint32

// ChainEntry is a header the relay has accepted.
type ChainEntry struct {
	Header bitcoin.BlockHeader
	Hash   chainhash.Hash
	Height uint32
	Chain  ChainID

	// Active is set while the entry lies on the best chain.
	Active bool
}

// Fork describes one chain: a run of consecutive entries stored under the
// same ChainID. Heights below StartHeight resolve through Parent.
type Fork struct {
	ID          ChainID
	Parent      ChainID
	StartHeight uint32
	TipHeight   uint32
	TipHash     chainhash.Hash
}

// BestChain points at the tip of the best chain.
type BestChain struct {
	Chain  ChainID
	Height uint32
	Hash   chainhash.Hash
}

type entryKey struct {
	chain  ChainID
	height uint32
}
