package relay

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Event is emitted after a header changes the chain state. It is one of
// ChainExtended, ForkDetected or Reorganized.
type Event interface {
	isEvent()
}

// ChainExtended reports a new best-chain tip that builds on the previous one.
type ChainExtended struct {
	Height uint32
	Hash   chainhash.Hash
}

// ForkDetected reports a header that branches off below a chain tip.
// Height is the first height of the new branch.
type ForkDetected struct {
	Chain  ChainID
	Height uint32
	Hash   chainhash.Hash
}

// Reorganized reports a switch of the best chain. ForkHeight is the height
// of the last block both chains share.
type Reorganized struct {
	OldTip     chainhash.Hash
	OldHeight  uint32
	NewTip     chainhash.Hash
	NewHeight  uint32
	ForkHeight uint32
}

func (ChainExtended) isEvent() {}
func (ForkDetected) isEvent()  {}
func (Reorganized) isEvent()   {}

// EventHandler receives events in the order the relay produced them. It is
// called without the relay's state lock held and may query the relay, but
// must not submit headers.
type EventHandler interface {
	HandleEvent(Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(Event)

// HandleEvent calls f(e).
func (f EventHandlerFunc) HandleEvent(e Event) { f(e) }
