package relay

import (
	"errors"

	"github.com/bitfsorg/btcrelay-go/bitcoin"
)

var (
	// ErrMalformedInput indicates a header, proof or transaction that does
	// not decode.
	ErrMalformedInput = bitcoin.ErrMalformedInput

	// ErrInvalidMerkleProof indicates a proof that does not commit the
	// transaction to the main-chain block at the given height.
	ErrInvalidMerkleProof = bitcoin.ErrInvalidMerkleProof

	// ErrOrphanBlock indicates the header's parent is not tracked.
	ErrOrphanBlock = errors.New("relay: orphan block")

	// ErrStaleFork indicates the header branches off the best chain below
	// the depth the relay still tracks forks at.
	ErrStaleFork = errors.New("relay: fork below retention depth")

	// ErrInvalidProofOfWork indicates the header hash exceeds its target.
	ErrInvalidProofOfWork = errors.New("relay: invalid proof of work")

	// ErrInvalidTarget indicates the header's target breaks the difficulty
	// adjustment rules or exceeds the network's proof-of-work limit.
	ErrInvalidTarget = errors.New("relay: invalid difficulty target")

	// ErrDuplicateBlock indicates the header is already tracked. It is
	// informational; the returned height is that of the existing entry.
	ErrDuplicateBlock = errors.New("relay: duplicate block")

	// ErrNoHeaderAtHeight indicates the main chain has no header at the
	// requested height.
	ErrNoHeaderAtHeight = errors.New("relay: no header at height")

	// ErrUnknownHash indicates no tracked header has the requested hash.
	ErrUnknownHash = errors.New("relay: unknown block hash")

	// ErrInsufficientConfirmations indicates the block is not yet buried
	// deep enough.
	ErrInsufficientConfirmations = errors.New("relay: insufficient confirmations")

	// ErrAlreadyInitialized indicates Initialize was called twice.
	ErrAlreadyInitialized = errors.New("relay: already initialized")

	// ErrNotInitialized indicates a header was submitted before Initialize.
	ErrNotInitialized = errors.New("relay: not initialized")

	// ErrUnknownNetwork indicates a network name with no parameters.
	ErrUnknownNetwork = errors.New("relay: unknown network")

	// ErrInsufficientValue indicates no output pays the recipient enough.
	ErrInsufficientValue = errors.New("relay: insufficient payment value")

	// ErrWrongRecipient indicates no output pays the expected address.
	ErrWrongRecipient = errors.New("relay: wrong payment recipient")

	// ErrInvalidOpReturn indicates the expected OP_RETURN data is missing.
	ErrInvalidOpReturn = errors.New("relay: invalid op_return data")

	// ErrCorruptJournal indicates a journaled header failed to replay.
	ErrCorruptJournal = errors.New("relay: corrupt journal")
)
