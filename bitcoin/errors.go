package bitcoin

import "errors"

var (
	// ErrMalformedInput indicates truncated input, bad framing or a
	// non-canonical encoding.
	ErrMalformedInput = errors.New("bitcoin: malformed input")

	// ErrInvalidMerkleProof indicates a partial merkle tree that does not
	// reconstruct the header's merkle root or does not commit to the
	// requested transaction.
	ErrInvalidMerkleProof = errors.New("bitcoin: invalid merkle proof")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("bitcoin: required parameter is nil")
)
