package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MaxProofTransactions bounds the transaction count a proof may claim: the
// most transactions a block of maximum weight can hold.
const MaxProofTransactions = 4_000_000 / 240

// MerkleProof is a block header plus a partial merkle tree committing to a
// subset of the block's transactions. It is the payload returned by
// bitcoind's gettxoutproof.
//
// Layout: header(80) | txCount(4) | hashCount(compact) | hashes(32 each) |
// flagByteCount(compact) | flag bytes, bit i at byte i/8, least significant
// bit first.
type MerkleProof struct {
	Header  BlockHeader
	TxCount uint32
	Hashes  []chainhash.Hash
	Flags   []bool
}

// MerkleMatch is a leaf the proof marks as matched.
type MerkleMatch struct {
	TxID     chainhash.Hash
	Position uint32
}

// ParseMerkleProof decodes a complete proof, rejecting trailing bytes.
func ParseMerkleProof(raw []byte) (*MerkleProof, error) {
	mp := new(MerkleProof)
	if err := DecodeExact(raw, mp); err != nil {
		return nil, err
	}
	return mp, nil
}

// Serialize returns the wire encoding of mp.
func (mp *MerkleProof) Serialize() []byte {
	return Encode(mp)
}

func (mp *MerkleProof) encode(f *Formatter) {
	mp.Header.encode(f)
	f.WriteUint32(mp.TxCount)
	f.WriteCompactUint(uint64(len(mp.Hashes)))
	for _, h := range mp.Hashes {
		f.WriteHash(h)
	}

	flagBytes := make([]byte, (len(mp.Flags)+7)/8)
	for i, bit := range mp.Flags {
		if bit {
			flagBytes[i/8] |= 1 << (i % 8)
		}
	}
	f.WriteVarBytes(flagBytes)
}

func (mp *MerkleProof) decode(p *Parser) error {
	if err := mp.Header.decode(p); err != nil {
		return err
	}

	var err error
	if mp.TxCount, err = p.ReadUint32(); err != nil {
		return err
	}

	n, err := p.ReadCount(chainhash.HashSize)
	if err != nil {
		return err
	}
	mp.Hashes = make([]chainhash.Hash, n)
	for i := range mp.Hashes {
		if mp.Hashes[i], err = p.ReadHash(); err != nil {
			return err
		}
	}

	flagBytes, err := p.ReadVarBytes()
	if err != nil {
		return err
	}
	mp.Flags = make([]bool, len(flagBytes)*8)
	for i := range mp.Flags {
		mp.Flags[i] = flagBytes[i/8]&(1<<(i%8)) != 0
	}
	return nil
}

// partialTree walks a proof's flag bits and hashes in pre-order.
type partialTree struct {
	proof    *MerkleProof
	bitsUsed int
	hashUsed int
	matches  []MerkleMatch
}

func (t *partialTree) traverse(height uint, pos uint32) (chainhash.Hash, error) {
	if t.bitsUsed >= len(t.proof.Flags) {
		return chainhash.Hash{}, fmt.Errorf("%w: ran out of flag bits", ErrInvalidMerkleProof)
	}
	parentOfMatch := t.proof.Flags[t.bitsUsed]
	t.bitsUsed++

	if height == 0 || !parentOfMatch {
		if t.hashUsed >= len(t.proof.Hashes) {
			return chainhash.Hash{}, fmt.Errorf("%w: ran out of hashes", ErrInvalidMerkleProof)
		}
		h := t.proof.Hashes[t.hashUsed]
		t.hashUsed++
		if height == 0 && parentOfMatch {
			t.matches = append(t.matches, MerkleMatch{TxID: h, Position: pos})
		}
		return h, nil
	}

	left, err := t.traverse(height-1, pos*2)
	if err != nil {
		return chainhash.Hash{}, err
	}
	right := left
	if pos*2+1 < treeWidth(t.proof.TxCount, height-1) {
		if right, err = t.traverse(height-1, pos*2+1); err != nil {
			return chainhash.Hash{}, err
		}
		// CVE-2012-2459: identical siblings allow a mutated tree to
		// reproduce the same root.
		if right == left {
			return chainhash.Hash{}, fmt.Errorf("%w: duplicate sibling at height %d", ErrInvalidMerkleProof, height)
		}
	}
	return HashPair(left, right), nil
}

// ExtractMatches reconstructs the merkle root from the partial tree and
// returns it with the matched leaves in tree order. Every hash and every
// flag byte must be consumed, and the unused bits of the final flag byte
// must be zero.
func (mp *MerkleProof) ExtractMatches() (chainhash.Hash, []MerkleMatch, error) {
	switch {
	case mp.TxCount == 0:
		return chainhash.Hash{}, nil, fmt.Errorf("%w: no transactions", ErrInvalidMerkleProof)
	case mp.TxCount > MaxProofTransactions:
		return chainhash.Hash{}, nil, fmt.Errorf("%w: %d transactions exceeds maximum", ErrInvalidMerkleProof, mp.TxCount)
	case uint64(len(mp.Hashes)) > uint64(mp.TxCount):
		return chainhash.Hash{}, nil, fmt.Errorf("%w: more hashes than transactions", ErrInvalidMerkleProof)
	case len(mp.Flags) < len(mp.Hashes):
		return chainhash.Hash{}, nil, fmt.Errorf("%w: fewer flag bits than hashes", ErrInvalidMerkleProof)
	}

	t := &partialTree{proof: mp}
	root, err := t.traverse(treeHeight(mp.TxCount), 0)
	if err != nil {
		return chainhash.Hash{}, nil, err
	}
	if (t.bitsUsed+7)/8 != (len(mp.Flags)+7)/8 {
		return chainhash.Hash{}, nil, fmt.Errorf("%w: %d of %d flag bits used", ErrInvalidMerkleProof, t.bitsUsed, len(mp.Flags))
	}
	for _, bit := range mp.Flags[t.bitsUsed:] {
		if bit {
			return chainhash.Hash{}, nil, fmt.Errorf("%w: non-zero flag padding", ErrInvalidMerkleProof)
		}
	}
	if t.hashUsed != len(mp.Hashes) {
		return chainhash.Hash{}, nil, fmt.Errorf("%w: %d of %d hashes used", ErrInvalidMerkleProof, t.hashUsed, len(mp.Hashes))
	}
	return root, t.matches, nil
}

// Verify checks that the partial tree reconstructs the header's merkle root
// and that txid is one of its matched leaves. It returns the leaf position.
func (mp *MerkleProof) Verify(txid chainhash.Hash) (uint32, error) {
	root, matches, err := mp.ExtractMatches()
	if err != nil {
		return 0, err
	}
	if root != mp.Header.MerkleRoot {
		return 0, fmt.Errorf("%w: computed root %s does not match header root %s",
			ErrInvalidMerkleProof, root, mp.Header.MerkleRoot)
	}
	for _, m := range matches {
		if m.TxID == txid {
			return m.Position, nil
		}
	}
	return 0, fmt.Errorf("%w: transaction %s is not a matched leaf", ErrInvalidMerkleProof, txid)
}

// NewMerkleProof builds a proof over a block's complete, ordered list of
// transaction ids. match[i] marks txids[i] for inclusion; match must have the
// same length as txids. The header's merkle root is not checked.
func NewMerkleProof(header BlockHeader, txids []chainhash.Hash, match []bool) (*MerkleProof, error) {
	if len(txids) == 0 {
		return nil, fmt.Errorf("%w: no transactions", ErrNilParam)
	}
	if len(match) != len(txids) {
		return nil, fmt.Errorf("%w: %d match flags for %d transactions", ErrMalformedInput, len(match), len(txids))
	}
	if len(txids) > MaxProofTransactions {
		return nil, fmt.Errorf("%w: %d transactions exceeds maximum", ErrMalformedInput, len(txids))
	}

	b := &proofBuilder{txids: txids, match: match}
	b.build(treeHeight(uint32(len(txids))), 0)

	for len(b.flags)%8 != 0 {
		b.flags = append(b.flags, false)
	}
	return &MerkleProof{
		Header:  header,
		TxCount: uint32(len(txids)),
		Hashes:  b.hashes,
		Flags:   b.flags,
	}, nil
}

type proofBuilder struct {
	txids  []chainhash.Hash
	match  []bool
	hashes []chainhash.Hash
	flags  []bool
}

func (b *proofBuilder) build(height uint, pos uint32) {
	n := uint32(len(b.txids))

	parentOfMatch := false
	for p := pos << height; p < (pos+1)<<height && p < n; p++ {
		if b.match[p] {
			parentOfMatch = true
			break
		}
	}
	b.flags = append(b.flags, parentOfMatch)

	if height == 0 || !parentOfMatch {
		b.hashes = append(b.hashes, subtreeHash(b.txids, height, pos))
		return
	}
	b.build(height-1, pos*2)
	if pos*2+1 < treeWidth(n, height-1) {
		b.build(height-1, pos*2+1)
	}
}
