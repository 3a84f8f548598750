package bitcoin

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DoubleHash computes SHA256(SHA256(data)), matching Bitcoin's hash function.
func DoubleHash(data []byte) chainhash.Hash {
	return chainhash.DoubleHashH(data)
}

// HashPair returns the merkle parent of two nodes: DoubleHash(left || right).
func HashPair(left, right chainhash.Hash) chainhash.Hash {
	var buf [2 * chainhash.HashSize]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}

// treeWidth returns the number of nodes at the given height of a merkle
// tree over n leaves. Height 0 is the leaf level.
func treeWidth(n uint32, height uint) uint32 {
	return uint32((uint64(n) + (1 << height) - 1) >> height)
}

// treeHeight returns the height of the root of a merkle tree over n leaves.
func treeHeight(n uint32) uint {
	var h uint
	for treeWidth(n, h) > 1 {
		h++
	}
	return h
}

// MerkleRoot computes the merkle root of a complete list of transaction
// ids. Levels with an odd number of nodes pair their last node with itself.
// It returns the zero hash for an empty list.
func MerkleRoot(txids []chainhash.Hash) chainhash.Hash {
	if len(txids) == 0 {
		return chainhash.Hash{}
	}
	return subtreeHash(txids, treeHeight(uint32(len(txids))), 0)
}

// subtreeHash computes the hash of the node at (height, pos).
func subtreeHash(txids []chainhash.Hash, height uint, pos uint32) chainhash.Hash {
	if height == 0 {
		return txids[pos]
	}
	left := subtreeHash(txids, height-1, pos*2)
	right := left
	if pos*2+1 < treeWidth(uint32(len(txids)), height-1) {
		right = subtreeHash(txids, height-1, pos*2+1)
	}
	return HashPair(left, right)
}
