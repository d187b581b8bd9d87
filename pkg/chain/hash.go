package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// emptyRootInput seeds the Merkle root of a block with no judgments.
const emptyRootInput = "empty"

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// BlockHash computes the deterministic hash of a block from its slot,
// previous hash, and judgments root.
func BlockHash(slot int, previousHash, judgmentsRoot string) string {
	return sha256Hex(fmt.Sprintf("%d|%s|%s", slot, previousHash, judgmentsRoot))
}

// MerkleRoot computes the root over judgment identifiers: each ID is hashed
// into a leaf, then adjacent pairs are hashed together level by level. An
// odd node is promoted unchanged. An empty list has a fixed root.
func MerkleRoot(judgmentIDs []string) string {
	if len(judgmentIDs) == 0 {
		return sha256Hex(emptyRootInput)
	}
	level := make([]string, len(judgmentIDs))
	for i, id := range judgmentIDs {
		level[i] = sha256Hex(id)
	}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, sha256Hex(level[i]+level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}
