// Package merkle computes leaf and root hashes for a block's audit set,
// ported from the reference prototype's merkle_tree.cpp: plain SHA-256,
// hex-encoded, odd levels duplicate their last element.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Root computes the Merkle root over leafHashes. An empty input yields the
// empty string; a single leaf yields itself; odd-sized levels duplicate
// the last node before pairing (spec §4.3, L3).
func Root(leafHashes []string) string {
	if len(leafHashes) == 0 {
		return ""
	}
	level := make([]string, len(leafHashes))
	copy(level, leafHashes)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, SHA256Hex(left+right))
		}
		level = next
	}
	return level[0]
}
