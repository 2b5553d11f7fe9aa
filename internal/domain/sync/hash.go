package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// CollectionHash computes the canonical membership hash of a fingerprint
// set: the SHA-256 hex digest of the lexicographically sorted concatenation
// with no separator. The input slice is not modified.
func CollectionHash(fingerprints []string) string {
	sorted := make([]string, len(fingerprints))
	copy(sorted, fingerprints)
	sort.Strings(sorted)

	h := sha256.New()
	for _, fp := range sorted {
		h.Write([]byte(fp))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EmptyCollectionHash returns the hash of the empty set. Callers compare
// against this instead of branching on a hex literal.
func EmptyCollectionHash() string {
	return CollectionHash(nil)
}

// SortedCopy returns a lowercased, lexicographically sorted copy of the
// given fingerprints. Pagination relies on this order being stable.
func SortedCopy(fingerprints []string) []string {
	sorted := make([]string, len(fingerprints))
	for i, fp := range fingerprints {
		sorted[i] = strings.ToLower(fp)
	}
	sort.Strings(sorted)
	return sorted
}
