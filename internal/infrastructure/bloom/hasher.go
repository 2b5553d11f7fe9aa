// Package bloom provides per-user bloom filters used to pre-filter
// fingerprint membership checks. A filter answer of "absent" is
// authoritative; "present" is only advisory and callers confirm against the
// persistent store.
package bloom

import "hash/fnv"

// fingerprintHash maps a fingerprint to the 64-bit key the filter consumes.
func fingerprintHash(fingerprint string) uint64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(fingerprint))
	return hasher.Sum64()
}
