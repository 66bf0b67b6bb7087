package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// shortLen is the number of hex characters kept from the identity digest.
const shortLen = 12

// Identity names a run by the physics that defines it: the final-state
// ranges, the star-formation window, and the metallicity. Two runs with the
// same identity share a store directory, so a restarted experiment resumes
// instead of colliding.
type Identity string

// NewIdentity derives the identity from the canonical parameter rendering.
func NewIdentity(kstar1, kstar2 [2]int, sfStart, sfDuration, metallicity float64) Identity {
	canonical := fmt.Sprintf("kstar1=%d-%d;kstar2=%d-%d;sf=%g+%g;z=%g",
		kstar1[0], kstar1[1], kstar2[0], kstar2[1], sfStart, sfDuration, metallicity)

	sum := sha256.Sum256([]byte(canonical))

	return Identity(hex.EncodeToString(sum[:])[:shortLen])
}

// String implements fmt.Stringer.
func (id Identity) String() string { return string(id) }
