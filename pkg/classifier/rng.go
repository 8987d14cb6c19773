// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	cryptorand "crypto/rand"
	"math/rand/v2"
)

// NewRequestRNG returns a random number generator for one classification, seeded from a
// cryptographically secure source. Each concurrent call must use its own generator.
func NewRequestRNG() *rand.Rand {
	var seed [32]byte
	_, _ = cryptorand.Read(seed[:])
	return rand.New(rand.NewChaCha8(seed))
}

// SeededRNG returns a deterministic random number generator: classifications using generators
// with the same seed give the same results.
func SeededRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
