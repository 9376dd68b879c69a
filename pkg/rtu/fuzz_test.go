// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtu

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// TestFuzzCRCRoundTrip checks that any appended frame verifies and any
// single-bit flip is detected
func TestFuzzCRCRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		body := make([]byte, 1+rng.Intn(32))
		rng.Read(body)

		frame := AppendCRC(append([]byte(nil), body...))
		if !VerifyCRC(frame) {
			t.Fatalf("round %d: VerifyCRC(AppendCRC(% X)) = false", i, body)
		}

		bit := rng.Intn(len(frame) * 8)
		frame[bit/8] ^= 1 << (bit % 8)
		if VerifyCRC(frame) {
			t.Fatalf("round %d: bit flip %d in % X not detected", i, bit, frame)
		}
	}
}

// TestFuzzReadResponse checks register value round trips for every unit
func TestFuzzReadResponse(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		addr := Address(1 + rng.Intn(247))
		value := uint16(rng.Intn(1 << 16))

		got, err := ParseReadResponse(ReadResponse(addr, value), addr)
		if err != nil {
			t.Fatalf("round %d: ParseReadResponse() error = %v", i, err)
		}
		if got != value {
			t.Fatalf("round %d: ParseReadResponse() = %d, want %d", i, got, value)
		}
	}
}

// TestFuzzParseGarbage feeds random bytes to the parsers; they must never panic
func TestFuzzParseGarbage(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		frame := make([]byte, rng.Intn(16))
		rng.Read(frame)

		_, _ = ParseReadResponse(frame, Address(rng.Intn(256)))
		_ = ParseWriteAck(frame)
		_ = Describe(frame)
	}
}
