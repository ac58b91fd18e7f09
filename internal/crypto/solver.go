package crypto

import (
	"crypto/subtle"
	"hash"
	"io"
	"math/bits"

	"github.com/cloudflare/circl/xof"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

const (
	// MaxSolutions is the upper bound of digests produced per (challenge, nonce)
	MaxSolutions = 4

	// Solver input layout: challenge (32) + nonce (8) + solution (16) = 56
	ChallengeLen = 32
	NonceLen     = 8
	SolutionLen  = 16
	inputLen     = ChallengeLen + NonceLen + SolutionLen
)

// Hash is one candidate digest with the solution bytes that produced it
type Hash struct {
	Digest   [32]byte
	Solution [SolutionLen]byte
}

// Difficulty is the number of leading zero bits in the digest
func (h Hash) Difficulty() uint32 {
	var n uint32
	for _, b := range h.Digest {
		if b != 0 {
			return n + uint32(bits.LeadingZeros8(b))
		}
		n += 8
	}
	return n
}

// Solver computes candidate digests. A Solver keeps its scratch buffers
// between calls and must not be shared between goroutines.
type Solver struct {
	seedInput [ChallengeLen + NonceLen]byte
	input     [inputLen]byte
	hasher    hash.Hash
	expander  xof.XOF
	out       []Hash
}

// NewSolver creates a solver with its own scratch state
func NewSolver() *Solver {
	return &Solver{
		hasher:   sha3.NewLegacyKeccak256(),
		expander: xof.SHAKE128.New(),
		out:      make([]Hash, 0, MaxSolutions),
	}
}

// Solve returns between 1 and MaxSolutions digests for the pair.
// The returned slice is reused by the next call.
//
// seed       = blake2b-256(challenge || nonce)
// solution_i = SHAKE128(seed)[16i : 16i+16]
// digest_i   = keccak256(challenge || nonce || solution_i)
func (s *Solver) Solve(challenge *[ChallengeLen]byte, nonce *[NonceLen]byte) []Hash {
	copy(s.seedInput[:ChallengeLen], challenge[:])
	copy(s.seedInput[ChallengeLen:], nonce[:])
	seed := blake2b.Sum256(s.seedInput[:])

	count := 1 + int(seed[0]%MaxSolutions)

	s.expander.Reset()
	_, _ = s.expander.Write(seed[:])

	copy(s.input[:ChallengeLen+NonceLen], s.seedInput[:])

	out := s.out[:0]
	for i := 0; i < count; i++ {
		var h Hash
		if _, err := io.ReadFull(s.expander, h.Solution[:]); err != nil {
			// SHAKE128 output is unbounded
			panic(err)
		}
		copy(s.input[ChallengeLen+NonceLen:], h.Solution[:])

		s.hasher.Reset()
		s.hasher.Write(s.input[:])
		s.hasher.Sum(h.Digest[:0])
		out = append(out, h)
	}
	s.out = out
	return out
}

// Solve is a convenience wrapper allocating a fresh Solver
func Solve(challenge *[ChallengeLen]byte, nonce *[NonceLen]byte) []Hash {
	hashes := NewSolver().Solve(challenge, nonce)
	return append([]Hash(nil), hashes...)
}

// Verify reports whether digest is one of the digests produced for the pair
func Verify(challenge *[ChallengeLen]byte, nonce *[NonceLen]byte, digest []byte) bool {
	if len(digest) != 32 {
		return false
	}
	for _, h := range NewSolver().Solve(challenge, nonce) {
		if subtle.ConstantTimeCompare(h.Digest[:], digest) == 1 {
			return true
		}
	}
	return false
}
