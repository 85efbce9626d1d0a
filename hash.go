package cobs

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// HashFamily produces a family of independent 64-bit hash functions over
// byte strings, indexed by seed. BloomBuilder calls Hash(kmer, i) for
// i in [0, k) to obtain the k bit positions for one k-mer; QueryEngine calls
// it identically so build and query agree on bit placement.
//
// Implementations must be safe for concurrent use, since one value may be
// shared by several builders and query engines with no synchronization.
// The build pipeline itself calls Hash from one goroutine per batch:
// ClassicIndexWriter.WriteBatch builds a batch's filters one document
// after another, not in parallel.
type HashFamily interface {
	// Hash returns a 64-bit digest of data under the given seed. Distinct
	// seeds must behave as independent hash functions for the Bloom
	// false-positive analysis to hold.
	Hash(data []byte, seed uint64) uint64
}

// XXHashFamily is the default HashFamily, deriving k independent digests
// from a single xxhash64 state reset per seed. This avoids allocating a new
// hasher per k-mer on the hot path (BloomBuilder must not allocate per
// k-mer, per the component contract).
type XXHashFamily struct{}

// NewXXHashFamily returns the default hash family implementation.
func NewXXHashFamily() XXHashFamily {
	return XXHashFamily{}
}

// Hash mixes seed into the digest by hashing an 8-byte little-endian seed
// prefix followed by data through a single xxhash Write sequence, matching
// the streaming-reset pattern xxhash.Digest supports without per-call
// allocation when called through a pooled *xxhash.Digest (see hasherPool).
func (XXHashFamily) Hash(data []byte, seed uint64) uint64 {
	d := hasherPool.Get().(*xxhash.Digest)
	d.Reset()
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], seed)
	_, _ = d.Write(seedBuf[:])
	_, _ = d.Write(data)
	sum := d.Sum64()
	hasherPool.Put(d)
	return sum
}

var hasherPool = sync.Pool{
	New: func() any { return xxhash.New() },
}

// HashRow computes the signature-matrix row index for a k-mer under hash
// index i and signature size m: hash_i(kmer) mod m, per the query/build
// contract in the component design.
func HashRow(h HashFamily, kmer []byte, i int, m uint64) uint64 {
	return h.Hash(kmer, uint64(i)) % m
}
