package cobs

import (
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// BloomFilter is a bit vector of length m bits with k hash functions,
// built by inserting k-mers and frozen once built. No deletions; no false
// negatives.
type BloomFilter struct {
	bits *bitset.BitSet
	m    uint64
	k    int
	hash HashFamily
}

// NewBloomFilter allocates an m-bit filter with k hash functions. m must
// be a multiple of 8 (spec invariant: row packing is byte-aligned).
func NewBloomFilter(m uint64, k int, hash HashFamily) (*BloomFilter, error) {
	if m == 0 || m%8 != 0 {
		return nil, fmt.Errorf("%w: bloom filter size must be a positive multiple of 8, got %d", ErrConfigurationInvalid, m)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrConfigurationInvalid, k)
	}
	return &BloomFilter{
		bits: bitset.New(uint(m)),
		m:    m,
		k:    k,
		hash: hash,
	}, nil
}

// M returns the filter's bit width.
func (f *BloomFilter) M() uint64 { return f.m }

// K returns the number of hash functions.
func (f *BloomFilter) K() int { return f.k }

// Insert sets the k bits hash_0(kmer)..hash_{k-1}(kmer) mod m.
func (f *BloomFilter) Insert(kmer []byte) {
	for i := 0; i < f.k; i++ {
		row := HashRow(f.hash, kmer, i, f.m)
		f.bits.Set(uint(row))
	}
}

// Contains reports whether all k bits for kmer are set. False positives
// are possible; false negatives are not.
func (f *BloomFilter) Contains(kmer []byte) bool {
	for i := 0; i < f.k; i++ {
		row := HashRow(f.hash, kmer, i, f.m)
		if !f.bits.Test(uint(row)) {
			return false
		}
	}
	return true
}

// Test reports whether bit row is set, used by ClassicIndexWriter and
// CompactIndexWriter to pack one filter's bits into row-major output.
func (f *BloomFilter) Test(row uint64) bool {
	return f.bits.Test(uint(row))
}

// BloomBuilder builds one BloomFilter per document from its k-mer stream.
// It does not allocate per k-mer: Insert reuses the caller-provided kmer
// slice without copying.
type BloomBuilder struct {
	hash HashFamily
}

// NewBloomBuilder returns a BloomBuilder using hash as its hash family.
func NewBloomBuilder(hash HashFamily) *BloomBuilder {
	return &BloomBuilder{hash: hash}
}

// Build consumes kmers (deduplication is the caller's concern; a repeated
// k-mer simply sets the same bits twice, which is idempotent) and returns
// the resulting filter.
func (b *BloomBuilder) Build(kmers func(yield func([]byte) bool), m uint64, k int) (*BloomFilter, error) {
	filter, err := NewBloomFilter(m, k, b.hash)
	if err != nil {
		return nil, err
	}
	for kmer := range kmers {
		filter.Insert(kmer)
	}
	return filter, nil
}

// SizeForElementCount returns the minimum signature size m (rounded up to
// a multiple of 8) so that a filter holding n elements with k hash
// functions has false-positive probability at most p:
//
//	m = ceil(-n*k / ln(1 - p^(1/k)))
//
// This is the exact formula named in spec §4.5.
func SizeForElementCount(n uint64, k int, p float64) (uint64, error) {
	if err := validateSizingInputs(k, p); err != nil {
		return 0, err
	}
	if n == 0 {
		return 8, nil
	}
	ratio := bloomSizeRatio(k, p)
	m := uint64(math.Ceil(float64(n) * ratio))
	return roundUpToMultiple(m, 8), nil
}

// SizeForByteSize is the original implementation's proxy sizing formula
// (original_source/lib/msbf.hpp calc_bloom_filter_size): when only a
// document's byte size is known — before its k-mer stream has been read,
// e.g. to make an early size-class decision — the element count is
// approximated as bytes/8.
func SizeForByteSize(byteSize int64, k int, p float64) (uint64, error) {
	if byteSize < 0 {
		return 0, fmt.Errorf("%w: byte size must be non-negative", ErrConfigurationInvalid)
	}
	n := uint64(byteSize) / 8
	return SizeForElementCount(n, k, p)
}

func bloomSizeRatio(k int, p float64) float64 {
	denominator := math.Log(1 - math.Pow(p, 1/float64(k)))
	return -float64(k) / denominator
}

func validateSizingInputs(k int, p float64) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrConfigurationInvalid, k)
	}
	if p <= 0 || p >= 1 {
		return fmt.Errorf("%w: false positive rate must be in (0,1), got %f", ErrConfigurationInvalid, p)
	}
	return nil
}

func roundUpToMultiple(v, multiple uint64) uint64 {
	if multiple == 0 {
		return v
	}
	if rem := v % multiple; rem != 0 {
		return v + (multiple - rem)
	}
	if v == 0 {
		return multiple
	}
	return v
}
