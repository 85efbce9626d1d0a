package cobs

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"
)

// QueryHit is one document's result: its name and the number of the
// query's k-mers whose AND-reduced row had that document's column bit
// set (spec §4.8).
type QueryHit struct {
	Name  string
	Count int
}

// QueryResultFilter restricts a search to a subset of documents by name:
// an absent filter admits every document, a present one is checked by
// membership.
type QueryResultFilter struct {
	bitmap *roaring.Bitmap
}

// NewQueryResultFilter builds a filter admitting only the named columns
// out of universe, the index's full, sub-index-concatenated name list.
// An empty names list means no filtering.
func NewQueryResultFilter(names []string, universe []string) *QueryResultFilter {
	if len(names) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	bitmap := roaring.New()
	for i, n := range universe {
		if _, ok := want[n]; ok {
			bitmap.Add(uint32(i))
		}
	}
	return &QueryResultFilter{bitmap: bitmap}
}

func (f *QueryResultFilter) admits(column uint32) bool {
	if f == nil {
		return true
	}
	return f.bitmap.Contains(column)
}

// QuerySearch is a builder-style search context over one opened compact
// index.
type QuerySearch interface {
	WithSequence(seq []byte) QuerySearch
	WithThreshold(tau float64) QuerySearch
	WithTopK(k int) QuerySearch
	WithNames(names ...string) QuerySearch
	Execute() ([]QueryHit, error)
}

// QueryEngine evaluates k-mer membership queries against one opened
// compact index through its IndexBackend, reducing each k-mer's k probed
// rows with a bitwise AND and accumulating a per-document popcount
// across the query's k-mers (spec §4.8).
type QueryEngine struct {
	backend IndexBackend
	extract *KmerExtractor
	hash    HashFamily
	k       int
	workers int
}

// NewQueryEngine returns an engine probing backend, windowing the query
// sequence the same way extract windows documents, hashing with hash
// into k rows per sub-index. workers bounds the goroutines used to
// reduce different k-mers' rows concurrently; zero means unbounded.
func NewQueryEngine(backend IndexBackend, extract *KmerExtractor, hash HashFamily, k int, workers int) (*QueryEngine, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrConfigurationInvalid, k)
	}
	return &QueryEngine{backend: backend, extract: extract, hash: hash, k: k, workers: workers}, nil
}

// querySearch is the concrete QuerySearch implementation.
type querySearch struct {
	engine    *QueryEngine
	seq       []byte
	threshold float64
	topK      int
	names     []string
}

// NewSearch starts a new builder-style query against e: chain
// With...() calls and finish with Execute().
func (e *QueryEngine) NewSearch() QuerySearch {
	return &querySearch{engine: e, topK: -1}
}

func (s *querySearch) WithSequence(seq []byte) QuerySearch {
	s.seq = seq
	return s
}

func (s *querySearch) WithThreshold(tau float64) QuerySearch {
	s.threshold = tau
	return s
}

func (s *querySearch) WithTopK(k int) QuerySearch {
	s.topK = k
	return s
}

func (s *querySearch) WithNames(names ...string) QuerySearch {
	s.names = names
	return s
}

func (s *querySearch) Execute() ([]QueryHit, error) {
	return s.engine.search(s.seq, s.threshold, s.topK, s.names)
}

// search is the shared implementation behind QuerySearch.Execute.
func (e *QueryEngine) search(seq []byte, threshold float64, topK int, names []string) ([]QueryHit, error) {
	idx := e.backend.Index()

	seen := make(map[string]struct{})
	var kmers [][]byte
	for km := range slidingKmers(seq, e.extract.cfg.Q, e.extract.cfg.Canonicalize) {
		key := string(km)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kmers = append(kmers, append([]byte(nil), km...))
	}
	// An empty query, or one shorter than q, windows to zero k-mers
	// (spec §8 edge cases); both report an empty result. A k-mer repeated
	// within the query contributes once: counts and the threshold
	// denominator are both over the deduplicated set.
	if len(kmers) == 0 {
		return nil, nil
	}

	universe := allNames(idx)
	filter := NewQueryResultFilter(names, universe)
	totals := make([]int, len(universe))
	for s := 0; s < idx.NumSubIndices(); s++ {
		offset := columnOffset(idx, s)
		// A sub-index none of whose columns the name filter admits is not
		// probed.
		if filter != nil {
			columns := roaring.New()
			columns.AddRange(uint64(offset), uint64(offset)+uint64(idx.Header.SubIndices[s].N()))
			if !filter.bitmap.Intersects(columns) {
				continue
			}
		}
		counts, err := e.searchSubIndex(idx, s, kmers)
		if err != nil {
			return nil, err
		}
		for c, n := range counts {
			totals[offset+c] += n
		}
	}

	min := int(threshold * float64(len(kmers)))

	hits := make([]QueryHit, 0, len(totals))
	for c, count := range totals {
		if count < min || !filter.admits(uint32(c)) {
			continue
		}
		hits = append(hits, QueryHit{Name: universe[c], Count: count})
	}

	// Descending count, column order as the tie-break; SliceStable over
	// the column-ordered input preserves that tie-break for free.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Count > hits[j].Count
	})

	return limitHits(hits, topK), nil
}

// searchSubIndex probes every k-mer's k rows, AND-reduces each k-mer's
// rows, and accumulates a per-column hit count across all of the
// sub-index's documents.
func (e *QueryEngine) searchSubIndex(idx *CompactIndex, s int, kmers [][]byte) ([]int, error) {
	sub := idx.Header.SubIndices[s]
	n := sub.N()
	width := int(rowByteWidth(n))

	rows := make([]uint64, 0, len(kmers)*e.k)
	for _, km := range kmers {
		for i := 0; i < e.k; i++ {
			rows = append(rows, HashRow(e.hash, km, i, sub.M))
		}
	}

	pages, err := e.backend.Probe(s, rows)
	if err != nil {
		return nil, err
	}

	partials := make([][]int, len(kmers))
	var g errgroup.Group
	if e.workers > 0 {
		g.SetLimit(e.workers)
	}
	for qi := range kmers {
		qi := qi
		g.Go(func() error {
			reduced := andReduceRows(pages[qi*e.k:(qi+1)*e.k], width)
			partials[qi] = setColumns(reduced, n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make([]int, n)
	for _, cols := range partials {
		for _, c := range cols {
			counts[c]++
		}
	}
	return counts, nil
}

// andReduceRows bitwise-ANDs k equal-length pages into one reduced row.
func andReduceRows(pages [][]byte, width int) []byte {
	out := make([]byte, width)
	copy(out, pages[0][:width])
	for _, p := range pages[1:] {
		for i := 0; i < width; i++ {
			out[i] &= p[i]
		}
	}
	return out
}

// setColumns returns the set column indices in row, scanning 8 bytes at
// a time: math/bits.OnesCount64 skips all-zero words without touching
// individual bits, and bits.TrailingZeros64 together with word &= word-1
// extracts only the set bits of words that have any. The returned slice
// is allocated per call, i.e. once per k-mer.
func setColumns(row []byte, n uint32) []int {
	var cols []int
	var wordBuf [8]byte
	for base := 0; base < len(row); base += 8 {
		end := base + 8
		if end > len(row) {
			end = len(row)
		}
		wordBuf = [8]byte{}
		copy(wordBuf[:], row[base:end])
		word := binary.LittleEndian.Uint64(wordBuf[:])
		if bits.OnesCount64(word) == 0 {
			continue
		}
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			col := uint32(base*8 + bit)
			if col < n {
				cols = append(cols, int(col))
			}
			word &= word - 1
		}
	}
	return cols
}

func columnOffset(idx *CompactIndex, s int) int {
	offset := 0
	for i := 0; i < s; i++ {
		offset += int(idx.Header.SubIndices[i].N())
	}
	return offset
}

func allNames(idx *CompactIndex) []string {
	var names []string
	for _, s := range idx.Header.SubIndices {
		names = append(names, s.Names...)
	}
	return names
}
