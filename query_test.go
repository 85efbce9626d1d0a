package cobs

import (
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

// buildSearchableIndex writes a compact index over three short documents
// with a small k so exact matches are reliable even with noise from
// Bloom false positives.
func buildSearchableIndex(t *testing.T, dir string) (*CompactIndex, *KmerExtractor, HashFamily, int) {
	t.Helper()
	docDir := t.TempDir()
	docs := []struct {
		name string
		seq  string
	}{
		{"alpha.txt", "ACGTACGTACGT"},
		{"beta.txt", "TTTTGGGGCCCC"},
		{"gamma.txt", "AAAACCCCGGGG"},
	}

	entries := make([]DocumentEntry, len(docs))
	for i, d := range docs {
		path := filepath.Join(docDir, d.name)
		writeFile(t, path, d.seq)
		entries[i] = DocumentEntry{Path: path, Kind: FileKindText, Size: int64(len(d.seq))}
	}

	hash := NewXXHashFamily()
	const k = 3
	const q = 4
	extract, err := NewKmerExtractor(KmerExtractorConfig{Q: q}, nil, nil)
	if err != nil {
		t.Fatalf("NewKmerExtractor: %v", err)
	}
	builder := NewBloomBuilder(hash)

	cfg := CompactIndexConfig{PageSize: uint32(unix.Getpagesize()), GroupSize: 8, K: k, FalsePositiveRate: 0.001}
	w, err := NewCompactIndexWriter(builder, extract, cfg)
	if err != nil {
		t.Fatalf("NewCompactIndexWriter: %v", err)
	}

	outPath := filepath.Join(dir, "search.cobs_compact")
	if err := w.Write(entries, outPath, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	idx, err := OpenCompactIndex(outPath)
	if err != nil {
		t.Fatalf("OpenCompactIndex: %v", err)
	}
	return idx, extract, hash, k
}

func TestQueryEngineFindsExactMatch(t *testing.T) {
	dir := t.TempDir()
	idx, extract, hash, k := buildSearchableIndex(t, dir)

	backend, err := OpenBuffered(idx)
	if err != nil {
		t.Fatalf("OpenBuffered: %v", err)
	}
	defer backend.Close()

	engine, err := NewQueryEngine(backend, extract, hash, k, 0)
	if err != nil {
		t.Fatalf("NewQueryEngine: %v", err)
	}

	hits, err := engine.NewSearch().WithSequence([]byte("ACGTACGTACGT")).WithThreshold(0.5).Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit for a document's own sequence")
	}
	if hits[0].Name != "alpha.txt" {
		t.Fatalf("top hit = %s, want alpha.txt", hits[0].Name)
	}
}

func TestQueryEngineEmptySequenceYieldsNoHits(t *testing.T) {
	dir := t.TempDir()
	idx, extract, hash, k := buildSearchableIndex(t, dir)

	backend, err := OpenBuffered(idx)
	if err != nil {
		t.Fatalf("OpenBuffered: %v", err)
	}
	defer backend.Close()

	engine, err := NewQueryEngine(backend, extract, hash, k, 0)
	if err != nil {
		t.Fatalf("NewQueryEngine: %v", err)
	}

	hits, err := engine.NewSearch().WithSequence(nil).Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hits != nil {
		t.Fatalf("expected nil hits for an empty query, got %v", hits)
	}
}

func TestQueryEngineSequenceShorterThanQYieldsNoHits(t *testing.T) {
	dir := t.TempDir()
	idx, extract, hash, k := buildSearchableIndex(t, dir)

	backend, err := OpenBuffered(idx)
	if err != nil {
		t.Fatalf("OpenBuffered: %v", err)
	}
	defer backend.Close()

	engine, err := NewQueryEngine(backend, extract, hash, k, 0)
	if err != nil {
		t.Fatalf("NewQueryEngine: %v", err)
	}

	hits, err := engine.NewSearch().WithSequence([]byte("AC")).Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if hits != nil {
		t.Fatalf("expected nil hits for a query shorter than q, got %v", hits)
	}
}

func TestQueryEngineTopKClamps(t *testing.T) {
	dir := t.TempDir()
	idx, extract, hash, k := buildSearchableIndex(t, dir)

	backend, err := OpenBuffered(idx)
	if err != nil {
		t.Fatalf("OpenBuffered: %v", err)
	}
	defer backend.Close()

	engine, err := NewQueryEngine(backend, extract, hash, k, 0)
	if err != nil {
		t.Fatalf("NewQueryEngine: %v", err)
	}

	hits, err := engine.NewSearch().WithSequence([]byte("ACGTACGTACGT")).WithThreshold(0).WithTopK(1).Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(hits) > 1 {
		t.Fatalf("got %d hits, want at most 1 (topK=1)", len(hits))
	}
}

// TestQueryEngineCountIsExactOverRepeatedKmers exercises the
// no-false-negatives property that a reported Count equals the
// cardinality of the query's *set* of distinct k-mers, not the number of
// sliding windows. alpha.txt's sequence is three repeats of the same
// 4-mer cycle (ACGT, CGTA, GTAC, TACG), so a self-query windows to 9
// k-mers but only 4 distinct ones; a correct engine reports Count=4 for
// alpha.txt, not 9.
func TestQueryEngineCountIsExactOverRepeatedKmers(t *testing.T) {
	dir := t.TempDir()
	idx, extract, hash, k := buildSearchableIndex(t, dir)

	backend, err := OpenBuffered(idx)
	if err != nil {
		t.Fatalf("OpenBuffered: %v", err)
	}
	defer backend.Close()

	engine, err := NewQueryEngine(backend, extract, hash, k, 0)
	if err != nil {
		t.Fatalf("NewQueryEngine: %v", err)
	}

	hits, err := engine.NewSearch().WithSequence([]byte("ACGTACGTACGT")).WithThreshold(0).Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var found bool
	for _, h := range hits {
		if h.Name != "alpha.txt" {
			continue
		}
		found = true
		if h.Count != 4 {
			t.Fatalf("alpha.txt Count = %d, want 4 (the deduplicated k-mer set size, not 9 windows)", h.Count)
		}
	}
	if !found {
		t.Fatal("expected a hit for alpha.txt")
	}
}

func TestQueryEngineNameFilter(t *testing.T) {
	dir := t.TempDir()
	idx, extract, hash, k := buildSearchableIndex(t, dir)

	backend, err := OpenBuffered(idx)
	if err != nil {
		t.Fatalf("OpenBuffered: %v", err)
	}
	defer backend.Close()

	engine, err := NewQueryEngine(backend, extract, hash, k, 0)
	if err != nil {
		t.Fatalf("NewQueryEngine: %v", err)
	}

	hits, err := engine.NewSearch().WithSequence([]byte("ACGTACGTACGT")).WithThreshold(0).WithNames("beta.txt", "gamma.txt").Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, h := range hits {
		if h.Name == "alpha.txt" {
			t.Fatalf("name filter should have excluded alpha.txt, got hits %v", hits)
		}
	}
}

func TestSetColumnsFindsAllBits(t *testing.T) {
	row := make([]byte, 16)
	setColumnBit(row, 0)
	setColumnBit(row, 63)
	setColumnBit(row, 64)
	setColumnBit(row, 127)

	cols := setColumns(row, 128)
	want := map[int]bool{0: true, 63: true, 64: true, 127: true}
	if len(cols) != len(want) {
		t.Fatalf("setColumns found %d bits, want %d", len(cols), len(want))
	}
	for _, c := range cols {
		if !want[c] {
			t.Fatalf("unexpected column %d", c)
		}
	}
}

func TestSetColumnsRespectsColumnBound(t *testing.T) {
	row := make([]byte, 8)
	setColumnBit(row, 5)
	setColumnBit(row, 10) // beyond n, should be excluded
	cols := setColumns(row, 8)
	if len(cols) != 1 || cols[0] != 5 {
		t.Fatalf("setColumns(n=8) = %v, want [5]", cols)
	}
}
