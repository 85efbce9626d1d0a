package cobs

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// CompactIndexConfig controls the sizing policy of CompactIndexWriter.
type CompactIndexConfig struct {
	// PageSize is the on-disk page size P: a power of two, a multiple of
	// the OS page size (typically 4096).
	PageSize uint32
	// GroupSize is the number of documents G per size class. Must be a
	// multiple of 8.
	GroupSize int
	// K is the number of hash functions shared by every sub-index.
	K int
	// FalsePositiveRate is the target Bloom false-positive rate p in (0,1).
	FalsePositiveRate float64
	// Canonicalize is recorded in the header; see KmerExtractorConfig.
	Canonicalize bool
	// MergeBatchSize bounds how many documents' Bloom filters are held in
	// memory at once while building one size class: a size class larger
	// than MergeBatchSize is built as several classic blocks combined by
	// IndexMerger, keeping per-batch memory bounded (spec §1). Zero means
	// build every size class in a single batch.
	MergeBatchSize int
	// MergeWorkers bounds the goroutines IndexMerger uses to merge row
	// ranges concurrently. Zero means unbounded.
	MergeWorkers int
	// TempDir is the parent directory for the per-group scratch
	// directories IndexMerger works in. Empty means os.TempDir().
	TempDir string
}

// Validate checks the configuration-level invariants named in spec §7:
// P must be page-aligned, G must be a multiple of 8, p must be in (0,1),
// k must be nonzero.
func (c CompactIndexConfig) Validate() error {
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("%w: page size must be a power of two, got %d", ErrConfigurationInvalid, c.PageSize)
	}
	if c.GroupSize <= 0 || c.GroupSize%8 != 0 {
		return fmt.Errorf("%w: group size must be a positive multiple of 8, got %d", ErrConfigurationInvalid, c.GroupSize)
	}
	if c.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrConfigurationInvalid, c.K)
	}
	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		return fmt.Errorf("%w: false positive rate must be in (0,1), got %f", ErrConfigurationInvalid, c.FalsePositiveRate)
	}
	if width := rowByteWidth(uint32(c.GroupSize)); width > c.PageSize {
		return fmt.Errorf("%w: group size %d needs %d bytes per row, which exceeds page size %d", ErrConfigurationInvalid, c.GroupSize, width, c.PageSize)
	}
	if osPageSize := os.Getpagesize(); int(c.PageSize)%osPageSize != 0 {
		return fmt.Errorf("%w: page size %d is not a multiple of the OS page size %d", ErrConfigurationInvalid, c.PageSize, osPageSize)
	}
	return nil
}

// CompactIndexWriter partitions documents into size-classed groups and
// packs each group's Bloom signatures, at the group's own size, into one
// page-aligned file (spec §4.5).
type CompactIndexWriter struct {
	builder *BloomBuilder
	extract *KmerExtractor
	cfg     CompactIndexConfig
}

// NewCompactIndexWriter returns a writer using builder and extract to turn
// documents into Bloom filters.
func NewCompactIndexWriter(builder *BloomBuilder, extract *KmerExtractor, cfg CompactIndexConfig) (*CompactIndexWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CompactIndexWriter{builder: builder, extract: extract, cfg: cfg}, nil
}

// docGroup is one size class: a contiguous run of documents (in ascending
// size-requirement order) sharing one sub-index.
type docGroup struct {
	docs []DocumentEntry
	m    uint64
}

// planGroups sorts docs ascending by their Bloom size requirement and
// partitions them into groups of exactly GroupSize documents (the last
// group may be short), choosing each group's m_s as the requirement of
// its largest document, rounded up to a multiple of P/ceil(G/8) so rows
// stay page-aligned after packing.
func (w *CompactIndexWriter) planGroups(docs []DocumentEntry) ([]docGroup, error) {
	type sized struct {
		entry DocumentEntry
		req   uint64
	}
	sizedDocs := make([]sized, len(docs))
	for i, d := range docs {
		req, err := SizeForByteSize(d.Size, w.cfg.K, w.cfg.FalsePositiveRate)
		if err != nil {
			return nil, err
		}
		sizedDocs[i] = sized{entry: d, req: req}
	}
	sort.SliceStable(sizedDocs, func(i, j int) bool {
		if sizedDocs[i].req != sizedDocs[j].req {
			return sizedDocs[i].req < sizedDocs[j].req
		}
		return lessByName(sizedDocs[i].entry, sizedDocs[j].entry)
	})

	var groups []docGroup
	for start := 0; start < len(sizedDocs); start += w.cfg.GroupSize {
		end := start + w.cfg.GroupSize
		if end > len(sizedDocs) {
			end = len(sizedDocs)
		}
		chunk := sizedDocs[start:end]

		maxReq := uint64(0)
		entries := make([]DocumentEntry, len(chunk))
		for i, s := range chunk {
			entries[i] = s.entry
			if s.req > maxReq {
				maxReq = s.req
			}
		}

		width := rowByteWidth(uint32(w.cfg.GroupSize))
		m := w.alignGroupSize(maxReq, width)
		groups = append(groups, docGroup{docs: entries, m: m})
	}
	return groups, nil
}

// alignGroupSize rounds m up to the nearest multiple of P/width, per the
// page-alignment requirement in spec §4.5.
func (w *CompactIndexWriter) alignGroupSize(m uint64, width uint32) uint64 {
	if width == 0 || width > w.cfg.PageSize {
		width = w.cfg.PageSize
	}
	multiple := uint64(w.cfg.PageSize) / uint64(width)
	if multiple == 0 {
		multiple = 1
	}
	return roundUpToMultiple(m, multiple)
}

// Write builds every group's Bloom filters and packs them into one
// compact index file at outPath.
func (w *CompactIndexWriter) Write(docs []DocumentEntry, outPath string, sink ProgressSink) error {
	if sink == nil {
		sink = DiscardProgress()
	}
	groups, err := w.planGroups(docs)
	if err != nil {
		return err
	}

	if err := assertDisjointDocumentSets(groups); err != nil {
		return err
	}

	subIndices := make([]subIndexHeader, len(groups))
	rowSets := make([][][]byte, len(groups))

	for gi, g := range groups {
		label := fmt.Sprintf("group[%d docs @ m=%d]", len(g.docs), g.m)
		sink.OnBatchStart(gi+1, label)

		block, err := w.buildGroupBlock(g, sink)
		if err != nil {
			return err
		}

		rows := make([][]byte, len(block.Rows))
		for r, packed := range block.Rows {
			row := make([]byte, w.cfg.PageSize)
			copy(row, packed)
			rows[r] = row
		}

		subIndices[gi] = subIndexHeader{M: block.M, K: block.K, Names: block.Names}
		rowSets[gi] = rows

		sink.OnBatchDone(gi+1, label)
	}

	return writeCompactIndexFile(outPath, w.cfg.PageSize, w.cfg.Canonicalize, subIndices, rowSets)
}

// buildGroupBlock builds one size class's Bloom signatures via
// ClassicIndexWriter, in sub-batches of MergeBatchSize documents to keep
// memory bounded, then hierarchically combines the sub-batches with
// IndexMerger into a single block covering the whole group.
func (w *CompactIndexWriter) buildGroupBlock(g docGroup, sink ProgressSink) (*ClassicIndexBlock, error) {
	batchSize := w.cfg.MergeBatchSize
	if batchSize <= 0 || batchSize > len(g.docs) {
		batchSize = len(g.docs)
	}

	tmpDir, err := os.MkdirTemp(w.cfg.TempDir, "cobs-group-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	defer os.RemoveAll(tmpDir)

	workspace, err := newBuildWorkspace(tmpDir)
	if err != nil {
		return nil, err
	}
	defer workspace.close()

	classicWriter := NewClassicIndexWriter(w.builder, w.extract, g.m, w.cfg.K)

	for start := 0; start < len(g.docs); start += batchSize {
		end := start + batchSize
		if end > len(g.docs) {
			end = len(g.docs)
		}
		if err := classicWriter.WriteBatch(g.docs[start:end], workspace.nextBatchPath()); err != nil {
			return nil, err
		}
	}

	merger := NewIndexMerger(maxInt(batchSize, 2), w.cfg.MergeWorkers, sink)
	finalPath, err := merger.MergeDirectory(tmpDir)
	if err != nil {
		return nil, err
	}
	return ReadClassicIndexFile(finalPath)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// assertDisjointDocumentSets verifies the partition invariant (spec §3):
// document sets across sub-indices are disjoint by document identity
// (Path, SubIndex), not merely by position. Each distinct identity is
// assigned a bitmap id on first sight; a group's bitmap intersecting the
// union of all earlier groups' bitmaps means some document was placed
// into more than one size class.
func assertDisjointDocumentSets(groups []docGroup) error {
	ids := make(map[string]uint32)
	var nextID uint32

	seen := roaring.New()
	for _, g := range groups {
		group := roaring.New()
		for _, d := range g.docs {
			key := fmt.Sprintf("%s\x00%d", d.Path, d.SubIndex)
			id, ok := ids[key]
			if !ok {
				id = nextID
				nextID++
				ids[key] = id
			}
			group.Add(id)
		}
		if seen.Intersects(group) {
			return fmt.Errorf("%w: document sets across sub-indices must be disjoint", ErrConfigurationInvalid)
		}
		seen.Or(group)
	}
	return nil
}

func writeCompactIndexFile(path string, pageSize uint32, canonicalize bool, subIndices []subIndexHeader, rowSets [][][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}

	if err := writeCompactIndexBody(f, pageSize, canonicalize, subIndices, rowSets); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return nil
}

func writeCompactIndexBody(w io.Writer, pageSize uint32, canonicalize bool, subIndices []subIndexHeader, rowSets [][][]byte) error {
	h := indexHeader{PageSize: pageSize, Canonicalize: canonicalize, SubIndices: subIndices}
	written, err := encodeIndexHeader(w, h)
	if err != nil {
		return err
	}

	if pad := padToPage(written, int64(pageSize)); pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("%w: %v", ErrIoFailure, err)
		}
	}

	for _, rows := range rowSets {
		for _, row := range rows {
			if _, err := w.Write(row); err != nil {
				return fmt.Errorf("%w: %v", ErrIoFailure, err)
			}
		}
	}
	return nil
}

func padToPage(written int64, pageSize int64) int64 {
	if pageSize == 0 {
		return 0
	}
	rem := written % pageSize
	if rem == 0 {
		return 0
	}
	return pageSize - rem
}

// CompactIndex is the parsed form of an opened compact index file: its
// header plus the byte offsets backends need to compute probe addresses.
type CompactIndex struct {
	Path       string
	Header     indexHeader
	DataStart  int64
	baseOffset []int64
}

// OpenCompactIndex reads and validates path's header without reading any
// row data; backends use the returned CompactIndex to compute probe
// offsets and open their own file handles.
func OpenCompactIndex(path string) (*CompactIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	defer f.Close()

	h, consumed, err := decodeIndexHeader(f)
	if err != nil {
		return nil, err
	}

	dataStart := consumed
	if h.PageSize > 0 {
		dataStart += padToPage(consumed, int64(h.PageSize))
	}

	idx := &CompactIndex{Path: path, Header: h, DataStart: dataStart}
	idx.baseOffset = make([]int64, len(h.SubIndices))
	offset := dataStart
	for i, s := range h.SubIndices {
		idx.baseOffset[i] = offset
		offset += int64(s.M) * int64(h.PageSize)
	}
	return idx, nil
}

// BaseOffset returns sub-index s's base byte offset, which is always a
// multiple of the page size (spec §8 "Page alignment").
func (idx *CompactIndex) BaseOffset(s int) int64 {
	return idx.baseOffset[s]
}

// RowOffset returns the byte offset of row r within sub-index s.
func (idx *CompactIndex) RowOffset(s int, r uint64) int64 {
	return idx.baseOffset[s] + int64(r)*int64(idx.Header.PageSize)
}

// NumSubIndices returns the number of sub-indices in the index.
func (idx *CompactIndex) NumSubIndices() int {
	return len(idx.Header.SubIndices)
}
