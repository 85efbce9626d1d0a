package cobs

import (
	"fmt"
	"io"
	"os"
)

// ClassicIndexBlock is a row-major bit matrix of shape (m rows x N
// columns), one column per document's frozen Bloom filter, packed to
// rowByteWidth(N) bytes per row. Row r bit c is 1 iff document c's Bloom
// filter has bit r set.
type ClassicIndexBlock struct {
	M     uint64
	K     uint16
	Names []string
	// Rows holds m packed rows, each rowByteWidth(len(Names)) bytes.
	Rows [][]byte
}

// NewClassicIndexBlock packs filters (one per name, in input order; column
// c corresponds to the c-th filter) into a block. All filters must share
// the same m and k.
func NewClassicIndexBlock(filters []*BloomFilter, names []string) (*ClassicIndexBlock, error) {
	if len(filters) != len(names) {
		return nil, fmt.Errorf("%w: filter count %d does not match name count %d", ErrConfigurationInvalid, len(filters), len(names))
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrConfigurationInvalid)
	}
	m, k := filters[0].M(), filters[0].K()
	for _, f := range filters[1:] {
		if f.M() != m || f.K() != k {
			return nil, fmt.Errorf("%w: all filters in a batch must share (m, k)", ErrConfigurationInvalid)
		}
	}

	n := uint32(len(filters))
	width := rowByteWidth(n)
	rows := make([][]byte, m)
	for r := uint64(0); r < m; r++ {
		row := make([]byte, width)
		for c, f := range filters {
			if f.Test(r) {
				setColumnBit(row, uint32(c))
			}
		}
		rows[r] = row
	}

	return &ClassicIndexBlock{
		M:     m,
		K:     uint16(k),
		Names: append([]string(nil), names...),
		Rows:  rows,
	}, nil
}

// N returns the block's column count.
func (b *ClassicIndexBlock) N() uint32 { return uint32(len(b.Names)) }

// WriteTo serializes the block: the shared header with one sub-index
// (S=1, no page padding), then m contiguous rows.
func (b *ClassicIndexBlock) WriteTo(w io.Writer) (int64, error) {
	h := indexHeader{
		PageSize: 0,
		SubIndices: []subIndexHeader{
			{M: b.M, K: b.K, Names: b.Names},
		},
	}
	written, err := encodeIndexHeader(w, h)
	if err != nil {
		return 0, err
	}
	for _, row := range b.Rows {
		n, err := w.Write(row)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrIoFailure, err)
		}
		written += int64(n)
	}
	return written, nil
}

// ReadClassicIndexBlock deserializes a block written by WriteTo.
func ReadClassicIndexBlock(r io.Reader) (*ClassicIndexBlock, error) {
	h, _, err := decodeIndexHeader(r)
	if err != nil {
		return nil, err
	}
	if len(h.SubIndices) != 1 {
		return nil, fmt.Errorf("%w: classic index must have exactly one sub-index, got %d", ErrIntegrityFailure, len(h.SubIndices))
	}
	s := h.SubIndices[0]
	width := rowByteWidth(s.N())

	rows := make([][]byte, s.M)
	for i := uint64(0); i < s.M; i++ {
		row := make([]byte, width)
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, fmt.Errorf("%w: truncated row %d: %v", ErrIntegrityFailure, i, err)
		}
		rows[i] = row
	}

	return &ClassicIndexBlock{M: s.M, K: s.K, Names: s.Names, Rows: rows}, nil
}

// WriteClassicIndexFile writes block to a new file at path, unlinking the
// partial file on any write failure (spec §7: IoFailure leaves no partial
// output).
func WriteClassicIndexFile(path string, block *ClassicIndexBlock) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	if _, err := block.WriteTo(f); err != nil {
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

// ReadClassicIndexFile opens and deserializes a classic index file.
func ReadClassicIndexFile(path string) (*ClassicIndexBlock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	defer f.Close()
	return ReadClassicIndexBlock(f)
}

// ClassicIndexWriter batch-builds Bloom filters for a run of documents and
// writes them as one ClassicIndexBlock. Every filter of a batch has the
// writer's (m, k); column names are taken from the document entries.
type ClassicIndexWriter struct {
	builder *BloomBuilder
	extract *KmerExtractor
	m       uint64
	k       int
}

// NewClassicIndexWriter builds filters of signature size m with k hash
// functions via builder, extracting k-mers with extract.
func NewClassicIndexWriter(builder *BloomBuilder, extract *KmerExtractor, m uint64, k int) *ClassicIndexWriter {
	return &ClassicIndexWriter{builder: builder, extract: extract, m: m, k: k}
}

// WriteBatch builds one Bloom filter per entry in batch (column order
// equals input order, per the stability invariant) and writes them to
// outPath as a ClassicIndexBlock.
func (w *ClassicIndexWriter) WriteBatch(batch []DocumentEntry, outPath string) error {
	filters := make([]*BloomFilter, len(batch))
	names := make([]string, len(batch))

	for i, entry := range batch {
		kmers, err := w.extract.Extract(entry)
		if err != nil {
			return err
		}
		filter, err := w.builder.Build(kmers, w.m, w.k)
		if err != nil {
			return err
		}
		filters[i] = filter
		names[i] = entry.Name()
	}

	block, err := NewClassicIndexBlock(filters, names)
	if err != nil {
		return err
	}
	return WriteClassicIndexFile(outPath, block)
}
