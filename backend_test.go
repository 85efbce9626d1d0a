package cobs

import (
	"bytes"
	"path/filepath"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

// buildTestCompactIndex writes a small, one-group compact index with three
// documents and returns its path alongside the ClassicIndexBlock whose
// rows the backends under test are expected to reproduce.
func buildTestCompactIndex(t *testing.T, dir string, pageSize uint32) (string, *ClassicIndexBlock) {
	t.Helper()
	hash := NewXXHashFamily()
	filters := buildTestFilters(t, hash, 256, 3, [][]string{
		{"AAAA", "CCCC"},
		{"GGGG"},
		{"TTTT", "ACGT", "GATC"},
	})
	names := []string{"doc0", "doc1", "doc2"}
	block, err := NewClassicIndexBlock(filters, names)
	if err != nil {
		t.Fatalf("NewClassicIndexBlock: %v", err)
	}

	rows := make([][]byte, len(block.Rows))
	for i, row := range block.Rows {
		padded := make([]byte, pageSize)
		copy(padded, row)
		rows[i] = padded
	}
	subIndices := []subIndexHeader{{M: block.M, K: block.K, Names: block.Names}}

	path := filepath.Join(dir, "test.cobs_compact")
	if err := writeCompactIndexFile(path, pageSize, false, subIndices, [][][]byte{rows}); err != nil {
		t.Fatalf("writeCompactIndexFile: %v", err)
	}
	return path, block
}

func TestBufferedBackendProbeMatchesBlock(t *testing.T) {
	dir := t.TempDir()
	pageSize := uint32(unix.Getpagesize())
	path, block := buildTestCompactIndex(t, dir, pageSize)

	idx, err := OpenCompactIndex(path)
	if err != nil {
		t.Fatalf("OpenCompactIndex: %v", err)
	}
	backend, err := OpenBuffered(idx)
	if err != nil {
		t.Fatalf("OpenBuffered: %v", err)
	}
	defer backend.Close()

	rows := []uint64{0, 1, block.M - 1}
	pages, err := backend.Probe(0, rows)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	width := int(rowByteWidth(block.N()))
	for i, r := range rows {
		if !bytes.Equal(pages[i][:width], block.Rows[r]) {
			t.Fatalf("row %d: probe bytes %v, want %v", r, pages[i][:width], block.Rows[r])
		}
	}
}

func TestBufferedBackendProbeRejectsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	pageSize := uint32(unix.Getpagesize())
	path, block := buildTestCompactIndex(t, dir, pageSize)

	idx, err := OpenCompactIndex(path)
	if err != nil {
		t.Fatalf("OpenCompactIndex: %v", err)
	}
	backend, err := OpenBuffered(idx)
	if err != nil {
		t.Fatalf("OpenBuffered: %v", err)
	}
	defer backend.Close()

	if _, err := backend.Probe(0, []uint64{block.M}); err == nil {
		t.Fatal("expected error probing a row past M")
	}
	if _, err := backend.Probe(1, []uint64{0}); err == nil {
		t.Fatal("expected error probing a sub-index past NumSubIndices")
	}
}

func TestMemoryMappedBackendProbeMatchesBuffered(t *testing.T) {
	dir := t.TempDir()
	pageSize := uint32(unix.Getpagesize())
	path, block := buildTestCompactIndex(t, dir, pageSize)

	idx, err := OpenCompactIndex(path)
	if err != nil {
		t.Fatalf("OpenCompactIndex: %v", err)
	}

	buffered, err := OpenBuffered(idx)
	if err != nil {
		t.Fatalf("OpenBuffered: %v", err)
	}
	defer buffered.Close()

	mapped, err := OpenMemoryMapped(idx)
	if err != nil {
		t.Fatalf("OpenMemoryMapped: %v", err)
	}
	defer mapped.Close()

	rows := []uint64{0, 1, block.M - 1}
	a, err := buffered.Probe(0, rows)
	if err != nil {
		t.Fatalf("buffered Probe: %v", err)
	}
	b, err := mapped.Probe(0, rows)
	if err != nil {
		t.Fatalf("mmap Probe: %v", err)
	}
	for i := range rows {
		if !bytes.Equal(a[i], b[i]) {
			t.Fatalf("row %d differs between backends: buffered=%v mmap=%v", rows[i], a[i], b[i])
		}
	}
}

func TestAsyncDirectBackendRejectsUnalignedPageSize(t *testing.T) {
	idx := &CompactIndex{Header: indexHeader{PageSize: uint32(unix.Getpagesize()) + 1}}
	if _, err := OpenAsyncDirect(idx, 16, nil); err == nil {
		t.Fatal("expected error opening with a page size not a multiple of the OS page size")
	}
}

func TestAsyncDirectBackendRejectsBadRingCapacity(t *testing.T) {
	idx := &CompactIndex{Header: indexHeader{PageSize: uint32(unix.Getpagesize())}}
	if _, err := OpenAsyncDirect(idx, 0, nil); err == nil {
		t.Fatal("expected error for non-positive ring capacity")
	}
}

func TestNewAlignedBufferIsPageAligned(t *testing.T) {
	align := unix.Getpagesize()
	buf := newAlignedBuffer(align, align)
	if len(buf) != align {
		t.Fatalf("len(buf) = %d, want %d", len(buf), align)
	}
	if addr := uintptr(unsafe.Pointer(&buf[0])); addr%uintptr(align) != 0 {
		t.Fatalf("buffer address %#x is not aligned to %d", addr, align)
	}
}
