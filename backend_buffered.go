package cobs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// BufferedBackend probes pages through ordinary ReadAt calls, relying on
// the OS page cache. It is the simplest variant and the baseline the
// other two are measured against (spec §4.7).
type BufferedBackend struct {
	idx  *CompactIndex
	file *os.File
}

// OpenBuffered opens idx.Path for buffered reads. The file descriptor is
// hinted FADV_RANDOM since COBS probes never benefit from sequential
// readahead.
func OpenBuffered(idx *CompactIndex) (*BufferedBackend, error) {
	f, err := os.Open(idx.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM); err != nil {
		// Advisory only; a platform that rejects it still reads correctly.
		_ = err
	}
	return &BufferedBackend{idx: idx, file: f}, nil
}

func (b *BufferedBackend) Index() *CompactIndex { return b.idx }

// Probe reads rows sequentially via ReadAt, one page at a time.
func (b *BufferedBackend) Probe(subIndex int, rows []uint64) ([][]byte, error) {
	if err := validateProbe(b.idx, subIndex, rows); err != nil {
		return nil, err
	}
	pages := make([][]byte, len(rows))
	for i, r := range rows {
		page := make([]byte, b.idx.Header.PageSize)
		off := b.idx.RowOffset(subIndex, r)
		if _, err := b.file.ReadAt(page, off); err != nil {
			return nil, fmt.Errorf("%w: probe row %d: %v", ErrIoFailure, r, err)
		}
		pages[i] = page
	}
	return pages, nil
}

func (b *BufferedBackend) Close() error {
	if err := b.file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return nil
}
