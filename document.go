package cobs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileKind tags the document kind recognized by the extension table in
// the external interface (spec §6): .txt, .ctx, .cobs_doc, .fasta, .fastq.
type FileKind int

const (
	// FileKindAny accepts the union of every recognized extension.
	FileKindAny FileKind = iota
	FileKindText
	FileKindCortexBinary
	FileKindPreBuiltKmerBuffer
	FileKindFasta
	FileKindFastq
)

func (k FileKind) extension() string {
	switch k {
	case FileKindText:
		return ".txt"
	case FileKindCortexBinary:
		return ".ctx"
	case FileKindPreBuiltKmerBuffer:
		return ".cobs_doc"
	case FileKindFasta:
		return ".fasta"
	case FileKindFastq:
		return ".fastq"
	default:
		return ""
	}
}

func fileKindForExtension(ext string) (FileKind, bool) {
	switch ext {
	case ".txt":
		return FileKindText, true
	case ".ctx":
		return FileKindCortexBinary, true
	case ".cobs_doc":
		return FileKindPreBuiltKmerBuffer, true
	case ".fasta":
		return FileKindFasta, true
	case ".fastq":
		return FileKindFastq, true
	default:
		return 0, false
	}
}

// DocumentEntry identifies one indexable unit: a whole file for
// single-record kinds, or one record of a multi-record file (Fasta,
// Fastq) for the rest.
//
// Two entries are equal iff (Path, SubIndex) are equal.
type DocumentEntry struct {
	// Path is the absolute path to the backing document file.
	Path string
	// Kind is the document's recognized file kind.
	Kind FileKind
	// Size is the byte size of the document (or, for a sub-document,
	// of its record) used for batching and size-class assignment.
	Size int64
	// SubIndex is zero for single-record kinds and monotonically
	// increasing across the records of one multi-record file.
	SubIndex int
}

// Name returns the synthetic column name for this entry: the file's base
// name, with a ":<sub-index>" suffix for multi-record kinds so sibling
// records of one file remain distinguishable column names.
func (d DocumentEntry) Name() string {
	base := filepath.Base(d.Path)
	if d.Kind == FileKindFasta || d.Kind == FileKindFastq {
		return fmt.Sprintf("%s:%d", base, d.SubIndex)
	}
	return base
}

// Equal reports whether two entries identify the same document.
func (d DocumentEntry) Equal(other DocumentEntry) bool {
	return d.Path == other.Path && d.SubIndex == other.SubIndex
}

// lessByName orders entries by (path, sub-index) ascending, the total
// order named in the data model.
func lessByName(a, b DocumentEntry) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	return a.SubIndex < b.SubIndex
}

// lessBySize orders entries by (size, path) ascending, for size-balanced
// batching.
func lessBySize(a, b DocumentEntry) bool {
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	return a.Path < b.Path
}

// RecordCounter reports how many sub-documents a multi-record file
// contains (its number of FASTA/FASTQ records), so DocumentList can
// explode it into one DocumentEntry per record without parsing sequence
// data. FASTA/FASTQ parsing itself is an external collaborator (spec §1);
// this is the narrow interface cobs needs from it.
type RecordCounter interface {
	// NumRecords returns the byte size of each sub-document in path, in
	// record order; the slice's length is the record count.
	NumRecords(path string) (sizes []int64, err error)
}

// DocumentList enumerates, filters, and orders a collection of
// DocumentEntry values, and partitions them into batches for the build
// pipeline.
type DocumentList struct {
	entries []DocumentEntry
}

// NewDocumentList builds a DocumentList directly from an explicit entry
// list, sorted by name.
func NewDocumentList(entries []DocumentEntry) *DocumentList {
	l := &DocumentList{entries: append([]DocumentEntry(nil), entries...)}
	l.SortByName()
	return l
}

// ScanDirectory recursively enumerates regular files under root whose
// extension matches filter (FileKindAny accepts the union of all
// recognized extensions), classifies each by kind, and sorts the result
// by name. Multi-record files are exploded into one DocumentEntry per
// record via counter. A missing or unreadable file is skipped with a
// warning to sink; a RecordCounter error for a multi-record file aborts
// the scan (a corrupt multi-record file cannot be partially indexed).
func ScanDirectory(root string, filter FileKind, counter RecordCounter, sink ProgressSink) (*DocumentList, error) {
	if sink == nil {
		sink = DiscardProgress()
	}
	var entries []DocumentEntry

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			sink.OnWarning(path, fmt.Errorf("%w: %v", ErrIoFailure, err))
			return nil
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		kind, ok := fileKindForExtension(ext)
		if !ok {
			return nil
		}
		if filter != FileKindAny && filter != kind {
			return nil
		}

		added, addErr := appendEntries(&entries, path, kind, counter)
		if addErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrInputMalformed, path, addErr)
		}
		if !added {
			sink.OnWarning(path, fmt.Errorf("%w: unreadable", ErrIoFailure))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return NewDocumentList(entries), nil
}

func appendEntries(entries *[]DocumentEntry, path string, kind FileKind, counter RecordCounter) (bool, error) {
	if kind == FileKindFasta || kind == FileKindFastq {
		if counter == nil {
			return false, fmt.Errorf("no record counter configured for multi-record kind")
		}
		sizes, err := counter.NumRecords(path)
		if err != nil {
			return false, err
		}
		for i, size := range sizes {
			*entries = append(*entries, DocumentEntry{Path: path, Kind: kind, Size: size, SubIndex: i})
		}
		return true, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	*entries = append(*entries, DocumentEntry{Path: path, Kind: kind, Size: info.Size()})
	return true, nil
}

// Entries returns the list's entries in their current order.
func (l *DocumentList) Entries() []DocumentEntry {
	return l.entries
}

// Len returns the number of entries.
func (l *DocumentList) Len() int {
	return len(l.entries)
}

// SortByName imposes the (path, sub-index) ascending total order.
func (l *DocumentList) SortByName() {
	sort.Slice(l.entries, func(i, j int) bool {
		return lessByName(l.entries[i], l.entries[j])
	})
}

// SortBySize imposes the (size, path) ascending order used for
// size-balanced batching.
func (l *DocumentList) SortBySize() {
	sort.Slice(l.entries, func(i, j int) bool {
		return lessBySize(l.entries[i], l.entries[j])
	})
}

// BatchFunc is invoked by ProcessBatches once per consecutive run of
// entries, with the run and its synthetic batch name.
type BatchFunc func(batch []DocumentEntry, name string) error

// ProcessBatches partitions the list's current order into consecutive
// runs of at most size entries and invokes f with each run and a
// synthetic name "[first_basename-last_basename]", preserving run order.
// A batch size that does not divide the entry count leaves a short, valid
// final batch. Progress events report 1-based batch sequence numbers.
func (l *DocumentList) ProcessBatches(size int, sink ProgressSink, f BatchFunc) error {
	if size <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrConfigurationInvalid)
	}
	if sink == nil {
		sink = DiscardProgress()
	}

	seq := 1
	for start := 0; start < len(l.entries); start += size {
		end := start + size
		if end > len(l.entries) {
			end = len(l.entries)
		}
		batch := l.entries[start:end]
		name := fmt.Sprintf("[%s-%s]", baseName(batch[0].Path), baseName(batch[len(batch)-1].Path))

		sink.OnBatchStart(seq, name)
		if err := f(batch, name); err != nil {
			return fmt.Errorf("batch %s: %w", name, err)
		}
		sink.OnBatchDone(seq, name)
		seq++
	}
	return nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
