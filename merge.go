package cobs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"
)

// IndexMerger hierarchically combines level-L ClassicIndexBlock files,
// BatchSize consecutive files at a time, into level-(L+1) blocks, until
// one block remains. Column order at every level is the concatenation of
// input column orders (spec §4.6, §8 "Column stability").
type IndexMerger struct {
	// BatchSize is B: the number of consecutive blocks combined at each
	// level.
	BatchSize int
	// Workers bounds the number of goroutines merging row ranges of one
	// group concurrently. Zero means unbounded (errgroup default).
	Workers int
	Sink    ProgressSink
}

// NewIndexMerger returns a merger combining batchSize blocks per group,
// with up to workers goroutines merging rows within one group.
func NewIndexMerger(batchSize, workers int, sink ProgressSink) *IndexMerger {
	if sink == nil {
		sink = DiscardProgress()
	}
	return &IndexMerger{BatchSize: batchSize, Workers: workers, Sink: sink}
}

// MergeDirectory merges every *.cobs_classic file found directly under
// dir, working level-by-level in sibling directories named
// "<dir>-L2", "<dir>-L3", ..., until one block remains, and returns the
// path to that final block. Temporary level directories are removed once
// the next level is complete.
func (m *IndexMerger) MergeDirectory(dir string) (string, error) {
	files, err := listLevelFiles(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w: no blocks to merge in %s", ErrConfigurationInvalid, dir)
	}
	if len(files) == 1 {
		return files[0], nil
	}

	level := 1
	currentDir := dir
	currentFiles := files

	for len(currentFiles) > 1 {
		nextDir := fmt.Sprintf("%s-L%d", dir, level+1)
		if err := os.MkdirAll(nextDir, 0755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrIoFailure, err)
		}

		nextFiles, err := m.mergeLevel(currentFiles, nextDir)
		if err != nil {
			return "", err
		}

		if currentDir != dir || level > 1 {
			os.RemoveAll(currentDir)
		}

		level++
		currentDir = nextDir
		currentFiles = nextFiles
	}

	return currentFiles[0], nil
}

// mergeLevel partitions files into consecutive runs of BatchSize, merges
// each run column-wise into one block whose column count is the sum of
// its inputs' (B*B at the first level when every input holds B columns;
// fewer for a short final run), and writes the results into outDir.
func (m *IndexMerger) mergeLevel(files []string, outDir string) ([]string, error) {
	var out []string
	groupSeq := 1

	for start := 0; start < len(files); start += m.BatchSize {
		end := start + m.BatchSize
		if end > len(files) {
			end = len(files)
		}
		group := files[start:end]

		name := fmt.Sprintf("%07d-merged.cobs_classic", groupSeq)
		m.Sink.OnBatchStart(groupSeq, name)

		blocks := make([]*ClassicIndexBlock, len(group))
		for i, path := range group {
			blk, err := ReadClassicIndexFile(path)
			if err != nil {
				return nil, err
			}
			blocks[i] = blk
		}

		merged, err := m.mergeColumnwise(blocks)
		if err != nil {
			return nil, err
		}

		outPath := filepath.Join(outDir, name)
		if err := WriteClassicIndexFile(outPath, merged); err != nil {
			return nil, err
		}

		m.Sink.OnBatchDone(groupSeq, name)
		out = append(out, outPath)
		groupSeq++
	}

	return out, nil
}

// mergeColumnwise concatenates blocks' columns in input order into one
// block. All inputs must share (M, K). Rows are partitioned across
// goroutines (disjoint ownership, no synchronization needed per spec §5);
// merging one row reads one row from each input block and concatenates
// their bits into the wider output row.
func (m *IndexMerger) mergeColumnwise(blocks []*ClassicIndexBlock) (*ClassicIndexBlock, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: empty merge group", ErrConfigurationInvalid)
	}
	base := blocks[0]
	for _, b := range blocks[1:] {
		if b.M != base.M || b.K != base.K {
			return nil, fmt.Errorf("%w: blocks in a merge group must share (m, k)", ErrIntegrityFailure)
		}
	}

	var names []string
	colOffsets := make([]uint32, len(blocks))
	var totalN uint32
	for i, b := range blocks {
		colOffsets[i] = totalN
		totalN += b.N()
		names = append(names, b.Names...)
	}
	width := rowByteWidth(totalN)

	rows := make([][]byte, base.M)
	var g errgroup.Group
	if m.Workers > 0 {
		g.SetLimit(m.Workers)
	}

	const chunk = 4096
	for start := uint64(0); start < base.M; start += chunk {
		end := start + chunk
		if end > base.M {
			end = base.M
		}
		start, end := start, end
		g.Go(func() error {
			for r := start; r < end; r++ {
				row := make([]byte, width)
				for i, b := range blocks {
					src := b.Rows[r]
					offset := colOffsets[i]
					for c := uint32(0); c < b.N(); c++ {
						if testColumnBit(src, c) {
							setColumnBit(row, offset+c)
						}
					}
				}
				rows[r] = row
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ClassicIndexBlock{M: base.M, K: base.K, Names: names, Rows: rows}, nil
}

// listLevelFiles returns the *.cobs_classic files directly under dir,
// sorted by name so the numeric batch prefix preserves dispatch order.
func listLevelFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".cobs_classic" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
