package cobs

import (
	"fmt"
)

// BuildConfig controls the top-level build drivers: the document scan,
// k-mer extraction policy, and hashing shared by both index forms.
// Grounded on original_source/lib/msbf.hpp's create_msbf_from_samples,
// which chains the same scan -> group -> per-group Bloom build -> merge
// pipeline this package exposes as BuildCompactIndex.
type BuildConfig struct {
	Root      string
	Kind      FileKind
	Counter   RecordCounter
	Sequences SequenceReader
	Cortex    CortexRecordReader
	Kmer      KmerExtractorConfig
	Hash      HashFamily
	Sink      ProgressSink
}

// newExtractor validates cfg and builds the KmerExtractor and
// BloomBuilder shared by both BuildCompactIndex and BuildClassicIndex.
func (cfg BuildConfig) newExtractor() (*KmerExtractor, *BloomBuilder, ProgressSink, error) {
	if err := cfg.Kmer.Validate(); err != nil {
		return nil, nil, nil, err
	}
	hash := cfg.Hash
	if hash == nil {
		hash = NewXXHashFamily()
	}
	extract, err := NewKmerExtractor(cfg.Kmer, cfg.Sequences, cfg.Cortex)
	if err != nil {
		return nil, nil, nil, err
	}
	sink := cfg.Sink
	if sink == nil {
		sink = DiscardProgress()
	}
	return extract, NewBloomBuilder(hash), sink, nil
}

// BuildCompactIndex scans Root for documents of Kind, partitions them
// into size-classed groups, and writes a compact index to outPath,
// following CompactIndexConfig's sizing policy (spec §1 overview: scan
// -> extract -> build -> pack, in one driver call).
func BuildCompactIndex(cfg BuildConfig, indexCfg CompactIndexConfig, outPath string) error {
	extract, builder, sink, err := cfg.newExtractor()
	if err != nil {
		return err
	}

	docs, err := ScanDirectory(cfg.Root, cfg.Kind, cfg.Counter, sink)
	if err != nil {
		return err
	}
	if docs.Len() == 0 {
		return fmt.Errorf("%w: no documents found under %s", ErrInputMalformed, cfg.Root)
	}

	indexCfg.Canonicalize = cfg.Kmer.Canonicalize
	writer, err := NewCompactIndexWriter(builder, extract, indexCfg)
	if err != nil {
		return err
	}
	return writer.Write(docs.Entries(), outPath, sink)
}

// BuildClassicIndex scans Root for documents of Kind and writes them, in
// batches of batchSize, as classic index blocks under tmpDir, then
// merges them with IndexMerger into one final block written to outPath
// (spec §4.4, §4.6). m and k are the Bloom filter parameters shared by
// every document; unlike the compact form, the classic form uses one
// size for every document.
func BuildClassicIndex(cfg BuildConfig, m uint64, k int, batchSize int, mergeWorkers int, tmpDir, outPath string) error {
	extract, builder, sink, err := cfg.newExtractor()
	if err != nil {
		return err
	}

	docs, err := ScanDirectory(cfg.Root, cfg.Kind, cfg.Counter, sink)
	if err != nil {
		return err
	}
	if docs.Len() == 0 {
		return fmt.Errorf("%w: no documents found under %s", ErrInputMalformed, cfg.Root)
	}
	docs.SortByName()

	writer := NewClassicIndexWriter(builder, extract, m, k)

	workspace, err := newBuildWorkspace(tmpDir)
	if err != nil {
		return err
	}
	defer workspace.close()

	err = docs.ProcessBatches(batchSize, sink, func(batch []DocumentEntry, name string) error {
		return writer.WriteBatch(batch, workspace.nextBatchPath())
	})
	if err != nil {
		return err
	}

	merger := NewIndexMerger(batchSize, mergeWorkers, sink)
	finalPath, err := merger.MergeDirectory(tmpDir)
	if err != nil {
		return err
	}
	if finalPath == outPath {
		return nil
	}
	block, err := ReadClassicIndexFile(finalPath)
	if err != nil {
		return err
	}
	return WriteClassicIndexFile(outPath, block)
}
