/*
Package cobs implements a Bloom-filter-based inverted index for approximate
membership queries over large collections of biological sequence documents.

# Overview

cobs indexes q-grams (fixed-width substrings, "k-mers") extracted from text,
FASTA/FASTQ, Cortex-binary, or pre-built k-mer buffer documents into a
signature matrix: rows are Bloom-filter bit positions, columns are documents.
A query reduces to a bitwise AND across a handful of rows per k-mer followed
by per-column popcount, ranked by hit count.

# Quick Start

Build a compact index from a directory of documents and query it:

	build := cobs.BuildConfig{Root: "samples/", Kind: cobs.FileKindText, Kmer: cobs.KmerExtractorConfig{Q: 31}}
	indexCfg := cobs.CompactIndexConfig{PageSize: 4096, GroupSize: 8, K: 3, FalsePositiveRate: 0.01}
	if err := cobs.BuildCompactIndex(build, indexCfg, "index.cobs_compact"); err != nil {
	    log.Fatal(err)
	}

	idx, err := cobs.OpenCompactIndex("index.cobs_compact")
	if err != nil {
	    log.Fatal(err)
	}
	backend, err := cobs.OpenBuffered(idx)
	if err != nil {
	    log.Fatal(err)
	}
	defer backend.Close()

	extract, _ := cobs.NewKmerExtractor(build.Kmer, nil, nil)
	engine, err := cobs.NewQueryEngine(backend, extract, cobs.NewXXHashFamily(), indexCfg.K, 0)
	if err != nil {
	    log.Fatal(err)
	}
	hits, err := engine.NewSearch().WithSequence([]byte("ACGTACGTAC")).WithThreshold(0.7).WithTopK(10).Execute()

# Index Forms

cobs writes two on-disk forms of the signature matrix:

ClassicIndex: a single uniformly-sized Bloom signature per document, written
by [ClassicIndexWriter]. Simple, used as the unit that [IndexMerger] combines.

CompactIndex: several sub-indices, each sized for a class of documents of
similar byte size, packed into one page-aligned file by [CompactIndexWriter].
Shrinks the index by grouping small documents under small signatures while
keeping every query probe a single device page per hash per sub-index.

# Backends

Three interchangeable [IndexBackend] implementations read the same compact
index file: [BufferedBackend] (OS page cache), [MemoryMappedBackend] (mmap),
and [AsyncDirectBackend] (O_DIRECT with batched asynchronous reads). All three
satisfy the same probe contract and return byte-identical results for the
same query.
*/
package cobs
