package cobs

import (
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestBuildCompactIndexEndToEnd(t *testing.T) {
	docDir := t.TempDir()
	writeFile(t, filepath.Join(docDir, "one.txt"), "ACGTACGTACGT")
	writeFile(t, filepath.Join(docDir, "two.txt"), "TTTTGGGGCCCC")

	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "index.cobs_compact")

	cfg := BuildConfig{
		Root: docDir,
		Kind: FileKindText,
		Kmer: KmerExtractorConfig{Q: 4},
	}
	indexCfg := CompactIndexConfig{
		PageSize:          uint32(unix.Getpagesize()),
		GroupSize:         8,
		K:                 3,
		FalsePositiveRate: 0.01,
	}

	if err := BuildCompactIndex(cfg, indexCfg, outPath); err != nil {
		t.Fatalf("BuildCompactIndex: %v", err)
	}

	idx, err := OpenCompactIndex(outPath)
	if err != nil {
		t.Fatalf("OpenCompactIndex: %v", err)
	}
	if idx.NumSubIndices() != 1 {
		t.Fatalf("NumSubIndices() = %d, want 1", idx.NumSubIndices())
	}
	if int(idx.Header.SubIndices[0].N()) != 2 {
		t.Fatalf("N() = %d, want 2", idx.Header.SubIndices[0].N())
	}
}

func TestBuildCompactIndexRejectsEmptyDirectory(t *testing.T) {
	docDir := t.TempDir()
	outPath := filepath.Join(t.TempDir(), "index.cobs_compact")

	cfg := BuildConfig{Root: docDir, Kind: FileKindText, Kmer: KmerExtractorConfig{Q: 4}}
	indexCfg := CompactIndexConfig{PageSize: uint32(unix.Getpagesize()), GroupSize: 8, K: 3, FalsePositiveRate: 0.01}

	if err := BuildCompactIndex(cfg, indexCfg, outPath); err == nil {
		t.Fatal("expected error for an empty document directory")
	}
}

func TestBuildClassicIndexEndToEnd(t *testing.T) {
	docDir := t.TempDir()
	writeFile(t, filepath.Join(docDir, "one.txt"), "ACGTACGTACGT")
	writeFile(t, filepath.Join(docDir, "two.txt"), "TTTTGGGGCCCC")
	writeFile(t, filepath.Join(docDir, "three.txt"), "AAAACCCCGGGG")

	tmpDir := t.TempDir()
	outPath := filepath.Join(t.TempDir(), "index.cobs_classic")

	cfg := BuildConfig{Root: docDir, Kind: FileKindText, Kmer: KmerExtractorConfig{Q: 4}}

	if err := BuildClassicIndex(cfg, 512, 3, 2, 0, tmpDir, outPath); err != nil {
		t.Fatalf("BuildClassicIndex: %v", err)
	}

	block, err := ReadClassicIndexFile(outPath)
	if err != nil {
		t.Fatalf("ReadClassicIndexFile: %v", err)
	}
	if block.N() != 3 {
		t.Fatalf("N() = %d, want 3", block.N())
	}
}

func TestBuildConfigDefaultsHashAndSink(t *testing.T) {
	docDir := t.TempDir()
	writeFile(t, filepath.Join(docDir, "one.txt"), "ACGTACGT")

	cfg := BuildConfig{Root: docDir, Kind: FileKindText, Kmer: KmerExtractorConfig{Q: 4}}
	extract, builder, sink, err := cfg.newExtractor()
	if err != nil {
		t.Fatalf("newExtractor: %v", err)
	}
	if extract == nil || builder == nil || sink == nil {
		t.Fatal("newExtractor returned a nil collaborator without cfg.Hash/Sink set")
	}
}
