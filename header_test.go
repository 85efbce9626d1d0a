package cobs

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeIndexHeaderRoundTrip(t *testing.T) {
	h := indexHeader{
		PageSize:     4096,
		Canonicalize: true,
		SubIndices: []subIndexHeader{
			{M: 1024, K: 3, Names: []string{"doc1.fasta:0", "doc2.txt"}},
			{M: 2048, K: 3, Names: []string{"doc3.ctx"}},
		},
	}

	var buf bytes.Buffer
	written, err := encodeIndexHeader(&buf, h)
	if err != nil {
		t.Fatalf("encodeIndexHeader: %v", err)
	}
	if written != int64(buf.Len()) {
		t.Fatalf("encodeIndexHeader reported %d bytes, buffer has %d", written, buf.Len())
	}

	got, consumed, err := decodeIndexHeader(&buf)
	if err != nil {
		t.Fatalf("decodeIndexHeader: %v", err)
	}
	if consumed != written {
		t.Fatalf("consumed %d bytes, want %d", consumed, written)
	}
	if got.PageSize != h.PageSize || got.Canonicalize != h.Canonicalize {
		t.Fatalf("decoded header = %+v, want %+v", got, h)
	}
	if len(got.SubIndices) != len(h.SubIndices) {
		t.Fatalf("decoded %d sub-indices, want %d", len(got.SubIndices), len(h.SubIndices))
	}
	for i, s := range got.SubIndices {
		want := h.SubIndices[i]
		if s.M != want.M || s.K != want.K || s.N() != want.N() {
			t.Fatalf("sub-index %d = %+v, want %+v", i, s, want)
		}
		for j, name := range s.Names {
			if name != want.Names[j] {
				t.Fatalf("sub-index %d name %d = %q, want %q", i, j, name, want.Names[j])
			}
		}
	}
}

func TestDecodeIndexHeaderRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("XXXX")
	buf.Write([]byte{0, 0, 0, 0, 0, 0})
	if _, _, err := decodeIndexHeader(&buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeIndexHeaderRejectsTruncated(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("COB") // short of the 4-byte magic
	if _, _, err := decodeIndexHeader(&buf); err == nil {
		t.Fatal("expected error for truncated wrapper")
	}
}

func TestRowByteWidth(t *testing.T) {
	tests := []struct {
		n    uint32
		want uint32
	}{
		{0, 0},
		{1, 1},
		{8, 1},
		{9, 2},
		{64, 8},
		{65, 9},
	}
	for _, tt := range tests {
		if got := rowByteWidth(tt.n); got != tt.want {
			t.Errorf("rowByteWidth(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestSetTestColumnBit(t *testing.T) {
	row := make([]byte, 4)
	setColumnBit(row, 0)
	setColumnBit(row, 9)
	setColumnBit(row, 31)

	for c := uint32(0); c < 32; c++ {
		want := c == 0 || c == 9 || c == 31
		if got := testColumnBit(row, c); got != want {
			t.Errorf("testColumnBit(%d) = %v, want %v", c, got, want)
		}
	}
}
