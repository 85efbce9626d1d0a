package cobs

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"
)

// SequenceReader is the external FASTA/FASTQ-parsing collaborator (spec §1):
// given a Fasta or Fastq DocumentEntry, it returns the raw nucleotide
// sequence bytes for that entry's record, with quality lines already
// stripped. Locating record boundaries and the FASTA/FASTQ wire format are
// its responsibility; KmerExtractor only slides the q-gram window over the
// bytes it returns.
type SequenceReader interface {
	Sequence(entry DocumentEntry) ([]byte, error)
}

// CortexRecordReader is the external Cortex-binary-parsing collaborator:
// given a CortexBinary DocumentEntry, it returns the q-gram field bytes of
// that entry's record, in de-Bruijn graph order. Interpreting the rest of
// the Cortex record (coverage, edges) is its responsibility.
type CortexRecordReader interface {
	QGram(entry DocumentEntry) ([]byte, error)
}

// KmerExtractorConfig controls q-gram width and canonicalization.
// Canonicalization is a declared build-time option (spec §9 OQ2): once
// chosen it must be recorded in the index header, since a reader cannot
// otherwise tell whether k-mers were canonicalized.
type KmerExtractorConfig struct {
	// Q is the q-gram width in bases. Must be positive.
	Q int
	// Canonicalize replaces each emitted q-gram with the lexicographically
	// smaller of itself and its reverse complement. Does not apply to
	// PreBuiltKmerBuffer documents, which are streamed verbatim.
	Canonicalize bool
}

// Validate checks the configuration against the invariants named in the
// error-handling design (q zero is ConfigurationInvalid).
func (c KmerExtractorConfig) Validate() error {
	if c.Q <= 0 {
		return fmt.Errorf("%w: q must be positive, got %d", ErrConfigurationInvalid, c.Q)
	}
	return nil
}

// KmerExtractor produces the canonical k-mer stream for a DocumentEntry,
// dispatching on its FileKind per the policies in spec §4.2.
type KmerExtractor struct {
	cfg    KmerExtractorConfig
	seqs   SequenceReader
	cortex CortexRecordReader
}

// NewKmerExtractor builds a KmerExtractor. seqs and cortex may be nil if
// the corresponding document kinds are never presented to Extract.
func NewKmerExtractor(cfg KmerExtractorConfig, seqs SequenceReader, cortex CortexRecordReader) (*KmerExtractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &KmerExtractor{cfg: cfg, seqs: seqs, cortex: cortex}, nil
}

// Extract returns the finite, non-restartable sequence of q-grams for
// entry. The returned sequence must be consumed once; calling Extract
// again re-reads the source and yields a fresh sequence.
func (e *KmerExtractor) Extract(entry DocumentEntry) (iter.Seq[[]byte], error) {
	switch entry.Kind {
	case FileKindText:
		return e.extractText(entry.Path)
	case FileKindPreBuiltKmerBuffer:
		return e.extractKmerBuffer(entry.Path)
	case FileKindCortexBinary:
		return e.extractCortex(entry)
	case FileKindFasta, FileKindFastq:
		return e.extractRecord(entry)
	default:
		return nil, fmt.Errorf("%w: unrecognized document kind %v", ErrInputMalformed, entry.Kind)
	}
}

func (e *KmerExtractor) extractText(path string) (iter.Seq[[]byte], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIoFailure, path, err)
	}
	return slidingKmers(data, e.cfg.Q, e.cfg.Canonicalize), nil
}

func (e *KmerExtractor) extractRecord(entry DocumentEntry) (iter.Seq[[]byte], error) {
	if e.seqs == nil {
		return nil, fmt.Errorf("%w: no SequenceReader configured for %v", ErrConfigurationInvalid, entry.Kind)
	}
	seq, err := e.seqs.Sequence(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputMalformed, entry.Path, err)
	}
	return slidingKmers(seq, e.cfg.Q, e.cfg.Canonicalize), nil
}

func (e *KmerExtractor) extractCortex(entry DocumentEntry) (iter.Seq[[]byte], error) {
	if e.cortex == nil {
		return nil, fmt.Errorf("%w: no CortexRecordReader configured", ErrConfigurationInvalid)
	}
	qgram, err := e.cortex.QGram(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputMalformed, entry.Path, err)
	}
	return slidingKmers(qgram, e.cfg.Q, e.cfg.Canonicalize), nil
}

// extractKmerBuffer streams an already-serialized array of fixed-width
// q-grams verbatim: no alphabet check, no canonicalization, since the
// producer already made those decisions.
func (e *KmerExtractor) extractKmerBuffer(path string) (iter.Seq[[]byte], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIoFailure, path, err)
	}
	q := e.cfg.Q

	return func(yield func([]byte) bool) {
		defer f.Close()
		r := bufio.NewReader(f)
		buf := make([]byte, q)
		for {
			_, err := io.ReadFull(r, buf)
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				return
			}
			if !yield(buf) {
				return
			}
		}
	}, nil
}

// slidingKmers emits every length-q substring of data, in order.
// Characters outside the recognized nucleotide alphabet (A, C, G, T, and
// their lowercase forms) truncate the current window: the window resets
// and does not span the invalid character. When canonicalize is set, each
// emitted q-gram is replaced by the lexicographically smaller of itself
// and its reverse complement.
func slidingKmers(data []byte, q int, canonicalize bool) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		window := make([]byte, 0, q)
		for _, c := range data {
			base, ok := normalizeBase(c)
			if !ok {
				window = window[:0]
				continue
			}
			if len(window) == q {
				copy(window, window[1:])
				window[q-1] = base
			} else {
				window = append(window, base)
			}
			if len(window) == q {
				kmer := window
				if canonicalize {
					kmer = canonicalKmer(window)
				}
				if !yield(kmer) {
					return
				}
			}
		}
	}
}

// normalizeBase maps a byte to its uppercase nucleotide form, reporting
// false for anything outside {A,C,G,T} (case-insensitive).
func normalizeBase(c byte) (byte, bool) {
	switch c {
	case 'A', 'a':
		return 'A', true
	case 'C', 'c':
		return 'C', true
	case 'G', 'g':
		return 'G', true
	case 'T', 't':
		return 'T', true
	default:
		return 0, false
	}
}

func complementBase(c byte) byte {
	switch c {
	case 'A':
		return 'T'
	case 'T':
		return 'A'
	case 'C':
		return 'G'
	case 'G':
		return 'C'
	default:
		return c
	}
}

// canonicalKmer returns the lexicographically smaller of kmer and its
// reverse complement. The input window is reused across calls by the
// caller, so this allocates a fresh result rather than mutating in place.
func canonicalKmer(kmer []byte) []byte {
	rc := make([]byte, len(kmer))
	for i, c := range kmer {
		rc[len(kmer)-1-i] = complementBase(c)
	}
	for i := range kmer {
		if kmer[i] != rc[i] {
			if kmer[i] < rc[i] {
				return append([]byte(nil), kmer...)
			}
			return rc
		}
	}
	return append([]byte(nil), kmer...)
}
