package cobs

import (
	"encoding/binary"
	"fmt"
	"io"
)

// On-disk header layout shared by the classic and compact index forms
// (spec §6). Classic form is the compact form with SubIndexCount == 1 and
// no page padding after the header or between rows.
const (
	indexMagic       = "COBS"
	indexVersion     = uint16(1)
	wrapperFixedSize = 4 + 2 + 4 // magic + version + header-length
)

// subIndexHeader describes one sub-index's parameters within the shared
// header payload.
type subIndexHeader struct {
	M     uint64
	K     uint16
	Names []string
}

func (s subIndexHeader) N() uint32 { return uint32(len(s.Names)) }

// indexHeader is the decoded form of the shared header payload: page size,
// the declared canonicalization flag (spec §9 OQ2), and one subIndexHeader
// per sub-index in declared order.
type indexHeader struct {
	PageSize     uint32
	Canonicalize bool
	SubIndices   []subIndexHeader
}

func encodeIndexHeader(w io.Writer, h indexHeader) (int64, error) {
	payload, err := encodeHeaderPayload(h)
	if err != nil {
		return 0, err
	}

	var wrapper [wrapperFixedSize]byte
	copy(wrapper[0:4], []byte(indexMagic))
	binary.LittleEndian.PutUint16(wrapper[4:6], indexVersion)
	binary.LittleEndian.PutUint32(wrapper[6:10], uint32(len(payload)))

	n1, err := w.Write(wrapper[:])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	n2, err := w.Write(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return int64(n1 + n2), nil
}

func encodeHeaderPayload(h indexHeader) ([]byte, error) {
	buf := make([]byte, 0, 64)
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], h.PageSize)
	buf = append(buf, tmp4[:]...)

	if h.Canonicalize {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(h.SubIndices)))
	buf = append(buf, tmp4[:]...)

	for _, s := range h.SubIndices {
		var tmp8 [8]byte
		binary.LittleEndian.PutUint64(tmp8[:], s.M)
		buf = append(buf, tmp8[:]...)

		var tmp2 [2]byte
		binary.LittleEndian.PutUint16(tmp2[:], s.K)
		buf = append(buf, tmp2[:]...)

		binary.LittleEndian.PutUint32(tmp4[:], s.N())
		buf = append(buf, tmp4[:]...)

		for _, name := range s.Names {
			if len(name) > 0xFFFF {
				return nil, fmt.Errorf("%w: document name too long: %s", ErrConfigurationInvalid, name)
			}
			binary.LittleEndian.PutUint16(tmp2[:], uint16(len(name)))
			buf = append(buf, tmp2[:]...)
			buf = append(buf, name...)
		}
	}
	return buf, nil
}

// decodeIndexHeader reads and validates the wrapper and header payload,
// returning the decoded header and the total number of bytes consumed
// (wrapper + payload), so the caller can seek to the first data byte.
func decodeIndexHeader(r io.Reader) (indexHeader, int64, error) {
	var wrapper [wrapperFixedSize]byte
	if _, err := io.ReadFull(r, wrapper[:]); err != nil {
		return indexHeader{}, 0, fmt.Errorf("%w: truncated header: %v", ErrIntegrityFailure, err)
	}
	if string(wrapper[0:4]) != indexMagic {
		return indexHeader{}, 0, fmt.Errorf("%w: bad magic", ErrIntegrityFailure)
	}
	version := binary.LittleEndian.Uint16(wrapper[4:6])
	if version != indexVersion {
		return indexHeader{}, 0, fmt.Errorf("%w: unsupported version %d", ErrIntegrityFailure, version)
	}
	payloadLen := binary.LittleEndian.Uint32(wrapper[6:10])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return indexHeader{}, 0, fmt.Errorf("%w: truncated header payload: %v", ErrIntegrityFailure, err)
	}

	h, err := decodeHeaderPayload(payload)
	if err != nil {
		return indexHeader{}, 0, err
	}
	return h, int64(wrapperFixedSize) + int64(payloadLen), nil
}

func decodeHeaderPayload(buf []byte) (indexHeader, error) {
	if len(buf) < 9 {
		return indexHeader{}, fmt.Errorf("%w: header payload too short", ErrIntegrityFailure)
	}
	h := indexHeader{}
	h.PageSize = binary.LittleEndian.Uint32(buf[0:4])
	h.Canonicalize = buf[4] != 0
	subIndexCount := binary.LittleEndian.Uint32(buf[5:9])
	off := 9

	for i := uint32(0); i < subIndexCount; i++ {
		if off+14 > len(buf) {
			return indexHeader{}, fmt.Errorf("%w: truncated sub-index header", ErrIntegrityFailure)
		}
		s := subIndexHeader{}
		s.M = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		s.K = binary.LittleEndian.Uint16(buf[off : off+2])
		off += 2
		n := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4

		s.Names = make([]string, n)
		for j := uint32(0); j < n; j++ {
			if off+2 > len(buf) {
				return indexHeader{}, fmt.Errorf("%w: truncated document name length", ErrIntegrityFailure)
			}
			nameLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
			off += 2
			if off+nameLen > len(buf) {
				return indexHeader{}, fmt.Errorf("%w: truncated document name", ErrIntegrityFailure)
			}
			s.Names[j] = string(buf[off : off+nameLen])
			off += nameLen
		}
		h.SubIndices = append(h.SubIndices, s)
	}
	return h, nil
}

// rowByteWidth returns ceil(n/8), the number of bytes needed to
// bit-pack n columns.
func rowByteWidth(n uint32) uint32 {
	return (n + 7) / 8
}

// setColumnBit sets column c's bit within a packed row, little-endian
// within the byte: column c occupies bit (c % 8) of byte (c / 8), bit 0
// being the byte's least significant bit.
func setColumnBit(row []byte, c uint32) {
	row[c/8] |= 1 << (c % 8)
}

// testColumnBit reports whether column c's bit is set within a packed row.
func testColumnBit(row []byte, c uint32) bool {
	return row[c/8]&(1<<(c%8)) != 0
}
