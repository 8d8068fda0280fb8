// Package wal implements the append-only, page-granular write-ahead log.
//
// The log is a sequence of fixed-size frames following a fixed-size header.
// Every frame occupies exactly FrameHeaderSize+PageSize bytes on disk so a
// reader can seek directly to frame N without scanning. Frames carry the
// pair of salts of the WAL generation that wrote them (held in memory by
// File; the header has no salt fields); a frame whose salts don't match the
// current generation is foreign (left over from a previous WAL generation,
// or a torn write) and terminates a scan.
package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// PageID identifies a page within the base store. -1 is used by pure
// transaction-marker frames that carry no page payload.
type PageID int32

// NoPage is the sentinel page id for commit-marker frames with no payload.
const NoPage PageID = -1

// Frame flags.
const (
	FlagCommit     byte = 0x01
	FlagCheckpoint byte = 0x02
)

// FrameHeaderSize is the fixed size, in bytes, of a frame header.
const FrameHeaderSize = 40

// Frame is one fixed-size record in the log: a header plus exactly
// PageSize bytes of payload (zero-padded when DataLength < len(Payload)).
type Frame struct {
	FrameNumber uint64
	TxID        uint64
	PageID      PageID
	PageType    byte
	Flags       byte
	DataLength  uint32
	Salt1       uint32
	Salt2       uint32
	Payload     []byte // always page_size bytes; only DataLength are meaningful
}

// IsCommit reports whether this frame carries the commit flag.
func (f *Frame) IsCommit() bool { return f.Flags&FlagCommit != 0 }

// IsCheckpoint reports whether this frame carries the checkpoint flag.
func (f *Frame) IsCheckpoint() bool { return f.Flags&FlagCheckpoint != 0 }

// encode serializes the frame header + payload into buf, which must be at
// least FrameHeaderSize+pageSize bytes. The frame_crc32 field is computed
// over the 36-byte header prefix (everything but the checksum itself)
// followed by DataLength bytes of payload, mirroring the WAL header's own
// header-minus-checksum discipline.
func (f *Frame) encode(buf []byte, pageSize int) {
	binary.LittleEndian.PutUint64(buf[0:8], f.FrameNumber)
	binary.LittleEndian.PutUint64(buf[8:16], f.TxID)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(int32(f.PageID)))
	buf[20] = f.PageType
	buf[21] = f.Flags
	binary.LittleEndian.PutUint16(buf[22:24], 0) // reserved
	binary.LittleEndian.PutUint32(buf[24:28], f.DataLength)
	binary.LittleEndian.PutUint32(buf[28:32], f.Salt1)
	binary.LittleEndian.PutUint32(buf[32:36], f.Salt2)

	payload := buf[FrameHeaderSize : FrameHeaderSize+pageSize]
	for i := range payload {
		payload[i] = 0
	}
	copy(payload, f.Payload[:f.DataLength])

	crc := crc32.ChecksumIEEE(buf[0:36])
	crc = crc32.Update(crc, crc32.IEEETable, payload[:f.DataLength])
	binary.LittleEndian.PutUint32(buf[36:40], crc)
}

// decodeFrame validates and parses a frame from buf (FrameHeaderSize+pageSize
// bytes). It returns ok=false if the checksum does not match; the caller is
// responsible for the salt-generation check.
func decodeFrame(buf []byte, pageSize int) (Frame, bool) {
	if len(buf) < FrameHeaderSize+pageSize {
		return Frame{}, false
	}
	var f Frame
	f.FrameNumber = binary.LittleEndian.Uint64(buf[0:8])
	f.TxID = binary.LittleEndian.Uint64(buf[8:16])
	f.PageID = PageID(int32(binary.LittleEndian.Uint32(buf[16:20])))
	f.PageType = buf[20]
	f.Flags = buf[21]
	f.DataLength = binary.LittleEndian.Uint32(buf[24:28])
	f.Salt1 = binary.LittleEndian.Uint32(buf[28:32])
	f.Salt2 = binary.LittleEndian.Uint32(buf[32:36])
	storedCRC := binary.LittleEndian.Uint32(buf[36:40])

	if f.DataLength > uint32(pageSize) {
		return Frame{}, false
	}

	payload := buf[FrameHeaderSize : FrameHeaderSize+pageSize]
	crc := crc32.ChecksumIEEE(buf[0:36])
	crc = crc32.Update(crc, crc32.IEEETable, payload[:f.DataLength])
	if crc != storedCRC {
		return Frame{}, false
	}

	f.Payload = make([]byte, pageSize)
	copy(f.Payload, payload)
	return f, true
}
