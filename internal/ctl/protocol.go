package ctl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/e2b-dev/infra/packages/block-transfer/internal/block"
	"github.com/e2b-dev/infra/packages/block-transfer/internal/transfer"
)

const (
	RequestMagic  uint32 = 0x424b5846
	ResponseMagic uint32 = 0x424b5847

	RequestHeaderSize  = 28
	ResponseHeaderSize = 24

	// DefaultMaxTransferSize matches the largest single request NBD servers
	// are expected to accept.
	DefaultMaxTransferSize = 32 * 1024 * 1024
)

var (
	ErrBadMagic  = errors.New("invalid magic")
	ErrUnknownOp = errors.New("unknown operation")
)

type Op uint32

const (
	OpReadSequential Op = iota
	OpWriteSequential
	OpReadAtOffset
	OpWriteAtOffset
)

type opInfo struct {
	name      string
	direction block.Direction
	explicit  bool
}

var ops = [...]opInfo{
	OpReadSequential:  {name: "read_sequential", direction: block.DirectionRead},
	OpWriteSequential: {name: "write_sequential", direction: block.DirectionWrite},
	OpReadAtOffset:    {name: "read_offset", direction: block.DirectionRead, explicit: true},
	OpWriteAtOffset:   {name: "write_offset", direction: block.DirectionWrite, explicit: true},
}

// Valid must be checked before any other method looks the op up.
func (o Op) Valid() bool {
	return uint64(o) < uint64(len(ops))
}

func (o Op) String() string {
	if !o.Valid() {
		return fmt.Sprintf("op(%d)", uint32(o))
	}

	return ops[o].name
}

func (o Op) IsWrite() bool {
	return o.Valid() && ops[o].direction == block.DirectionWrite
}

type RequestHeader struct {
	Magic  uint32
	Op     Op
	Handle uint64
	Offset uint64
	Size   uint32
}

func (h RequestHeader) Encode(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], h.Magic)
	binary.BigEndian.PutUint32(b[4:8], uint32(h.Op))
	binary.BigEndian.PutUint64(b[8:16], h.Handle)
	binary.BigEndian.PutUint64(b[16:24], h.Offset)
	binary.BigEndian.PutUint32(b[24:28], h.Size)
}

func DecodeRequestHeader(b []byte) RequestHeader {
	return RequestHeader{
		Magic:  binary.BigEndian.Uint32(b[0:4]),
		Op:     Op(binary.BigEndian.Uint32(b[4:8])),
		Handle: binary.BigEndian.Uint64(b[8:16]),
		Offset: binary.BigEndian.Uint64(b[16:24]),
		Size:   binary.BigEndian.Uint32(b[24:28]),
	}
}

type ResponseHeader struct {
	Magic       uint32
	Status      transfer.Status
	Handle      uint64
	Transferred uint64
}

func (h ResponseHeader) Encode(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], h.Magic)
	binary.BigEndian.PutUint32(b[4:8], uint32(h.Status))
	binary.BigEndian.PutUint64(b[8:16], h.Handle)
	binary.BigEndian.PutUint64(b[16:24], h.Transferred)
}

func DecodeResponseHeader(b []byte) ResponseHeader {
	return ResponseHeader{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Status:      transfer.Status(binary.BigEndian.Uint32(b[4:8])),
		Handle:      binary.BigEndian.Uint64(b[8:16]),
		Transferred: binary.BigEndian.Uint64(b[16:24]),
	}
}

// Decode turns a request header into an engine request over buf. Anything
// the engine must not see is rejected with transfer.ErrInvalidRequest.
func Decode(h RequestHeader, buf transfer.Buffer, maxTransferSize uint32) (transfer.Request, error) {
	if h.Magic != RequestMagic {
		return transfer.Request{}, fmt.Errorf("%w: %w 0x%08x", transfer.ErrInvalidRequest, ErrBadMagic, h.Magic)
	}

	if !h.Op.Valid() {
		return transfer.Request{}, fmt.Errorf("%w: %w %d", transfer.ErrInvalidRequest, ErrUnknownOp, uint32(h.Op))
	}

	if h.Size > maxTransferSize {
		return transfer.Request{}, fmt.Errorf("%w: size %d exceeds maximum %d", transfer.ErrInvalidRequest, h.Size, maxTransferSize)
	}

	info := ops[h.Op]

	position := transfer.Sequential()
	if info.explicit {
		if h.Offset > math.MaxUint64-uint64(h.Size) {
			return transfer.Request{}, fmt.Errorf("%w: offset %d + size %d overflows", transfer.ErrInvalidRequest, h.Offset, h.Size)
		}

		position = transfer.AtOffset(h.Offset)
	}

	return transfer.Request{
		Buffer:    buf,
		Size:      uint64(h.Size),
		Position:  position,
		Direction: info.direction,
	}, nil
}
