// Package blockplan splits a device into bounded-size blocks and maps block
// indices to exact byte ranges.
package blockplan

import (
	"errors"
	"fmt"
)

// Block size bounds used when no explicit block size is configured.
const (
	MinBlockSize uint64 = 1 * 1024 * 1024
	MaxBlockSize uint64 = 128 * 1024 * 1024

	// CipherUnit is the granularity every block size must respect.
	CipherUnit = 16

	defaultSectorSize = 512
	targetBlocks      = 1000
)

var (
	// ErrOutOfRange is returned for a block index that starts past the device end.
	ErrOutOfRange = errors.New("block index out of range")
	// ErrStartBeyondEnd is returned for a start offset at or past the device end.
	ErrStartBeyondEnd = errors.New("start offset is beyond disk size")
	// ErrEmptyDevice is returned when the device reports zero bytes.
	ErrEmptyDevice = errors.New("device size is zero")
	// ErrBlockTooSmall is returned for an explicit block size below CipherUnit.
	ErrBlockTooSmall = errors.New("block size must be equal or larger than 16 bytes")
	// ErrBlockUnaligned is returned for a block size that is not a multiple of CipherUnit.
	ErrBlockUnaligned = errors.New("block size must be a multiple of 16")
)

// Plan describes how a device is walked block by block.
type Plan struct {
	DiskSize   uint64
	SectorSize uint32
	BlockSize  uint64
	BlockCount uint64
}

// Range is the inclusive byte window covered by one block.
type Range struct {
	Index uint64
	Start uint64
	End   uint64
}

// Len returns the number of bytes in the range.
func (r Range) Len() uint64 {
	return r.End - r.Start + 1
}

// ValidateOverride checks a user supplied block size.
func ValidateOverride(blockSize uint64) error {
	if blockSize < CipherUnit {
		return ErrBlockTooSmall
	}
	if blockSize%CipherUnit != 0 {
		return ErrBlockUnaligned
	}
	return nil
}

// ChooseBlockSize returns override when set. Otherwise the device is divided
// into roughly targetBlocks parts, rounded down to whole sectors and clamped
// to [MinBlockSize, MaxBlockSize].
func ChooseBlockSize(diskSize uint64, sectorSize uint32, override uint64) uint64 {
	if override > 0 {
		return override
	}
	sectorEff := uint64(sectorSize)
	if sectorEff == 0 {
		sectorEff = defaultSectorSize
	}
	raw := diskSize / targetBlocks / sectorEff * sectorEff
	switch {
	case raw < MinBlockSize:
		return MinBlockSize
	case raw > MaxBlockSize:
		return MaxBlockSize
	default:
		return raw
	}
}

// BlockCount is the ceiling of diskSize/blockSize. A zero block size yields 0.
func BlockCount(diskSize, blockSize uint64) uint64 {
	if blockSize == 0 {
		return 0
	}
	return diskSize/blockSize + min(diskSize%blockSize, 1)
}

// BlockOffset returns the inclusive byte range of block index.
func BlockOffset(diskSize, blockSize, index uint64) (start, end uint64, err error) {
	if blockSize == 0 {
		return 0, 0, ErrOutOfRange
	}
	// index*blockSize overflowing is the same as being past the end.
	if diskSize == 0 || index > (diskSize-1)/blockSize {
		return 0, 0, fmt.Errorf("block %d: %w", index, ErrOutOfRange)
	}
	start = index * blockSize
	end = start + blockSize - 1
	if end >= diskSize {
		end = diskSize - 1
	}
	return start, end, nil
}

// New computes the plan for a device. override of 0 selects the automatic size.
func New(diskSize uint64, sectorSize uint32, override uint64) (Plan, error) {
	if diskSize == 0 {
		return Plan{}, ErrEmptyDevice
	}
	if override > 0 {
		if err := ValidateOverride(override); err != nil {
			return Plan{}, err
		}
	}
	bs := ChooseBlockSize(diskSize, sectorSize, override)
	if bs%CipherUnit != 0 {
		return Plan{}, fmt.Errorf("sector size %d gives block size %d: %w", sectorSize, bs, ErrBlockUnaligned)
	}
	return Plan{
		DiskSize:   diskSize,
		SectorSize: sectorSize,
		BlockSize:  bs,
		BlockCount: BlockCount(diskSize, bs),
	}, nil
}

// Block returns the range of block index.
func (p Plan) Block(index uint64) (Range, error) {
	start, end, err := BlockOffset(p.DiskSize, p.BlockSize, index)
	if err != nil {
		return Range{}, err
	}
	return Range{Index: index, Start: start, End: end}, nil
}

// StartBlock maps a byte offset to the block containing it.
func (p Plan) StartBlock(offset uint64) (uint64, error) {
	if offset >= p.DiskSize {
		return 0, fmt.Errorf("%d >= %d: %w", offset, p.DiskSize, ErrStartBeyondEnd)
	}
	return offset / p.BlockSize, nil
}

// BufferSize is the I/O buffer length a pass needs: the block size, or the
// device size rounded up to CipherUnit when a single block covers it all.
func (p Plan) BufferSize() uint64 {
	if p.BlockSize <= p.DiskSize {
		return p.BlockSize
	}
	return (p.DiskSize + CipherUnit - 1) &^ (CipherUnit - 1)
}
