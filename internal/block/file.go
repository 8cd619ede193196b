package block

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// File is a device backed by an open block device node or image file.
type File struct {
	f    *os.File
	path string

	blockSize  int64
	size       int64
	syncWrites bool
}

var _ Device = (*File)(nil)

// OpenFile opens the device at path for reading and writing. A zero
// blockSize asks the device for its logical sector size.
func OpenFile(path string, blockSize int64, syncWrites bool) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open device: %w", err)
	}

	// Stat reports zero for block device nodes, seeking to the end does not.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		err = errors.Join(err, f.Close())

		return nil, fmt.Errorf("failed to get device size: %w", err)
	}

	if blockSize == 0 {
		blockSize, err = sectorSize(f)
		if err != nil {
			err = errors.Join(err, f.Close())

			return nil, fmt.Errorf("failed to get device sector size: %w", err)
		}
	}

	if blockSize <= 0 {
		return nil, errors.Join(fmt.Errorf("invalid block size %d", blockSize), f.Close())
	}

	return &File{
		f:          f,
		path:       path,
		blockSize:  blockSize,
		size:       size,
		syncWrites: syncWrites,
	}, nil
}

func (d *File) Path() string {
	return d.path
}

func (d *File) Submit(address uint64, p []byte, dir Direction) (int, error) {
	off, err := byteOffset(address, len(p), d.blockSize, d.size)
	if err != nil {
		return 0, err
	}

	switch dir {
	case DirectionRead:
		n, err := d.f.ReadAt(p, off)
		if err != nil {
			return n, fmt.Errorf("failed to read block %d: %w", address, err)
		}

		return n, nil
	case DirectionWrite:
		n, err := d.f.WriteAt(p, off)
		if err != nil {
			return n, fmt.Errorf("failed to write block %d: %w", address, err)
		}

		if d.syncWrites {
			if err := datasync(d.f); err != nil {
				return n, fmt.Errorf("failed to sync block %d: %w", address, err)
			}
		}

		return n, nil
	default:
		return 0, fmt.Errorf("unsupported direction %s", dir)
	}
}

func (d *File) BlockSize() int64 {
	return d.blockSize
}

func (d *File) Size() int64 {
	return d.size
}

func (d *File) Close() error {
	err := d.f.Close()
	if err != nil {
		return fmt.Errorf("error closing device: %w", err)
	}

	return nil
}
