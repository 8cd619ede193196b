package block

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// Mmap is a device backed by a shared memory mapping of an image file.
type Mmap struct {
	f    *os.File
	mmap mmap.MMap
	mu   sync.RWMutex

	blockSize int64
	size      int64
}

var _ Device = (*Mmap)(nil)

// OpenMmap maps the image at path. If the file is smaller than size it is
// extended (sparse on Linux) first; a zero size maps the file as it is.
func OpenMmap(path string, size, blockSize int64) (*Mmap, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error getting file info: %w", err), f.Close())
	}

	if info.Size() < size {
		err = f.Truncate(size)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("error allocating file: %w", err), f.Close())
		}
	} else {
		size = info.Size()
	}

	if size == 0 {
		return nil, errors.Join(fmt.Errorf("cannot map empty file %s", path), f.Close())
	}

	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("error mapping file: %w", err), f.Close())
	}

	return &Mmap{
		f:         f,
		mmap:      mm,
		blockSize: blockSize,
		size:      size,
	}, nil
}

func (m *Mmap) Submit(address uint64, p []byte, dir Direction) (int, error) {
	off, err := byteOffset(address, len(p), m.blockSize, m.size)
	if err != nil {
		return 0, err
	}

	switch dir {
	case DirectionRead:
		m.mu.RLock()
		defer m.mu.RUnlock()

		return copy(p, m.mmap[off:]), nil
	case DirectionWrite:
		m.mu.Lock()
		defer m.mu.Unlock()

		return copy(m.mmap[off:off+int64(len(p))], p), nil
	default:
		return 0, fmt.Errorf("unsupported direction %s", dir)
	}
}

// Sync flushes dirty pages back to the image file.
func (m *Mmap) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.mmap.Flush()
}

func (m *Mmap) BlockSize() int64 {
	return m.blockSize
}

func (m *Mmap) Size() int64 {
	return m.size
}

func (m *Mmap) Close() error {
	flushErr := m.mmap.Flush()
	unmapErr := m.mmap.Unmap()
	closeErr := m.f.Close()

	return errors.Join(flushErr, unmapErr, closeErr)
}
