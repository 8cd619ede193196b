//go:build linux

package block

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// sectorSize asks block device nodes for their logical sector size.
// Regular image files use DefaultBlockSize.
func sectorSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat device: %w", err)
	}

	if info.Mode()&os.ModeDevice == 0 || info.Mode()&os.ModeCharDevice != 0 {
		return DefaultBlockSize, nil
	}

	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 0, fmt.Errorf("BLKSSZGET: %w", err)
	}

	return int64(size), nil
}

func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
