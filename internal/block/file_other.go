//go:build !linux

package block

import "os"

func sectorSize(_ *os.File) (int64, error) {
	return DefaultBlockSize, nil
}

func datasync(f *os.File) error {
	return f.Sync()
}
