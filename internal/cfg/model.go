package cfg

import (
	"fmt"
	"math"
	"reflect"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
)

// ByteSize is a size in bytes that parses from human readable values
// such as "512", "64MiB" or "1GB".
type ByteSize int64

func (s ByteSize) String() string {
	return humanize.IBytes(uint64(s))
}

type DeviceBackend string

const (
	BackendFile   DeviceBackend = "file"
	BackendMmap   DeviceBackend = "mmap"
	BackendMemory DeviceBackend = "memory"
)

type Config struct {
	DevicePath    string        `env:"BLOCK_DEVICE_PATH"    envDefault:"/dev/sda"`
	DeviceBackend DeviceBackend `env:"BLOCK_DEVICE_BACKEND" envDefault:"file"`
	// BlockSize of zero asks the device for its sector size.
	BlockSize  ByteSize `env:"BLOCK_SIZE"        envDefault:"0"`
	DeviceSize ByteSize `env:"BLOCK_DEVICE_SIZE" envDefault:"64MiB"`
	SyncWrites bool     `env:"BLOCK_SYNC_WRITES" envDefault:"false"`

	ControlSocketPath  string   `env:"CONTROL_SOCKET_PATH"  envDefault:"/run/block-transfer.sock"`
	MaxTransferSize    ByteSize `env:"MAX_TRANSFER_SIZE"    envDefault:"32MiB"`
	StagingMemoryLimit ByteSize `env:"STAGING_MEMORY_LIMIT" envDefault:"256MiB"`

	OtelCollectorGRPCEndpoint string `env:"OTEL_COLLECTOR_GRPC_ENDPOINT"`
	Debug                     bool   `env:"DEBUG" envDefault:"false"`
}

func Parse() (Config, error) {
	config, err := env.ParseAsWithOptions[Config](env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(ByteSize(0)): parseByteSize,
		},
	})
	if err != nil {
		return Config{}, err
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c Config) Validate() error {
	switch c.DeviceBackend {
	case BackendFile, BackendMmap, BackendMemory:
	default:
		return fmt.Errorf("unknown device backend %q", c.DeviceBackend)
	}

	if c.BlockSize < 0 || (c.BlockSize > 0 && c.BlockSize&(c.BlockSize-1) != 0) {
		return fmt.Errorf("block size %d must be a power of two", c.BlockSize)
	}

	if c.MaxTransferSize <= 0 || c.MaxTransferSize > math.MaxUint32 {
		return fmt.Errorf("max transfer size %s must be between 1 byte and 4GiB", c.MaxTransferSize)
	}

	if c.StagingMemoryLimit > 0 && c.StagingMemoryLimit < c.MaxTransferSize {
		return fmt.Errorf("staging memory limit %s is smaller than the max transfer size %s", c.StagingMemoryLimit, c.MaxTransferSize)
	}

	return nil
}

func parseByteSize(value string) (any, error) {
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return nil, fmt.Errorf("invalid size %q: %w", value, err)
	}

	if size > math.MaxInt64 {
		return nil, fmt.Errorf("size %q is too large", value)
	}

	return ByteSize(size), nil
}
