// Package commands implements the blockctl CLI for the block-transfer
// control socket.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/e2b-dev/infra/packages/block-transfer/internal/ctl"
)

const defaultSocketPath = "/run/block-transfer.sock"

type rootOptions struct {
	socketPath string
	timeout    time.Duration
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "blockctl",
		Short: "Issue transfers to a running block-transfer daemon",
		Long: `blockctl reads from and writes to the device served by a block-transfer
daemon through its control socket.

Sizes and offsets accept human readable values such as 4096, 4KiB or 1MB.
Omitting --offset continues from the daemon's sequential cursor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	socketPath := os.Getenv("CONTROL_SOCKET_PATH")
	if socketPath == "" {
		socketPath = defaultSocketPath
	}

	cmd.PersistentFlags().StringVar(&opts.socketPath, "socket", socketPath, "control socket path")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "timeout for the whole transfer")

	cmd.AddCommand(newReadCmd(opts))
	cmd.AddCommand(newWriteCmd(opts))

	return cmd
}

func (o *rootOptions) dial(ctx context.Context) (*ctl.Client, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)

	client, err := ctl.Dial(ctx, o.socketPath)
	if err != nil {
		cancel()

		return nil, nil, nil, err
	}

	return client, ctx, cancel, nil
}

// offsetFlag is an optional human readable byte offset.
type offsetFlag struct {
	value uint64
	set   bool
}

func (f *offsetFlag) String() string {
	if !f.set {
		return ""
	}

	return humanize.IBytes(f.value)
}

func (f *offsetFlag) Set(s string) error {
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid offset %q: %w", s, err)
	}

	f.value = v
	f.set = true

	return nil
}

func (f *offsetFlag) Type() string {
	return "bytes"
}

func report(w io.Writer, verb string, n uint64, offset *offsetFlag) {
	where := "at cursor"
	if offset.set {
		where = fmt.Sprintf("at offset %d", offset.value)
	}

	fmt.Fprintf(w, "%s %s (%d bytes) %s\n", verb, humanize.IBytes(n), n, where)
}
