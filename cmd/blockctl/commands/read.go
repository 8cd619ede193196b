package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newReadCmd(root *rootOptions) *cobra.Command {
	var (
		offset offsetFlag
		size   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read bytes from the device",
		Long: `Read --size bytes from the device and write them to --output.

Examples:
  # Read the first sector to stdout
  blockctl read --offset 0 --size 512 > sector0.bin

  # Continue reading from the cursor into a file
  blockctl read --size 1MiB --output chunk.bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := humanize.ParseBytes(size)
			if err != nil {
				return fmt.Errorf("invalid size %q: %w", size, err)
			}

			client, ctx, cancel, err := root.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			p := make([]byte, n)

			var transferred uint64
			if offset.set {
				transferred, err = client.ReadAt(ctx, p, offset.value)
			} else {
				transferred, err = client.ReadSequential(ctx, p)
			}
			if err != nil {
				return fmt.Errorf("read failed after %d bytes: %w", transferred, err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()

				w = f
			}

			if _, err := w.Write(p); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}

			report(cmd.ErrOrStderr(), "read", transferred, &offset)

			return nil
		},
	}

	cmd.Flags().Var(&offset, "offset", "byte offset to read from (default: sequential cursor)")
	cmd.Flags().StringVar(&size, "size", "", "number of bytes to read")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	_ = cmd.MarkFlagRequired("size")

	return cmd
}
