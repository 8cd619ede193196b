package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newWriteCmd(root *rootOptions) *cobra.Command {
	var (
		offset offsetFlag
		input  string
	)

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write bytes to the device",
		Long: `Write the contents of --input to the device.

Examples:
  # Write an image starting at the second sector
  blockctl write --offset 512 --input boot.img

  # Append at the cursor from stdin
  cat data.bin | blockctl write`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader = cmd.InOrStdin()
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer f.Close()

				r = f
			}

			p, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}

			client, ctx, cancel, err := root.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			var transferred uint64
			if offset.set {
				transferred, err = client.WriteAt(ctx, p, offset.value)
			} else {
				transferred, err = client.WriteSequential(ctx, p)
			}
			if err != nil {
				return fmt.Errorf("write failed after %d bytes: %w", transferred, err)
			}

			report(cmd.ErrOrStderr(), "wrote", transferred, &offset)

			return nil
		},
	}

	cmd.Flags().Var(&offset, "offset", "byte offset to write at (default: sequential cursor)")
	cmd.Flags().StringVarP(&input, "input", "i", "-", "input file, - for stdin")

	return cmd
}
