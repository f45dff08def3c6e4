package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/cfghost/internal/netx"
)

func (o *options) client() *netx.Client {
	return netx.NewClient(o.serverURL, netx.WithToken(o.token))
}

func newPushCmd(o *options) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "push <name> <file>",
		Short: "Upload a config to a running server (file - reads stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			res, err := o.client().Push(cmd.Context(), args[0], typ, r)
			if err != nil {
				return err
			}
			return o.print(cmd, res, func(t *table) {
				t.row("ID", "NAME", "KEY")
				t.row(res.ID, res.Name, res.Key)
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "config type (server|client)")
	return cmd
}

func newPullCmd(o *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "pull <name>",
		Short: "Download a config from a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := o.client().Pull(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			return os.WriteFile(out, b, 0o640)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}
