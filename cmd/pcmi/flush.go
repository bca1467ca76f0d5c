package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groupclaes/pcm-api-i/client"
	"github.com/groupclaes/pcm-api-i/invalidate"
)

func newFlushCmd() *cobra.Command {
	var remote, token string
	var async, quiet bool
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Delete every generated variant",
		Long: `Delete every generated variant and colour sidecar so they are made again
from their masters. Without --remote the content tree under DATA_PATH is swept
directly; with --remote the running server is asked to do it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if remote != "" {
				c := &client.Connection{HostURL: remote, Token: token}
				res, err := c.FlushAll(ctx, async)
				if err != nil {
					return err
				}
				if async {
					if res.Task == "" {
						fmt.Println("flush already queued")
					} else {
						fmt.Println("queued task", res.Task)
					}
					return nil
				}
				if !quiet {
					for _, p := range res.Paths {
						fmt.Println(p)
					}
				}
				fmt.Printf("flushed %d assets\n", res.Length)
				return nil
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			sw := invalidate.NewSweeper(contentRoot(cfg), cfg.SweepRate, log)
			res, err := sw.FlushAll(ctx)
			if err != nil {
				return err
			}
			if quiet {
				fmt.Printf("flushed %d assets\n", res.Length)
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "base URL of a running server, e.g. http://localhost:3000")
	cmd.Flags().StringVar(&token, "token", os.Getenv("PCM_TOKEN"), "bearer token for --remote")
	cmd.Flags().BoolVar(&async, "async", false, "queue the flush on the server instead of waiting")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print the number of assets")
	return cmd
}
