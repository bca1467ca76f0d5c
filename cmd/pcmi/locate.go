package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/groupclaes/pcm-api-i/content"
	"github.com/groupclaes/pcm-api-i/variant"
)

func newLocateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locate <identity>",
		Short: "Show where an asset is stored and its cache validators",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			loc := content.NewLocator(contentRoot(cfg))
			id := content.Normalize(args[0])
			fmt.Println("identity:", id)
			fmt.Println("dir:     ", loc.Dir(id))

			asset, err := loc.Locate(string(id))
			if errors.Is(err, content.ErrNotFound) {
				fmt.Println("master:   missing")
				return nil
			} else if err != nil {
				return err
			}
			mime, err := asset.Sniff()
			if err != nil {
				return err
			}
			v := content.NewValidators(asset.ModTime, time.Now())
			fmt.Println("master:  ", asset.Path)
			fmt.Println("type:    ", mime)
			fmt.Println("modified:", v.LastModified.UTC().Format(http.TimeFormat))
			fmt.Println("etag:    ", v.ETag)
			for _, name := range variant.Generated() {
				if _, err := os.Stat(filepath.Join(asset.Dir, name)); err == nil {
					fmt.Println("generated:", name)
				}
			}
			return nil
		},
	}
}
