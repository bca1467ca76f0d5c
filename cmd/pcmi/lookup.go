package main

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/groupclaes/pcm-api-i/resolver"
)

func newLookupCmd() *cobra.Command {
	var key resolver.Key
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Edit or query the embedded document database",
		Long: `Edit or query the document database named by PCM_LOOKUP_DSN. Documents can
only be added to the embedded database (a "ql:" or "memory" dsn); any
database can be queried.`,
	}
	fl := cmd.PersistentFlags()
	fl.StringVar(&key.Company, "company", "dis", "company")
	fl.StringVar(&key.ObjectType, "objecttype", "artikel", "object type")
	fl.StringVar(&key.DocumentType, "documenttype", "foto", "document type")
	fl.StringVar(&key.ItemNumber, "itemnum", "", "item number (default 100)")
	fl.StringVar(&key.Language, "language", "", "language (default nl)")
	fl.StringVar(&key.Size, "size", "", "size (default any)")

	var mime, message string
	var verified bool
	add := &cobra.Command{
		Use:   "add <identity>",
		Short: "Register the document for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := openLookup(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			ql, ok := b.(*resolver.QL)
			if !ok {
				return errors.New("documents can only be added to the embedded database")
			}
			return ql.Register(cmd.Context(), key, resolver.Record{
				Identity: args[0],
				MimeType: mime,
				Error:    message,
				Verified: verified,
			})
		},
	}
	add.Flags().StringVar(&mime, "mime", "image/jpeg", "media type of the document")
	add.Flags().StringVar(&message, "error", "", "error reported for the key instead of a document")
	add.Flags().BoolVar(&verified, "verified", true, "mark the document as verified")

	get := &cobra.Command{
		Use:   "get",
		Short: "Resolve a key the way the server does",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, log, err := openLookup(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			doc, err := resolver.New(b, log).ByKey(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Println("outcome: ", doc.Outcome)
			fmt.Println("identity:", doc.Identity)
			fmt.Println("type:    ", doc.MimeType)
			fmt.Println("verified:", doc.Verified)
			return nil
		},
	}
	get.Flags().BoolVar(&key.Strict, "strict", false, "treat no match as a failure")

	cmd.AddCommand(add, get)
	return cmd
}

func openLookup(cmd *cobra.Command) (resolver.Backend, *slog.Logger, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, nil, err
	}
	b, err := resolver.Open(cmd.Context(), cfg.LookupDSN)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, errors.New("no lookup database configured (PCM_LOOKUP_DSN)")
	}
	return b, log, nil
}
