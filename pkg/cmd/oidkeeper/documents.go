package oidkeeper

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"oidkeeper/internal/app/documents"
	"oidkeeper/internal/domain/models"
	"oidkeeper/internal/infrastructure/repositories/codec"
)

// oidFromArgs accepts either "Type:Key" or "Type Key"
func oidFromArgs(args []string) (models.Oid, error) {
	if len(args) == 2 {
		oid := models.NewRootOid(args[0], args[1])
		return oid, oid.Validate()
	}
	oid, err := models.ParseOid(args[0])
	if err != nil {
		return models.Oid{}, err
	}
	if oid.IsTransient() {
		return models.Oid{}, errors.Errorf("'%s' is not a durable identifier", args[0])
	}
	return oid, nil
}

// readDocument reads a JSON object from the inline argument or from file ("-" is stdin)
func readDocument(inline, file string, stdin io.Reader) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case inline != "" && file != "":
		return nil, errors.New("document given both inline and with --file")
	case inline != "":
		data = []byte(inline)
	case file == "-":
		data, err = io.ReadAll(stdin)
	case file != "":
		data, err = os.ReadFile(file)
	default:
		return nil, errors.New("a JSON document is required")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read document")
	}
	return codec.DocumentOf(data)
}

func newGetCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get TYPE:KEY | TYPE KEY",
		Short: "Print a stored object",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			oid, err := oidFromArgs(args)
			if err != nil {
				return err
			}
			docs, cleanup, err := o.documents(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			view, err := docs.Get(c.Context(), oid)
			if err != nil {
				return err
			}
			return o.printJSON(view)
		},
	}
}

func newQueryCommand(o *rootOptions) *cobra.Command {
	q := documents.Query{}
	cmd := &cobra.Command{
		Use:   "query TYPE",
		Short: "Print the stored objects of a type matching a CEL filter",
		Example: `  oidkeeper query Invoice --filter 'obj.total > 100' --limit 10
  oidkeeper query Invoice --key 42 --key 43`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			q.TypeTag = args[0]
			docs, cleanup, err := o.documents(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			views, err := docs.List(c.Context(), q)
			if err != nil {
				return err
			}
			return o.printJSON(views)
		},
	}
	cmd.Flags().StringVar(&q.Filter, "filter", "", "CEL predicate over obj, key and tag")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "Maximum number of results, 0 means no limit")
	cmd.Flags().StringSliceVar(&q.Keys, "key", nil, "Restrict the query to these primary keys")
	return cmd
}

func newPutCommand(o *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "put TYPE [JSON]",
		Short: "Store a new object and print it with its durable identifier",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			inline := ""
			if len(args) == 2 {
				inline = args[1]
			}
			doc, err := readDocument(inline, file, c.InOrStdin())
			if err != nil {
				return err
			}
			docs, cleanup, err := o.documents(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			view, err := docs.Put(c.Context(), args[0], doc)
			if err != nil {
				return err
			}
			return o.printJSON(view)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the document from a file, - for stdin")
	return cmd
}

func newPatchCommand(o *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "patch TYPE:KEY [JSON]",
		Short: "Merge top-level fields into a stored object",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			oid, err := oidFromArgs(args[:1])
			if err != nil {
				return err
			}
			inline := ""
			if len(args) == 2 {
				inline = args[1]
			}
			patch, err := readDocument(inline, file, c.InOrStdin())
			if err != nil {
				return err
			}
			docs, cleanup, err := o.documents(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			view, err := docs.Patch(c.Context(), oid, patch)
			if err != nil {
				return err
			}
			return o.printJSON(view)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the patch from a file, - for stdin")
	return cmd
}

func newDeleteCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete TYPE:KEY | TYPE KEY",
		Short: "Remove a stored object",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			oid, err := oidFromArgs(args)
			if err != nil {
				return err
			}
			docs, cleanup, err := o.documents(c.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := docs.Delete(c.Context(), oid); err != nil {
				return err
			}
			o.logger.V(1).Info("object removed", "oid", oid.String())
			return o.printJSON(map[string]string{"removed": oid.String()})
		},
	}
}
