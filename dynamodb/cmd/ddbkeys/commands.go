package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/acksell/ddbentity/dynamodb/cursor"
	"github.com/acksell/ddbentity/dynamodb/entity"
	"github.com/acksell/ddbentity/dynamodb/schema"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/spf13/cobra"
)

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [SCHEMA_FILE...]",
		Short: "compile schema files and report definition errors",
		Long: `Compile schema files and report definition errors.

Without arguments every ` + schemaFilename + ` below the current directory is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files := args
			if len(files) == 0 {
				found, err := DiscoverSchemas(".")
				if err != nil {
					return err
				}
				if len(found) == 0 {
					return fmt.Errorf("no %s files found", schemaFilename)
				}
				files = found
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, f := range files {
				b, err := schema.Load(f)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %v\n", err)
					continue
				}
				var names []string
				for _, s := range b.Entities {
					names = append(names, s.Entity()+"@"+s.Version())
				}
				tableName := "-"
				if b.Table != nil {
					tableName = b.Table.Name
				}
				fmt.Fprintf(out, "ok   %s (table %s, entities %s)\n", f, tableName, strings.Join(names, ", "))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d schema files failed validation", failed, len(files))
			}
			return nil
		},
	}
}

func (a *app) keysCmd() *cobra.Command {
	var (
		f          entityFlags
		strict     string
		withCursor bool
	)
	cmd := &cobra.Command{
		Use:   "keys SCHEMA_FILE",
		Short: "compose the physical key fields of an item",
		Example: `  ddbkeys keys schema_dynamodb.yaml -e order -s sector=A1 -s id=X1
  ddbkeys keys schema_dynamodb.yaml -e order -p byAccount -s accountId=acc1 --strict pk`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.loadEntity(args[0], f.entity)
			if err != nil {
				return err
			}
			conv, err := f.conversions(e)
			if err != nil {
				return err
			}
			values, err := parseValues(e.Schema().Model(), f.set)
			if err != nil {
				return err
			}
			keys, err := conv.Strict(entity.Strict(strict)).CompositeToKeys(values)
			if err != nil {
				return err
			}
			a.log.Debug().Int("fields", len(keys)).Str("entity", e.Name()).Msg("composed keys")
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			writeKeys(tw, keys)
			if withCursor {
				token, err := conv.KeysToCursor(keys)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "cursor\t\t%s\n", token)
			}
			return tw.Flush()
		},
	}
	f.register(cmd, true)
	cmd.Flags().StringVar(&strict, "strict", string(entity.StrictNone), "missing composites: none, pk or all")
	cmd.Flags().BoolVar(&withCursor, "cursor", false, "also print the cursor of the keys")
	return cmd
}

func (a *app) cursorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "encode or decode pagination cursors",
	}

	var enc entityFlags
	encode := &cobra.Command{
		Use:   "encode SCHEMA_FILE",
		Short: "encode the cursor pointing at an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.loadEntity(args[0], enc.entity)
			if err != nil {
				return err
			}
			conv, err := enc.conversions(e)
			if err != nil {
				return err
			}
			values, err := parseValues(e.Schema().Model(), enc.set)
			if err != nil {
				return err
			}
			token, err := conv.CompositeToCursor(values)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	enc.register(encode, true)

	var (
		dec        entityFlags
		schemaFile string
	)
	decode := &cobra.Command{
		Use:   "decode TOKEN",
		Short: "decode a cursor into key fields, or composite values with --schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if schemaFile == "" {
				keys, err := cursor.Decode(args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				writeKeys(tw, keys)
				return tw.Flush()
			}
			e, err := a.loadEntity(schemaFile, dec.entity)
			if err != nil {
				return err
			}
			conv, err := dec.conversions(e)
			if err != nil {
				return err
			}
			values, err := conv.CursorToComposite(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), values)
		},
	}
	decode.Flags().StringVar(&schemaFile, "schema", "", "schema file used to decode the keys into composite values")
	decode.Flags().StringVarP(&dec.entity, "entity", "e", "", "entity name (default: the only entity of the schema file)")
	decode.Flags().StringVarP(&dec.pattern, "pattern", "p", "", "access pattern the cursor was issued for")

	cmd.AddCommand(encode, decode)
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var (
		f     entityFlags
		attrs []string
	)
	cmd := &cobra.Command{
		Use:     "get SCHEMA_FILE",
		Short:   "read one item by its table key composites",
		Example: `  ddbkeys get schema_dynamodb.yaml -e order -s sector=A1 -s id=X1 --local ./data`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.loadEntity(args[0], f.entity)
			if err != nil {
				return err
			}
			e, closeFn, err := a.connect(ctx, e)
			if err != nil {
				return err
			}
			defer closeFn()
			key, err := parseValues(e.Schema().Model(), f.set)
			if err != nil {
				return err
			}
			item, err := e.Get(key).Attributes(attrs...).Go(ctx)
			if err != nil {
				return err
			}
			if item == nil {
				return errors.New("item not found")
			}
			return writeJSON(cmd.OutOrStdout(), item)
		},
	}
	f.register(cmd, false)
	cmd.Flags().StringSliceVar(&attrs, "attributes", nil, "attributes to return")
	return cmd
}

func (a *app) queryCmd() *cobra.Command {
	var (
		f     entityFlags
		limit int32
		token string
		all   bool
	)
	cmd := &cobra.Command{
		Use:     "query SCHEMA_FILE",
		Short:   "query an access pattern",
		Example: `  ddbkeys query schema_dynamodb.yaml -e order -p byAccount -s accountId=acc1 --limit 10`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.pattern == "" {
				return errors.New("--pattern is required")
			}
			ctx := cmd.Context()
			e, err := a.loadEntity(args[0], f.entity)
			if err != nil {
				return err
			}
			e, closeFn, err := a.connect(ctx, e)
			if err != nil {
				return err
			}
			defer closeFn()
			values, err := parseValues(e.Schema().Model(), f.set)
			if err != nil {
				return err
			}
			q := e.Query(f.pattern, values).Cursor(token)
			if limit > 0 {
				q = q.Limit(limit)
			}
			if all {
				q = q.All()
			}
			res, err := q.Go(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"items": res.Items, "cursor": res.Cursor})
		},
	}
	f.register(cmd, true)
	cmd.Flags().Int32Var(&limit, "limit", 0, "items evaluated per request")
	cmd.Flags().StringVar(&token, "cursor", "", "resume after this cursor")
	cmd.Flags().BoolVar(&all, "all", false, "read every page")
	return cmd
}

func (a *app) createTableCmd() *cobra.Command {
	var f entityFlags
	cmd := &cobra.Command{
		Use:   "create-table SCHEMA_FILE",
		Short: "create the table declared by a schema file in DynamoDB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Local != "" {
				return errors.New("create-table talks to DynamoDB; local databases create their tables on open")
			}
			ctx := cmd.Context()
			e, err := a.loadEntity(args[0], f.entity)
			if err != nil {
				return err
			}
			client, err := a.dynamoClient(ctx)
			if err != nil {
				return err
			}
			t := e.Table()
			if _, err := client.CreateTable(ctx, t.CreateTableInput()); err != nil {
				return fmt.Errorf("failed to create table %s: %w", t.Name, err)
			}
			a.log.Info().Str("table", t.Name).Int("gsis", len(t.GSIs)).Msg("table created")
			fmt.Fprintf(cmd.OutOrStdout(), "created table %s\n", t.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.entity, "entity", "e", "", "entity whose indexes define the table when the file declares none")
	return cmd
}

func (f *entityFlags) register(cmd *cobra.Command, withPattern bool) {
	cmd.Flags().StringVarP(&f.entity, "entity", "e", "", "entity name (default: the only entity of the schema file)")
	cmd.Flags().StringArrayVarP(&f.set, "set", "s", nil, "composite attribute value as name=value, repeatable")
	if withPattern {
		cmd.Flags().StringVarP(&f.pattern, "pattern", "p", "", "access pattern (default: every index)")
	}
}

func (f *entityFlags) conversions(e *entity.Entity) (entity.Conversions, error) {
	if f.pattern == "" {
		return e.Conversions(), nil
	}
	return e.ForAccessPattern(f.pattern)
}

// writeKeys prints one line per key field, sorted by field name.
func writeKeys(w io.Writer, keys map[string]types.AttributeValue) {
	fields := make([]string, 0, len(keys))
	for k := range keys {
		fields = append(fields, k)
	}
	slices.Sort(fields)
	for _, k := range fields {
		switch v := keys[k].(type) {
		case *types.AttributeValueMemberS:
			fmt.Fprintf(w, "%s\tS\t%s\n", k, v.Value)
		case *types.AttributeValueMemberN:
			fmt.Fprintf(w, "%s\tN\t%s\n", k, v.Value)
		case *types.AttributeValueMemberB:
			fmt.Fprintf(w, "%s\tB\t%x\n", k, v.Value)
		default:
			fmt.Fprintf(w, "%s\t?\t%v\n", k, v)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
