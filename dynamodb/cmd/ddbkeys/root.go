package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/acksell/ddbentity/dynamodb/attr"
	"github.com/acksell/ddbentity/dynamodb/ddbstore"
	"github.com/acksell/ddbentity/dynamodb/entity"
	"github.com/acksell/ddbentity/dynamodb/index"
	"github.com/acksell/ddbentity/dynamodb/schema"
	"github.com/acksell/ddbentity/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the state shared by the commands of one invocation.
type app struct {
	v   *viper.Viper
	cfg Config
	log zerolog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "ddbkeys",
		Short:         "ddbkeys - inspect and exercise DynamoDB entity schemas",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, a.v)
			if err != nil {
				return err
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, log
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	bindConfig(root, a.v)

	root.AddCommand(
		a.validateCmd(),
		a.keysCmd(),
		a.cursorCmd(),
		a.getCmd(),
		a.queryCmd(),
		a.createTableCmd(),
	)
	return root
}

// entityFlags are the flags of commands that address one entity.
type entityFlags struct {
	entity  string
	pattern string
	set     []string
}

// loadEntity compiles the schema file and returns the selected entity.
func (a *app) loadEntity(path, name string) (*entity.Entity, error) {
	b, err := schema.Load(path)
	if err != nil {
		return nil, err
	}
	s, err := pickEntity(b, name)
	if err != nil {
		return nil, err
	}
	t := inferTable(s)
	if b.Table != nil {
		t = *b.Table
	}
	if a.cfg.Table != "" {
		t.Name = a.cfg.Table
	}
	return entity.FromSchema(s, entity.WithTable(t), entity.WithLogger(a.log))
}

// connect returns e bound to the store selected by the config. The returned
// func releases the store.
func (a *app) connect(ctx context.Context, e *entity.Entity) (*entity.Entity, func(), error) {
	client, closeFn, err := a.client(ctx, e.Table())
	if err != nil {
		return nil, nil, err
	}
	bound, err := entity.FromSchema(e.Schema(), entity.WithTable(e.Table()), entity.WithLogger(a.log), entity.WithClient(client))
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return bound, closeFn, nil
}

func pickEntity(b *schema.Bundle, name string) (*schema.Schema, error) {
	if name == "" {
		if len(b.Entities) != 1 {
			return nil, fmt.Errorf("schema file has %d entities, choose one with --entity", len(b.Entities))
		}
		return b.Entities[0], nil
	}
	s, ok := b.Entity(name)
	if !ok {
		var names []string
		for _, s := range b.Entities {
			names = append(names, s.Entity())
		}
		return nil, fmt.Errorf("unknown entity %q, have %s", name, strings.Join(names, ", "))
	}
	return s, nil
}

// inferTable derives a table from the indexes of s for schema files that do
// not declare one.
func inferTable(s *schema.Schema) table.TableDefinition {
	keyDef := func(ix *index.Index, field string) table.KeyDef {
		kind := table.KeyKindS
		if ix.IsNumberKey(field) {
			kind = table.KeyKindN
		}
		return table.KeyDef{Name: field, Kind: kind}
	}
	keys := func(ix *index.Index) table.PrimaryKeyDefinition {
		k := table.PrimaryKeyDefinition{PartitionKey: keyDef(ix, ix.PKField())}
		if ix.HasSK() {
			k.SortKey = keyDef(ix, ix.SKField())
		}
		return k
	}
	t := table.TableDefinition{Name: s.Service(), KeyDefinitions: keys(s.Primary())}
	for _, ix := range s.Indexes() {
		if ix.IsPrimary() || slices.ContainsFunc(t.GSIs, func(g table.GSIDefinition) bool { return g.Name == ix.IndexName() }) {
			continue
		}
		t.GSIs = append(t.GSIs, table.GSIDefinition{Name: ix.IndexName(), KeyDefinitions: keys(ix)})
	}
	return t
}

// parseValues turns name=value pairs into composite values typed after the
// attributes of m.
func parseValues(m *attr.Model, pairs []string) (entity.Item, error) {
	out := make(entity.Item, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid value %q, want name=value", p)
		}
		a, ok := m.Attribute(name)
		if !ok {
			return nil, fmt.Errorf("unknown attribute %q", name)
		}
		switch a.Kind {
		case attr.KindNumber:
			n, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %q is not a number", name, raw)
			}
			out[name] = n
		case attr.KindBoolean:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %q is not a boolean", name, raw)
			}
			out[name] = b
		default:
			out[name] = raw
		}
	}
	return out, nil
}

// client returns the store commands talk to: a badger database when --local
// is set, DynamoDB otherwise. The returned func releases it.
func (a *app) client(ctx context.Context, tables ...table.TableDefinition) (entity.Client, func(), error) {
	if a.cfg.Local != "" {
		store, err := ddbstore.New(ddbstore.StoreOptions{Path: a.cfg.Local, Logger: &a.log}, tables...)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	c, err := a.dynamoClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	return c, func() {}, nil
}

func (a *app) dynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if a.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(a.cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if a.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(a.cfg.Endpoint)
		}
	}), nil
}
