package ddbstore

import (
	"context"
	"fmt"

	"github.com/acksell/ddbentity/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// Store is a DynamoDB-compatible store backed by BadgerDB. It implements the
// item, query, batch and transaction calls of the DynamoDB API on a single
// node, with every write applied in one badger transaction.
type Store struct {
	db          *badger.DB
	tables      map[string]*tableSchema
	log         zerolog.Logger
	unprocessed func(table string, key map[string]types.AttributeValue) bool
}

type tableSchema struct {
	definition table.TableDefinition
	space      *keyspace
	gsis       map[string]*keyspace
}

// StoreOptions configures the BadgerDB store.
type StoreOptions struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger receives store and BadgerDB logs. If nil, logging is disabled.
	Logger *zerolog.Logger
	// UnprocessedFunc, if set, is asked for every key of a batch request and
	// returns true to hand the key back as unprocessed. Used to exercise
	// retry loops.
	UnprocessedFunc func(table string, key map[string]types.AttributeValue) bool
}

// New creates a new BadgerDB-backed DynamoDB store.
func New(opts StoreOptions, defs ...table.TableDefinition) (*Store, error) {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "ddbstore").Logger()
	}

	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{log})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	tables := make(map[string]*tableSchema, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := tables[def.Name]; dup {
			return nil, fmt.Errorf("table %q is defined twice", def.Name)
		}
		schema := &tableSchema{
			definition: def,
			space:      tableKeyspace(def),
			gsis:       make(map[string]*keyspace, len(def.GSIs)),
		}
		for _, gsi := range def.GSIs {
			schema.gsis[gsi.Name] = gsiKeyspace(schema.space, def.Name, gsi)
		}
		tables[def.Name] = schema
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	log.Debug().Int("tables", len(tables)).Bool("in_memory", badgerOpts.InMemory).Msg("store opened")

	return &Store{
		db:          db,
		tables:      tables,
		log:         log,
		unprocessed: opts.UnprocessedFunc,
	}, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getTable(tableName *string) (*tableSchema, error) {
	if tableName == nil || *tableName == "" {
		return nil, validationError("table name is required")
	}
	schema, ok := s.tables[*tableName]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: ptrStr("Requested resource not found: table " + *tableName)}
	}
	return schema, nil
}

// keyspace returns the keyspace queried for indexName, the table itself when
// it is empty.
func (t *tableSchema) keyspace(indexName *string) (*keyspace, error) {
	if indexName == nil || *indexName == "" {
		return t.space, nil
	}
	ks, ok := t.gsis[*indexName]
	if !ok {
		return nil, validationError(fmt.Sprintf("table %q has no index %q", t.definition.Name, *indexName))
	}
	return ks, nil
}

func (s *Store) skip(table string, key map[string]types.AttributeValue) bool {
	return s.unprocessed != nil && s.unprocessed(table, key)
}

func validationError(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg, Fault: smithy.FaultClient}
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

// badgerLogger routes BadgerDB logs into zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Trace().Msgf(trimNewline(format), args...)
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		return s[:n-1]
	}
	return s
}
