// Package schema creates, updates and drops the tables of mapped classes.
// DDL is planned by atlas for the dialect of the connection; platforms
// that do not support foreign keys get tables without FOREIGN KEY
// constraints.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/easybib/ormresource/dialect"
	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/mapping"
)

// ErrNoConnection is returned by operations that inspect the database
// when the driver is not backed by a database/sql connection.
var ErrNoConnection = errors.New("schema: driver has no database connection")

// Tool generates and applies DDL for class metadata.
type Tool struct {
	drv      dialect.Driver
	platform dialect.Platform
	logger   *slog.Logger
}

// ToolOption configures a Tool.
type ToolOption func(*Tool)

// WithLogger sets the logger of the tool.
func WithLogger(l *slog.Logger) ToolOption {
	return func(t *Tool) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTool returns a schema tool for the driver. A nil platform selects
// the default platform of the driver dialect.
func NewTool(drv dialect.Driver, p dialect.Platform, opts ...ToolOption) (*Tool, error) {
	if p == nil {
		var err error
		if p, err = dialect.PlatformFor(drv.Dialect()); err != nil {
			return nil, err
		}
	}
	t := &Tool{drv: drv, platform: p, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Platform returns the platform DDL is generated for.
func (t *Tool) Platform() dialect.Platform { return t.platform }

// differ wraps d with the platform restrictions.
func (t *Tool) differ(d Differ) Differ {
	if !t.platform.SupportsForeignKeyConstraints() {
		return withoutForeignKeys(d)
	}
	return d
}

func (t *Tool) tables(ms []*mapping.ClassMetadata) ([]*Table, error) {
	tables, err := Tables(ms)
	if err != nil {
		return nil, err
	}
	if r := ValidateSchema(tables); r.HasErrors() {
		return nil, fmt.Errorf("schema: invalid tables:\n%s", r)
	}
	return tables, nil
}

// CreateSQL returns the statements creating the tables of the classes.
func (t *Tool) CreateSQL(ctx context.Context, ms []*mapping.ClassMetadata) ([]string, error) {
	tables, err := t.tables(ms)
	if err != nil {
		return nil, err
	}
	desired, err := atlasSchema(t.platform.Name(), "", tables)
	if err != nil {
		return nil, err
	}
	changes, err := t.differ(DiffFunc(createDiff)).Diff(nil, desired)
	if err != nil {
		return nil, err
	}
	return t.plan(ctx, defaultPlan(t.platform.Name()), "create", changes)
}

// Create creates the tables of the classes.
func (t *Tool) Create(ctx context.Context, ms []*mapping.ClassMetadata) error {
	stmts, err := t.CreateSQL(ctx, ms)
	if err != nil {
		return err
	}
	return t.exec(ctx, stmts)
}

// DropSQL returns the statements dropping the tables of the classes.
// Missing tables are ignored.
func (t *Tool) DropSQL(ctx context.Context, ms []*mapping.ClassMetadata) ([]string, error) {
	tables, err := Tables(ms)
	if err != nil {
		return nil, err
	}
	current, err := atlasSchema(t.platform.Name(), "", tables)
	if err != nil {
		return nil, err
	}
	changes, err := t.differ(DiffFunc(dropDiff)).Diff(current, nil)
	if err != nil {
		return nil, err
	}
	return t.plan(ctx, defaultPlan(t.platform.Name()), "drop", changes)
}

// Drop drops the tables of the classes.
func (t *Tool) Drop(ctx context.Context, ms []*mapping.ClassMetadata) error {
	stmts, err := t.DropSQL(ctx, ms)
	if err != nil {
		return err
	}
	return t.exec(ctx, stmts)
}

// UpdateSQL inspects the database and returns the statements migrating
// the tables of the classes to their mapping. Tables of unmapped classes
// are left alone. Breaking changes fail unless allowed by opts.
func (t *Tool) UpdateSQL(ctx context.Context, ms []*mapping.ClassMetadata, opts ...ValidateOption) ([]string, error) {
	db, ok := sql.DBOf(t.drv)
	if !ok {
		return nil, ErrNoConnection
	}
	var (
		drv migrate.Driver
		err error
	)
	switch t.platform.Name() {
	case dialect.MySQL:
		drv, err = mysql.Open(db)
	case dialect.Postgres:
		drv, err = postgres.Open(db)
	case dialect.SQLite:
		drv, err = sqlite.Open(db)
	default:
		err = fmt.Errorf("schema: unsupported dialect %q", t.platform.Name())
	}
	if err != nil {
		return nil, err
	}
	inspected, err := drv.InspectSchema(ctx, "", nil)
	if err != nil {
		return nil, fmt.Errorf("schema: inspect: %w", err)
	}
	tables, err := t.tables(ms)
	if err != nil {
		return nil, err
	}
	desired, err := atlasSchema(t.platform.Name(), inspected.Name, tables)
	if err != nil {
		return nil, err
	}
	current := *inspected
	current.Tables = nil
	for _, at := range inspected.Tables {
		if _, ok := desired.Table(at.Name); ok {
			current.Tables = append(current.Tables, at)
		}
	}
	if r := ValidateDiff(fromAtlas(current.Tables), tables, opts...); r.HasErrors() {
		return nil, fmt.Errorf("schema: update rejected:\n%s", r)
	} else if r.HasWarnings() {
		t.logger.Warn("schema update warnings", "report", r.String())
	}
	changes, err := t.differ(DiffFunc(func(current, desired *schema.Schema) ([]schema.Change, error) {
		return drv.SchemaDiff(current, desired)
	})).Diff(&current, desired)
	if err != nil {
		return nil, err
	}
	return t.plan(ctx, drv, "update", changes)
}

// Update migrates the tables of the classes to their mapping.
func (t *Tool) Update(ctx context.Context, ms []*mapping.ClassMetadata, opts ...ValidateOption) error {
	stmts, err := t.UpdateSQL(ctx, ms, opts...)
	if err != nil {
		return err
	}
	return t.exec(ctx, stmts)
}

func defaultPlan(dialectName string) migrate.PlanApplier {
	switch dialectName {
	case dialect.Postgres:
		return postgres.DefaultPlan
	case dialect.SQLite:
		return sqlite.DefaultPlan
	}
	return mysql.DefaultPlan
}

func (t *Tool) plan(ctx context.Context, p migrate.PlanApplier, name string, changes []schema.Change) ([]string, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	plan, err := p.PlanChanges(ctx, name, changes)
	if err != nil {
		return nil, fmt.Errorf("schema: plan %s: %w", name, err)
	}
	stmts := make([]string, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		stmts = append(stmts, c.Cmd)
	}
	return stmts, nil
}

func (t *Tool) exec(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		t.logger.Debug("schema statement", "sql", stmt)
		if err := t.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}
