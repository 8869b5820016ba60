package schema

import (
	"context"
	"strings"
	"testing"

	"ariga.io/atlas/sql/schema"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easybib/ormresource/dialect"
	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/mapping"
)

// classes returns a package version referencing a self-referencing category.
func classes() []*mapping.ClassMetadata {
	version := &mapping.ClassMetadata{
		Name:        "PackageVersion",
		Table:       "package_version",
		ID:          "id",
		IDGenerator: mapping.GeneratorAuto,
		Fields: []*mapping.FieldMapping{
			{Name: "id", Column: "id", Type: mapping.TypeInteger, ID: true},
			{Name: "version", Column: "version", Type: mapping.TypeString, Length: 32},
			{Name: "created", Column: "created", Type: mapping.TypeDateTime},
		},
		Associations: []*mapping.Association{
			{Field: "category", Target: "Category", JoinColumn: "category_id", Nullable: true},
		},
	}
	category := &mapping.ClassMetadata{
		Name:        "Category",
		Table:       "category",
		ID:          "id",
		IDGenerator: mapping.GeneratorAuto,
		Fields: []*mapping.FieldMapping{
			{Name: "id", Column: "id", Type: mapping.TypeInteger, ID: true},
			{Name: "title", Column: "title", Type: mapping.TypeString, Length: 64, Unique: true},
		},
		Associations: []*mapping.Association{
			{Field: "parent", Target: "Category", JoinColumn: "parent_id", Nullable: true, OnDelete: "CASCADE"},
		},
	}
	return []*mapping.ClassMetadata{version, category}
}

func TestTables(t *testing.T) {
	tables, err := Tables(classes())
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "category", tables[0].Name)
	assert.Equal(t, "package_version", tables[1].Name)

	category := tables[0]
	require.Len(t, category.PrimaryKey, 1)
	assert.True(t, category.PrimaryKey[0].Increment)
	require.Len(t, category.Indexes, 1)
	assert.Equal(t, "category_title_key", category.Indexes[0].Name)

	version := tables[1]
	c, ok := version.Column("category_id")
	require.True(t, ok)
	assert.Equal(t, mapping.TypeInteger, c.Type)
	assert.True(t, c.Nullable)
	require.Len(t, version.ForeignKeys, 1)
	assert.Same(t, category, version.ForeignKeys[0].RefTable)

	_, err = Tables(classes()[:1])
	require.ErrorContains(t, err, `unknown class "Category"`)
}

// mockDriver returns a driver no statement is sent to.
func mockDriver(t *testing.T, name string) dialect.Driver {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sql.OpenDB(name, db)
}

func TestCreateSQL(t *testing.T) {
	ctx := context.Background()

	t.Run("MySQL", func(t *testing.T) {
		tool, err := NewTool(mockDriver(t, dialect.MySQL), nil)
		require.NoError(t, err)
		stmts, err := tool.CreateSQL(ctx, classes())
		require.NoError(t, err)
		require.Len(t, stmts, 2)
		assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE `category`"), stmts[0])
		assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE `package_version`"), stmts[1])
		assert.Contains(t, stmts[0], "AUTO_INCREMENT")
		assert.Contains(t, stmts[1], "FOREIGN KEY (`category_id`) REFERENCES `category` (`id`)")
	})

	t.Run("BibPlatform", func(t *testing.T) {
		tool, err := NewTool(mockDriver(t, dialect.MySQL), dialect.BibPlatform{})
		require.NoError(t, err)
		stmts, err := tool.CreateSQL(ctx, classes())
		require.NoError(t, err)
		require.Len(t, stmts, 2)
		for _, s := range stmts {
			assert.NotContains(t, s, "FOREIGN KEY")
		}
		assert.Contains(t, stmts[1], "`category_id`")
	})

	t.Run("Postgres", func(t *testing.T) {
		tool, err := NewTool(mockDriver(t, dialect.Postgres), nil)
		require.NoError(t, err)
		stmts, err := tool.CreateSQL(ctx, classes())
		require.NoError(t, err)
		all := strings.Join(stmts, "\n")
		assert.Contains(t, all, `CREATE TABLE "category"`)
		assert.Contains(t, all, "serial")
		assert.Contains(t, all, "FOREIGN KEY")
	})
}

func TestDropSQL(t *testing.T) {
	tool, err := NewTool(mockDriver(t, dialect.MySQL), nil)
	require.NoError(t, err)
	stmts, err := tool.DropSQL(context.Background(), classes())
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "`package_version`")
	assert.Contains(t, stmts[0], "DROP FOREIGN KEY")
	assert.Contains(t, stmts[1], "DROP TABLE IF EXISTS")
	assert.Contains(t, stmts[1], "`package_version`")
	assert.Contains(t, stmts[2], "`category`")

	t.Run("BibPlatform", func(t *testing.T) {
		tool, err := NewTool(mockDriver(t, dialect.MySQL), dialect.BibPlatform{})
		require.NoError(t, err)
		stmts, err := tool.DropSQL(context.Background(), classes())
		require.NoError(t, err)
		require.Len(t, stmts, 2)
		assert.Contains(t, stmts[0], "`package_version`")
		assert.Contains(t, stmts[1], "`category`")
		for _, s := range stmts {
			assert.NotContains(t, s, "FOREIGN KEY")
		}
	})
}

// noForeignKeys is SQLite without foreign key support.
type noForeignKeys struct {
	dialect.SQLitePlatform
}

func (noForeignKeys) SupportsForeignKeyConstraints() bool { return false }

func openSQLite(t *testing.T) *sql.Driver {
	drv, err := sql.OpenConnection(sql.ConnectionParams{Driver: "pdo_sqlite", Memory: true, DBName: t.Name()})
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	return drv
}

func foreignKeys(t *testing.T, drv dialect.Driver, table string) int {
	rows := &sql.Rows{}
	require.NoError(t, drv.Query(context.Background(), "PRAGMA foreign_key_list("+table+")", []any{}, rows))
	fks, err := sql.ScanMaps(rows)
	require.NoError(t, err)
	return len(fks)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("ForeignKeys", func(t *testing.T) {
		drv := openSQLite(t)
		tool, err := NewTool(drv, nil)
		require.NoError(t, err)
		require.NoError(t, tool.Create(ctx, classes()))
		assert.Equal(t, 1, foreignKeys(t, drv, "package_version"))
		assert.Equal(t, 1, foreignKeys(t, drv, "category"))

		require.NoError(t, drv.Exec(ctx, "INSERT INTO `category` (`title`) VALUES (?)", []any{"go"}, nil))
		err = drv.Exec(ctx, "INSERT INTO `package_version` (`version`, `created`, `category_id`) VALUES (?, ?, ?)", []any{"1.0", "2024-01-01", 42}, nil)
		assert.True(t, sql.IsForeignKeyConstraintError(err), "%v", err)

		require.NoError(t, tool.Drop(ctx, classes()))
		rows := &sql.Rows{}
		require.NoError(t, drv.Query(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('category', 'package_version')", []any{}, rows))
		n, err := sql.ScanInt64(rows)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("WithoutForeignKeys", func(t *testing.T) {
		drv := openSQLite(t)
		tool, err := NewTool(drv, noForeignKeys{})
		require.NoError(t, err)
		require.NoError(t, tool.Create(ctx, classes()))
		assert.Zero(t, foreignKeys(t, drv, "package_version"))
		assert.Zero(t, foreignKeys(t, drv, "category"))
		require.NoError(t, drv.Exec(ctx, "INSERT INTO `package_version` (`version`, `created`, `category_id`) VALUES (?, ?, ?)", []any{"1.0", "2024-01-01", 42}, nil))
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t)
	tool, err := NewTool(drv, nil)
	require.NoError(t, err)
	require.NoError(t, tool.Create(ctx, classes()))

	updated := classes()
	updated[1].Fields = append(updated[1].Fields, &mapping.FieldMapping{
		Name: "notes", Column: "notes", Type: mapping.TypeText, Nullable: true,
	})
	require.NoError(t, tool.Update(ctx, updated))

	rows := &sql.Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT `name` FROM pragma_table_info('category')", []any{}, rows))
	cols, err := sql.ScanMaps(rows)
	require.NoError(t, err)
	var names []any
	for _, c := range cols {
		names = append(names, c["name"])
	}
	assert.Contains(t, names, "notes")

	dropped := classes()
	dropped[1].Fields = dropped[1].Fields[:1]
	_, err = tool.UpdateSQL(ctx, dropped)
	require.ErrorContains(t, err, "column will be dropped")
}

func TestUpdateWithoutConnection(t *testing.T) {
	_, ok := sql.DBOf(sql.NewDebugDriver(mockDriver(t, dialect.MySQL)))
	assert.True(t, ok)

	tool, err := NewTool(fakeDriver{}, dialect.MySQLPlatform{})
	require.NoError(t, err)
	_, err = tool.UpdateSQL(context.Background(), classes())
	require.ErrorIs(t, err, ErrNoConnection)
}

type fakeDriver struct{ dialect.Driver }

func TestWithoutForeignKeys(t *testing.T) {
	tbl := &schema.Table{
		Name: "tbl",
		Columns: []*schema.Column{
			{Name: "id", Type: &schema.ColumnType{Type: &schema.IntegerType{T: "bigint"}}},
			{Name: "parent_id", Type: &schema.ColumnType{Type: &schema.IntegerType{T: "bigint"}}},
		},
	}
	fk := &schema.ForeignKey{
		Symbol:     "tbl_parent_id_fk",
		Table:      tbl,
		Columns:    tbl.Columns[1:],
		RefTable:   tbl,
		RefColumns: tbl.Columns[:1],
		OnDelete:   schema.Cascade,
	}
	tbl.ForeignKeys = append(tbl.ForeignKeys, fk)

	t.Run("AddTable", func(t *testing.T) {
		mdiff := DiffFunc(func(_, _ *schema.Schema) ([]schema.Change, error) {
			return []schema.Change{&schema.AddTable{T: tbl}}, nil
		})
		df, err := withoutForeignKeys(mdiff).Diff(nil, nil)
		require.NoError(t, err)
		require.Len(t, df, 1)
		actual, ok := df[0].(*schema.AddTable)
		require.True(t, ok)
		require.Nil(t, actual.T.ForeignKeys)
	})
	t.Run("ModifyTable", func(t *testing.T) {
		mdiff := DiffFunc(func(_, _ *schema.Schema) ([]schema.Change, error) {
			return []schema.Change{
				&schema.ModifyTable{
					T: tbl,
					Changes: []schema.Change{
						&schema.AddIndex{I: &schema.Index{Name: "id_key", Parts: []*schema.IndexPart{{C: tbl.Columns[0]}}}},
						&schema.DropForeignKey{F: fk},
						&schema.AddForeignKey{F: fk},
						&schema.ModifyForeignKey{From: fk, To: fk, Change: schema.ChangeRefColumn},
						&schema.AddColumn{C: &schema.Column{Name: "name", Type: &schema.ColumnType{Type: &schema.StringType{T: "varchar", Size: 255}}}},
					},
				},
			}, nil
		})
		df, err := withoutForeignKeys(mdiff).Diff(nil, nil)
		require.NoError(t, err)
		require.Len(t, df, 1)
		actual, ok := df[0].(*schema.ModifyTable)
		require.True(t, ok)
		require.Len(t, actual.Changes, 2)
		assert.IsType(t, &schema.AddIndex{}, actual.Changes[0])
		assert.IsType(t, &schema.AddColumn{}, actual.Changes[1])
	})
}
