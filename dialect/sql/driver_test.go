package sql

import (
	"context"
	"errors"
	"testing"

	"github.com/easybib/ormresource/dialect"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name     string
		dialect  string
		platform dialect.Platform
	}{
		{"Postgres", dialect.Postgres, dialect.PostgresPlatform{}},
		{"MySQL", dialect.MySQL, dialect.MySQLPlatform{}},
		{"SQLite", dialect.SQLite, dialect.SQLitePlatform{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv := OpenDB(tt.dialect, db)
			assert.NotNil(t, drv)
			assert.Equal(t, tt.dialect, drv.Dialect())
			assert.Equal(t, tt.platform, drv.Platform())
		})
	}
}

func TestDriverWithPlatform(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.MySQL, db).WithPlatform(dialect.BibPlatform{})
	assert.False(t, drv.Platform().SupportsForeignKeyConstraints())

	drv.WithPlatform(nil)
	assert.Equal(t, dialect.BibPlatform{}, drv.Platform(), "nil platform is ignored")
}

func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("query_with_args", func(t *testing.T) {
		mock.ExpectQuery("SELECT name FROM users WHERE id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alice"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT name FROM users WHERE id = $1", []any{1}, rows)
		require.NoError(t, err)
		maps, err := ScanMaps(rows)
		require.NoError(t, err)
		require.Len(t, maps, 1)
		assert.Equal(t, "Alice", maps[0]["name"])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("database error"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT", []any{}, rows)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_args", func(t *testing.T) {
		err := drv.Query(context.Background(), "SELECT", "nope", &Rows{})
		require.Error(t, err)
		err = drv.Query(context.Background(), "SELECT", []any{}, nil)
		require.Error(t, err)
	})
}

func TestDriverExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.MySQL, db)

	t.Run("exec_result", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WillReturnResult(sqlmock.NewResult(7, 1))

		var res Result
		err := drv.Exec(context.Background(), "INSERT INTO users (name) VALUES (?)", []any{"a"}, &res)
		require.NoError(t, err)
		id, err := res.LastInsertId()
		require.NoError(t, err)
		assert.EqualValues(t, 7, id)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec_error", func(t *testing.T) {
		mock.ExpectExec("DELETE").WillReturnError(errors.New("constraint violation"))

		err := drv.Exec(context.Background(), "DELETE FROM users", []any{}, nil)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriverTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.Postgres, db)

	t.Run("successful_commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Exec(context.Background(), "INSERT INTO users (name) VALUES ('test')", []any{}, nil))
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("error"))
		mock.ExpectRollback()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.Error(t, tx.Exec(context.Background(), "INSERT INTO users (name) VALUES ('test')", []any{}, nil))
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestScanInt64(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.SQLite, db)

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(42))
	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT COUNT(*) FROM t", []any{}, rows))
	n, err := ScanInt64(rows)
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)

	mock.ExpectQuery("SELECT MAX").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(nil))
	rows = &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT MAX(rgt) FROM t", []any{}, rows))
	n, err = ScanInt64(rows)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDialectOf(t *testing.T) {
	assert.Equal(t, dialect.MySQL, dialectOf("mysql"))
	assert.Equal(t, dialect.SQLite, dialectOf("sqlite"))
	assert.Equal(t, dialect.SQLite, dialectOf("sqlite3"))
	assert.Equal(t, dialect.Postgres, dialectOf("postgres"))
	assert.Equal(t, "sqlite", driverNameOf(dialect.SQLite))
	assert.Equal(t, "mysql", driverNameOf(dialect.MySQL))
}

func TestUnwrap(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.MySQL, db).WithPlatform(dialect.BibPlatform{})
	wrapped := NewDebugDriver(NewStatsDriver(drv))

	got, ok := DBOf(wrapped)
	require.True(t, ok)
	assert.Same(t, db, got)

	p, err := PlatformOf(wrapped)
	require.NoError(t, err)
	assert.Equal(t, dialect.BibPlatform{}, p)

	stats, ok := StatsOf(wrapped)
	require.True(t, ok)
	assert.NotNil(t, stats)
	_, ok = StatsOf(drv)
	assert.False(t, ok)
}
