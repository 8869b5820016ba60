// Package ormtest opens entity managers on in-memory SQLite databases
// with the tables of the given classes.
package ormtest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/mapping"
	"github.com/easybib/ormresource/orm"
)

// Open returns an entity manager for the classes on a fresh database
// named after the test. The manager is closed when the test ends.
func Open(t testing.TB, evm *orm.EventManager, ms ...*mapping.ClassMetadata) *orm.EntityManager {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	drv, err := sql.OpenConnection(sql.ConnectionParams{Driver: "sqlite", Memory: true, DBName: name})
	require.NoError(t, err)
	em, err := orm.NewEntityManager(drv, orm.NewConfiguration(mapping.NewStaticDriver(ms...)), evm)
	require.NoError(t, err)
	t.Cleanup(func() { em.Close() })

	ctx := context.Background()
	all, err := em.AllMetadata(ctx)
	require.NoError(t, err)
	tool, err := em.SchemaTool()
	require.NoError(t, err)
	require.NoError(t, tool.Create(ctx, all))
	return em
}

// Persist creates an entity of class with the given values and
// schedules it for insertion.
func Persist(t testing.TB, em *orm.EntityManager, class string, values map[string]any) *orm.Entity {
	t.Helper()
	ctx := context.Background()
	e, err := em.New(ctx, class)
	require.NoError(t, err)
	for k, v := range values {
		require.NoError(t, e.Set(k, v))
	}
	require.NoError(t, em.Persist(ctx, e))
	return e
}
