package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easybib/ormresource/mapping"
)

func TestValidateSchema(t *testing.T) {
	tables, err := Tables(classes())
	require.NoError(t, err)
	r := ValidateSchema(tables)
	assert.False(t, r.HasErrors())
	assert.Equal(t, "No issues found", r.String())

	dup := &Table{Name: "category", Columns: []*Column{{Name: "id"}, {Name: "id"}}}
	r = ValidateSchema(append(tables, dup))
	require.True(t, r.HasErrors())
	assert.Contains(t, r.String(), "category: duplicate table name")
	assert.Contains(t, r.String(), "category.id: duplicate column name")
	assert.True(t, r.HasWarnings())
}

func TestValidateForeignKeyType(t *testing.T) {
	tables, err := Tables(classes())
	require.NoError(t, err)
	tables[1].ForeignKeys[0].Columns[0].Type = mapping.TypeGUID
	r := ValidateTable(tables[1])
	require.True(t, r.HasErrors())
	assert.Contains(t, r.Errors[0].Error(), "does not match referenced category.id")
}

func TestValidateDiff(t *testing.T) {
	current := []*Table{{
		Name: "category",
		Columns: []*Column{
			{Name: "id", Type: mapping.TypeInteger},
			{Name: "title", Type: mapping.TypeString, Size: 64, Nullable: true},
			{Name: "legacy", Type: mapping.TypeString},
		},
		Indexes: []*Index{{Name: "legacy_idx"}},
	}}
	desired := []*Table{{
		Name: "category",
		Columns: []*Column{
			{Name: "id", Type: mapping.TypeBigInt},
			{Name: "title", Type: mapping.TypeString, Size: 32, Unique: true},
			{Name: "rank", Type: mapping.TypeInteger},
		},
	}, {
		Name: "new_table",
	}}

	r := ValidateDiff(current, desired)
	assert.True(t, r.HasBreakingChanges())
	require.Len(t, r.Errors, 3)
	assert.Equal(t, "category.legacy: column will be dropped", r.Errors[0].Error())
	assert.Equal(t, "category.title: column changing from NULL to NOT NULL may fail if column has NULL values", r.Errors[1].Error())
	assert.Equal(t, `category: index "legacy_idx" will be dropped`, r.Errors[2].Error())
	assert.Len(t, r.Warnings, 4)

	r = ValidateDiff(current, desired, AllowDropColumn(), AllowDropIndex(), AllowNullToNotNull())
	assert.False(t, r.HasErrors())
	assert.Len(t, r.Warnings, 7)
	assert.Contains(t, r.String(), "[BREAKING]")
}
