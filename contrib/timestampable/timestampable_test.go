package timestampable_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easybib/ormresource/contrib/timestampable"
	"github.com/easybib/ormresource/internal/ormtest"
	"github.com/easybib/ormresource/mapping"
	"github.com/easybib/ormresource/orm"
)

func post() *mapping.ClassMetadata {
	return &mapping.ClassMetadata{
		Name:        "Post",
		Table:       "post",
		ID:          "id",
		IDGenerator: mapping.GeneratorAuto,
		Fields: []*mapping.FieldMapping{
			{Name: "id", Type: mapping.TypeInteger, ID: true},
			{Name: "title", Type: mapping.TypeString},
			{Name: "created", Type: mapping.TypeDateTime},
			{Name: "updated", Type: mapping.TypeDateTime},
			{Name: "day", Type: mapping.TypeDate},
			{Name: "stamp", Type: mapping.TypeInteger},
		},
		Timestampable: map[string]string{
			"created": mapping.OnCreate,
			"day":     mapping.OnCreate,
			"updated": mapping.OnUpdate,
			"stamp":   mapping.OnUpdate,
		},
	}
}

func timeOf(t *testing.T, v any) time.Time {
	t.Helper()
	tv, ok := v.(time.Time)
	require.Truef(t, ok, "expect time.Time, got %T", v)
	return tv
}

func TestListener(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 30, 15, 500, time.UTC)
	evm := orm.NewEventManager()
	evm.AddEventSubscriber(timestampable.New(timestampable.WithClock(func() time.Time { return now })))
	em := ormtest.Open(t, evm, post())

	created := now.Truncate(time.Second)
	p := ormtest.Persist(t, em, "Post", map[string]any{"title": "first"})
	assert.True(t, created.Equal(timeOf(t, p.Get("created"))))
	assert.True(t, created.Equal(timeOf(t, p.Get("updated"))))
	assert.True(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Equal(timeOf(t, p.Get("day"))))
	assert.Equal(t, now.Unix(), p.Get("stamp"))
	require.NoError(t, em.Flush(ctx))

	now = now.Add(time.Hour)
	require.NoError(t, p.Set("title", "second"))
	require.NoError(t, em.Flush(ctx))
	em.Clear()

	got, err := em.Find(ctx, "Post", p.ID())
	require.NoError(t, err)
	assert.True(t, created.Equal(timeOf(t, got.Get("created"))), "creation time is kept")
	assert.True(t, now.Truncate(time.Second).Equal(timeOf(t, got.Get("updated"))))
	assert.Equal(t, now.Unix(), got.Get("stamp"))

	manual := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	now = now.Add(time.Hour)
	require.NoError(t, got.Set("title", "third"))
	require.NoError(t, got.Set("updated", manual))
	require.NoError(t, em.Flush(ctx))
	assert.True(t, manual.Equal(timeOf(t, got.Get("updated"))), "assigned values win")
	assert.Equal(t, now.Unix(), got.Get("stamp"))
}

func TestPersistKeepsAssignedValues(t *testing.T) {
	evm := orm.NewEventManager()
	evm.AddEventSubscriber(timestampable.New())
	em := ormtest.Open(t, evm, post())

	at := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	p := ormtest.Persist(t, em, "Post", map[string]any{"title": "old", "created": at})
	assert.Equal(t, at, p.Get("created"))
	assert.NotNil(t, p.Get("updated"))
}

func TestValidate(t *testing.T) {
	l := timestampable.New()
	tests := map[string]func(m *mapping.ClassMetadata){
		`timestampable field "missing" is not mapped`: func(m *mapping.ClassMetadata) {
			m.Timestampable["missing"] = mapping.OnCreate
		},
		`timestampable field "title" has type "string"`: func(m *mapping.ClassMetadata) {
			m.Timestampable["title"] = mapping.OnCreate
		},
		`timestampable field "created": unknown trigger "change"`: func(m *mapping.ClassMetadata) {
			m.Timestampable["created"] = "change"
		},
		`timestampable field "id" is the identifier`: func(m *mapping.ClassMetadata) {
			m.Timestampable["id"] = mapping.OnCreate
		},
	}
	for msg, mutate := range tests {
		t.Run(msg, func(t *testing.T) {
			m := post()
			mutate(m)
			err := l.HandleEvent(context.Background(), orm.LoadClassMetadata, &orm.EventArgs{Metadata: m})
			require.Error(t, err)
			assert.Contains(t, err.Error(), msg)
		})
	}
	require.NoError(t, timestampable.Validate(post()))
}
