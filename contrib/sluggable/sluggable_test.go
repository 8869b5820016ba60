package sluggable_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easybib/ormresource/contrib/sluggable"
	"github.com/easybib/ormresource/internal/ormtest"
	"github.com/easybib/ormresource/mapping"
	"github.com/easybib/ormresource/orm"
)

func article() *mapping.ClassMetadata {
	return &mapping.ClassMetadata{
		Name:        "Article",
		Table:       "article",
		ID:          "id",
		IDGenerator: mapping.GeneratorAuto,
		Fields: []*mapping.FieldMapping{
			{Name: "id", Type: mapping.TypeInteger, ID: true},
			{Name: "title", Type: mapping.TypeString, Length: 64},
			{Name: "code", Type: mapping.TypeString, Length: 16, Nullable: true},
			{Name: "slug", Type: mapping.TypeString, Length: 20, Unique: true},
			{Name: "handle", Type: mapping.TypeString, Length: 64, Nullable: true},
		},
		Sluggable: []*mapping.SlugConfig{
			{Field: "slug", Fields: []string{"title"}, Unique: true, Updatable: true},
			{Field: "handle", Fields: []string{"code", "title"}, Separator: "_", Updatable: false},
		},
	}
}

func TestSlugify(t *testing.T) {
	for in, want := range map[string]string{
		"Hello World":             "hello-world",
		"  Héllo, Wörld!  ":       "hello-world",
		"Ça va? Très bien.":       "ca-va-tres-bien",
		"2024: A Space Odyssey":   "2024-a-space-odyssey",
		"--already-slugged--":     "already-slugged",
		"!!!":                     "",
		"Crème brûlée & naïveté": "creme-brulee-naivete",
	} {
		assert.Equal(t, want, sluggable.Slugify(in, "-"), in)
	}
	assert.Equal(t, "hello_world", sluggable.Slugify("Hello World", "_"))
}

func TestListener(t *testing.T) {
	ctx := context.Background()
	evm := orm.NewEventManager()
	evm.AddEventSubscriber(sluggable.New())
	em := ormtest.Open(t, evm, article())

	a := ormtest.Persist(t, em, "Article", map[string]any{"title": "Héllo Wörld", "code": "EN"})
	b := ormtest.Persist(t, em, "Article", map[string]any{"title": "Hello, world!"})
	require.NoError(t, em.Flush(ctx))
	assert.Equal(t, "hello-world", a.Get("slug"))
	assert.Equal(t, "en_hello_world", a.Get("handle"))
	assert.Equal(t, "hello-world-1", b.Get("slug"), "unique within one flush")

	c := ormtest.Persist(t, em, "Article", map[string]any{"title": "Hello World"})
	require.NoError(t, em.Flush(ctx))
	assert.Equal(t, "hello-world-2", c.Get("slug"))

	t.Run("Truncate", func(t *testing.T) {
		long := ormtest.Persist(t, em, "Article", map[string]any{"title": "A very long title that is cut"})
		again := ormtest.Persist(t, em, "Article", map[string]any{"title": "A very long title that is cut"})
		require.NoError(t, em.Flush(ctx))
		assert.Equal(t, "a-very-long-title-th", long.Get("slug"))
		assert.Equal(t, "a-very-long-title-1", again.Get("slug"))
	})

	t.Run("Assigned", func(t *testing.T) {
		d := ormtest.Persist(t, em, "Article", map[string]any{"title": "Other", "slug": "Hello World"})
		require.NoError(t, em.Flush(ctx))
		assert.Equal(t, "hello-world-3", d.Get("slug"))
	})

	t.Run("Update", func(t *testing.T) {
		require.NoError(t, a.Set("title", "Brand new"))
		require.NoError(t, em.Flush(ctx))
		assert.Equal(t, "brand-new", a.Get("slug"))
		assert.Equal(t, "en_hello_world", a.Get("handle"), "handle is not updatable")

		require.NoError(t, b.Set("title", "Hello World"))
		require.NoError(t, em.Flush(ctx))
		assert.Equal(t, "hello-world", b.Get("slug"), "the freed base is reused")

		require.NoError(t, c.Set("code", "x"))
		require.NoError(t, em.Flush(ctx))
		assert.Equal(t, "hello-world-2", c.Get("slug"), "unrelated changes keep the slug")
	})

	t.Run("Empty", func(t *testing.T) {
		ormtest.Persist(t, em, "Article", map[string]any{"title": "???"})
		err := em.Flush(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sluggable: Article.slug: empty slug")
	})
}

func TestValidate(t *testing.T) {
	tests := map[string]func(m *mapping.ClassMetadata){
		`slug field "missing" is not mapped`: func(m *mapping.ClassMetadata) {
			m.Sluggable[0].Field = "missing"
		},
		`slug field "id" has type "integer"`: func(m *mapping.ClassMetadata) {
			m.Sluggable[0].Field = "id"
		},
		`slug field "slug" has no source fields`: func(m *mapping.ClassMetadata) {
			m.Sluggable[0].Fields = nil
		},
		`slug field "slug": invalid source field "body"`: func(m *mapping.ClassMetadata) {
			m.Sluggable[0].Fields = []string{"title", "body"}
		},
		`slug field "slug": invalid source field "slug"`: func(m *mapping.ClassMetadata) {
			m.Sluggable[0].Fields = []string{"slug"}
		},
	}
	l := sluggable.New()
	for msg, mutate := range tests {
		t.Run(msg, func(t *testing.T) {
			m := article()
			mutate(m)
			err := l.HandleEvent(context.Background(), orm.LoadClassMetadata, &orm.EventArgs{Metadata: m})
			require.Error(t, err)
			assert.Contains(t, err.Error(), msg)
		})
	}
	require.NoError(t, sluggable.Validate(article()))
}
