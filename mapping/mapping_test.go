package mapping

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easybib/ormresource/cache"
)

func TestFieldName(t *testing.T) {
	for in, want := range map[string]string{
		"ID":      "id",
		"Name":    "name",
		"URLPath": "urlPath",
		"lower":   "lower",
		"X":       "x",
	} {
		assert.Equal(t, want, fieldName(in), in)
	}
}

func TestNamingStrategy(t *testing.T) {
	ns, err := NamingStrategyFor("")
	require.NoError(t, err)
	assert.Equal(t, "PackageVersion", ns.TableName("PackageVersion"))
	assert.Equal(t, "parent_id", ns.JoinColumnName("parent"))

	ns, err = NamingStrategyFor(NamingUnderscore)
	require.NoError(t, err)
	assert.Equal(t, "package_version", ns.TableName("PackageVersion"))
	assert.Equal(t, "created_at", ns.ColumnName("createdAt"))
	assert.Equal(t, "parent_node_id", ns.JoinColumnName("parentNode"))

	_, err = NamingStrategyFor("camel")
	require.Error(t, err)
}

func TestAnnotationDriver(t *testing.T) {
	ctx := context.Background()
	d := NewAnnotationDriver([]string{"testdata/entity", "testdata/override"})

	names, err := d.ClassNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Category", "PackageVersion", "other.PackageVersion"}, names)

	t.Run("PackageVersion", func(t *testing.T) {
		m, err := d.Load(ctx, "PackageVersion")
		require.NoError(t, err)
		assert.Equal(t, "entity", m.Package)
		assert.Equal(t, "package_version", m.Table)
		assert.Equal(t, "id", m.ID)
		assert.Equal(t, GeneratorAuto, m.IDGenerator)
		assert.Equal(t, []string{"id", "name", "version", "notes", "created", "updated"}, m.Names())

		f, ok := m.Field("version")
		require.True(t, ok)
		assert.Equal(t, TypeString, f.Type)
		assert.Equal(t, 32, f.Length)
		assert.True(t, f.Unique)

		f, ok = m.Field("notes")
		require.True(t, ok)
		assert.Equal(t, TypeText, f.Type)
		assert.True(t, f.Nullable)

		f, _ = m.Field("created")
		assert.Equal(t, TypeDateTime, f.Type)
		assert.Equal(t, map[string]string{"created": OnCreate, "updated": OnUpdate}, m.Timestampable)
		assert.Contains(t, m.Source, "package_version.go")
	})

	t.Run("Qualified", func(t *testing.T) {
		m, err := d.Load(ctx, "other.PackageVersion")
		require.NoError(t, err)
		assert.Equal(t, "other_version", m.Table)
		m, err = d.Load(ctx, "entity.PackageVersion")
		require.NoError(t, err)
		assert.Equal(t, "package_version", m.Table)
	})

	t.Run("Tree", func(t *testing.T) {
		m, err := d.Load(ctx, "Category")
		require.NoError(t, err)
		require.NotNil(t, m.Tree)
		assert.Equal(t, TreeConfig{Strategy: "nested", Left: "left", Right: "right", Level: "level", Parent: "parent"}, *m.Tree)
		a, ok := m.Association("parent")
		require.True(t, ok)
		assert.Equal(t, "Category", a.Target)
		assert.Equal(t, "CASCADE", a.OnDelete)
		assert.True(t, a.Nullable)
		require.Len(t, m.Sluggable, 1)
		assert.Equal(t, SlugConfig{Field: "slug", Fields: []string{"title"}, Unique: true, Updatable: true}, *m.Sluggable[0])
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := d.Load(ctx, "Helper")
		assert.ErrorIs(t, err, ErrUnknownClass)
	})

	t.Run("Isolated", func(t *testing.T) {
		m, err := d.Load(ctx, "PackageVersion")
		require.NoError(t, err)
		m.Table = "changed"
		m, err = d.Load(ctx, "PackageVersion")
		require.NoError(t, err)
		assert.Equal(t, "package_version", m.Table)
	})
}

func writeSource(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entity.go"), []byte(src), 0o644))
	return dir
}

func TestAnnotationDriverErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "NoID",
			src:  "package e\n//orm:entity\ntype A struct {\n\tName string `orm:\"length:3\"`\n}\n",
			want: "no field is tagged as id",
		},
		{
			name: "UnknownOption",
			src:  "package e\n//orm:entity\ntype A struct {\n\tID int64 `orm:\"id;index\"`\n}\n",
			want: `unknown tag option "index"`,
		},
		{
			name: "UnknownDirective",
			src:  "package e\n//orm:entity\n//orm:cached\ntype A struct {\n\tID int64 `orm:\"id\"`\n}\n",
			want: "unknown directive //orm:cached",
		},
		{
			name: "NoType",
			src:  "package e\n//orm:entity\ntype A struct {\n\tID int64 `orm:\"id\"`\n\tTags []string `orm:\"\"`\n}\n",
			want: "cannot infer type",
		},
		{
			name: "Syntax",
			src:  "package e\ntype A struct {",
			want: "mapping: parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewAnnotationDriver([]string{writeSource(t, tt.src)})
			_, err := d.ClassNames(ctx)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("IgnoredNames", func(t *testing.T) {
		src := "package e\n//orm:entity\n//orm:cached\ntype A struct {\n\tID int64 `orm:\"id;index\"`\n}\n"
		d := NewAnnotationDriver([]string{writeSource(t, src)}, "cached", "index")
		names, err := d.ClassNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, names)
	})
}

func TestYAMLDriver(t *testing.T) {
	ctx := context.Background()
	d := NewYAMLDriver("testdata/yaml")
	names, err := d.ClassNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Article"}, names)

	m, err := d.Load(ctx, "blog.Article")
	require.NoError(t, err)
	assert.Equal(t, "article", m.Table)
	assert.Equal(t, "id", m.ID)
	assert.Equal(t, GeneratorUUID, m.IDGenerator)
	assert.Equal(t, []string{"id", "title", "slug", "published", "body", "category"}, m.Names())
	require.Len(t, m.Sluggable, 1)
	assert.Equal(t, "_", m.Sluggable[0].Separator)
	assert.False(t, m.Sluggable[0].Unique)
	assert.True(t, m.Sluggable[0].Updatable)
	a, _ := m.Association("category")
	assert.False(t, a.Nullable)

	_, err = ParseYAML([]byte("A:\n  fields:\n    name: {type: string}\n"))
	require.Error(t, err)
	_, err = ParseYAML([]byte("- a\n- b\n"))
	require.Error(t, err)
}

func TestChainDriver(t *testing.T) {
	ctx := context.Background()
	d := ChainDriver{NewAnnotationDriver([]string{"testdata/entity"}), NewYAMLDriver("testdata/yaml")}
	names, err := d.ClassNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Category", "PackageVersion", "Article"}, names)

	m, err := d.Load(ctx, "Article")
	require.NoError(t, err)
	assert.Equal(t, "blog", m.Package)

	_, err = d.Load(ctx, "Missing")
	assert.ErrorIs(t, err, ErrUnknownClass)
	require.NoError(t, d.Reset(ctx))
}

// countingDriver counts the loads of the wrapped driver.
type countingDriver struct {
	Driver
	loads int
}

func (d *countingDriver) Load(ctx context.Context, class string) (*ClassMetadata, error) {
	d.loads++
	return d.Driver.Load(ctx, class)
}

func TestCachedDriver(t *testing.T) {
	ctx := context.Background()
	inner := &countingDriver{Driver: NewAnnotationDriver([]string{"testdata/entity"})}
	c := cache.NewMemory()
	d := NewCachedDriver(inner, c, nil)

	m1, err := d.Load(ctx, "PackageVersion")
	require.NoError(t, err)
	m2, err := d.Load(ctx, "PackageVersion")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.loads)
	assert.Equal(t, m1, m2)

	names, err := d.ClassNames(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2)

	require.NoError(t, d.Reset(ctx))
	assert.Zero(t, c.Len())
	_, err = d.Load(ctx, "PackageVersion")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.loads)
}

// readOnlyCache fails every write.
type readOnlyCache struct {
	cache.Noop
}

func (readOnlyCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("read-only")
}

func TestCachedDriverWriteFailure(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	inner := &countingDriver{Driver: NewAnnotationDriver([]string{"testdata/entity"})}
	d := NewCachedDriver(inner, readOnlyCache{}, logger)

	m, err := d.Load(ctx, "PackageVersion")
	require.NoError(t, err)
	assert.Equal(t, "PackageVersion", m.Name)
	_, err = d.ClassNames(ctx)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "key=mapping:PackageVersion")
	assert.Contains(t, out, `key=mapping:$classes`)
	assert.Contains(t, out, "error=read-only")
}

func TestFactory(t *testing.T) {
	ctx := context.Background()
	var hooked []string
	f := NewFactory(
		ChainDriver{NewAnnotationDriver([]string{"testdata/entity"}), NewYAMLDriver("testdata/yaml")},
		WithNamingStrategy(UnderscoreNamingStrategy{}),
		WithLoadHook(func(_ context.Context, m *ClassMetadata) error {
			hooked = append(hooked, m.Name)
			return nil
		}),
	)

	m, err := f.MetadataFor(ctx, "Category")
	require.NoError(t, err)
	assert.Equal(t, "category", m.Table)
	title, _ := m.Field("title")
	assert.Equal(t, "title", title.Column)
	left, _ := m.Field("left")
	assert.Equal(t, "lft", left.Column)
	parent, _ := m.Association("parent")
	assert.Equal(t, "parent_id", parent.JoinColumn)
	assert.Equal(t, "-", m.Sluggable[0].Separator)

	same, err := f.MetadataFor(ctx, "entity.Category")
	require.NoError(t, err)
	assert.Same(t, m, same)
	assert.Equal(t, []string{"Category"}, hooked)

	article, err := f.MetadataFor(ctx, "Article")
	require.NoError(t, err)
	title, _ = article.Field("title")
	assert.Equal(t, 100, title.Length)
	slug, _ := article.Field("slug")
	assert.Equal(t, 255, slug.Length)

	all, err := f.AllMetadata(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Len(t, hooked, 3)

	f.Evict("Category")
	again, err := f.MetadataFor(ctx, "Category")
	require.NoError(t, err)
	assert.NotSame(t, m, again)

	require.NoError(t, f.Reset(ctx))
	_, err = f.MetadataFor(ctx, "PackageVersion")
	require.NoError(t, err)
	assert.Len(t, hooked, 5)
}

func TestFactoryValidation(t *testing.T) {
	ctx := context.Background()
	src := "package e\n//orm:entity\ntype A struct {\n\tID int64 `orm:\"id\"`\n\tName string `orm:\"type:blob\"`\n}\n"
	f := NewFactory(NewAnnotationDriver([]string{writeSource(t, src)}))
	_, err := f.MetadataFor(ctx, "A")
	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "A", merr.Class)
	assert.Contains(t, err.Error(), `unknown type "blob"`)
}

func TestStaticDriver(t *testing.T) {
	ctx := context.Background()
	m := &ClassMetadata{Name: "B", Table: "b", ID: "id", Fields: []*FieldMapping{{Name: "id", Type: TypeInteger, ID: true}}}
	d := NewStaticDriver(m, &ClassMetadata{Name: "A"})

	names, err := d.ClassNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)

	got, err := d.Load(ctx, "B")
	require.NoError(t, err)
	got.Fields[0].Column = "changed"
	assert.Empty(t, m.Fields[0].Column, "loaded metadata is a copy")

	_, err = d.Load(ctx, "C")
	assert.ErrorIs(t, err, ErrUnknownClass)
}
