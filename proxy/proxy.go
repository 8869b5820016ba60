// Package proxy generates typed wrappers around entity records. A proxy
// embeds *orm.Entity and adds a getter and a setter per mapped field, so
// that application code reads p.Version() instead of e.Get("version").
package proxy

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"
	"golang.org/x/sync/errgroup"

	"github.com/easybib/ormresource/mapping"
)

const ormPkg = "github.com/easybib/ormresource/orm"

// entityMethods are the methods of orm.Entity a getter must not shadow.
var entityMethods = []string{
	"Assign", "Changes", "Class", "Decode", "Get", "ID", "IsProxy",
	"Load", "Metadata", "Set", "SetPersisted", "Values",
}

// Generator writes proxy files into a directory.
type Generator struct {
	dir     string
	pkg     string
	workers int
}

// New returns a generator writing package pkg into dir.
func New(dir, pkg string) *Generator {
	if pkg == "" {
		pkg = "proxies"
	}
	return &Generator{dir: dir, pkg: pkg, workers: runtime.GOMAXPROCS(0)}
}

// Dir returns the output directory.
func (g *Generator) Dir() string { return g.dir }

// FileName returns the name of the proxy file of a class.
func FileName(m *mapping.ClassMetadata) string {
	return inflect.Underscore(m.Name) + "_proxy.go"
}

// TypeName returns the name of the proxy type of a class.
func TypeName(m *mapping.ClassMetadata) string {
	return m.Name + "Proxy"
}

// Generate writes one file per class and returns the written paths.
func (g *Generator) Generate(ctx context.Context, ms []*mapping.ClassMetadata) ([]string, error) {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("proxy: create output directory: %w", err)
	}
	paths := make([]string, len(ms))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i, m := range ms {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := g.Render(m)
			if err != nil {
				return err
			}
			path := filepath.Join(g.dir, FileName(m))
			if err := writeFile(path, b); err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// writeFile replaces path atomically. Unchanged files are not touched.
func writeFile(path string, b []byte) error {
	if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, b) {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".proxy-*")
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("proxy: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("proxy: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("proxy: write %s: %w", path, err)
	}
	return nil
}

// Render returns the formatted source of the proxy of a class.
func (g *Generator) Render(m *mapping.ClassMetadata) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.File(m).Render(&buf); err != nil {
		return nil, fmt.Errorf("proxy: render %s: %w", m.Name, err)
	}
	return buf.Bytes(), nil
}

// File builds the proxy file of a class.
func (g *Generator) File(m *mapping.ClassMetadata) *jen.File {
	f := jen.NewFile(g.pkg)
	f.HeaderComment("Code generated by ormresource. DO NOT EDIT.")
	f.ImportName(ormPkg, "orm")

	name := TypeName(m)
	f.Commentf("%s is a typed view of a %s entity.", name, m.Name)
	f.Type().Id(name).Struct(
		jen.Op("*").Qual(ormPkg, "Entity"),
	)

	f.Commentf("New%s wraps e, which must be a %s entity.", name, m.Name)
	f.Func().Id("New"+name).Params(jen.Id("e").Op("*").Qual(ormPkg, "Entity")).Params(jen.Id(name), jen.Error()).Block(
		jen.If(jen.Id("e").Op("==").Nil().Op("||").Id("e").Dot("Class").Call().Op("!=").Lit(m.Name)).Block(
			jen.Return(jen.Id(name).Values(), jen.Qual("fmt", "Errorf").Call(jen.Lit(g.pkg+": not a "+m.Name+" entity"))),
		),
		jen.Return(jen.Id(name).Values(jen.Id("e")), jen.Nil()),
	)

	f.Commentf("Reference%s returns a lazy reference to the %s with the given identifier.", m.Name, m.Name)
	f.Func().Id("Reference"+m.Name).Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("em").Op("*").Qual(ormPkg, "EntityManager"),
		jen.Id("id").Any(),
	).Params(jen.Id(name), jen.Error()).Block(
		jen.List(jen.Id("e"), jen.Err()).Op(":=").Id("em").Dot("Reference").Call(jen.Id("ctx"), jen.Lit(m.Name), jen.Id("id")),
		jen.If(jen.Err().Op("!=").Nil()).Block(
			jen.Return(jen.Id(name).Values(), jen.Err()),
		),
		jen.Return(jen.Id("New"+name).Call(jen.Id("e"))),
	)

	f.Comment("Load reads the values of an unloaded reference.")
	f.Func().Params(jen.Id("p").Id(name)).Id("Load").Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("em").Op("*").Qual(ormPkg, "EntityManager"),
	).Error().Block(
		jen.Return(jen.Id("em").Dot("Load").Call(jen.Id("ctx"), jen.Id("p").Dot("Entity"))),
	)

	for _, fm := range m.Fields {
		accessors(f, name, fm.Name, goType(fm.Type))
	}
	for _, a := range m.Associations {
		accessors(f, name, a.Field, nil)
	}
	return f
}

// accessors adds the getter and setter of a field. A nil type declares
// an association, read and written as its identifier.
func accessors(f *jen.File, typeName, field string, typ *jen.Statement) {
	method := MethodName(field)
	getter := method
	if slices.Contains(entityMethods, getter) {
		getter = "Get" + getter
	}
	get := jen.Id("p").Dot("Get").Call(jen.Lit(field))
	if typ == nil {
		f.Commentf("%s returns the identifier referenced by %s.", getter, field)
		f.Func().Params(jen.Id("p").Id(typeName)).Id(getter).Params().Any().Block(jen.Return(get))
		f.Commentf("Set%s references another entity or its identifier.", method)
		f.Func().Params(jen.Id("p").Id(typeName)).Id("Set"+method).Params(jen.Id("v").Any()).Error().Block(
			jen.Return(jen.Id("p").Dot("Set").Call(jen.Lit(field), jen.Id("v"))),
		)
		return
	}
	f.Commentf("%s returns the value of %s.", getter, field)
	f.Func().Params(jen.Id("p").Id(typeName)).Id(getter).Params().Add(typ.Clone()).Block(
		jen.List(jen.Id("v"), jen.Id("_")).Op(":=").Add(get).Assert(typ.Clone()),
		jen.Return(jen.Id("v")),
	)
	f.Commentf("Set%s sets the value of %s.", method, field)
	f.Func().Params(jen.Id("p").Id(typeName)).Id("Set"+method).Params(jen.Id("v").Add(typ.Clone())).Error().Block(
		jen.Return(jen.Id("p").Dot("Set").Call(jen.Lit(field), jen.Id("v"))),
	)
}

// MethodName returns the exported accessor name of a field:
// createdAt becomes CreatedAt and id becomes ID.
func MethodName(field string) string {
	name := inflect.Camelize(field)
	if base, ok := strings.CutSuffix(name, "Id"); ok {
		name = base + "ID"
	}
	return name
}

// goType returns the Go type values of a field type are normalized to.
func goType(typ string) *jen.Statement {
	switch typ {
	case mapping.TypeInteger, mapping.TypeBigInt, mapping.TypeSmallInt:
		return jen.Int64()
	case mapping.TypeBoolean:
		return jen.Bool()
	case mapping.TypeFloat:
		return jen.Float64()
	case mapping.TypeDateTime, mapping.TypeDate:
		return jen.Qual("time", "Time")
	default:
		return jen.String()
	}
}
