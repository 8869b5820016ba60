package mapping

import (
	"cmp"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// AnnotationDriver reads mappings from Go source files. A struct whose
// doc comment carries the //orm:entity directive is an entity, and its
// fields are mapped by `orm` struct tags:
//
//	//orm:entity table=package_version
//	type PackageVersion struct {
//	    ID      int64     `orm:"id;generated:auto"`
//	    Version string    `orm:"length:32;unique"`
//	    Created time.Time `orm:"timestampable:create"`
//	}
//
// Sources are parsed, never compiled. Directories are walked recursively
// and the first path defining a class wins.
type AnnotationDriver struct {
	paths   []string
	ignored map[string]bool

	mu      sync.Mutex
	scanned bool
	names   []string
	classes map[string]*ClassMetadata
}

// NewAnnotationDriver returns a driver reading the given paths. Ignored
// names are directive or tag keys that are skipped instead of rejected.
func NewAnnotationDriver(paths []string, ignoredNames ...string) *AnnotationDriver {
	d := &AnnotationDriver{
		paths:   slices.Clone(paths),
		ignored: make(map[string]bool, len(ignoredNames)),
	}
	for _, n := range ignoredNames {
		d.ignored[n] = true
	}
	return d
}

// Paths returns the metadata search paths of the driver.
func (d *AnnotationDriver) Paths() []string {
	return slices.Clone(d.paths)
}

// ClassNames implements Driver.
func (d *AnnotationDriver) ClassNames(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.scan(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(d.names), nil
}

// Load implements Driver.
func (d *AnnotationDriver) Load(ctx context.Context, class string) (*ClassMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.scan(ctx); err != nil {
		return nil, err
	}
	m, ok := d.classes[class]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownClass, class)
	}
	return m.Clone(), nil
}

// Reset implements Resetter. The next lookup scans the paths again.
func (d *AnnotationDriver) Reset(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanned, d.names, d.classes = false, nil, nil
	return nil
}

func (d *AnnotationDriver) scan(ctx context.Context) error {
	if d.scanned {
		return nil
	}
	files, err := sourceFiles(d.paths, func(name string) bool {
		return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
	})
	if err != nil {
		return err
	}
	results := make([][]*ClassMetadata, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ms, err := d.parseFile(file)
			results[i] = ms
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	d.names, d.classes = register(results)
	d.scanned = true
	return nil
}

// register indexes parsed classes by name and qualified name. Earlier
// results take precedence.
func register(results [][]*ClassMetadata) ([]string, map[string]*ClassMetadata) {
	var names []string
	classes := make(map[string]*ClassMetadata)
	for _, ms := range results {
		for _, m := range ms {
			if _, ok := classes[m.QualifiedName()]; ok {
				continue
			}
			classes[m.QualifiedName()] = m
			if _, ok := classes[m.Name]; !ok {
				classes[m.Name] = m
				names = append(names, m.Name)
			} else {
				names = append(names, m.QualifiedName())
			}
		}
	}
	return names, classes
}

// sourceFiles walks the paths in order and returns the matching files.
func sourceFiles(paths []string, match func(string) bool) ([]string, error) {
	var files []string
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if de.IsDir() {
				if path != root && strings.HasPrefix(de.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if match(de.Name()) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("mapping: walk %s: %w", root, err)
		}
	}
	return files, nil
}

func (d *AnnotationDriver) parseFile(path string) ([]*ClassMetadata, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("mapping: parse %s: %w", path, err)
	}
	var classes []*ClassMetadata
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts := spec.(*ast.TypeSpec)
			st, ok := ts.Type.(*ast.StructType)
			if !ok {
				continue
			}
			doc := ts.Doc
			if doc == nil && len(gd.Specs) == 1 {
				doc = gd.Doc
			}
			dirs, err := d.directives(doc)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", fset.Position(ts.Pos()), err)
			}
			args, ok := dirs["entity"]
			if !ok {
				continue
			}
			m := &ClassMetadata{
				Name:    ts.Name.Name,
				Package: file.Name.Name,
				Table:   args["table"],
				Source:  fset.Position(ts.Pos()).String(),
			}
			if tree, ok := dirs["tree"]; ok {
				m.Tree = &TreeConfig{Strategy: cmp.Or(tree["type"], tree[""])}
			}
			if err := d.mapStruct(m, st); err != nil {
				return nil, err
			}
			classes = append(classes, m)
		}
	}
	return classes, nil
}

// directives extracts the //orm:name k=v ... lines of a doc comment.
func (d *AnnotationDriver) directives(doc *ast.CommentGroup) (map[string]map[string]string, error) {
	dirs := make(map[string]map[string]string)
	if doc == nil {
		return dirs, nil
	}
	for _, c := range doc.List {
		text, ok := strings.CutPrefix(c.Text, "//orm:")
		if !ok {
			continue
		}
		name, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
		switch name {
		case "entity", "tree":
		default:
			if d.ignored[name] {
				continue
			}
			return nil, fmt.Errorf("mapping: unknown directive //orm:%s", name)
		}
		args := make(map[string]string)
		for _, kv := range strings.Fields(rest) {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				// A bare word is the positional argument.
				args[""] = k
				continue
			}
			if uq, err := strconv.Unquote(v); err == nil {
				v = uq
			}
			args[k] = v
		}
		dirs[name] = args
	}
	return dirs, nil
}

func (d *AnnotationDriver) mapStruct(m *ClassMetadata, st *ast.StructType) error {
	for _, field := range st.Fields.List {
		if field.Tag == nil || len(field.Names) == 0 {
			continue
		}
		tag, err := strconv.Unquote(field.Tag.Value)
		if err != nil {
			continue
		}
		value, ok := reflect.StructTag(tag).Lookup("orm")
		if !ok || value == "-" {
			continue
		}
		opts, err := parseTag(value)
		if err != nil {
			return &Error{Class: m.Name, Msg: err.Error()}
		}
		typ, nullable := inferType(field.Type)
		for _, name := range field.Names {
			if err := d.mapField(m, fieldName(name.Name), typ, nullable, opts); err != nil {
				return err
			}
		}
	}
	if m.ID == "" {
		return &Error{Class: m.Name, Msg: "no field is tagged as id"}
	}
	return nil
}

type tagOption struct {
	key, value string
	hasValue   bool
}

// parseTag splits a "key:value;flag;key:value" tag.
func parseTag(tag string) ([]tagOption, error) {
	var opts []tagOption
	for _, part := range strings.Split(tag, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, ":")
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("invalid tag option %q", part)
		}
		opts = append(opts, tagOption{key: k, value: strings.TrimSpace(v), hasValue: ok})
	}
	return opts, nil
}

// flag interprets a boolean tag option; a bare key means true.
func (o tagOption) flag() (bool, error) {
	if !o.hasValue {
		return true, nil
	}
	return strconv.ParseBool(o.value)
}

func (d *AnnotationDriver) mapField(m *ClassMetadata, name, typ string, nullable bool, opts []tagOption) error {
	for _, o := range opts {
		if o.key == "name" {
			name = o.value
		}
	}
	var (
		f     = &FieldMapping{Name: name, Type: typ, Nullable: nullable}
		assoc *Association
		slug  *SlugConfig
		role  string
	)
	fail := func(format string, a ...any) error {
		return &Error{Class: m.Name, Msg: fmt.Sprintf("field %q: ", name) + fmt.Sprintf(format, a...)}
	}
	for _, o := range opts {
		var err error
		switch o.key {
		case "name":
		case "column":
			f.Column = o.value
		case "type":
			f.Type = o.value
		case "length":
			f.Length, err = strconv.Atoi(o.value)
		case "precision":
			f.Precision, err = strconv.Atoi(o.value)
		case "scale":
			f.Scale, err = strconv.Atoi(o.value)
		case "id":
			f.ID, err = o.flag()
		case "generated":
			m.IDGenerator = o.value
			if !o.hasValue {
				m.IDGenerator = GeneratorAuto
			}
		case "nullable":
			f.Nullable, err = o.flag()
		case "unique":
			f.Unique, err = o.flag()
		case "timestampable":
			if o.value != OnCreate && o.value != OnUpdate {
				return fail("timestampable must be %q or %q", OnCreate, OnUpdate)
			}
			if m.Timestampable == nil {
				m.Timestampable = make(map[string]string)
			}
			m.Timestampable[name] = o.value
		case "slug", "slugSeparator", "slugUnique", "slugUpdatable":
			if slug == nil {
				slug = &SlugConfig{Field: name, Unique: true, Updatable: true}
			}
			switch o.key {
			case "slug":
				slug.Fields = splitList(o.value)
			case "slugSeparator":
				slug.Separator = o.value
			case "slugUnique":
				slug.Unique, err = o.flag()
			case "slugUpdatable":
				slug.Updatable, err = o.flag()
			}
		case "tree":
			role = o.value
		case "manyToOne":
			if assoc == nil {
				assoc = &Association{Field: name, Nullable: true}
			}
			assoc.Target = o.value
		case "joinColumn", "onDelete":
			if assoc == nil {
				assoc = &Association{Field: name, Nullable: true}
			}
			if o.key == "joinColumn" {
				assoc.JoinColumn = o.value
			} else {
				assoc.OnDelete = strings.ToUpper(o.value)
			}
		default:
			if !d.ignored[o.key] {
				return fail("unknown tag option %q", o.key)
			}
		}
		if err != nil {
			return fail("option %s: %v", o.key, err)
		}
	}
	if role != "" {
		if m.Tree == nil {
			m.Tree = &TreeConfig{}
		}
		if err := m.Tree.assign(role, name); err != nil {
			return fail("%v", err)
		}
	}
	if slug != nil {
		if len(slug.Fields) == 0 {
			return fail("slug requires source fields")
		}
		m.Sluggable = append(m.Sluggable, slug)
	}
	if assoc != nil {
		if assoc.Target == "" {
			return fail("joinColumn or onDelete without manyToOne")
		}
		for _, o := range opts {
			if o.key == "nullable" {
				assoc.Nullable = f.Nullable
			}
		}
		m.Associations = append(m.Associations, assoc)
		return nil
	}
	if f.Type == "" {
		return fail("cannot infer type, set type:")
	}
	if f.ID {
		if m.ID != "" {
			return fail("duplicate identifier, %q is already the id", m.ID)
		}
		m.ID = f.Name
		f.Nullable = false
	}
	m.Fields = append(m.Fields, f)
	return nil
}

// assign sets a nested set role to a field.
func (t *TreeConfig) assign(role, field string) error {
	switch role {
	case TreeLeft:
		t.Left = field
	case TreeRight:
		t.Right = field
	case TreeLevel:
		t.Level = field
	case TreeParent:
		t.Parent = field
	default:
		return fmt.Errorf("unknown tree role %q", role)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// inferType maps a Go type expression to a field type. Pointers and
// database/sql null types are nullable.
func inferType(expr ast.Expr) (string, bool) {
	switch t := expr.(type) {
	case *ast.StarExpr:
		typ, _ := inferType(t.X)
		return typ, true
	case *ast.Ident:
		switch t.Name {
		case "int", "int32", "uint32", "uint":
			return TypeInteger, false
		case "int64", "uint64":
			return TypeBigInt, false
		case "int8", "int16", "uint8", "uint16":
			return TypeSmallInt, false
		case "string":
			return TypeString, false
		case "bool":
			return TypeBoolean, false
		case "float32", "float64":
			return TypeFloat, false
		}
	case *ast.SelectorExpr:
		pkg, ok := t.X.(*ast.Ident)
		if !ok {
			break
		}
		switch pkg.Name + "." + t.Sel.Name {
		case "time.Time":
			return TypeDateTime, false
		case "uuid.UUID":
			return TypeGUID, false
		case "sql.NullString":
			return TypeString, true
		case "sql.NullInt64":
			return TypeBigInt, true
		case "sql.NullInt32":
			return TypeInteger, true
		case "sql.NullBool":
			return TypeBoolean, true
		case "sql.NullFloat64":
			return TypeFloat, true
		case "sql.NullTime":
			return TypeDateTime, true
		}
	}
	return "", false
}

var (
	_ Driver   = (*AnnotationDriver)(nil)
	_ Resetter = (*AnnotationDriver)(nil)
)
