package mapping

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// YAMLDriver reads mappings from *.orm.yml and *.orm.yaml files:
//
//	PackageVersion:
//	  table: package_version
//	  fields:
//	    id: {type: integer, id: true, generated: auto}
//	    version: {type: string, length: 32, unique: true}
//	  manyToOne:
//	    package: {target: Package, onDelete: cascade}
//
// Field order follows the document.
type YAMLDriver struct {
	paths []string

	mu      sync.Mutex
	scanned bool
	names   []string
	classes map[string]*ClassMetadata
}

// NewYAMLDriver returns a driver reading the mapping files found under paths.
func NewYAMLDriver(paths ...string) *YAMLDriver {
	return &YAMLDriver{paths: slices.Clone(paths)}
}

type (
	yamlClass struct {
		Package   string    `yaml:"package"`
		Table     string    `yaml:"table"`
		Tree      string    `yaml:"tree"`
		Fields    yaml.Node `yaml:"fields"`
		ManyToOne yaml.Node `yaml:"manyToOne"`
	}
	yamlField struct {
		Type          string   `yaml:"type"`
		Column        string   `yaml:"column"`
		Length        int      `yaml:"length"`
		Precision     int      `yaml:"precision"`
		Scale         int      `yaml:"scale"`
		Nullable      bool     `yaml:"nullable"`
		Unique        bool     `yaml:"unique"`
		ID            bool     `yaml:"id"`
		Generated     string   `yaml:"generated"`
		Timestampable string   `yaml:"timestampable"`
		Slug          []string `yaml:"slug"`
		SlugSeparator string   `yaml:"slugSeparator"`
		SlugUnique    *bool    `yaml:"slugUnique"`
		SlugUpdatable *bool    `yaml:"slugUpdatable"`
		Tree          string   `yaml:"tree"`
	}
	yamlAssociation struct {
		Target     string `yaml:"target"`
		JoinColumn string `yaml:"joinColumn"`
		Nullable   *bool  `yaml:"nullable"`
		OnDelete   string `yaml:"onDelete"`
		Tree       string `yaml:"tree"`
	}
)

// ClassNames implements Driver.
func (d *YAMLDriver) ClassNames(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.scan(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(d.names), nil
}

// Load implements Driver.
func (d *YAMLDriver) Load(ctx context.Context, class string) (*ClassMetadata, error) {
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

// Reset implements Resetter.
func (d *YAMLDriver) Reset(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanned, d.names, d.classes = false, nil, nil
	return nil
}

func (d *YAMLDriver) scan(ctx context.Context) error {
	if d.scanned {
		return nil
	}
	files, err := sourceFiles(d.paths, func(name string) bool {
		return strings.HasSuffix(name, ".orm.yml") || strings.HasSuffix(name, ".orm.yaml")
	})
	if err != nil {
		return err
	}
	results := make([][]*ClassMetadata, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("mapping: %w", err)
		}
		ms, err := ParseYAML(b)
		if err != nil {
			return fmt.Errorf("mapping: %s: %w", file, err)
		}
		for _, m := range ms {
			m.Source = file
		}
		results = append(results, ms)
	}
	d.names, d.classes = register(results)
	d.scanned = true
	return nil
}

// ParseYAML decodes the classes of a YAML mapping document.
func ParseYAML(b []byte) ([]*ClassMetadata, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping of classes", root.Line)
	}
	var classes []*ClassMetadata
	for i := 0; i+1 < len(root.Content); i += 2 {
		name, node := root.Content[i].Value, root.Content[i+1]
		var yc yamlClass
		if err := node.Decode(&yc); err != nil {
			return nil, err
		}
		m := &ClassMetadata{Name: name, Package: yc.Package, Table: yc.Table}
		if yc.Tree != "" {
			m.Tree = &TreeConfig{Strategy: yc.Tree}
		}
		if err := yamlFields(m, &yc.Fields); err != nil {
			return nil, err
		}
		if err := yamlAssociations(m, &yc.ManyToOne); err != nil {
			return nil, err
		}
		if m.ID == "" {
			return nil, &Error{Class: m.Name, Msg: "no field is marked as id"}
		}
		classes = append(classes, m)
	}
	return classes, nil
}

// pairs iterates the key/value pairs of a mapping node in document order.
func pairs(n *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	if n.Kind == 0 {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if err := fn(n.Content[i].Value, n.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func yamlFields(m *ClassMetadata, n *yaml.Node) error {
	return pairs(n, func(name string, value *yaml.Node) error {
		var yf yamlField
		if err := value.Decode(&yf); err != nil {
			return err
		}
		f := &FieldMapping{
			Name:      name,
			Column:    yf.Column,
			Type:      yf.Type,
			Length:    yf.Length,
			Precision: yf.Precision,
			Scale:     yf.Scale,
			Nullable:  yf.Nullable,
			Unique:    yf.Unique,
			ID:        yf.ID,
		}
		if f.ID {
			if m.ID != "" {
				return &Error{Class: m.Name, Msg: fmt.Sprintf("duplicate identifier %q", name)}
			}
			m.ID, m.IDGenerator, f.Nullable = name, yf.Generated, false
		}
		switch yf.Timestampable {
		case "":
		case OnCreate, OnUpdate:
			if m.Timestampable == nil {
				m.Timestampable = make(map[string]string)
			}
			m.Timestampable[name] = yf.Timestampable
		default:
			return &Error{Class: m.Name, Msg: fmt.Sprintf("field %q: unknown timestampable trigger %q", name, yf.Timestampable)}
		}
		if len(yf.Slug) > 0 {
			s := &SlugConfig{Field: name, Fields: yf.Slug, Separator: yf.SlugSeparator, Unique: true, Updatable: true}
			if yf.SlugUnique != nil {
				s.Unique = *yf.SlugUnique
			}
			if yf.SlugUpdatable != nil {
				s.Updatable = *yf.SlugUpdatable
			}
			m.Sluggable = append(m.Sluggable, s)
		}
		if err := yamlTreeRole(m, name, yf.Tree); err != nil {
			return err
		}
		m.Fields = append(m.Fields, f)
		return nil
	})
}

func yamlAssociations(m *ClassMetadata, n *yaml.Node) error {
	return pairs(n, func(name string, value *yaml.Node) error {
		var ya yamlAssociation
		if err := value.Decode(&ya); err != nil {
			return err
		}
		a := &Association{
			Field:      name,
			Target:     ya.Target,
			JoinColumn: ya.JoinColumn,
			Nullable:   true,
			OnDelete:   strings.ToUpper(ya.OnDelete),
		}
		if ya.Nullable != nil {
			a.Nullable = *ya.Nullable
		}
		if err := yamlTreeRole(m, name, ya.Tree); err != nil {
			return err
		}
		m.Associations = append(m.Associations, a)
		return nil
	})
}

func yamlTreeRole(m *ClassMetadata, name, role string) error {
	if role == "" {
		return nil
	}
	if m.Tree == nil {
		m.Tree = &TreeConfig{}
	}
	if err := m.Tree.assign(role, name); err != nil {
		return &Error{Class: m.Name, Msg: fmt.Sprintf("field %q: %v", name, err)}
	}
	return nil
}

var (
	_ Driver   = (*YAMLDriver)(nil)
	_ Resetter = (*YAMLDriver)(nil)
)
