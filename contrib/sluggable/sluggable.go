// Package sluggable builds URL slugs from other fields of an entity.
//
// A slug field lists its source fields in its mapping:
//
//	//orm:entity
//	type Article struct {
//		ID    int64  `orm:"id;generated:auto"`
//		Title string `orm:"length:128"`
//		Slug  string `orm:"length:128;unique;slug:title"`
//	}
//
// Slugs are transliterated to ASCII, lower-cased and joined by the
// separator. Unique slugs get a numeric suffix when the base is taken;
// uniqueness is checked inside the flush transaction.
package sluggable

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/easybib/ormresource/dialect/sql"
	"github.com/easybib/ormresource/mapping"
	"github.com/easybib/ormresource/orm"
)

// DefaultSeparator joins the words of a slug.
const DefaultSeparator = "-"

const (
	// defaultLength bounds slugs of string fields without a length.
	defaultLength   = 255
	maxSuffixDigits = 4
	maxSuffix       = 10000
)

// Listener generates slugs. It implements orm.EventSubscriber.
type Listener struct{}

// New returns a sluggable listener.
func New() *Listener { return &Listener{} }

// SubscribedEvents implements orm.EventSubscriber.
func (*Listener) SubscribedEvents() []string {
	return []string{orm.LoadClassMetadata, orm.PreInsert, orm.PreUpdate}
}

// HandleEvent implements orm.EventHandler.
func (l *Listener) HandleEvent(ctx context.Context, name string, args *orm.EventArgs) error {
	m := args.Metadata
	if len(m.Sluggable) == 0 {
		return nil
	}
	if name == orm.LoadClassMetadata {
		return Validate(m)
	}
	e := args.Entity
	for _, c := range m.Sluggable {
		var base string
		switch name {
		case orm.PreInsert:
			base = source(e, c)
			if s, _ := e.Get(c.Field).(string); s != "" {
				base = s
			}
		case orm.PreUpdate:
			ch, set := args.Changes[c.Field]
			switch {
			case set && ch.New != nil && ch.New != "":
				base, _ = ch.New.(string)
			case !c.Updatable:
				continue
			case set || sourceChanged(args.Changes, c):
				base = source(e, c)
			default:
				continue
			}
		}
		slug, err := l.slug(ctx, args, c, base)
		if err != nil {
			return fmt.Errorf("sluggable: %s.%s: %w", m.Name, c.Field, err)
		}
		if err := e.Set(c.Field, slug); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) slug(ctx context.Context, args *orm.EventArgs, c *mapping.SlugConfig, text string) (string, error) {
	sep := separator(c)
	limit := defaultLength
	if f, ok := args.Metadata.Field(c.Field); ok && f.Length > 0 {
		limit = f.Length
	}
	base := truncate(Slugify(text, sep), limit, sep)
	if base == "" {
		return "", fmt.Errorf("empty slug from fields %v", c.Fields)
	}
	if !c.Unique {
		return base, nil
	}
	// Suffixed candidates may cut the base further, so every candidate
	// starts with the shortest stem.
	taken, err := l.taken(ctx, args, c, truncate(base, limit-len(sep)-maxSuffixDigits, sep))
	if err != nil {
		return "", err
	}
	if !taken[base] {
		return base, nil
	}
	for i := 1; i < maxSuffix; i++ {
		suffix := sep + strconv.Itoa(i)
		s := truncate(base, limit-len(suffix), sep) + suffix
		if !taken[s] {
			return s, nil
		}
	}
	return "", fmt.Errorf("no free slug for %q", base)
}

// taken returns the slugs in the table starting with stem, ignoring the
// row of the entity itself.
func (l *Listener) taken(ctx context.Context, args *orm.EventArgs, c *mapping.SlugConfig, stem string) (map[string]bool, error) {
	m := args.Metadata
	col, _ := m.Column(c.Field)
	preds := []*sql.Predicate{sql.HasPrefix(col, stem)}
	if id := args.Entity.ID(); id != nil {
		preds = append(preds, sql.NEQ(m.IDField().Column, id))
	}
	query, qargs := sql.Select(args.Manager.Platform(), col).From(m.Table).Where(preds...).Query()
	rows := &sql.Rows{}
	if err := args.Conn.Query(ctx, query, qargs, rows); err != nil {
		return nil, err
	}
	found, err := sql.ScanMaps(rows)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(found))
	for _, row := range found {
		switch v := row[col].(type) {
		case string:
			taken[v] = true
		case []byte:
			taken[string(v)] = true
		}
	}
	return taken, nil
}

// Validate checks that slug fields are strings built from mapped fields.
func Validate(m *mapping.ClassMetadata) error {
	for _, c := range m.Sluggable {
		f, ok := m.Field(c.Field)
		if !ok {
			return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("slug field %q is not mapped", c.Field)}
		}
		if f.Type != mapping.TypeString && f.Type != mapping.TypeText {
			return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("slug field %q has type %q", c.Field, f.Type)}
		}
		if len(c.Fields) == 0 {
			return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("slug field %q has no source fields", c.Field)}
		}
		for _, name := range c.Fields {
			if !m.HasField(name) || name == c.Field {
				return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("slug field %q: invalid source field %q", c.Field, name)}
			}
		}
	}
	return nil
}

var ascii = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify returns the lower-case ASCII words of s joined by sep.
func Slugify(s, sep string) string {
	s, _, err := transform.String(ascii, s)
	if err != nil {
		return ""
	}
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	return strings.Join(words, sep)
}

func source(e *orm.Entity, c *mapping.SlugConfig) string {
	parts := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		if v := e.Get(f); v != nil {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, " ")
}

func sourceChanged(changes map[string]orm.Change, c *mapping.SlugConfig) bool {
	for _, f := range c.Fields {
		if _, ok := changes[f]; ok {
			return true
		}
	}
	return false
}

func separator(c *mapping.SlugConfig) string {
	if c.Separator == "" {
		return DefaultSeparator
	}
	return c.Separator
}

// truncate cuts s to n bytes without leaving a trailing separator.
func truncate(s string, n int, sep string) string {
	if n <= 0 {
		return ""
	}
	if len(s) > n {
		s = s[:n]
	}
	return strings.TrimSuffix(s, sep)
}
