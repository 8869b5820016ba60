// Package timestampable fills creation and update timestamps.
//
// Fields mapped with timestampable:create are set when the entity is
// persisted and left empty; fields mapped with timestampable:update are
// set on persist and on every update that does not assign them itself.
//
//	evm.AddEventSubscriber(timestampable.New())
package timestampable

import (
	"context"
	"fmt"
	"time"

	"github.com/easybib/ormresource/mapping"
	"github.com/easybib/ormresource/orm"
)

// Listener sets timestamp fields. It implements orm.EventSubscriber.
type Listener struct {
	now func() time.Time
}

// Option configures a Listener.
type Option func(*Listener)

// WithClock sets the clock of the listener.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) {
		l.now = now
	}
}

// New returns a timestampable listener.
func New(opts ...Option) *Listener {
	l := &Listener{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SubscribedEvents implements orm.EventSubscriber.
func (*Listener) SubscribedEvents() []string {
	return []string{orm.LoadClassMetadata, orm.PrePersist, orm.PreUpdate}
}

// HandleEvent implements orm.EventHandler.
func (l *Listener) HandleEvent(_ context.Context, name string, args *orm.EventArgs) error {
	m := args.Metadata
	if len(m.Timestampable) == 0 {
		return nil
	}
	switch name {
	case orm.LoadClassMetadata:
		return Validate(m)
	case orm.PrePersist:
		now := l.now()
		for field := range m.Timestampable {
			if args.Entity.Get(field) != nil {
				continue
			}
			if err := set(args.Entity, field, now); err != nil {
				return err
			}
		}
	case orm.PreUpdate:
		now := l.now()
		for field, on := range m.Timestampable {
			if _, changed := args.Changes[field]; on != mapping.OnUpdate || changed {
				continue
			}
			if err := set(args.Entity, field, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate checks that timestamp fields are dates, datetimes or unix
// timestamps stored as integers.
func Validate(m *mapping.ClassMetadata) error {
	for field, on := range m.Timestampable {
		f, ok := m.Field(field)
		if !ok {
			return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("timestampable field %q is not mapped", field)}
		}
		switch f.Type {
		case mapping.TypeDateTime, mapping.TypeDate, mapping.TypeInteger, mapping.TypeBigInt:
		default:
			return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("timestampable field %q has type %q", field, f.Type)}
		}
		if on != mapping.OnCreate && on != mapping.OnUpdate {
			return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("timestampable field %q: unknown trigger %q", field, on)}
		}
		if f.ID {
			return &mapping.Error{Class: m.Name, Msg: fmt.Sprintf("timestampable field %q is the identifier", field)}
		}
	}
	return nil
}

// set writes now in the representation of the field type. Datetimes
// keep second precision, the precision of a DATETIME column.
func set(e *orm.Entity, field string, now time.Time) error {
	f, _ := e.Metadata().Field(field)
	switch f.Type {
	case mapping.TypeInteger, mapping.TypeBigInt:
		return e.Set(field, now.Unix())
	case mapping.TypeDate:
		y, mo, d := now.Date()
		return e.Set(field, time.Date(y, mo, d, 0, 0, 0, 0, time.UTC))
	default:
		return e.Set(field, now.UTC().Truncate(time.Second))
	}
}
