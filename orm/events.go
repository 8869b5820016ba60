package orm

import (
	"github.com/easybib/ormresource/dialect"
	"github.com/easybib/ormresource/event"
	"github.com/easybib/ormresource/mapping"
)

// Lifecycle events dispatched by the entity manager.
const (
	// LoadClassMetadata is dispatched once per class when its metadata
	// is loaded. Listeners may amend or reject the metadata.
	LoadClassMetadata = "loadClassMetadata"
	// PrePersist is dispatched when a new entity is persisted.
	PrePersist = "prePersist"
	// PreRemove is dispatched when a managed entity is removed.
	PreRemove = "preRemove"
	// PreInsert is dispatched inside the flush transaction before the
	// INSERT of an entity.
	PreInsert  = "preInsert"
	PostInsert = "postInsert"
	// PreUpdate is dispatched inside the flush transaction with the
	// changes of the entity. Listeners may set further values.
	PreUpdate  = "preUpdate"
	PostUpdate = "postUpdate"
	PreDelete  = "preDelete"
	PostDelete = "postDelete"
	// PostLoad is dispatched after an entity was read from the database.
	PostLoad = "postLoad"
	// PostFlush is dispatched after the flush transaction committed.
	PostFlush = "postFlush"
)

// EventArgs are the arguments of all entity manager events.
type EventArgs struct {
	// Entity is nil for LoadClassMetadata and PostFlush.
	Entity   *Entity
	Metadata *mapping.ClassMetadata
	// Changes holds the changes of the entity on PreUpdate and PostUpdate.
	Changes map[string]Change
	// Conn is the flush transaction on Pre/Post Insert, Update and Delete,
	// and the connection otherwise.
	Conn    dialect.ExecQuerier
	Manager *EntityManager
}

type (
	// EventManager dispatches entity manager events.
	EventManager = event.Manager[*EventArgs]
	// EventSubscriber subscribes to entity manager events.
	EventSubscriber = event.Subscriber[*EventArgs]
	// EventHandler handles entity manager events.
	EventHandler = event.Handler[*EventArgs]
	// EventHandlerFunc is a function handling entity manager events.
	EventHandlerFunc = event.HandlerFunc[*EventArgs]
)

// NewEventManager returns an empty event manager.
func NewEventManager() *EventManager {
	return event.NewManager[*EventArgs]()
}
