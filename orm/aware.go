package orm

// ManagerAware is implemented by components that need the entity manager
// once it is built. The resource builder hands the manager to every
// registered consumer.
type ManagerAware interface {
	SetEntityManager(*EntityManager)
}

// PersistentObject can be embedded to make a type ManagerAware.
type PersistentObject struct {
	em *EntityManager
}

// SetEntityManager implements ManagerAware.
func (p *PersistentObject) SetEntityManager(em *EntityManager) { p.em = em }

// EntityManager returns the injected manager, or nil.
func (p *PersistentObject) EntityManager() *EntityManager { return p.em }

var _ ManagerAware = (*PersistentObject)(nil)
