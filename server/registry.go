package server

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Registry is the set of connections that receive broadcasts.
// Lock order: the store lock is taken before the registry lock, never after.
type Registry struct {
	stateLock sync.RWMutex

	// connection id -> outbox
	outboxes map[Id]*Outbox
}

func NewRegistry() *Registry {
	return &Registry{
		outboxes: map[Id]*Outbox{},
	}
}

func (self *Registry) Add(connectionId Id, outbox *Outbox) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.outboxes[connectionId] = outbox
}

// Remove returns false if the connection was not registered.
func (self *Registry) Remove(connectionId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	_, ok := self.outboxes[connectionId]
	delete(self.outboxes, connectionId)
	return ok
}

func (self *Registry) Get(connectionId Id) (*Outbox, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()

	outbox, ok := self.outboxes[connectionId]
	return outbox, ok
}

// ConnectionIds returns the registered ids, oldest connection first.
func (self *Registry) ConnectionIds() []Id {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()

	connectionIds := maps.Keys(self.outboxes)
	slices.SortFunc(connectionIds, func(a Id, b Id) int {
		if a.LessThan(b) {
			return -1
		} else if b.LessThan(a) {
			return 1
		} else {
			return 0
		}
	})
	return connectionIds
}

func (self *Registry) Len() int {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()

	return len(self.outboxes)
}

// each calls `callback` for every registered outbox while holding the read lock.
func (self *Registry) each(callback func(connectionId Id, outbox *Outbox)) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()

	for connectionId, outbox := range self.outboxes {
		callback(connectionId, outbox)
	}
}
