package server

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// CallbackList makes a copy of the list on update,
// so callers can iterate the result of `Get` without holding a lock.
type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId int
	callbacks      map[int]T
	ordered        []T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
		ordered:   []T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.ordered
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbacks[callbackId] = callback
	self.reorder()
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		return
	}
	delete(self.callbacks, callbackId)
	self.reorder()
}

func (self *CallbackList[T]) reorder() {
	callbackIds := maps.Keys(self.callbacks)
	slices.Sort(callbackIds)
	ordered := make([]T, 0, len(callbackIds))
	for _, callbackId := range callbackIds {
		ordered = append(ordered, self.callbacks[callbackId])
	}
	self.ordered = ordered
}
