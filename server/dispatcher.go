package server

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/viewsync/viewsync/protocol"
)

// MessageSink receives every broadcast message, in addition to the connections.
type MessageSink interface {
	Enqueue(message protocol.Message) error
}

// Dispatcher routes messages into outboxes.
// Broadcast is not transactional across clients: a client that leaves mid-broadcast misses the message.
type Dispatcher struct {
	registry *Registry
	sinks    *CallbackList[MessageSink]
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sinks:    NewCallbackList[MessageSink](),
	}
}

func (self *Dispatcher) Broadcast(message protocol.Message) {
	self.registry.each(func(connectionId Id, outbox *Outbox) {
		self.enqueue(connectionId, outbox, message)
	})
	self.sink(message)
}

func (self *Dispatcher) BroadcastExcept(exceptConnectionId Id, message protocol.Message) {
	self.registry.each(func(connectionId Id, outbox *Outbox) {
		if connectionId != exceptConnectionId {
			self.enqueue(connectionId, outbox, message)
		}
	})
	self.sink(message)
}

func (self *Dispatcher) Unicast(connectionId Id, message protocol.Message) error {
	outbox, ok := self.registry.Get(connectionId)
	if !ok {
		return fmt.Errorf("%w: connection %s", ErrNotFound, connectionId)
	}
	return outbox.Enqueue(message)
}

// AddSink registers a sink for broadcasts. The returned function removes it.
func (self *Dispatcher) AddSink(sink MessageSink) func() {
	sinkId := self.sinks.Add(sink)
	return func() {
		self.sinks.Remove(sinkId)
	}
}

func (self *Dispatcher) enqueue(connectionId Id, outbox *Outbox, message protocol.Message) {
	if err := outbox.Enqueue(message); err != nil {
		if errors.Is(err, ErrOutboxClosed) {
			// the connection is leaving
			glog.V(2).Infof("[dispatch]%s closed, drop %s\n", connectionId, message.Kind())
		} else {
			glog.Infof("[dispatch]%s enqueue error = %s\n", connectionId, err)
		}
	}
}

func (self *Dispatcher) sink(message protocol.Message) {
	for _, sink := range self.sinks.Get() {
		HandleError(func() {
			if err := sink.Enqueue(message); err != nil {
				glog.Infof("[dispatch]sink error = %s\n", err)
			}
		})
	}
}
