package server

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/viewsync/viewsync/protocol"
)

type OutboxState int

const (
	OutboxEmpty     OutboxState = 0
	OutboxBuffering OutboxState = 1
	OutboxFlushing  OutboxState = 2
	OutboxClosed    OutboxState = 3
)

func (self OutboxState) String() string {
	switch self {
	case OutboxEmpty:
		return "empty"
	case OutboxBuffering:
		return "buffering"
	case OutboxFlushing:
		return "flushing"
	case OutboxClosed:
		return "closed"
	default:
		return fmt.Sprintf("OutboxState(%d)", int(self))
	}
}

type outboxItem struct {
	queueItem

	message protocol.Message
	scope   string
	// the first message to occupy this key in the current window was a create
	// of something the client does not have. A remove for the key then cancels the pair.
	createdInWindow bool
}

// Outbox is a per-connection send buffer.
// Messages with equal redundancy keys coalesce: the latest value is delivered
// at the slot of the first enqueue. Messages with different keys are delivered
// in first-enqueue order.
// An update that would be overtaken by a later overlapping update moves to the end,
// and a gui reset always goes to the end after dropping the gui messages it clears.
type Outbox struct {
	stateLock sync.Mutex

	state          OutboxState
	queue          *outboxQueue[*outboxItem]
	nextSequenceId uint64
	// scope -> keys pending in the current window
	scopeKeys map[string]map[string]bool
	// lifecycle keys of nodes and elements the client has been sent
	presentKeys map[string]bool

	notify chan struct{}
	done   chan struct{}
}

func NewOutbox() *Outbox {
	return &Outbox{
		state:       OutboxEmpty,
		queue:       newOutboxQueue[*outboxItem](cmpSequenceNumber[*outboxItem]),
		scopeKeys:   map[string]map[string]bool{},
		presentKeys: map[string]bool{},
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func (self *Outbox) Enqueue(message protocol.Message) error {
	key := protocol.RedundancyKey(message)
	scope, _ := protocol.Scope(message)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.state == OutboxClosed {
		return ErrOutboxClosed
	}

	if message.Kind() == protocol.KindResetGui {
		dropped := self.resetGui()
		glog.V(2).Infof("[outbox]reset gui (%d dropped)\n", dropped)
	}

	if protocol.IsRemove(message) {
		if existing, ok := self.queue.GetByKey(key); ok && existing.createdInWindow {
			// the client never saw the create
			dropped := self.dropScope(scope, "")
			glog.V(2).Infof("[outbox]cancel %s (%d dropped)\n", key, dropped)
			self.updateState()
			return nil
		}
		// updates to a node being removed are not worth sending
		self.dropScope(scope, key)
	}

	item := &outboxItem{
		queueItem: queueItem{
			key:              key,
			messageByteCount: protocol.PayloadByteCount(message),
		},
		message: message,
		scope:   scope,
	}
	if existing, ok := self.queue.GetByKey(key); ok {
		item.createdInWindow = existing.createdInWindow
		if existing.scope != scope {
			self.unindexScope(existing.scope, key)
		}
		if protocol.IsUpdate(message) && self.overlapsLaterUpdate(scope, key, message, existing.sequenceNumber) {
			// a later pending update sets some of the same properties.
			// This update must land after it.
			self.queue.RemoveByKey(key)
			item.sequenceNumber = self.nextSequenceId
			self.nextSequenceId += 1
			self.queue.Add(item)
		} else {
			item.sequenceNumber = existing.sequenceNumber
			self.queue.Replace(item)
		}
	} else {
		item.sequenceNumber = self.nextSequenceId
		self.nextSequenceId += 1
		item.createdInWindow = protocol.IsCreate(message) && !self.presentKeys[key]
		self.queue.Add(item)
	}
	self.indexScope(scope, key)

	self.updateState()
	select {
	case self.notify <- struct{}{}:
	default:
	}
	return nil
}

// Flush atomically drains the buffer in delivery order.
// Enqueues that race a flush land in the next window.
func (self *Outbox) Flush() []protocol.Message {
	self.stateLock.Lock()
	if self.state == OutboxClosed {
		self.stateLock.Unlock()
		return nil
	}
	queue := self.queue
	for _, item := range queue.Items() {
		if protocol.IsCreate(item.message) {
			self.presentKeys[item.key] = true
		} else if protocol.IsRemove(item.message) {
			delete(self.presentKeys, item.key)
		}
	}
	self.queue = newOutboxQueue[*outboxItem](cmpSequenceNumber[*outboxItem])
	self.scopeKeys = map[string]map[string]bool{}
	self.state = OutboxFlushing
	self.stateLock.Unlock()

	size, _ := queue.QueueSize()
	messages := make([]protocol.Message, 0, size)
	for {
		item, ok := queue.RemoveFirst()
		if !ok {
			break
		}
		messages = append(messages, item.message)
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.state == OutboxFlushing {
		self.updateState()
	}
	return messages
}

// Notify is signalled after an enqueue. At most one signal is pending.
func (self *Outbox) Notify() <-chan struct{} {
	return self.notify
}

// Done is closed when the outbox closes.
func (self *Outbox) Done() <-chan struct{} {
	return self.done
}

func (self *Outbox) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.state == OutboxClosed {
		return
	}
	self.state = OutboxClosed
	self.queue = newOutboxQueue[*outboxItem](cmpSequenceNumber[*outboxItem])
	self.scopeKeys = map[string]map[string]bool{}
	self.presentKeys = map[string]bool{}
	close(self.done)
}

func (self *Outbox) State() OutboxState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *Outbox) QueueSize() (int, ByteCount) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.queue.QueueSize()
}

// must be called with the state lock
func (self *Outbox) updateState() {
	size, _ := self.queue.QueueSize()
	if size == 0 {
		self.state = OutboxEmpty
	} else {
		self.state = OutboxBuffering
	}
}

// resetGui drops every pending gui message, including earlier resets,
// and forgets the gui elements the client has. The reset is delivered after
// anything still pending, so the client ends with no gui.
// must be called with the state lock
func (self *Outbox) resetGui() int {
	dropped := 0
	for _, item := range self.queue.Items() {
		if !protocol.IsGui(item.message) {
			continue
		}
		if _, ok := self.queue.RemoveByKey(item.key); ok {
			dropped += 1
		}
		self.unindexScope(item.scope, item.key)
	}
	for key := range self.presentKeys {
		if strings.HasPrefix(key, protocol.GuiLifecycleKeyPrefix) {
			delete(self.presentKeys, key)
		}
	}
	return dropped
}

// overlapsLaterUpdate tests whether a pending update of the scope, enqueued after `sequenceNumber`,
// sets any of the properties of `message`.
// must be called with the state lock
func (self *Outbox) overlapsLaterUpdate(scope string, key string, message protocol.Message, sequenceNumber uint64) bool {
	updates, _ := protocol.UpdatedProps(message)
	for otherKey := range self.scopeKeys[scope] {
		if otherKey == key {
			continue
		}
		other, ok := self.queue.GetByKey(otherKey)
		if !ok || other.sequenceNumber < sequenceNumber || other.message.Kind() != message.Kind() {
			continue
		}
		otherUpdates, _ := protocol.UpdatedProps(other.message)
		for name := range updates {
			if _, ok := otherUpdates[name]; ok {
				return true
			}
		}
	}
	return false
}

// dropScope removes every pending message of the scope except `keepKey`.
// must be called with the state lock
func (self *Outbox) dropScope(scope string, keepKey string) int {
	if scope == "" {
		return 0
	}
	keys, ok := self.scopeKeys[scope]
	if !ok {
		return 0
	}
	dropped := 0
	for key := range keys {
		if key == keepKey {
			continue
		}
		if _, ok := self.queue.RemoveByKey(key); ok {
			dropped += 1
		}
		delete(keys, key)
	}
	if len(keys) == 0 {
		delete(self.scopeKeys, scope)
	}
	return dropped
}

// must be called with the state lock
func (self *Outbox) indexScope(scope string, key string) {
	if scope == "" {
		return
	}
	keys, ok := self.scopeKeys[scope]
	if !ok {
		keys = map[string]bool{}
		self.scopeKeys[scope] = keys
	}
	keys[key] = true
}

// must be called with the state lock
func (self *Outbox) unindexScope(scope string, key string) {
	if keys, ok := self.scopeKeys[scope]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(self.scopeKeys, scope)
		}
	}
}
