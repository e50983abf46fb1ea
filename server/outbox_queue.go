package server

import (
	"container/heap"
	"sync"
)

type outboxQueueItem interface {
	Key() string
	MessageByteCount() ByteCount
	SequenceNumber() uint64
	HeapIndex() int
	SetHeapIndex(int)
}

type queueItem struct {
	key              string
	messageByteCount ByteCount
	sequenceNumber   uint64

	// the index of the item in the heap
	heapIndex int
}

// outboxQueueItem implementation

func (self *queueItem) Key() string {
	return self.key
}

func (self *queueItem) MessageByteCount() ByteCount {
	return self.messageByteCount
}

func (self *queueItem) SequenceNumber() uint64 {
	return self.sequenceNumber
}

func (self *queueItem) HeapIndex() int {
	return self.heapIndex
}

func (self *queueItem) SetHeapIndex(heapIndex int) {
	self.heapIndex = heapIndex
}

type OutboxQueueCmpFunction[T outboxQueueItem] func(a T, b T) int

func cmpSequenceNumber[T outboxQueueItem](a T, b T) int {
	if a.SequenceNumber() < b.SequenceNumber() {
		return -1
	} else if b.SequenceNumber() < a.SequenceNumber() {
		return 1
	} else {
		return 0
	}
}

// ordered by sequenceNumber, indexed by key
type outboxQueue[T outboxQueueItem] struct {
	orderedItems []T
	// key -> item
	keyItems  map[string]T
	byteCount ByteCount
	stateLock sync.Mutex

	cmp OutboxQueueCmpFunction[T]
}

func newOutboxQueue[T outboxQueueItem](cmp OutboxQueueCmpFunction[T]) *outboxQueue[T] {
	outboxQueue := &outboxQueue[T]{
		orderedItems: []T{},
		keyItems:     map[string]T{},
		byteCount:    0,
		cmp:          cmp,
	}
	heap.Init(outboxQueue)
	return outboxQueue
}

func (self *outboxQueue[T]) QueueSize() (int, ByteCount) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.orderedItems), self.byteCount
}

// Add inserts a new key. The key must not be present.
func (self *outboxQueue[T]) Add(item T) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.keyItems[item.Key()]; ok {
		panic("Duplicate key.")
	}
	self.keyItems[item.Key()] = item
	heap.Push(self, item)
	self.byteCount += item.MessageByteCount()
}

// Replace swaps the item for its key in place, keeping the heap position of the existing item.
func (self *outboxQueue[T]) Replace(item T) (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	existing, ok := self.keyItems[item.Key()]
	if !ok {
		var empty T
		return empty, false
	}
	i := existing.HeapIndex()
	item.SetHeapIndex(i)
	self.orderedItems[i] = item
	self.keyItems[item.Key()] = item
	self.byteCount += item.MessageByteCount() - existing.MessageByteCount()
	return existing, true
}

func (self *outboxQueue[T]) GetByKey(key string) (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	item, ok := self.keyItems[key]
	return item, ok
}

func (self *outboxQueue[T]) RemoveByKey(key string) (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	item, ok := self.keyItems[key]
	if !ok {
		var empty T
		return empty, false
	}
	return self.remove(item), true
}

func (self *outboxQueue[T]) remove(item T) T {
	delete(self.keyItems, item.Key())
	item_ := heap.Remove(self, item.HeapIndex())
	if any(item) != item_ {
		panic("Heap invariant broken.")
	}
	self.byteCount -= item.MessageByteCount()
	return item
}

func (self *outboxQueue[T]) RemoveFirst() (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.orderedItems) == 0 {
		var empty T
		return empty, false
	}

	item := heap.Remove(self, 0).(T)
	delete(self.keyItems, item.Key())
	self.byteCount -= item.MessageByteCount()
	return item, true
}

// Items returns the items in no particular order.
func (self *outboxQueue[T]) Items() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	items := make([]T, len(self.orderedItems))
	copy(items, self.orderedItems)
	return items
}

func (self *outboxQueue[T]) PeekFirst() (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.orderedItems) == 0 {
		var empty T
		return empty, false
	}
	return self.orderedItems[0], true
}

// heap.Interface

func (self *outboxQueue[T]) Push(x any) {
	item := x.(T)
	item.SetHeapIndex(len(self.orderedItems))
	self.orderedItems = append(self.orderedItems, item)
}

func (self *outboxQueue[T]) Pop() any {
	n := len(self.orderedItems)
	i := n - 1
	var empty T
	item := self.orderedItems[i]
	self.orderedItems[i] = empty
	self.orderedItems = self.orderedItems[:n-1]
	return item
}

// sort.Interface

func (self *outboxQueue[T]) Len() int {
	return len(self.orderedItems)
}

func (self *outboxQueue[T]) Less(i int, j int) bool {
	return self.cmp(self.orderedItems[i], self.orderedItems[j]) < 0
}

func (self *outboxQueue[T]) Swap(i int, j int) {
	a := self.orderedItems[i]
	b := self.orderedItems[j]
	b.SetHeapIndex(i)
	self.orderedItems[i] = b
	a.SetHeapIndex(j)
	self.orderedItems[j] = a
}
