package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/viewsync/viewsync/protocol"
)

var ErrConnectionManagerClosed = errors.New("connection manager closed")

type ConnectionFunction func(connection *Connection)

// Connection is one client session, from handshake to disconnect.
// It holds no canonical state; a client is rebuilt from the store on join.
type Connection struct {
	ctx    context.Context
	cancel context.CancelFunc

	id         Id
	clientName string
	transport  Transport
	outbox     *Outbox
	manager    *ConnectionManager
}

func (self *Connection) Id() Id {
	return self.id
}

func (self *Connection) ClientName() string {
	return self.clientName
}

func (self *Connection) Outbox() *Outbox {
	return self.outbox
}

// Done is closed when the connection has left.
func (self *Connection) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *Connection) Close() {
	self.manager.Leave(self)
}

func (self *Connection) run() {
	defer self.manager.Leave(self)

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	go func() {
		defer handleCancel()
		HandleError(self.runSend)
	}()

	go func() {
		defer handleCancel()
		HandleError(self.runReceive)
	}()

	select {
	case <-handleCtx.Done():
	}
}

// runSend flushes the outbox when messages are pending, one window per transport message.
func (self *Connection) runSend() {
	settings := self.manager.settings
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-self.outbox.Notify():
			// let a burst of updates coalesce before the flush
			if 0 < settings.FlushInterval {
				select {
				case <-self.ctx.Done():
					return
				case <-time.After(settings.FlushInterval):
				}
			}
			messages := self.outbox.Flush()
			if len(messages) == 0 {
				continue
			}
			window := encodeWindow(self.id, messages)
			if err := self.transport.Send(self.ctx, window); err != nil {
				glog.Infof("[ts]%s-> error = %s\n", self.id, err)
				return
			}
			glog.V(2).Infof("[ts]%s-> %d messages (%d bytes)\n", self.id, len(messages), len(window))
		case <-time.After(settings.PingTimeout):
			if err := self.transport.Send(self.ctx, make([]byte, 0)); err != nil {
				glog.Infof("[ts]ping %s-> error = %s\n", self.id, err)
				return
			}
		}
	}
}

// encodeWindow drops messages that cannot be encoded rather than the whole window.
func encodeWindow(connectionId Id, messages []protocol.Message) []byte {
	frames := make([][]byte, 0, len(messages))
	for _, message := range messages {
		frame, err := protocol.EncodeFrame(message)
		if err != nil {
			glog.Infof("[ts]%s drop %s = %s\n", connectionId, message.Kind(), err)
			continue
		}
		frames = append(frames, frame)
	}
	return protocol.JoinWindow(frames)
}

func (self *Connection) runReceive() {
	for {
		window, err := self.transport.Receive(self.ctx)
		if err != nil {
			glog.Infof("[tr]%s<- error = %s\n", self.id, err)
			return
		}
		frames, err := protocol.SplitWindow(window)
		if err != nil {
			// keep the frames before the corruption
			glog.Infof("[tr]%s<- window error = %s\n", self.id, err)
		}
		for _, frame := range frames {
			message, err := protocol.DecodeFrame(frame)
			if err != nil {
				glog.Infof("[tr]%s<- drop = %s\n", self.id, err)
				continue
			}
			HandleError(func() {
				self.manager.router.Route(self.id, message)
			})
		}
	}
}

// ConnectionManager owns the live connections.
type ConnectionManager struct {
	ctx context.Context

	store         *Store
	registry      *Registry
	router        *EventRouter
	fileTransfers *FileTransferManager
	settings      *ConnectionSettings

	stateLock sync.Mutex
	// connection id -> connection
	connections map[Id]*Connection
	closed      bool

	joinCallbacks  *CallbackList[ConnectionFunction]
	leaveCallbacks *CallbackList[ConnectionFunction]
}

func NewConnectionManager(
	ctx context.Context,
	store *Store,
	registry *Registry,
	router *EventRouter,
	fileTransfers *FileTransferManager,
	settings *ConnectionSettings,
) *ConnectionManager {
	return &ConnectionManager{
		ctx:            ctx,
		store:          store,
		registry:       registry,
		router:         router,
		fileTransfers:  fileTransfers,
		settings:       settings,
		connections:    map[Id]*Connection{},
		joinCallbacks:  NewCallbackList[ConnectionFunction](),
		leaveCallbacks: NewCallbackList[ConnectionFunction](),
	}
}

func (self *ConnectionManager) AddJoinCallback(callback ConnectionFunction) func() {
	callbackId := self.joinCallbacks.Add(callback)
	return func() {
		self.joinCallbacks.Remove(callbackId)
	}
}

func (self *ConnectionManager) AddLeaveCallback(callback ConnectionFunction) func() {
	callbackId := self.leaveCallbacks.Add(callback)
	return func() {
		self.leaveCallbacks.Remove(callbackId)
	}
}

// Join seeds a new connection with the current state and registers it for broadcasts.
// The seed and the registration happen in one store critical section, so every
// broadcast the connection sees is ordered after the state it depends on.
// Lock order: store, then manager, then registry.
func (self *ConnectionManager) Join(transport Transport, clientName string) (*Connection, error) {
	cancelCtx, cancel := context.WithCancel(self.ctx)
	connection := &Connection{
		ctx:        cancelCtx,
		cancel:     cancel,
		id:         NewId(),
		clientName: clientName,
		transport:  transport,
		outbox:     NewOutbox(),
		manager:    self,
	}

	var joinErr error
	self.store.WithSnapshot(func(snapshot []protocol.Message) {
		for _, message := range snapshot {
			if err := connection.outbox.Enqueue(message); err != nil {
				joinErr = fmt.Errorf("seed %s: %w", connection.id, err)
				return
			}
		}

		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed || self.ctx.Err() != nil {
			joinErr = ErrConnectionManagerClosed
			return
		}
		self.connections[connection.id] = connection
		self.registry.Add(connection.id, connection.outbox)
		glog.V(1).Infof("[conn]%s join %s (%d snapshot messages)\n", connection.id, transport, len(snapshot))
	})
	if joinErr != nil {
		connection.outbox.Close()
		cancel()
		glog.Infof("[conn]%s join error = %s\n", connection.id, joinErr)
		return nil, joinErr
	}

	if glog.V(2) {
		go Trace(fmt.Sprintf("[conn]run %s", connection.id), connection.run)
	} else {
		go connection.run()
	}

	for _, callback := range self.joinCallbacks.Get() {
		HandleError(func() {
			callback(connection)
		})
	}
	return connection, nil
}

// Leave tears a connection down. Safe to call more than once.
func (self *ConnectionManager) Leave(connection *Connection) {
	present := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if _, ok := self.connections[connection.id]; ok {
			present = true
			delete(self.connections, connection.id)
			self.registry.Remove(connection.id)
		}
	}()
	if !present {
		return
	}

	connection.outbox.Close()
	connection.cancel()
	self.fileTransfers.Release(connection.id)
	self.router.Release(connection.id)
	if err := connection.transport.Close(); err != nil {
		glog.V(1).Infof("[conn]%s close error = %s\n", connection.id, err)
	}
	glog.V(1).Infof("[conn]%s leave\n", connection.id)

	for _, callback := range self.leaveCallbacks.Get() {
		HandleError(func() {
			callback(connection)
		})
	}
}

func (self *ConnectionManager) Connection(connectionId Id) (*Connection, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	connection, ok := self.connections[connectionId]
	return connection, ok
}

func (self *ConnectionManager) Connections() []*Connection {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	connections := make([]*Connection, 0, len(self.connections))
	for _, connection := range self.connections {
		connections = append(connections, connection)
	}
	return connections
}

// Close disconnects every connection. Later joins fail.
func (self *ConnectionManager) Close() {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.closed = true
	}()
	for _, connection := range self.Connections() {
		self.Leave(connection)
	}
}
