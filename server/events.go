package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/viewsync/viewsync/protocol"
)

var ErrRenderCanceled = errors.New("render canceled")

type GuiEvent struct {
	ConnectionId Id
	Uuid         string
	Kind         protocol.Kind
	Updates      protocol.Props
	// properties before the update
	Previous protocol.Props
}

type GuiUpdateFunction func(event *GuiEvent)
type CameraFunction func(connectionId Id, camera *protocol.ViewerCameraMessage)
type SceneClickFunction func(connectionId Id, click *protocol.SceneNodeClickMessage)
type ScenePointerFunction func(connectionId Id, pointer *protocol.ScenePointerMessage)
type TransformFunction func(connectionId Id, update *protocol.TransformControlsUpdateMessage)
type DragFunction func(connectionId Id, name string, dragging bool)

type renderResult struct {
	payload []byte
	err     error
}

// EventRouter routes client messages to the store, the file transfer manager and application callbacks.
// Callbacks run outside the store lock, each isolated so that a panic never reaches the connection.
type EventRouter struct {
	store         *Store
	dispatcher    *Dispatcher
	fileTransfers *FileTransferManager

	stateLock sync.Mutex
	// connection id -> latest camera
	cameras map[Id]*protocol.ViewerCameraMessage
	// connection id -> waiting render requests, oldest first
	renderWaiters map[Id][]chan *renderResult

	guiUpdateCallbacks    *CallbackList[GuiUpdateFunction]
	cameraCallbacks       *CallbackList[CameraFunction]
	sceneClickCallbacks   *CallbackList[SceneClickFunction]
	scenePointerCallbacks *CallbackList[ScenePointerFunction]
	transformCallbacks    *CallbackList[TransformFunction]
	dragCallbacks         *CallbackList[DragFunction]
}

func NewEventRouter(store *Store, dispatcher *Dispatcher, fileTransfers *FileTransferManager) *EventRouter {
	return &EventRouter{
		store:                 store,
		dispatcher:            dispatcher,
		fileTransfers:         fileTransfers,
		cameras:               map[Id]*protocol.ViewerCameraMessage{},
		renderWaiters:         map[Id][]chan *renderResult{},
		guiUpdateCallbacks:    NewCallbackList[GuiUpdateFunction](),
		cameraCallbacks:       NewCallbackList[CameraFunction](),
		sceneClickCallbacks:   NewCallbackList[SceneClickFunction](),
		scenePointerCallbacks: NewCallbackList[ScenePointerFunction](),
		transformCallbacks:    NewCallbackList[TransformFunction](),
		dragCallbacks:         NewCallbackList[DragFunction](),
	}
}

func (self *EventRouter) AddGuiUpdateCallback(callback GuiUpdateFunction) func() {
	callbackId := self.guiUpdateCallbacks.Add(callback)
	return func() {
		self.guiUpdateCallbacks.Remove(callbackId)
	}
}

func (self *EventRouter) AddCameraCallback(callback CameraFunction) func() {
	callbackId := self.cameraCallbacks.Add(callback)
	return func() {
		self.cameraCallbacks.Remove(callbackId)
	}
}

func (self *EventRouter) AddSceneClickCallback(callback SceneClickFunction) func() {
	callbackId := self.sceneClickCallbacks.Add(callback)
	return func() {
		self.sceneClickCallbacks.Remove(callbackId)
	}
}

func (self *EventRouter) AddScenePointerCallback(callback ScenePointerFunction) func() {
	callbackId := self.scenePointerCallbacks.Add(callback)
	return func() {
		self.scenePointerCallbacks.Remove(callbackId)
	}
}

func (self *EventRouter) AddTransformCallback(callback TransformFunction) func() {
	callbackId := self.transformCallbacks.Add(callback)
	return func() {
		self.transformCallbacks.Remove(callbackId)
	}
}

func (self *EventRouter) AddDragCallback(callback DragFunction) func() {
	callbackId := self.dragCallbacks.Add(callback)
	return func() {
		self.dragCallbacks.Remove(callbackId)
	}
}

// Route handles one decoded client message.
// Protocol and state errors are logged and dropped; they never close the connection.
func (self *EventRouter) Route(connectionId Id, message protocol.Message) {
	glog.V(2).Infof("[events]%s<- %s\n", connectionId, message.Kind())

	switch v := message.(type) {
	case *protocol.GuiUpdateMessage:
		self.routeGuiUpdate(connectionId, v)

	case *protocol.ViewerCameraMessage:
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.cameras[connectionId] = v
		}()
		for _, callback := range self.cameraCallbacks.Get() {
			self.run(callback, func() { callback(connectionId, v) })
		}

	case *protocol.SceneNodeClickMessage:
		for _, callback := range self.sceneClickCallbacks.Get() {
			self.run(callback, func() { callback(connectionId, v) })
		}

	case *protocol.ScenePointerMessage:
		for _, callback := range self.scenePointerCallbacks.Get() {
			self.run(callback, func() { callback(connectionId, v) })
		}

	case *protocol.TransformControlsUpdateMessage:
		if err := self.store.ApplyClientTransform(connectionId, v.Name, v.Wxyz, v.Position); err != nil {
			glog.Infof("[events]%s transform %s error = %s\n", connectionId, v.Name, err)
			return
		}
		for _, callback := range self.transformCallbacks.Get() {
			self.run(callback, func() { callback(connectionId, v) })
		}

	case *protocol.TransformControlsDragStartMessage:
		for _, callback := range self.dragCallbacks.Get() {
			self.run(callback, func() { callback(connectionId, v.Name, true) })
		}

	case *protocol.TransformControlsDragEndMessage:
		for _, callback := range self.dragCallbacks.Get() {
			self.run(callback, func() { callback(connectionId, v.Name, false) })
		}

	case *protocol.FileTransferStartUpload:
		self.fileTransfers.HandleStartUpload(connectionId, v)

	case *protocol.FileTransferPart:
		self.fileTransfers.HandlePart(connectionId, v)

	case *protocol.FileTransferPartAck:
		self.fileTransfers.HandleAck(connectionId, v)

	case *protocol.GetRenderResponseMessage:
		self.completeRender(connectionId, &renderResult{payload: v.Payload})

	case *protocol.ShareUrlRequest, *protocol.ShareUrlDisconnect:
		glog.V(1).Infof("[events]%s share url is not supported\n", connectionId)

	default:
		glog.Infof("[events]%s drop server-only message %s\n", connectionId, message.Kind())
	}
}

func (self *EventRouter) routeGuiUpdate(connectionId Id, update *protocol.GuiUpdateMessage) {
	kind, err := self.store.GuiKind(update.Uuid)
	if err != nil {
		glog.Infof("[events]%s gui update error = %s\n", connectionId, err)
		return
	}
	previous, err := self.store.ApplyClientGuiUpdate(connectionId, update.Uuid, update.Updates)
	if err != nil {
		// removed between the two calls
		glog.Infof("[events]%s gui update error = %s\n", connectionId, err)
		return
	}
	event := &GuiEvent{
		ConnectionId: connectionId,
		Uuid:         update.Uuid,
		Kind:         kind,
		Updates:      update.Updates,
		Previous:     previous,
	}
	for _, callback := range self.guiUpdateCallbacks.Get() {
		self.run(callback, func() { callback(event) })
	}
}

func (self *EventRouter) run(callback any, do func()) {
	HandleError(do, func(err error) {
		glog.Errorf("[events]callback %s error = %s\n", CallbackName(callback), err)
	})
}

// Camera returns the latest camera reported by a connection.
func (self *EventRouter) Camera(connectionId Id) (*protocol.ViewerCameraMessage, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	camera, ok := self.cameras[connectionId]
	return camera, ok
}

// RequestRender asks one client to render the scene and waits for the encoded image.
// Responses are matched to requests in order.
func (self *EventRouter) RequestRender(ctx context.Context, connectionId Id, request *protocol.GetRenderRequestMessage) ([]byte, error) {
	result := make(chan *renderResult, 1)

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.renderWaiters[connectionId] = append(self.renderWaiters[connectionId], result)
	}()

	if err := self.dispatcher.Unicast(connectionId, request); err != nil {
		self.removeRenderWaiter(connectionId, result)
		return nil, err
	}

	select {
	case <-ctx.Done():
		self.removeRenderWaiter(connectionId, result)
		return nil, ctx.Err()
	case r := <-result:
		return r.payload, r.err
	}
}

func (self *EventRouter) removeRenderWaiter(connectionId Id, result chan *renderResult) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	waiters := self.renderWaiters[connectionId]
	for i, waiter := range waiters {
		if waiter == result {
			waiters = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(self.renderWaiters, connectionId)
	} else {
		self.renderWaiters[connectionId] = waiters
	}
}

func (self *EventRouter) completeRender(connectionId Id, result *renderResult) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	waiters := self.renderWaiters[connectionId]
	if len(waiters) == 0 {
		glog.Warningf("[events]%s unexpected render response\n", connectionId)
		return
	}
	waiters[0] <- result
	if len(waiters) == 1 {
		delete(self.renderWaiters, connectionId)
	} else {
		self.renderWaiters[connectionId] = waiters[1:]
	}
}

// Release drops the per-connection state of a connection that left.
func (self *EventRouter) Release(connectionId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	delete(self.cameras, connectionId)
	for _, waiter := range self.renderWaiters[connectionId] {
		waiter <- &renderResult{
			err: fmt.Errorf("%w: connection %s left", ErrRenderCanceled, connectionId),
		}
	}
	delete(self.renderWaiters, connectionId)
}
