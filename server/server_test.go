package server

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/viewsync/viewsync/protocol"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// pipeTransport is one end of an in-memory transport pair.
type pipeTransport struct {
	name    string
	receive chan []byte
	send    chan []byte

	closed    chan struct{}
	closeOnce *sync.Once
}

func newPipeTransportPair() (*pipeTransport, *pipeTransport) {
	a := make(chan []byte, 1024)
	b := make(chan []byte, 1024)
	closed := make(chan struct{})
	closeOnce := &sync.Once{}
	serverEnd := &pipeTransport{
		name:      "pipe-server",
		receive:   a,
		send:      b,
		closed:    closed,
		closeOnce: closeOnce,
	}
	clientEnd := &pipeTransport{
		name:      "pipe-client",
		receive:   b,
		send:      a,
		closed:    closed,
		closeOnce: closeOnce,
	}
	return serverEnd, clientEnd
}

func (self *pipeTransport) Send(ctx context.Context, message []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-self.closed:
		return ErrTransportClosed
	case self.send <- message:
		return nil
	}
}

func (self *pipeTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-self.closed:
			return nil, ErrTransportClosed
		case message := <-self.receive:
			if len(message) == 0 {
				// ping
				continue
			}
			return message, nil
		}
	}
}

func (self *pipeTransport) Close() error {
	self.closeOnce.Do(func() {
		close(self.closed)
	})
	return nil
}

func (self *pipeTransport) String() string {
	return self.name
}

// receiveMessages decodes the next window sent to this end.
func (self *pipeTransport) receiveMessages(t *testing.T, timeout time.Duration) []protocol.Message {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	window, err := self.Receive(ctx)
	assert.Equal(t, err, nil)
	messages, err := protocol.DecodeWindow(window)
	assert.Equal(t, err, nil)
	return messages
}

func (self *pipeTransport) sendMessages(t *testing.T, messages ...protocol.Message) {
	window, err := protocol.EncodeWindow(messages)
	assert.Equal(t, err, nil)
	err = self.Send(context.Background(), window)
	assert.Equal(t, err, nil)
}

// captureBroadcaster records what a store emits.
type captureBroadcaster struct {
	mutex    sync.Mutex
	messages []protocol.Message
	excepts  []Id
}

func (self *captureBroadcaster) Broadcast(message protocol.Message) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.messages = append(self.messages, message)
}

func (self *captureBroadcaster) BroadcastExcept(connectionId Id, message protocol.Message) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.messages = append(self.messages, message)
	self.excepts = append(self.excepts, connectionId)
}

func (self *captureBroadcaster) take() []protocol.Message {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	messages := self.messages
	self.messages = nil
	return messages
}

func kinds(messages []protocol.Message) []protocol.Kind {
	kinds := make([]protocol.Kind, 0, len(messages))
	for _, message := range messages {
		kinds = append(kinds, message.Kind())
	}
	return kinds
}

// modelNode is the state a viewer holds for one scene node.
type modelNode struct {
	Kind      protocol.Kind
	Props     protocol.Props
	Wxyz      protocol.Quat
	Position  protocol.Vec3
	Visible   bool
	Clickable bool
	Bones     map[int][2]any
}

type modelElement struct {
	Kind          protocol.Kind
	ContainerUuid string
	Props         protocol.Props
}

// modelClient applies messages the way a viewer does, and fails on
// messages a viewer could not apply.
type modelClient struct {
	Nodes    map[string]*modelNode
	Elements map[string]*modelElement
	Modals   map[string]string
	Globals  map[string]protocol.Message
}

func newModelClient() *modelClient {
	return &modelClient{
		Nodes:    map[string]*modelNode{},
		Elements: map[string]*modelElement{},
		Modals:   map[string]string{},
		Globals:  map[string]protocol.Message{},
	}
}

func (self *modelClient) apply(messages ...protocol.Message) error {
	for _, message := range messages {
		if err := self.applyOne(message); err != nil {
			return err
		}
	}
	return nil
}

func (self *modelClient) applyOne(message protocol.Message) error {
	if slot, ok := globalSlot(message); ok {
		self.Globals[slot] = message
		return nil
	}

	node := func(name string) (*modelNode, error) {
		n, ok := self.Nodes[name]
		if !ok {
			return nil, fmt.Errorf("%s for missing node %s", message.Kind(), name)
		}
		return n, nil
	}

	switch v := message.(type) {
	case *protocol.SceneNodeMessage:
		if parent := parentSceneName(v.Name); parent != SceneRoot {
			if _, ok := self.Nodes[parent]; !ok {
				return fmt.Errorf("orphan %s", v.Name)
			}
		}
		self.Nodes[v.Name] = &modelNode{
			Kind:    v.Kind(),
			Props:   v.Props.Clone(),
			Wxyz:    protocol.IdentityQuat,
			Visible: true,
			Bones:   map[int][2]any{},
		}
	case *protocol.RemoveSceneNodeMessage:
		if _, err := node(v.Name); err != nil {
			return err
		}
		for name := range self.Nodes {
			if isSceneDescendant(name, v.Name) {
				return fmt.Errorf("remove %s before its child %s", v.Name, name)
			}
		}
		delete(self.Nodes, v.Name)
	case *protocol.SceneNodeUpdateMessage:
		n, err := node(v.Name)
		if err != nil {
			return err
		}
		n.Props = n.Props.With(v.Updates)
	case *protocol.SetOrientationMessage:
		n, err := node(v.Name)
		if err != nil {
			return err
		}
		n.Wxyz = v.Wxyz
	case *protocol.SetPositionMessage:
		n, err := node(v.Name)
		if err != nil {
			return err
		}
		n.Position = v.Position
	case *protocol.SetSceneNodeVisibilityMessage:
		n, err := node(v.Name)
		if err != nil {
			return err
		}
		n.Visible = v.Visible
	case *protocol.SetSceneNodeClickableMessage:
		n, err := node(v.Name)
		if err != nil {
			return err
		}
		n.Clickable = v.Clickable
	case *protocol.SetBoneOrientationMessage:
		n, err := node(v.Name)
		if err != nil {
			return err
		}
		bone := n.Bones[v.BoneIndex]
		bone[0] = v.Wxyz
		n.Bones[v.BoneIndex] = bone
	case *protocol.SetBonePositionMessage:
		n, err := node(v.Name)
		if err != nil {
			return err
		}
		bone := n.Bones[v.BoneIndex]
		bone[1] = v.Position
		n.Bones[v.BoneIndex] = bone
	case *protocol.GuiComponentMessage:
		self.Elements[v.Uuid] = &modelElement{
			Kind:          v.Kind(),
			ContainerUuid: v.ContainerUuid,
			Props:         v.Props.Clone(),
		}
	case *protocol.GuiRemoveMessage:
		if _, ok := self.Elements[v.Uuid]; !ok {
			return fmt.Errorf("remove missing gui element %s", v.Uuid)
		}
		delete(self.Elements, v.Uuid)
	case *protocol.GuiUpdateMessage:
		element, ok := self.Elements[v.Uuid]
		if !ok {
			return fmt.Errorf("update missing gui element %s", v.Uuid)
		}
		element.Props = element.Props.With(v.Updates)
	case *protocol.GuiModalMessage:
		self.Modals[v.Uuid] = v.Title
	case *protocol.GuiCloseModalMessage:
		delete(self.Modals, v.Uuid)
	case *protocol.ResetGuiMessage:
		self.Elements = map[string]*modelElement{}
		self.Modals = map[string]string{}
	default:
		return fmt.Errorf("unexpected %s", message.Kind())
	}
	return nil
}
