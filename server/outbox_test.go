package server

import (
	"fmt"
	mathrand "math/rand"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/viewsync/viewsync/protocol"
)

func TestOutboxCoalesce(t *testing.T) {
	outbox := NewOutbox()
	assert.Equal(t, OutboxEmpty, outbox.State())

	for i := 0; i < 10; i += 1 {
		assert.Equal(t, outbox.Enqueue(&protocol.SetPositionMessage{Name: "/a", Position: protocol.Vec3{float64(i), 0, 0}}), nil)
		assert.Equal(t, outbox.Enqueue(&protocol.SetPositionMessage{Name: "/b", Position: protocol.Vec3{0, float64(i), 0}}), nil)
	}
	assert.Equal(t, OutboxBuffering, outbox.State())
	size, _ := outbox.QueueSize()
	assert.Equal(t, 2, size)

	select {
	case <-outbox.Notify():
	default:
		t.Fatal("Expected a notify.")
	}

	messages := outbox.Flush()
	assert.Equal(t, 2, len(messages))
	// the latest value at the slot of the first enqueue
	assert.Equal(t, "/a", messages[0].(*protocol.SetPositionMessage).Name)
	assert.Equal(t, protocol.Vec3{9, 0, 0}, messages[0].(*protocol.SetPositionMessage).Position)
	assert.Equal(t, protocol.Vec3{0, 9, 0}, messages[1].(*protocol.SetPositionMessage).Position)
	assert.Equal(t, OutboxEmpty, outbox.State())

	assert.Equal(t, 0, len(outbox.Flush()))
}

func TestOutboxUpdateKeys(t *testing.T) {
	outbox := NewOutbox()

	outbox.Enqueue(&protocol.GuiUpdateMessage{Uuid: "u", Updates: protocol.Props{"value": 1}})
	outbox.Enqueue(&protocol.GuiUpdateMessage{Uuid: "u", Updates: protocol.Props{"label": "x"}})
	outbox.Enqueue(&protocol.GuiUpdateMessage{Uuid: "u", Updates: protocol.Props{"value": 2}})

	messages := outbox.Flush()
	// updates to different fields do not coalesce
	assert.Equal(t, 2, len(messages))
	assert.Equal(t, 2, messages[0].(*protocol.GuiUpdateMessage).Updates["value"])
	assert.Equal(t, "x", messages[1].(*protocol.GuiUpdateMessage).Updates["label"])
}

func TestOutboxNeverCulled(t *testing.T) {
	outbox := NewOutbox()

	for i := 0; i < 5; i += 1 {
		outbox.Enqueue(&protocol.RunJavascriptMessage{Source: fmt.Sprintf("console.log(%d)", i)})
	}
	messages := outbox.Flush()
	assert.Equal(t, 5, len(messages))
	for i, message := range messages {
		assert.Equal(t, fmt.Sprintf("console.log(%d)", i), message.(*protocol.RunJavascriptMessage).Source)
	}
}

func TestOutboxCreateRemoveCancel(t *testing.T) {
	outbox := NewOutbox()

	// a robot added, moved and removed within one window is never seen by the client
	outbox.Enqueue(protocol.NewFrame("/robot", true, 1, 0.1))
	outbox.Enqueue(&protocol.SetOrientationMessage{Name: "/robot", Wxyz: protocol.IdentityQuat})
	for i := 0; i < 10; i += 1 {
		outbox.Enqueue(&protocol.SetPositionMessage{Name: "/robot", Position: protocol.Vec3{float64(i), 0, 0}})
	}
	outbox.Enqueue(&protocol.SceneNodeUpdateMessage{Name: "/robot", Updates: protocol.Props{"axes_length": 2.0}})
	outbox.Enqueue(&protocol.RemoveSceneNodeMessage{Name: "/robot"})

	assert.Equal(t, OutboxEmpty, outbox.State())
	assert.Equal(t, 0, len(outbox.Flush()))

	// other nodes are not affected
	outbox.Enqueue(protocol.NewFrame("/a", true, 1, 0.1))
	outbox.Enqueue(&protocol.SetPositionMessage{Name: "/b", Position: protocol.Vec3{1, 1, 1}})
	outbox.Enqueue(&protocol.RemoveSceneNodeMessage{Name: "/a"})
	messages := outbox.Flush()
	assert.Equal(t, []protocol.Kind{protocol.KindSetPosition}, kinds(messages))
}

func TestOutboxRemovePresent(t *testing.T) {
	outbox := NewOutbox()

	outbox.Enqueue(protocol.NewGuiButton("b", GuiRoot, "Go", 0))
	assert.Equal(t, 1, len(outbox.Flush()))

	// the client has the button, so the remove must be delivered
	outbox.Enqueue(&protocol.GuiUpdateMessage{Uuid: "b", Updates: protocol.Props{"label": "Stop"}})
	outbox.Enqueue(protocol.NewGuiButton("b", "folder", "Go", 0))
	outbox.Enqueue(&protocol.GuiRemoveMessage{Uuid: "b"})
	messages := outbox.Flush()
	assert.Equal(t, []protocol.Kind{protocol.KindGuiRemove}, kinds(messages))

	// created again in a later window
	outbox.Enqueue(protocol.NewGuiButton("b", GuiRoot, "Again", 0))
	outbox.Enqueue(&protocol.GuiRemoveMessage{Uuid: "b"})
	assert.Equal(t, 0, len(outbox.Flush()))
}

func TestOutboxRemoveThenCreate(t *testing.T) {
	outbox := NewOutbox()

	outbox.Enqueue(protocol.NewFrame("/a", true, 1, 0.1))
	outbox.Flush()

	outbox.Enqueue(&protocol.SetPositionMessage{Name: "/other", Position: protocol.Vec3{}})
	outbox.Enqueue(&protocol.RemoveSceneNodeMessage{Name: "/a"})
	outbox.Enqueue(protocol.NewLabel("/a", "replaced"))
	outbox.Enqueue(&protocol.SetPositionMessage{Name: "/a", Position: protocol.Vec3{1, 2, 3}})

	messages := outbox.Flush()
	// the create takes the slot of the remove, and the client replaces the node
	assert.Equal(t, []protocol.Kind{protocol.KindSetPosition, protocol.KindLabel, protocol.KindSetPosition}, kinds(messages))

	// the replacement is present, so a remove is delivered
	outbox.Enqueue(&protocol.RemoveSceneNodeMessage{Name: "/a"})
	assert.Equal(t, []protocol.Kind{protocol.KindRemoveSceneNode}, kinds(outbox.Flush()))
}

func TestOutboxClose(t *testing.T) {
	outbox := NewOutbox()

	outbox.Enqueue(&protocol.SetCameraFovMessage{Fov: 1})
	outbox.Close()
	outbox.Close()

	assert.Equal(t, OutboxClosed, outbox.State())
	assert.Equal(t, ErrOutboxClosed, outbox.Enqueue(&protocol.SetCameraFovMessage{Fov: 2}))
	assert.Equal(t, 0, len(outbox.Flush()))

	select {
	case <-outbox.Done():
	default:
		t.Fatal("Expected done.")
	}
}

func TestOutboxConcurrentFlush(t *testing.T) {
	outbox := NewOutbox()

	n := 2000
	received := []protocol.Message{}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i += 1 {
			err := outbox.Enqueue(&protocol.RunJavascriptMessage{Source: fmt.Sprintf("%d", i)})
			assert.Equal(t, err, nil)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	flushUntilDone := func() {
		for {
			select {
			case <-done:
				received = append(received, outbox.Flush()...)
				return
			case <-outbox.Notify():
				received = append(received, outbox.Flush()...)
			case <-time.After(time.Second):
				t.Fatal("Timeout.")
			}
		}
	}
	flushUntilDone()

	// every message delivered exactly once, in order
	assert.Equal(t, n, len(received))
	for i, message := range received {
		assert.Equal(t, fmt.Sprintf("%d", i), message.(*protocol.RunJavascriptMessage).Source)
	}
}

func TestOutboxLatestSettingWins(t *testing.T) {
	outbox := NewOutbox()

	for _, enable := range []bool{true, false, true} {
		outbox.Enqueue(&protocol.ScenePointerEnableMessage{EventType: "click", Enable: enable})
	}
	messages := outbox.Flush()
	assert.Equal(t, 1, len(messages))
	assert.Equal(t, true, messages[0].(*protocol.ScenePointerEnableMessage).Enable)
}

func TestOutboxResetGui(t *testing.T) {
	outbox := NewOutbox()

	outbox.Enqueue(protocol.NewGuiButton("present", GuiRoot, "Go", 0))
	outbox.Flush()

	outbox.Enqueue(&protocol.ResetGuiMessage{})
	outbox.Enqueue(protocol.NewGuiFolder("f", GuiRoot, "Folder", 0))
	outbox.Enqueue(&protocol.GuiModalMessage{Uuid: "m", Title: "About"})
	outbox.Enqueue(&protocol.SetPositionMessage{Name: "/a", Position: protocol.Vec3{1, 0, 0}})
	outbox.Enqueue(&protocol.ResetGuiMessage{})
	// the reset comes after everything it clears, scene messages are kept
	assert.Equal(t, []protocol.Kind{protocol.KindSetPosition, protocol.KindResetGui}, kinds(outbox.Flush()))

	// after a reset the client has no gui, so a create and remove of the same uuid cancel
	outbox.Enqueue(&protocol.ResetGuiMessage{})
	outbox.Enqueue(protocol.NewGuiButton("present", GuiRoot, "Again", 0))
	outbox.Enqueue(&protocol.GuiRemoveMessage{Uuid: "present"})
	assert.Equal(t, []protocol.Kind{protocol.KindResetGui}, kinds(outbox.Flush()))

	outbox.Enqueue(protocol.NewGuiButton("b", GuiRoot, "Go", 0))
	outbox.Flush()
	outbox.Enqueue(&protocol.ResetGuiMessage{})
	outbox.Flush()
	outbox.Enqueue(protocol.NewGuiButton("b", GuiRoot, "Go", 0))
	outbox.Enqueue(&protocol.GuiRemoveMessage{Uuid: "b"})
	assert.Equal(t, 0, len(outbox.Flush()))
}

func TestOutboxOverlappingUpdates(t *testing.T) {
	outbox := NewOutbox()

	outbox.Enqueue(&protocol.GuiUpdateMessage{Uuid: "u", Updates: protocol.Props{"label": 1}})
	outbox.Enqueue(&protocol.GuiUpdateMessage{Uuid: "u", Updates: protocol.Props{"label": 2, "order": 5}})
	outbox.Enqueue(&protocol.GuiUpdateMessage{Uuid: "u", Updates: protocol.Props{"label": 3}})

	props := protocol.Props{}
	for _, message := range outbox.Flush() {
		props = props.With(message.(*protocol.GuiUpdateMessage).Updates)
	}
	assert.Equal(t, 3, props["label"])
	assert.Equal(t, 5, props["order"])

	// disjoint updates keep their slots
	outbox.Enqueue(&protocol.SceneNodeUpdateMessage{Name: "/a", Updates: protocol.Props{"color": 1}})
	outbox.Enqueue(&protocol.SceneNodeUpdateMessage{Name: "/a", Updates: protocol.Props{"size": 1}})
	outbox.Enqueue(&protocol.SceneNodeUpdateMessage{Name: "/a", Updates: protocol.Props{"color": 2}})
	messages := outbox.Flush()
	assert.Equal(t, 2, len(messages))
	assert.Equal(t, 2, messages[0].(*protocol.SceneNodeUpdateMessage).Updates["color"])
}

// storeOutbox wires one outbox to a store the way a connection is wired.
type storeOutbox struct {
	store  *Store
	outbox *Outbox
	live   *modelClient
}

func newStoreOutbox() *storeOutbox {
	registry := NewRegistry()
	outbox := NewOutbox()
	registry.Add(NewId(), outbox)
	return &storeOutbox{
		store:  NewStore(NewDispatcher(registry)),
		outbox: outbox,
		live:   newModelClient(),
	}
}

// flush delivers the outbox to the live client, which must then match
// a client that replays the current snapshot.
func (self *storeOutbox) flush(t *testing.T) {
	assert.Equal(t, self.live.apply(self.outbox.Flush()...), nil)
	fresh := newModelClient()
	assert.Equal(t, fresh.apply(self.store.Snapshot()...), nil)
	assert.Equal(t, fresh, self.live)
}

func TestOutboxReplayOrderDependent(t *testing.T) {
	// the latest setting wins
	s := newStoreOutbox()
	for _, enable := range []bool{true, false, true} {
		assert.Equal(t, s.store.SetGlobal(&protocol.ScenePointerEnableMessage{EventType: "click", Enable: enable}), nil)
	}
	s.flush(t)

	// a reset clears what was created before it
	s = newStoreOutbox()
	s.store.ResetGui()
	assert.Equal(t, s.store.AddGuiComponent(protocol.NewGuiFolder("f", GuiRoot, "Folder", 0)), nil)
	s.store.ResetGui()
	s.flush(t)
	assert.Equal(t, 0, len(s.live.Elements))

	// overlapping updates apply in order
	s = newStoreOutbox()
	assert.Equal(t, s.store.AddGuiComponent(protocol.NewGuiButton("u", GuiRoot, "Go", 0)), nil)
	s.flush(t)
	assert.Equal(t, s.store.UpdateGuiComponent("u", protocol.Props{"label": 1.0}), nil)
	assert.Equal(t, s.store.UpdateGuiComponent("u", protocol.Props{"label": 2.0, "order": 5.0}), nil)
	assert.Equal(t, s.store.UpdateGuiComponent("u", protocol.Props{"label": 3.0}), nil)
	s.flush(t)
	assert.Equal(t, 3.0, s.live.Elements["u"].Props["label"])
	assert.Equal(t, 5.0, s.live.Elements["u"].Props["order"])
}

// random mutations with flushes at random points.
// After every flush the client matches the snapshot.
func TestOutboxReplayEquivalence(t *testing.T) {
	sceneNames := []string{"/a", "/b", "/a/x", "/a/y", "/b/x"}
	parentNames := append([]string{SceneRoot}, sceneNames...)
	folderUuids := []string{"f1", "f2"}
	containerUuids := []string{GuiRoot, "f1", "f2", "m"}
	elementUuids := []string{"f1", "f2", "b1", "b2"}

	for seed := int64(0); seed < 20; seed += 1 {
		r := mathrand.New(mathrand.NewSource(seed))
		pick := func(values []string) string {
			return values[r.Intn(len(values))]
		}
		randomProps := func(names ...string) protocol.Props {
			props := protocol.Props{}
			for len(props) == 0 {
				for _, name := range names {
					if r.Intn(2) == 0 {
						props[name] = float64(r.Intn(10))
					}
				}
			}
			return props
		}

		s := newStoreOutbox()
		for i := 0; i < 400; i += 1 {
			switch r.Intn(15) {
			case 0, 1:
				s.store.AddSceneNode(protocol.NewFrame(pick(sceneNames), true, 1, 0.05), nil)
			case 2:
				s.store.RemoveSceneNode(pick(sceneNames))
			case 3:
				s.store.SetPosition(pick(sceneNames), protocol.Vec3{float64(r.Intn(10)), 0, 0})
			case 4:
				s.store.SetVisible(pick(sceneNames), r.Intn(2) == 0)
			case 5:
				s.store.UpdateSceneNode(pick(sceneNames), randomProps("a", "b", "c"))
			case 6:
				s.store.SetGlobal(&protocol.ScenePointerEnableMessage{EventType: "click", Enable: r.Intn(2) == 0})
			case 7:
				s.store.SetGlobal(&protocol.EnableLightsMessage{Enabled: r.Intn(2) == 0})
			case 8:
				s.store.AddGuiComponent(protocol.NewGuiFolder(pick(folderUuids), GuiRoot, "Folder", float64(r.Intn(3))))
			case 9:
				s.store.AddGuiComponent(protocol.NewGuiButton(pick([]string{"b1", "b2"}), pick(containerUuids), "Go", 0))
			case 10:
				s.store.UpdateGuiComponent(pick(elementUuids), randomProps("label", "order", "value"))
			case 11:
				s.store.ApplyClientGuiUpdate(NewId(), pick(elementUuids), randomProps("label", "order", "value"))
			case 12:
				s.store.RemoveGuiComponent(pick(elementUuids))
			case 13:
				if r.Intn(2) == 0 {
					s.store.AddModal("m", "About", 0)
				} else {
					s.store.CloseModal("m")
				}
			case 14:
				if r.Intn(3) == 0 {
					s.store.ResetGui()
				} else {
					s.store.Reparent(pick(sceneNames), pick(parentNames))
				}
			}
			if r.Intn(4) == 0 {
				s.flush(t)
			}
		}
		s.flush(t)
	}
}
