package server

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/viewsync/viewsync/protocol"
)

func TestStoreNotFound(t *testing.T) {
	store := NewStore(&captureBroadcaster{})

	assert.Equal(t, true, errors.Is(store.RemoveSceneNode("/missing"), ErrNotFound))
	assert.Equal(t, true, errors.Is(store.SetPosition("/missing", protocol.Vec3{}), ErrNotFound))
	assert.Equal(t, true, errors.Is(store.UpdateSceneNode("/missing", protocol.Props{"a": 1}), ErrNotFound))
	assert.Equal(t, true, errors.Is(store.RemoveGuiComponent("missing"), ErrNotFound))
	assert.Equal(t, true, errors.Is(store.UpdateGuiComponent("missing", protocol.Props{"value": 1}), ErrNotFound))
	assert.Equal(t, true, errors.Is(store.CloseModal("missing"), ErrNotFound))

	err := store.AddGuiComponent(protocol.NewGuiButton("b", "no-such-folder", "Go", 0))
	assert.Equal(t, true, errors.Is(err, ErrNotFound))

	err = store.AddSceneNode(protocol.NewFrame("/", true, 1, 0.1), nil)
	assert.Equal(t, true, errors.Is(err, protocol.ErrShape))

	assert.Equal(t, 0, len(store.Snapshot()))
}

func TestStoreAddSceneNode(t *testing.T) {
	broadcaster := &captureBroadcaster{}
	store := NewStore(broadcaster)

	options := DefaultSceneNodeOptions()
	options.Position = protocol.Vec3{1, 2, 3}
	options.Visible = false
	options.Clickable = true
	err := store.AddSceneNode(protocol.NewLabel("robot", "hello"), options)
	assert.Equal(t, err, nil)

	messages := broadcaster.take()
	assert.Equal(t, []protocol.Kind{
		protocol.KindLabel,
		protocol.KindSetOrientation,
		protocol.KindSetPosition,
		protocol.KindSetSceneNodeVisibility,
		protocol.KindSetSceneNodeClickable,
	}, kinds(messages))
	// names are absolute
	assert.Equal(t, "/robot", messages[0].(*protocol.SceneNodeMessage).Name)
	assert.Equal(t, protocol.Vec3{1, 2, 3}, messages[2].(*protocol.SetPositionMessage).Position)

	assert.Equal(t, []string{"/robot"}, store.SceneNodeNames())
}

func TestStoreImplicitParents(t *testing.T) {
	broadcaster := &captureBroadcaster{}
	store := NewStore(broadcaster)

	err := store.AddSceneNode(protocol.NewLabel("/a/b/c", "deep"), nil)
	assert.Equal(t, err, nil)

	assert.Equal(t, []string{"/a", "/a/b", "/a/b/c"}, store.SceneNodeNames())
	props, err := store.SceneNodeProps("/a")
	assert.Equal(t, err, nil)
	assert.Equal(t, false, props["show_axes"])

	client := newModelClient()
	assert.Equal(t, client.apply(broadcaster.take()...), nil)
	assert.Equal(t, protocol.KindFrame, client.Nodes["/a/b"].Kind)
	assert.Equal(t, protocol.KindLabel, client.Nodes["/a/b/c"].Kind)
}

func TestStoreRemoveSubtree(t *testing.T) {
	broadcaster := &captureBroadcaster{}
	store := NewStore(broadcaster)

	assert.Equal(t, store.AddSceneNode(protocol.NewFrame("/a", true, 1, 0.1), nil), nil)
	assert.Equal(t, store.AddSceneNode(protocol.NewFrame("/a/b", true, 1, 0.1), nil), nil)
	assert.Equal(t, store.AddSceneNode(protocol.NewLabel("/a/b/c", "c"), nil), nil)
	assert.Equal(t, store.AddSceneNode(protocol.NewLabel("/a/d", "d"), nil), nil)
	// a sibling with a shared prefix is not a descendant
	assert.Equal(t, store.AddSceneNode(protocol.NewLabel("/ab", "ab"), nil), nil)

	client := newModelClient()
	assert.Equal(t, client.apply(broadcaster.take()...), nil)

	assert.Equal(t, store.RemoveSceneNode("/a"), nil)
	messages := broadcaster.take()
	removed := []string{}
	for _, message := range messages {
		removed = append(removed, message.(*protocol.RemoveSceneNodeMessage).Name)
	}
	assert.Equal(t, 4, len(removed))
	assert.Equal(t, "/a/b/c", removed[0])
	assert.Equal(t, "/a", removed[3])

	assert.Equal(t, client.apply(messages...), nil)
	assert.Equal(t, 1, len(client.Nodes))
	assert.Equal(t, []string{"/ab"}, store.SceneNodeNames())
}

func TestStoreReplaceRemovesChildren(t *testing.T) {
	broadcaster := &captureBroadcaster{}
	store := NewStore(broadcaster)

	assert.Equal(t, store.AddSceneNode(protocol.NewFrame("/a", true, 1, 0.1), nil), nil)
	assert.Equal(t, store.AddSceneNode(protocol.NewLabel("/a/b", "b"), nil), nil)
	assert.Equal(t, store.AddSceneNode(protocol.NewLabel("/a", "a"), nil), nil)

	assert.Equal(t, []string{"/a"}, store.SceneNodeNames())

	client := newModelClient()
	assert.Equal(t, client.apply(broadcaster.take()...), nil)
	assert.Equal(t, protocol.KindLabel, client.Nodes["/a"].Kind)
}

func TestStoreReparent(t *testing.T) {
	broadcaster := &captureBroadcaster{}
	store := NewStore(broadcaster)

	assert.Equal(t, store.AddSceneNode(protocol.NewFrame("/arm", true, 1, 0.1), nil), nil)
	assert.Equal(t, store.AddSceneNode(protocol.NewLabel("/arm/hand", "hand"), nil), nil)
	assert.Equal(t, store.SetPosition("/arm/hand", protocol.Vec3{0, 0, 1}), nil)
	assert.Equal(t, store.AddSceneNode(protocol.NewFrame("/body", true, 1, 0.1), nil), nil)

	client := newModelClient()
	assert.Equal(t, client.apply(broadcaster.take()...), nil)

	newName, err := store.Reparent("/arm", "/body")
	assert.Equal(t, err, nil)
	assert.Equal(t, "/body/arm", newName)
	assert.Equal(t, []string{"/body", "/body/arm", "/body/arm/hand"}, store.SceneNodeNames())

	assert.Equal(t, client.apply(broadcaster.take()...), nil)
	assert.Equal(t, protocol.Vec3{0, 0, 1}, client.Nodes["/body/arm/hand"].Position)
	_, ok := client.Nodes["/arm"]
	assert.Equal(t, false, ok)

	_, err = store.Reparent("/body", "/body/arm")
	assert.Equal(t, true, errors.Is(err, protocol.ErrShape))

	newName, err = store.Reparent("/body/arm", SceneRoot)
	assert.Equal(t, err, nil)
	assert.Equal(t, "/arm", newName)
}

func TestStoreBones(t *testing.T) {
	store := NewStore(&captureBroadcaster{})

	mesh, err := protocol.NewSkinnedMesh(
		"/skin",
		[]float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		[]uint32{0, 1, 2},
		protocol.Rgb{255, 255, 255},
		[]float32{1, 0, 0, 0, 1, 0, 0, 0},
		[]float32{0, 0, 0, 0, 1, 0},
		[]uint16{0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
		[]float32{1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0},
	)
	assert.Equal(t, err, nil)
	assert.Equal(t, store.AddSceneNode(mesh, nil), nil)

	assert.Equal(t, store.SetBone("/skin", 1, protocol.IdentityQuat, protocol.Vec3{0, 2, 0}), nil)
	assert.Equal(t, true, errors.Is(store.SetBone("/skin", 2, protocol.IdentityQuat, protocol.Vec3{}), ErrNotFound))

	assert.Equal(t, store.AddSceneNode(protocol.NewLabel("/label", "l"), nil), nil)
	assert.Equal(t, true, errors.Is(store.SetBone("/label", 0, protocol.IdentityQuat, protocol.Vec3{}), protocol.ErrShape))

	client := newModelClient()
	assert.Equal(t, client.apply(store.Snapshot()...), nil)
	assert.Equal(t, protocol.Vec3{0, 2, 0}, client.Nodes["/skin"].Bones[1][1])
}

func TestStoreGuiContainers(t *testing.T) {
	broadcaster := &captureBroadcaster{}
	store := NewStore(broadcaster)

	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiFolder("folder", GuiRoot, "Folder", 0)), nil)
	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiButton("button", "folder", "Go", 0)), nil)

	tabs, err := protocol.NewGuiTabGroup("tabs", GuiRoot, []string{"One", "Two"}, nil, []string{"tab-1", "tab-2"}, 1)
	assert.Equal(t, err, nil)
	assert.Equal(t, store.AddGuiComponent(tabs), nil)
	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiCheckbox("check", "tab-2", "Check", false, 0)), nil)

	// a button is not a container
	err = store.AddGuiComponent(protocol.NewGuiButton("nested", "button", "Nested", 0))
	assert.Equal(t, true, errors.Is(err, ErrNotFound))

	assert.Equal(t, store.AddSceneNode(protocol.NewGui3D("/panel", "panel-container", 0), nil), nil)
	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiMarkdown("md", "panel-container", "# hi", 0)), nil)

	// removing the tab group removes the tab contents first
	broadcaster.take()
	assert.Equal(t, store.RemoveGuiComponent("tabs"), nil)
	messages := broadcaster.take()
	assert.Equal(t, 2, len(messages))
	assert.Equal(t, "check", messages[0].(*protocol.GuiRemoveMessage).Uuid)
	assert.Equal(t, "tabs", messages[1].(*protocol.GuiRemoveMessage).Uuid)

	_, err = store.GuiProps("check")
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestStoreMoveGuiComponent(t *testing.T) {
	store := NewStore(&captureBroadcaster{})

	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiFolder("outer", GuiRoot, "Outer", 0)), nil)
	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiFolder("inner", GuiRoot, "Inner", 1)), nil)
	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiButton("button", "inner", "Go", 0)), nil)

	assert.Equal(t, store.MoveGuiComponent("inner", "outer"), nil)

	err := store.MoveGuiComponent("outer", "inner")
	assert.Equal(t, true, errors.Is(err, protocol.ErrShape))

	// contents still follow their container
	snapshot := store.Snapshot()
	uuids := []string{}
	for _, message := range snapshot {
		uuids = append(uuids, message.(*protocol.GuiComponentMessage).Uuid)
	}
	assert.Equal(t, []string{"outer", "inner", "button"}, uuids)
}

func TestStoreReplaceGui3D(t *testing.T) {
	store := NewStore(&captureBroadcaster{})

	assert.Equal(t, store.AddSceneNode(protocol.NewGui3D("/panel", "panel-container", 0), nil), nil)
	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiFolder("folder", "panel-container", "Folder", 0)), nil)
	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiButton("button", "folder", "Go", 0)), nil)

	// the replaced node gets a new sequence id, and its contents follow it
	assert.Equal(t, store.AddSceneNode(protocol.NewGui3D("/panel", "panel-container", 1), nil), nil)

	order := []string{}
	for _, message := range store.Snapshot() {
		switch v := message.(type) {
		case *protocol.SceneNodeMessage:
			order = append(order, v.Name)
		case *protocol.GuiComponentMessage:
			order = append(order, v.Uuid)
		}
	}
	assert.Equal(t, []string{"/panel", "folder", "button"}, order)
}

func TestStoreModal(t *testing.T) {
	broadcaster := &captureBroadcaster{}
	store := NewStore(broadcaster)

	assert.Equal(t, store.AddModal("modal", "Confirm", 0), nil)
	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiButton("ok", "modal", "Ok", 0)), nil)
	assert.Equal(t, store.AddGuiComponent(protocol.NewGuiButton("other", GuiRoot, "Other", 0)), nil)

	client := newModelClient()
	assert.Equal(t, client.apply(broadcaster.take()...), nil)
	assert.Equal(t, "Confirm", client.Modals["modal"])

	assert.Equal(t, store.CloseModal("modal"), nil)
	assert.Equal(t, []protocol.Kind{protocol.KindGuiRemove, protocol.KindGuiCloseModal}, kinds(broadcaster.take()))

	_, err := store.GuiProps("ok")
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
	_, err = store.GuiProps("other")
	assert.Equal(t, err, nil)
}

func TestStoreClientGuiUpdate(t *testing.T) {
	broadcaster := &captureBroadcaster{}
	store := NewStore(broadcaster)

	slider, err := protocol.NewGuiSlider("slider", GuiRoot, "Speed", 0, 10, 1, 2, 0)
	assert.Equal(t, err, nil)
	assert.Equal(t, store.AddGuiComponent(slider), nil)
	broadcaster.take()

	origin := NewId()
	previous, err := store.ApplyClientGuiUpdate(origin, "slider", protocol.Props{"value": 7.0})
	assert.Equal(t, err, nil)
	assert.Equal(t, 2.0, previous["value"])

	props, err := store.GuiProps("slider")
	assert.Equal(t, err, nil)
	assert.Equal(t, 7.0, props["value"])

	assert.Equal(t, []protocol.Kind{protocol.KindGuiUpdate}, kinds(broadcaster.take()))
	assert.Equal(t, []Id{origin}, broadcaster.excepts)
}

func TestStoreGlobals(t *testing.T) {
	store := NewStore(&captureBroadcaster{})

	assert.Equal(t, store.SetGlobal(&protocol.EnableLightsMessage{Enabled: true}), nil)
	assert.Equal(t, store.SetGlobal(&protocol.ScenePointerEnableMessage{Enable: true, EventType: "click"}), nil)
	assert.Equal(t, store.SetGlobal(&protocol.ScenePointerEnableMessage{Enable: true, EventType: "rect-select"}), nil)
	assert.Equal(t, store.SetGlobal(&protocol.EnableLightsMessage{Enabled: false}), nil)

	err := store.SetGlobal(&protocol.RunJavascriptMessage{Source: "alert(1)"})
	assert.Equal(t, true, errors.Is(err, protocol.ErrUnknownKind))

	snapshot := store.Snapshot()
	assert.Equal(t, 3, len(snapshot))
	// the latest value, at the first slot
	assert.Equal(t, false, snapshot[0].(*protocol.EnableLightsMessage).Enabled)
}

// a fresh client replaying the snapshot ends in the same state as a client
// that saw every mutation live
func TestStoreReplayEquivalence(t *testing.T) {
	broadcaster := &captureBroadcaster{}
	store := NewStore(broadcaster)
	live := newModelClient()

	step := func(err error) {
		assert.Equal(t, err, nil)
		assert.Equal(t, live.apply(broadcaster.take()...), nil)
	}

	step(store.SetGlobal(&protocol.ThemeConfigurationMessage{ControlLayout: "floating", ControlWidth: "medium", ShowLogo: true}))
	step(store.AddSceneNode(protocol.NewFrame("/world", true, 1, 0.05), nil))
	cloud, err := protocol.NewPointCloud("/world/cloud", []float32{0, 0, 0, 1, 1, 1}, []uint8{255, 0, 0}, 0.02)
	assert.Equal(t, err, nil)
	step(store.AddSceneNode(cloud, nil))
	step(store.SetPosition("/world/cloud", protocol.Vec3{0, 1, 0}))
	step(store.SetVisible("/world/cloud", false))
	step(store.UpdateSceneNode("/world/cloud", protocol.Props{"point_size": 0.1}))
	step(store.AddSceneNode(protocol.NewLabel("/world/robot/base", "base"), nil))
	step(store.SetClickable("/world/robot/base", true))
	step(store.SetTransform("/world/robot", protocol.Quat{0, 1, 0, 0}, protocol.Vec3{5, 5, 5}))
	step(store.AddSceneNode(protocol.NewTransformControls("/world/handle", 1), nil))
	step(store.ApplyClientTransform(NewId(), "/world/handle", protocol.IdentityQuat, protocol.Vec3{2, 0, 0}))
	step(store.RemoveSceneNode("/world/cloud"))
	_, err = store.Reparent("/world/robot", SceneRoot)
	step(err)

	step(store.AddGuiComponent(protocol.NewGuiFolder("folder", GuiRoot, "Controls", 0)))
	step(store.AddGuiComponent(protocol.NewGuiCheckbox("check", "folder", "Show", true, 0)))
	step(store.UpdateGuiComponent("check", protocol.Props{"value": false}))
	step(store.AddModal("modal", "About", 0))
	step(store.AddGuiComponent(protocol.NewGuiMarkdown("about", "modal", "text", 0)))
	step(store.AddGuiComponent(protocol.NewGuiFolder("second", GuiRoot, "Second", 1)))
	step(store.MoveGuiComponent("folder", "second"))
	_, err = store.ApplyClientGuiUpdate(NewId(), "check", protocol.Props{"value": true})
	step(err)
	step(store.SetGlobal(&protocol.ThemeConfigurationMessage{ControlLayout: "fixed", ControlWidth: "large"}))

	fresh := newModelClient()
	assert.Equal(t, fresh.apply(store.Snapshot()...), nil)
	assert.Equal(t, live, fresh)

	store.ResetGui()
	assert.Equal(t, live.apply(broadcaster.take()...), nil)
	fresh = newModelClient()
	assert.Equal(t, fresh.apply(store.Snapshot()...), nil)
	assert.Equal(t, live, fresh)
}
