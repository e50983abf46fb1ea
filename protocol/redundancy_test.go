package protocol

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRedundancyKeyLifecycle(t *testing.T) {
	create := NewFrame("/robot", true, 0.5, 0.025)
	remove := &RemoveSceneNodeMessage{Name: "/robot"}
	assert.Equal(t, RedundancyKey(create), RedundancyKey(remove))

	other := NewFrame("/robot/arm", true, 0.5, 0.025)
	assert.NotEqual(t, RedundancyKey(create), RedundancyKey(other))

	button := NewGuiButton("abc", "root", "Go", 0)
	guiRemove := &GuiRemoveMessage{Uuid: "abc"}
	assert.Equal(t, RedundancyKey(button), RedundancyKey(guiRemove))

	// a scene node and a gui element with the same identifier never collide
	sceneNamedAbc := NewLabel("abc", "hi")
	assert.NotEqual(t, RedundancyKey(sceneNamedAbc), RedundancyKey(button))
}

func TestRedundancyKeyUpdates(t *testing.T) {
	a := &GuiUpdateMessage{Uuid: "slider", Updates: Props{"value": 1.0}}
	b := &GuiUpdateMessage{Uuid: "slider", Updates: Props{"value": 2.0}}
	assert.Equal(t, RedundancyKey(a), RedundancyKey(b))

	c := &GuiUpdateMessage{Uuid: "slider", Updates: Props{"value": 2.0, "label": "x"}}
	d := &GuiUpdateMessage{Uuid: "slider", Updates: Props{"label": "y", "value": 3.0}}
	assert.NotEqual(t, RedundancyKey(a), RedundancyKey(c))
	assert.Equal(t, RedundancyKey(c), RedundancyKey(d))

	e := &GuiUpdateMessage{Uuid: "other", Updates: Props{"value": 1.0}}
	assert.NotEqual(t, RedundancyKey(a), RedundancyKey(e))

	p := &SetPositionMessage{Name: "/a", Position: Vec3{1, 2, 3}}
	q := &SetPositionMessage{Name: "/a", Position: Vec3{4, 5, 6}}
	r := &SetOrientationMessage{Name: "/a", Wxyz: IdentityQuat}
	assert.Equal(t, RedundancyKey(p), RedundancyKey(q))
	assert.NotEqual(t, RedundancyKey(p), RedundancyKey(r))
}

func TestRedundancyKeyNeverCulled(t *testing.T) {
	a := &RunJavascriptMessage{Source: "1"}
	b := &RunJavascriptMessage{Source: "1"}
	assert.NotEqual(t, RedundancyKey(a), RedundancyKey(b))
	assert.NotEqual(t, RedundancyKey(a), RedundancyKey(a))

	click := &SceneNodeClickMessage{Name: "/a"}
	assert.NotEqual(t, RedundancyKey(click), RedundancyKey(click))
}

func TestRedundancyKeyState(t *testing.T) {
	// the key names the setting, not its value
	enable := &ScenePointerEnableMessage{EventType: "click", Enable: true}
	disable := &ScenePointerEnableMessage{EventType: "click", Enable: false}
	assert.Equal(t, RedundancyKey(enable), RedundancyKey(disable))
	rectSelect := &ScenePointerEnableMessage{EventType: "rect-select", Enable: true}
	assert.NotEqual(t, RedundancyKey(enable), RedundancyKey(rectSelect))

	// resets depend on their position relative to gui creates
	reset := &ResetGuiMessage{}
	assert.NotEqual(t, RedundancyKey(reset), RedundancyKey(&ResetGuiMessage{}))
	assert.Equal(t, true, IsGui(reset))
	assert.Equal(t, true, IsGui(NewGuiButton("b", "root", "Go", 0)))
	assert.Equal(t, true, IsGui(&GuiCloseModalMessage{Uuid: "m"}))
	assert.Equal(t, false, IsGui(&SetPositionMessage{Name: "/a"}))

	update := &GuiUpdateMessage{Uuid: "u", Updates: Props{"label": "x"}}
	assert.Equal(t, true, IsUpdate(update))
	updates, ok := UpdatedProps(update)
	assert.Equal(t, true, ok)
	assert.Equal(t, "x", updates["label"])
	_, ok = UpdatedProps(reset)
	assert.Equal(t, false, ok)
}

func TestRedundancyKeyTransfer(t *testing.T) {
	part0 := &FileTransferPart{TransferUuid: "t", PartIndex: 0}
	part1 := &FileTransferPart{TransferUuid: "t", PartIndex: 1}
	assert.NotEqual(t, RedundancyKey(part0), RedundancyKey(part1))
	assert.Equal(t, RedundancyKey(part0), RedundancyKey(&FileTransferPart{TransferUuid: "t", PartIndex: 0}))

	ack0 := &FileTransferPartAck{TransferUuid: "t", TransferredBytes: 10}
	ack1 := &FileTransferPartAck{TransferUuid: "t", TransferredBytes: 20}
	assert.NotEqual(t, RedundancyKey(ack0), RedundancyKey(ack1))
}

func TestRedundancyKeyEveryKind(t *testing.T) {
	for _, kind := range Kinds() {
		message, err := newMessage(kind)
		assert.Equal(t, err, nil)
		assert.Equal(t, kind, message.Kind())
		assert.NotEqual(t, "", RedundancyKey(message))
	}
}

func TestScope(t *testing.T) {
	scope, ok := Scope(&SetPositionMessage{Name: "/a"})
	assert.Equal(t, true, ok)
	assert.Equal(t, "scene:/a", scope)

	scope, ok = Scope(&GuiUpdateMessage{Uuid: "u"})
	assert.Equal(t, true, ok)
	assert.Equal(t, "gui:u", scope)

	_, ok = Scope(&ResetGuiMessage{})
	assert.Equal(t, false, ok)

	assert.Equal(t, true, IsCreate(NewLabel("/a", "a")))
	assert.Equal(t, false, IsCreate(&RemoveSceneNodeMessage{Name: "/a"}))
	assert.Equal(t, true, IsRemove(&GuiRemoveMessage{Uuid: "u"}))
}

func TestParseKind(t *testing.T) {
	for _, kind := range Kinds() {
		parsed, err := ParseKind(kind.String())
		assert.Equal(t, err, nil)
		assert.Equal(t, kind, parsed)
	}
	_, err := ParseKind("NotAMessage")
	assert.NotEqual(t, err, nil)
	assert.Equal(t, "Kind(999)", Kind(999).String())
	assert.Equal(t, false, Kind(999).Valid())
}
