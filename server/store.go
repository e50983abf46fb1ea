package server

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/viewsync/viewsync/protocol"
)

// Broadcaster fans a store mutation out to connected clients.
type Broadcaster interface {
	Broadcast(message protocol.Message)
	BroadcastExcept(connectionId Id, message protocol.Message)
}

type sceneNode struct {
	sequenceId uint64
	message    *protocol.SceneNodeMessage
	wxyz       protocol.Quat
	position   protocol.Vec3
	visible    bool
	clickable  bool
	// bone index -> pose
	bones map[int]*bonePose
}

type bonePose struct {
	wxyz     protocol.Quat
	position protocol.Vec3
}

type globalEntry struct {
	sequenceId uint64
	message    protocol.Message
}

// Store is the canonical scene and gui model.
// Every mutation updates the model and emits the equivalent message in one critical section.
// `Snapshot` regenerates a message stream that brings a fresh client to the current state.
type Store struct {
	stateLock sync.Mutex

	broadcaster Broadcaster

	nextSequenceId uint64
	// name -> node
	sceneNodes map[string]*sceneNode
	// uuid -> element
	guiElements map[string]*guiElement
	// uuid -> modal
	guiModals map[string]*guiModal
	// slot -> message
	globals map[string]*globalEntry
}

func NewStore(broadcaster Broadcaster) *Store {
	return &Store{
		broadcaster: broadcaster,
		sceneNodes:  map[string]*sceneNode{},
		guiElements: map[string]*guiElement{},
		guiModals:   map[string]*guiModal{},
		globals:     map[string]*globalEntry{},
	}
}

// must be called with the state lock
func (self *Store) nextSequence() uint64 {
	sequenceId := self.nextSequenceId
	self.nextSequenceId += 1
	return sequenceId
}

// must be called with the state lock
func (self *Store) emit(messages ...protocol.Message) {
	for _, message := range messages {
		glog.V(2).Infof("[store]emit %s\n", message.Kind())
		self.broadcaster.Broadcast(message)
	}
}

// must be called with the state lock
func (self *Store) emitExcept(connectionId Id, messages ...protocol.Message) {
	for _, message := range messages {
		glog.V(2).Infof("[store]emit %s except %s\n", message.Kind(), connectionId)
		self.broadcaster.BroadcastExcept(connectionId, message)
	}
}

// scene names

const SceneRoot = "/"

// NormalizeSceneName makes names absolute and strips trailing separators.
func NormalizeSceneName(name string) (string, error) {
	name = strings.TrimRight(name, "/")
	if name == "" {
		return "", fmt.Errorf("%w: the scene root cannot be created or removed", protocol.ErrShape)
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	if strings.Contains(name, "//") {
		return "", fmt.Errorf("%w: invalid scene node name %q", protocol.ErrShape, name)
	}
	return name, nil
}

func parentSceneName(name string) string {
	i := strings.LastIndex(name, "/")
	if i <= 0 {
		return SceneRoot
	}
	return name[:i]
}

func baseSceneName(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}

func isSceneDescendant(name string, ancestor string) bool {
	return strings.HasPrefix(name, ancestor+"/")
}

func sceneDepth(name string) int {
	return strings.Count(name, "/")
}

// scene

type SceneNodeOptions struct {
	Wxyz      protocol.Quat
	Position  protocol.Vec3
	Visible   bool
	Clickable bool
}

func DefaultSceneNodeOptions() *SceneNodeOptions {
	return &SceneNodeOptions{
		Wxyz:      protocol.IdentityQuat,
		Position:  protocol.Vec3{},
		Visible:   true,
		Clickable: false,
	}
}

// AddSceneNode creates or replaces a node.
// Replacing a node removes its subtree first. Missing ancestors are created as frames without axes.
func (self *Store) AddSceneNode(message *protocol.SceneNodeMessage, options *SceneNodeOptions) error {
	if message.Kind().Category() != protocol.CategorySceneNode {
		return fmt.Errorf("%w: %s is not a scene node", protocol.ErrUnknownKind, message.Kind())
	}
	name, err := NormalizeSceneName(message.Name)
	if err != nil {
		return err
	}
	if options == nil {
		options = DefaultSceneNodeOptions()
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.sceneNodes[name]; ok {
		self.removeSceneSubtree(name)
	}
	self.ensureSceneParents(name)

	node := &sceneNode{
		sequenceId: self.nextSequence(),
		message: &protocol.SceneNodeMessage{
			NodeKind: message.NodeKind,
			Name:     name,
			Props:    message.Props.Clone(),
		},
		wxyz:      options.Wxyz,
		position:  options.Position,
		visible:   options.Visible,
		clickable: options.Clickable,
		bones:     map[int]*bonePose{},
	}
	self.sceneNodes[name] = node
	self.emit(node.messages()...)
	if containerUuid, ok := node.message.Props["container_uuid"].(string); ok && node.message.Kind() == protocol.KindGui3D {
		// elements already in the container replay after it
		self.resequenceGuiContained(containerUuid)
	}
	return nil
}

// must be called with the state lock
func (self *Store) ensureSceneParents(name string) {
	missing := []string{}
	for parent := parentSceneName(name); parent != SceneRoot; parent = parentSceneName(parent) {
		if _, ok := self.sceneNodes[parent]; ok {
			break
		}
		missing = append(missing, parent)
	}
	slices.Reverse(missing)
	for _, parent := range missing {
		frame := protocol.NewFrame(parent, false, 0.5, 0.025)
		node := &sceneNode{
			sequenceId: self.nextSequence(),
			message:    frame,
			wxyz:       protocol.IdentityQuat,
			visible:    true,
			bones:      map[int]*bonePose{},
		}
		self.sceneNodes[parent] = node
		glog.V(2).Infof("[store]implicit parent %s\n", parent)
		self.emit(node.messages()...)
	}
}

// messages is the live and replay sequence for a node. The create carries final property values.
func (self *sceneNode) messages() []protocol.Message {
	name := self.message.Name
	messages := []protocol.Message{
		&protocol.SceneNodeMessage{
			NodeKind: self.message.NodeKind,
			Name:     name,
			Props:    self.message.Props.Clone(),
		},
		&protocol.SetOrientationMessage{Name: name, Wxyz: self.wxyz},
		&protocol.SetPositionMessage{Name: name, Position: self.position},
	}
	if !self.visible {
		messages = append(messages, &protocol.SetSceneNodeVisibilityMessage{Name: name, Visible: false})
	}
	if self.clickable {
		messages = append(messages, &protocol.SetSceneNodeClickableMessage{Name: name, Clickable: true})
	}
	boneIndexes := make([]int, 0, len(self.bones))
	for boneIndex := range self.bones {
		boneIndexes = append(boneIndexes, boneIndex)
	}
	slices.Sort(boneIndexes)
	for _, boneIndex := range boneIndexes {
		bone := self.bones[boneIndex]
		messages = append(
			messages,
			&protocol.SetBoneOrientationMessage{Name: name, BoneIndex: boneIndex, Wxyz: bone.wxyz},
			&protocol.SetBonePositionMessage{Name: name, BoneIndex: boneIndex, Position: bone.position},
		)
	}
	return messages
}

func (self *Store) RemoveSceneNode(name string) error {
	name, err := NormalizeSceneName(name)
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.sceneNodes[name]; !ok {
		return fmt.Errorf("%w: scene node %s", ErrNotFound, name)
	}
	self.removeSceneSubtree(name)
	return nil
}

// sceneSubtree returns the node and its descendants in creation order.
// must be called with the state lock
func (self *Store) sceneSubtree(name string) []*sceneNode {
	nodes := []*sceneNode{}
	for nodeName, node := range self.sceneNodes {
		if nodeName == name || isSceneDescendant(nodeName, name) {
			nodes = append(nodes, node)
		}
	}
	slices.SortFunc(nodes, func(a *sceneNode, b *sceneNode) int {
		return cmpUint64(a.sequenceId, b.sequenceId)
	})
	return nodes
}

// removeSceneSubtree removes deepest nodes first, so a client never holds an orphan.
// must be called with the state lock
func (self *Store) removeSceneSubtree(name string) {
	nodes := self.sceneSubtree(name)
	slices.SortStableFunc(nodes, func(a *sceneNode, b *sceneNode) int {
		return sceneDepth(b.message.Name) - sceneDepth(a.message.Name)
	})
	for _, node := range nodes {
		delete(self.sceneNodes, node.message.Name)
		self.emit(&protocol.RemoveSceneNodeMessage{Name: node.message.Name})
	}
}

// must be called with the state lock
func (self *Store) requireSceneNode(name string) (*sceneNode, error) {
	name, err := NormalizeSceneName(name)
	if err != nil {
		return nil, err
	}
	node, ok := self.sceneNodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: scene node %s", ErrNotFound, name)
	}
	return node, nil
}

func (self *Store) UpdateSceneNode(name string, updates protocol.Props) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	node, err := self.requireSceneNode(name)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	node.message.Props = node.message.Props.With(updates)
	self.emit(&protocol.SceneNodeUpdateMessage{
		Name:    node.message.Name,
		Updates: updates.Clone(),
	})
	return nil
}

func (self *Store) SetOrientation(name string, wxyz protocol.Quat) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	node, err := self.requireSceneNode(name)
	if err != nil {
		return err
	}
	node.wxyz = wxyz
	self.emit(&protocol.SetOrientationMessage{Name: node.message.Name, Wxyz: wxyz})
	return nil
}

func (self *Store) SetPosition(name string, position protocol.Vec3) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	node, err := self.requireSceneNode(name)
	if err != nil {
		return err
	}
	node.position = position
	self.emit(&protocol.SetPositionMessage{Name: node.message.Name, Position: position})
	return nil
}

func (self *Store) SetTransform(name string, wxyz protocol.Quat, position protocol.Vec3) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	node, err := self.requireSceneNode(name)
	if err != nil {
		return err
	}
	node.wxyz = wxyz
	node.position = position
	self.emit(
		&protocol.SetOrientationMessage{Name: node.message.Name, Wxyz: wxyz},
		&protocol.SetPositionMessage{Name: node.message.Name, Position: position},
	)
	return nil
}

// ApplyClientTransform records a pose reported by transform controls on one client
// and forwards it to the other clients.
func (self *Store) ApplyClientTransform(connectionId Id, name string, wxyz protocol.Quat, position protocol.Vec3) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	node, err := self.requireSceneNode(name)
	if err != nil {
		return err
	}
	node.wxyz = wxyz
	node.position = position
	self.emitExcept(
		connectionId,
		&protocol.SetOrientationMessage{Name: node.message.Name, Wxyz: wxyz},
		&protocol.SetPositionMessage{Name: node.message.Name, Position: position},
	)
	return nil
}

func (self *Store) SetVisible(name string, visible bool) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	node, err := self.requireSceneNode(name)
	if err != nil {
		return err
	}
	node.visible = visible
	self.emit(&protocol.SetSceneNodeVisibilityMessage{Name: node.message.Name, Visible: visible})
	return nil
}

func (self *Store) SetClickable(name string, clickable bool) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	node, err := self.requireSceneNode(name)
	if err != nil {
		return err
	}
	node.clickable = clickable
	self.emit(&protocol.SetSceneNodeClickableMessage{Name: node.message.Name, Clickable: clickable})
	return nil
}

// SetBone poses one bone of a skinned mesh.
func (self *Store) SetBone(name string, boneIndex int, wxyz protocol.Quat, position protocol.Vec3) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	node, err := self.requireSceneNode(name)
	if err != nil {
		return err
	}
	if node.message.Kind() != protocol.KindSkinnedMesh {
		return fmt.Errorf("%w: %s is a %s, not a skinned mesh", protocol.ErrShape, node.message.Name, node.message.Kind())
	}
	boneCount := 0
	if boneWxyzs, ok := node.message.Props["bone_wxyzs"].([]byte); ok {
		boneCount = len(boneWxyzs) / 16
	}
	if boneIndex < 0 || boneCount <= boneIndex {
		return fmt.Errorf("%w: bone %d of %s", ErrNotFound, boneIndex, node.message.Name)
	}
	node.bones[boneIndex] = &bonePose{
		wxyz:     wxyz,
		position: position,
	}
	self.emit(
		&protocol.SetBoneOrientationMessage{Name: node.message.Name, BoneIndex: boneIndex, Wxyz: wxyz},
		&protocol.SetBonePositionMessage{Name: node.message.Name, BoneIndex: boneIndex, Position: position},
	)
	return nil
}

// Reparent moves a subtree under a new parent.
// Clients have no move message, so the subtree is removed and created again at the new path.
func (self *Store) Reparent(name string, newParent string) (string, error) {
	name, err := NormalizeSceneName(name)
	if err != nil {
		return "", err
	}
	if newParent != SceneRoot {
		newParent, err = NormalizeSceneName(newParent)
		if err != nil {
			return "", err
		}
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.sceneNodes[name]; !ok {
		return "", fmt.Errorf("%w: scene node %s", ErrNotFound, name)
	}
	if newParent != SceneRoot {
		if _, ok := self.sceneNodes[newParent]; !ok {
			return "", fmt.Errorf("%w: scene node %s", ErrNotFound, newParent)
		}
		if newParent == name || isSceneDescendant(newParent, name) {
			return "", fmt.Errorf("%w: cannot move %s under itself", protocol.ErrShape, name)
		}
	}
	var newName string
	if newParent == SceneRoot {
		newName = "/" + baseSceneName(name)
	} else {
		newName = newParent + "/" + baseSceneName(name)
	}
	if newName == name {
		return name, nil
	}

	nodes := self.sceneSubtree(name)
	self.removeSceneSubtree(name)
	if _, ok := self.sceneNodes[newName]; ok {
		self.removeSceneSubtree(newName)
	}
	for _, node := range nodes {
		movedName := newName + strings.TrimPrefix(node.message.Name, name)
		moved := &sceneNode{
			sequenceId: self.nextSequence(),
			message: &protocol.SceneNodeMessage{
				NodeKind: node.message.NodeKind,
				Name:     movedName,
				Props:    node.message.Props,
			},
			wxyz:      node.wxyz,
			position:  node.position,
			visible:   node.visible,
			clickable: node.clickable,
			bones:     node.bones,
		}
		self.sceneNodes[movedName] = moved
		self.emit(moved.messages()...)
	}
	return newName, nil
}

// SceneNodeNames returns the node names in creation order.
func (self *Store) SceneNodeNames() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	nodes := maps.Values(self.sceneNodes)
	slices.SortFunc(nodes, func(a *sceneNode, b *sceneNode) int {
		return cmpUint64(a.sequenceId, b.sequenceId)
	})
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		names = append(names, node.message.Name)
	}
	return names
}

// SceneNodeProps returns a copy of the current properties of a node.
func (self *Store) SceneNodeProps(name string) (protocol.Props, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	node, err := self.requireSceneNode(name)
	if err != nil {
		return nil, err
	}
	return node.message.Props.Clone(), nil
}

// globals

// globalSlot is the replay identity of a global setting. Later values replace earlier ones.
func globalSlot(message protocol.Message) (string, bool) {
	switch v := message.(type) {
	case *protocol.ThemeConfigurationMessage,
		*protocol.EnvironmentMapMessage,
		*protocol.EnableLightsMessage,
		*protocol.BackgroundImageMessage,
		*protocol.SetGuiPanelLabelMessage:
		return message.Kind().String(), true
	case *protocol.ScenePointerEnableMessage:
		return message.Kind().String() + "-" + v.EventType, true
	default:
		return "", false
	}
}

// SetGlobal sets a viewer-wide setting: theme, environment map, lights,
// background image, panel label or scene pointer enable.
func (self *Store) SetGlobal(message protocol.Message) error {
	slot, ok := globalSlot(message)
	if !ok {
		return fmt.Errorf("%w: %s is not a global setting", protocol.ErrUnknownKind, message.Kind())
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if entry, ok := self.globals[slot]; ok {
		entry.message = message
	} else {
		self.globals[slot] = &globalEntry{
			sequenceId: self.nextSequence(),
			message:    message,
		}
	}
	self.emit(message)
	return nil
}

// snapshot

type snapshotEntry struct {
	sequenceId uint64
	messages   []protocol.Message
}

// Snapshot returns the message stream that recreates the current state in a fresh client.
func (self *Store) Snapshot() []protocol.Message {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.snapshot()
}

// WithSnapshot runs `callback` with the snapshot inside the store critical section.
// No mutation can be emitted between the snapshot and the end of the callback.
func (self *Store) WithSnapshot(callback func(snapshot []protocol.Message)) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callback(self.snapshot())
}

// must be called with the state lock
func (self *Store) snapshot() []protocol.Message {
	globals := maps.Values(self.globals)
	slices.SortFunc(globals, func(a *globalEntry, b *globalEntry) int {
		return cmpUint64(a.sequenceId, b.sequenceId)
	})

	entries := []*snapshotEntry{}
	for _, node := range self.sceneNodes {
		entries = append(entries, &snapshotEntry{
			sequenceId: node.sequenceId,
			messages:   node.messages(),
		})
	}
	for _, modal := range self.guiModals {
		entries = append(entries, &snapshotEntry{
			sequenceId: modal.sequenceId,
			messages:   []protocol.Message{modal.message()},
		})
	}
	for _, element := range self.guiElements {
		entries = append(entries, &snapshotEntry{
			sequenceId: element.sequenceId,
			messages:   []protocol.Message{element.message()},
		})
	}
	slices.SortFunc(entries, func(a *snapshotEntry, b *snapshotEntry) int {
		return cmpUint64(a.sequenceId, b.sequenceId)
	})

	snapshot := []protocol.Message{}
	for _, global := range globals {
		snapshot = append(snapshot, global.message)
	}
	for _, entry := range entries {
		snapshot = append(snapshot, entry.messages...)
	}
	return snapshot
}

func cmpUint64(a uint64, b uint64) int {
	if a < b {
		return -1
	} else if b < a {
		return 1
	} else {
		return 0
	}
}
