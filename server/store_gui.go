package server

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/viewsync/viewsync/protocol"
)

const GuiRoot = "root"

type guiElement struct {
	sequenceId    uint64
	kind          protocol.Kind
	uuid          string
	containerUuid string
	props         protocol.Props
}

func (self *guiElement) message() *protocol.GuiComponentMessage {
	return &protocol.GuiComponentMessage{
		ElementKind:   self.kind,
		Uuid:          self.uuid,
		ContainerUuid: self.containerUuid,
		Props:         self.props.Clone(),
	}
}

// tabContainers are the containers a tab group provides to its tabs.
func (self *guiElement) tabContainers() []string {
	if self.kind != protocol.KindGuiTabGroup {
		return nil
	}
	switch v := self.props["_tab_container_ids"].(type) {
	case []string:
		return v
	case []any:
		containers := make([]string, 0, len(v))
		for _, c := range v {
			if s, ok := c.(string); ok {
				containers = append(containers, s)
			}
		}
		return containers
	default:
		return nil
	}
}

type guiModal struct {
	sequenceId uint64
	order      float64
	uuid       string
	title      string
}

func (self *guiModal) message() *protocol.GuiModalMessage {
	return &protocol.GuiModalMessage{
		Order: self.order,
		Uuid:  self.uuid,
		Title: self.title,
	}
}

// must be called with the state lock
func (self *Store) hasGuiContainer(containerUuid string) bool {
	if containerUuid == GuiRoot {
		return true
	}
	if _, ok := self.guiModals[containerUuid]; ok {
		return true
	}
	if element, ok := self.guiElements[containerUuid]; ok {
		return element.kind == protocol.KindGuiFolder
	}
	for _, element := range self.guiElements {
		if slices.Contains(element.tabContainers(), containerUuid) {
			return true
		}
	}
	// gui embedded in the scene
	for _, node := range self.sceneNodes {
		if node.message.Kind() == protocol.KindGui3D && node.message.Props["container_uuid"] == containerUuid {
			return true
		}
	}
	return false
}

// AddGuiComponent creates or replaces a gui element.
// The container must be the root, a folder, a tab of a tab group, an open modal, or a scene gui.
func (self *Store) AddGuiComponent(message *protocol.GuiComponentMessage) error {
	if message.Kind().Category() != protocol.CategoryGuiComponent {
		return fmt.Errorf("%w: %s is not a gui element", protocol.ErrUnknownKind, message.Kind())
	}
	if message.Uuid == "" {
		return fmt.Errorf("%w: gui element uuid is empty", protocol.ErrShape)
	}
	containerUuid := message.ContainerUuid
	if containerUuid == "" {
		containerUuid = GuiRoot
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if !self.hasGuiContainer(containerUuid) {
		return fmt.Errorf("%w: gui container %s", ErrNotFound, containerUuid)
	}
	if _, ok := self.guiElements[message.Uuid]; ok {
		self.removeGuiSubtree(message.Uuid)
	}

	element := &guiElement{
		sequenceId:    self.nextSequence(),
		kind:          message.ElementKind,
		uuid:          message.Uuid,
		containerUuid: containerUuid,
		props:         message.Props.Clone(),
	}
	self.guiElements[element.uuid] = element
	self.emit(element.message())
	return nil
}

func (self *Store) RemoveGuiComponent(uuid string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.guiElements[uuid]; !ok {
		return fmt.Errorf("%w: gui element %s", ErrNotFound, uuid)
	}
	self.removeGuiSubtree(uuid)
	return nil
}

// guiContained returns the elements held by a container, directly or through tabs.
// must be called with the state lock
func (self *Store) guiContained(containerUuid string) []*guiElement {
	containers := map[string]bool{containerUuid: true}
	if element, ok := self.guiElements[containerUuid]; ok {
		for _, tabContainer := range element.tabContainers() {
			containers[tabContainer] = true
		}
	}
	contained := []*guiElement{}
	for _, element := range self.guiElements {
		if element.uuid != containerUuid && containers[element.containerUuid] {
			contained = append(contained, element)
		}
	}
	slices.SortFunc(contained, func(a *guiElement, b *guiElement) int {
		return cmpUint64(a.sequenceId, b.sequenceId)
	})
	return contained
}

// removeGuiSubtree removes contained elements before their container.
// must be called with the state lock
func (self *Store) removeGuiSubtree(uuid string) {
	contained := self.guiContained(uuid)
	for i := len(contained) - 1; 0 <= i; i -= 1 {
		if _, ok := self.guiElements[contained[i].uuid]; ok {
			self.removeGuiSubtree(contained[i].uuid)
		}
	}
	if _, ok := self.guiElements[uuid]; ok {
		delete(self.guiElements, uuid)
		self.emit(&protocol.GuiRemoveMessage{Uuid: uuid})
	}
}

// must be called with the state lock
func (self *Store) requireGuiElement(uuid string) (*guiElement, error) {
	element, ok := self.guiElements[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: gui element %s", ErrNotFound, uuid)
	}
	return element, nil
}

func (self *Store) UpdateGuiComponent(uuid string, updates protocol.Props) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	element, err := self.requireGuiElement(uuid)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	element.props = element.props.With(updates)
	self.emit(&protocol.GuiUpdateMessage{
		Uuid:    uuid,
		Updates: updates.Clone(),
	})
	return nil
}

// ApplyClientGuiUpdate records a control change made on one client and forwards it
// to the other clients. It returns the properties before the update.
func (self *Store) ApplyClientGuiUpdate(connectionId Id, uuid string, updates protocol.Props) (protocol.Props, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	element, err := self.requireGuiElement(uuid)
	if err != nil {
		return nil, err
	}
	previous := element.props.Clone()
	if len(updates) == 0 {
		return previous, nil
	}
	element.props = element.props.With(updates)
	self.emitExcept(connectionId, &protocol.GuiUpdateMessage{
		Uuid:    uuid,
		Updates: updates.Clone(),
	})
	return previous, nil
}

// MoveGuiComponent changes the container of an element.
func (self *Store) MoveGuiComponent(uuid string, containerUuid string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	element, err := self.requireGuiElement(uuid)
	if err != nil {
		return err
	}
	if !self.hasGuiContainer(containerUuid) {
		return fmt.Errorf("%w: gui container %s", ErrNotFound, containerUuid)
	}
	for owner := self.guiContainerOwner(containerUuid); owner != nil; owner = self.guiContainerOwner(owner.containerUuid) {
		if owner.uuid == uuid {
			return fmt.Errorf("%w: cannot move %s into itself", protocol.ErrShape, uuid)
		}
	}
	element.containerUuid = containerUuid
	element.sequenceId = self.nextSequence()
	// contents replay after their container
	self.resequenceGuiContained(uuid)
	self.emit(element.message())
	return nil
}

// must be called with the state lock
func (self *Store) resequenceGuiContained(containerUuid string) {
	for _, contained := range self.guiContained(containerUuid) {
		contained.sequenceId = self.nextSequence()
		self.resequenceGuiContained(contained.uuid)
	}
}

// guiContainerOwner returns the element that provides a container, if any.
// must be called with the state lock
func (self *Store) guiContainerOwner(containerUuid string) *guiElement {
	if element, ok := self.guiElements[containerUuid]; ok {
		return element
	}
	for _, element := range self.guiElements {
		if slices.Contains(element.tabContainers(), containerUuid) {
			return element
		}
	}
	return nil
}

func (self *Store) GuiProps(uuid string) (protocol.Props, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	element, err := self.requireGuiElement(uuid)
	if err != nil {
		return nil, err
	}
	return element.props.Clone(), nil
}

// GuiKind returns the element kind, used to route client events.
func (self *Store) GuiKind(uuid string) (protocol.Kind, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	element, err := self.requireGuiElement(uuid)
	if err != nil {
		return protocol.KindUnknown, err
	}
	return element.kind, nil
}

func (self *Store) AddModal(uuid string, title string, order float64) error {
	if uuid == "" {
		return fmt.Errorf("%w: modal uuid is empty", protocol.ErrShape)
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if modal, ok := self.guiModals[uuid]; ok {
		modal.title = title
		modal.order = order
		self.emit(modal.message())
		return nil
	}
	modal := &guiModal{
		sequenceId: self.nextSequence(),
		order:      order,
		uuid:       uuid,
		title:      title,
	}
	self.guiModals[uuid] = modal
	self.emit(modal.message())
	return nil
}

// CloseModal closes a modal and removes the elements inside it.
func (self *Store) CloseModal(uuid string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.guiModals[uuid]; !ok {
		return fmt.Errorf("%w: modal %s", ErrNotFound, uuid)
	}
	contained := self.guiContained(uuid)
	for i := len(contained) - 1; 0 <= i; i -= 1 {
		if _, ok := self.guiElements[contained[i].uuid]; ok {
			self.removeGuiSubtree(contained[i].uuid)
		}
	}
	delete(self.guiModals, uuid)
	self.emit(&protocol.GuiCloseModalMessage{Uuid: uuid})
	return nil
}

// ResetGui removes every gui element and modal.
func (self *Store) ResetGui() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.guiElements = map[string]*guiElement{}
	self.guiModals = map[string]*guiModal{}
	self.emit(&protocol.ResetGuiMessage{})
}
