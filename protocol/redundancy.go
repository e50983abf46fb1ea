package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
)

// RedundancyKey returns the key used to detect redundant messages.
// Two messages with equal keys are interchangeable for delivery: only the latest is worth sending.
//
// Creation and removal of the same node (or gui element) share a key, so a removal
// supersedes a pending creation.
func RedundancyKey(message Message) string {
	kind := message.Kind()
	switch kind.Category() {
	case CategorySceneNode:
		return sceneLifecycleKey(message.(*SceneNodeMessage).Name)
	case CategoryGuiComponent:
		return guiLifecycleKey(message.(*GuiComponentMessage).Uuid)
	}

	switch v := message.(type) {
	case *RemoveSceneNodeMessage:
		return sceneLifecycleKey(v.Name)
	case *GuiRemoveMessage:
		return guiLifecycleKey(v.Uuid)

	case *SceneNodeUpdateMessage:
		return updateKey(kind, v.Name, v.Updates)
	case *GuiUpdateMessage:
		return updateKey(kind, v.Uuid, v.Updates)

	case *GuiModalMessage:
		return "modal-" + v.Uuid
	case *GuiCloseModalMessage:
		return "modal-" + v.Uuid

	case *SetBoneOrientationMessage:
		return kind.String() + "-" + v.Name + "-" + strconv.Itoa(v.BoneIndex)
	case *SetBonePositionMessage:
		return kind.String() + "-" + v.Name + "-" + strconv.Itoa(v.BoneIndex)

	case *ScenePointerEnableMessage:
		// the latest enable wins
		return kind.String() + "-" + v.EventType

	case *FileTransferStartUpload:
		return kind.String() + "-" + v.TransferUuid
	case *FileTransferStartDownload:
		return kind.String() + "-" + v.TransferUuid
	case *FileTransferPart:
		return kind.String() + "-" + v.TransferUuid + "-" + strconv.Itoa(v.PartIndex)
	case *FileTransferPartAck:
		return kind.String() + "-" + v.TransferUuid + "-" + strconv.FormatInt(v.TransferredBytes, 10)

	case *RunJavascriptMessage,
		*ResetGuiMessage,
		*GetRenderRequestMessage,
		*GetRenderResponseMessage,
		*SceneNodeClickMessage,
		*ScenePointerMessage,
		*TransformControlsDragStartMessage,
		*TransformControlsDragEndMessage:
		// never cull
		return uniqueKey(kind)

	case *SetOrientationMessage:
		return defaultKey(kind, v.Name, "")
	case *SetPositionMessage:
		return defaultKey(kind, v.Name, "")
	case *SetSceneNodeVisibilityMessage:
		return defaultKey(kind, v.Name, "")
	case *SetSceneNodeClickableMessage:
		return defaultKey(kind, v.Name, "")
	case *TransformControlsUpdateMessage:
		return defaultKey(kind, v.Name, "")
	case *NotificationMessage:
		return defaultKey(kind, "", v.Uuid)
	case *RemoveNotificationMessage:
		return defaultKey(kind, "", v.Uuid)

	case *SetGuiPanelLabelMessage,
		*ThemeConfigurationMessage,
		*ViewerCameraMessage,
		*SetCameraPositionMessage,
		*SetCameraUpDirectionMessage,
		*SetCameraLookAtMessage,
		*SetCameraNearMessage,
		*SetCameraFarMessage,
		*SetCameraFovMessage,
		*EnvironmentMapMessage,
		*EnableLightsMessage,
		*BackgroundImageMessage,
		*ShareUrlRequest,
		*ShareUrlUpdated,
		*ShareUrlDisconnect:
		return defaultKey(kind, "", "")

	default:
		panic(fmt.Errorf("No redundancy key for %T", message))
	}
}

// Scope returns the node or element a message targets.
// Scopes of scene nodes and gui elements never collide.
func Scope(message Message) (string, bool) {
	switch v := message.(type) {
	case *SceneNodeMessage:
		return sceneScope(v.Name), true
	case *RemoveSceneNodeMessage:
		return sceneScope(v.Name), true
	case *SceneNodeUpdateMessage:
		return sceneScope(v.Name), true
	case *SetOrientationMessage:
		return sceneScope(v.Name), true
	case *SetPositionMessage:
		return sceneScope(v.Name), true
	case *SetSceneNodeVisibilityMessage:
		return sceneScope(v.Name), true
	case *SetSceneNodeClickableMessage:
		return sceneScope(v.Name), true
	case *SetBoneOrientationMessage:
		return sceneScope(v.Name), true
	case *SetBonePositionMessage:
		return sceneScope(v.Name), true
	case *TransformControlsUpdateMessage:
		return sceneScope(v.Name), true
	case *GuiComponentMessage:
		return guiScope(v.Uuid), true
	case *GuiRemoveMessage:
		return guiScope(v.Uuid), true
	case *GuiUpdateMessage:
		return guiScope(v.Uuid), true
	default:
		return "", false
	}
}

func IsCreate(message Message) bool {
	return message.Kind().Category() != CategoryNone
}

// IsUpdate identifies partial property updates of one node or element.
func IsUpdate(message Message) bool {
	switch message.Kind() {
	case KindSceneNodeUpdate, KindGuiUpdate:
		return true
	default:
		return false
	}
}

// UpdatedProps returns the properties set by an update.
func UpdatedProps(message Message) (Props, bool) {
	switch v := message.(type) {
	case *SceneNodeUpdateMessage:
		return v.Updates, true
	case *GuiUpdateMessage:
		return v.Updates, true
	default:
		return nil, false
	}
}

// IsGui identifies messages whose effect a gui reset clears.
func IsGui(message Message) bool {
	switch message.Kind() {
	case KindGuiModal, KindGuiCloseModal, KindGuiRemove, KindGuiUpdate, KindResetGui:
		return true
	default:
		return message.Kind().Category() == CategoryGuiComponent
	}
}

func IsRemove(message Message) bool {
	switch message.Kind() {
	case KindRemoveSceneNode, KindGuiRemove:
		return true
	default:
		return false
	}
}

func sceneLifecycleKey(name string) string {
	return "create-or-remove-scene-" + name
}

// GuiLifecycleKeyPrefix starts the redundancy key of every gui element create and remove.
const GuiLifecycleKeyPrefix = "create-or-remove-gui-"

func guiLifecycleKey(uuid string) string {
	return GuiLifecycleKeyPrefix + uuid
}

func sceneScope(name string) string {
	return "scene:" + name
}

func guiScope(uuid string) string {
	return "gui:" + uuid
}

// updateKey collapses repeated updates to the same set of fields.
func updateKey(kind Kind, target string, updates Props) string {
	return kind.String() + "-" + target + "-" + strings.Join(updates.Names(), ",")
}

func defaultKey(kind Kind, name string, uuid string) string {
	parts := []string{kind.String()}
	if name != "" {
		parts = append(parts, name)
	}
	if uuid != "" {
		parts = append(parts, uuid)
	}
	return strings.Join(parts, "_")
}

func uniqueKey(kind Kind) string {
	return kind.String() + "-" + ulid.Make().String()
}
