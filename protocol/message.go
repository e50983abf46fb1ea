package protocol

import (
	"errors"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrUnknownKind = errors.New("unknown message kind")
var ErrShape = errors.New("invalid message shape")

// Message is a tagged record of the viewer protocol.
// The set of implementations is closed to this package.
type Message interface {
	Kind() Kind
	isMessage()
}

// Classify returns the variant tag of a message.
func Classify(message Message) Kind {
	if message == nil {
		return KindUnknown
	}
	return message.Kind()
}

// Props is a property bag. Numeric arrays are carried as raw little endian bytes.
type Props map[string]any

func (self Props) Clone() Props {
	if self == nil {
		return Props{}
	}
	return maps.Clone(self)
}

// With returns a copy with the updates applied.
func (self Props) With(updates Props) Props {
	next := self.Clone()
	for name, value := range updates {
		next[name] = value
	}
	return next
}

// Names returns the sorted property names.
func (self Props) Names() []string {
	names := make([]string, 0, len(self))
	for name := range self {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type Vec2 [2]float64
type Vec3 [3]float64

// Quat is a wxyz quaternion.
type Quat [4]float64

var IdentityQuat = Quat{1, 0, 0, 0}

type Rgb [3]uint8

// scene nodes

// SceneNodeMessage creates a scene node. NodeKind is one of the scene node create kinds.
type SceneNodeMessage struct {
	NodeKind Kind   `cbor:"-"`
	Name     string `cbor:"name"`
	Props    Props  `cbor:"props"`
}

type RemoveSceneNodeMessage struct {
	Name string `cbor:"name"`
}

// SceneNodeUpdateMessage is sent client<->server when any property of a scene node changes.
type SceneNodeUpdateMessage struct {
	Name    string `cbor:"name"`
	Updates Props  `cbor:"updates"`
}

type SetOrientationMessage struct {
	Name string `cbor:"name"`
	Wxyz Quat   `cbor:"wxyz"`
}

type SetPositionMessage struct {
	Name     string `cbor:"name"`
	Position Vec3   `cbor:"position"`
}

type SetSceneNodeVisibilityMessage struct {
	Name    string `cbor:"name"`
	Visible bool   `cbor:"visible"`
}

type SetSceneNodeClickableMessage struct {
	Name      string `cbor:"name"`
	Clickable bool   `cbor:"clickable"`
}

type SetBoneOrientationMessage struct {
	Name      string `cbor:"name"`
	BoneIndex int    `cbor:"bone_index"`
	Wxyz      Quat   `cbor:"wxyz"`
}

type SetBonePositionMessage struct {
	Name      string `cbor:"name"`
	BoneIndex int    `cbor:"bone_index"`
	Position  Vec3   `cbor:"position"`
}

type SceneNodeClickMessage struct {
	Name          string `cbor:"name"`
	InstanceIndex *int   `cbor:"instance_index"`
	RayOrigin     Vec3   `cbor:"ray_origin"`
	RayDirection  Vec3   `cbor:"ray_direction"`
	ScreenPos     Vec2   `cbor:"screen_pos"`
}

type TransformControlsUpdateMessage struct {
	Name     string `cbor:"name"`
	Wxyz     Quat   `cbor:"wxyz"`
	Position Vec3   `cbor:"position"`
}

type TransformControlsDragStartMessage struct {
	Name string `cbor:"name"`
}

type TransformControlsDragEndMessage struct {
	Name string `cbor:"name"`
}

// gui

// GuiComponentMessage creates a gui element. ElementKind is one of the gui create kinds.
// The control value, if any, is the `value` property.
type GuiComponentMessage struct {
	ElementKind   Kind   `cbor:"-"`
	Uuid          string `cbor:"uuid"`
	ContainerUuid string `cbor:"container_uuid"`
	Props         Props  `cbor:"props"`
}

type GuiRemoveMessage struct {
	Uuid string `cbor:"uuid"`
}

// GuiUpdateMessage is sent client<->server when any property of a gui element changes.
type GuiUpdateMessage struct {
	Uuid    string `cbor:"uuid"`
	Updates Props  `cbor:"updates"`
}

type GuiModalMessage struct {
	Order float64 `cbor:"order"`
	Uuid  string  `cbor:"uuid"`
	Title string  `cbor:"title"`
}

type GuiCloseModalMessage struct {
	Uuid string `cbor:"uuid"`
}

type ResetGuiMessage struct {
}

type SetGuiPanelLabelMessage struct {
	Label *string `cbor:"label"`
}

type NotificationProps struct {
	Title           string `cbor:"title"`
	Body            string `cbor:"body"`
	Loading         bool   `cbor:"loading"`
	WithCloseButton bool   `cbor:"with_close_button"`
	// milliseconds, 0 disables auto close
	AutoClose int    `cbor:"auto_close"`
	Color     string `cbor:"color,omitempty"`
}

type NotificationMessage struct {
	// "show" or "update"
	Mode  string            `cbor:"mode"`
	Uuid  string            `cbor:"uuid"`
	Props NotificationProps `cbor:"props"`
}

type RemoveNotificationMessage struct {
	Uuid string `cbor:"uuid"`
}

type ThemeConfigurationMessage struct {
	TitlebarContent Props    `cbor:"titlebar_content"`
	ControlLayout   string   `cbor:"control_layout"`
	ControlWidth    string   `cbor:"control_width"`
	ShowLogo        bool     `cbor:"show_logo"`
	ShowShareButton bool     `cbor:"show_share_button"`
	DarkMode        bool     `cbor:"dark_mode"`
	Colors          []string `cbor:"colors"`
}

// camera and viewer

// ViewerCameraMessage is a posed viewer camera, T_world_camera, OpenCV convention.
type ViewerCameraMessage struct {
	Wxyz        Quat    `cbor:"wxyz"`
	Position    Vec3    `cbor:"position"`
	Fov         float64 `cbor:"fov"`
	Near        float64 `cbor:"near"`
	Far         float64 `cbor:"far"`
	ImageHeight int     `cbor:"image_height"`
	ImageWidth  int     `cbor:"image_width"`
	LookAt      Vec3    `cbor:"look_at"`
	UpDirection Vec3    `cbor:"up_direction"`
}

type SetCameraPositionMessage struct {
	Position Vec3 `cbor:"position"`
}

type SetCameraUpDirectionMessage struct {
	Position Vec3 `cbor:"position"`
}

type SetCameraLookAtMessage struct {
	LookAt Vec3 `cbor:"look_at"`
}

type SetCameraNearMessage struct {
	Near float64 `cbor:"near"`
}

type SetCameraFarMessage struct {
	Far float64 `cbor:"far"`
}

type SetCameraFovMessage struct {
	Fov float64 `cbor:"fov"`
}

const (
	PointerEventClick      = "click"
	PointerEventRectSelect = "rect-select"
)

type ScenePointerMessage struct {
	EventType    string `cbor:"event_type"`
	RayOrigin    *Vec3  `cbor:"ray_origin"`
	RayDirection *Vec3  `cbor:"ray_direction"`
	ScreenPos    []Vec2 `cbor:"screen_pos"`
}

type ScenePointerEnableMessage struct {
	Enable    bool   `cbor:"enable"`
	EventType string `cbor:"event_type"`
}

type EnvironmentMapMessage struct {
	// preset name, nil for none
	Hdri                 *string `cbor:"hdri"`
	Background           bool    `cbor:"background"`
	BackgroundBlurriness float64 `cbor:"background_blurriness"`
	BackgroundIntensity  float64 `cbor:"background_intensity"`
	BackgroundWxyz       Quat    `cbor:"background_wxyz"`
	EnvironmentIntensity float64 `cbor:"environment_intensity"`
	EnvironmentWxyz      Quat    `cbor:"environment_wxyz"`
}

type EnableLightsMessage struct {
	Enabled    bool `cbor:"enabled"`
	CastShadow bool `cbor:"cast_shadow"`
}

type BackgroundImageMessage struct {
	MediaType string `cbor:"media_type"`
	RgbData   []byte `cbor:"rgb_data"`
	DepthData []byte `cbor:"depth_data"`
}

type GetRenderRequestMessage struct {
	Format   string  `cbor:"format"`
	Height   int     `cbor:"height"`
	Width    int     `cbor:"width"`
	Quality  int     `cbor:"quality"`
	Wxyz     Quat    `cbor:"wxyz"`
	Position Vec3    `cbor:"position"`
	Fov      float64 `cbor:"fov"`
}

type GetRenderResponseMessage struct {
	Payload []byte `cbor:"payload"`
}

type RunJavascriptMessage struct {
	Source string `cbor:"source"`
}

// file transfer

type FileTransferStartUpload struct {
	SourceComponentUuid string `cbor:"source_component_uuid"`
	TransferUuid        string `cbor:"transfer_uuid"`
	Filename            string `cbor:"filename"`
	MimeType            string `cbor:"mime_type"`
	PartCount           int    `cbor:"part_count"`
	SizeBytes           int64  `cbor:"size_bytes"`
}

type FileTransferStartDownload struct {
	SaveImmediately bool   `cbor:"save_immediately"`
	TransferUuid    string `cbor:"transfer_uuid"`
	Filename        string `cbor:"filename"`
	MimeType        string `cbor:"mime_type"`
	PartCount       int    `cbor:"part_count"`
	SizeBytes       int64  `cbor:"size_bytes"`
}

type FileTransferPart struct {
	SourceComponentUuid string `cbor:"source_component_uuid,omitempty"`
	TransferUuid        string `cbor:"transfer_uuid"`
	PartIndex           int    `cbor:"part_index"`
	Content             []byte `cbor:"content"`
}

type FileTransferPartAck struct {
	SourceComponentUuid string `cbor:"source_component_uuid,omitempty"`
	TransferUuid        string `cbor:"transfer_uuid"`
	TransferredBytes    int64  `cbor:"transferred_bytes"`
	TotalBytes          int64  `cbor:"total_bytes"`
}

// share url

type ShareUrlRequest struct {
}

type ShareUrlUpdated struct {
	ShareUrl *string `cbor:"share_url"`
}

type ShareUrlDisconnect struct {
}

func (self *SceneNodeMessage) Kind() Kind                  { return self.NodeKind }
func (self *RemoveSceneNodeMessage) Kind() Kind            { return KindRemoveSceneNode }
func (self *SceneNodeUpdateMessage) Kind() Kind            { return KindSceneNodeUpdate }
func (self *SetOrientationMessage) Kind() Kind             { return KindSetOrientation }
func (self *SetPositionMessage) Kind() Kind                { return KindSetPosition }
func (self *SetSceneNodeVisibilityMessage) Kind() Kind     { return KindSetSceneNodeVisibility }
func (self *SetSceneNodeClickableMessage) Kind() Kind      { return KindSetSceneNodeClickable }
func (self *SetBoneOrientationMessage) Kind() Kind         { return KindSetBoneOrientation }
func (self *SetBonePositionMessage) Kind() Kind            { return KindSetBonePosition }
func (self *SceneNodeClickMessage) Kind() Kind             { return KindSceneNodeClick }
func (self *TransformControlsUpdateMessage) Kind() Kind    { return KindTransformControlsUpdate }
func (self *TransformControlsDragStartMessage) Kind() Kind { return KindTransformControlsDragStart }
func (self *TransformControlsDragEndMessage) Kind() Kind   { return KindTransformControlsDragEnd }
func (self *GuiComponentMessage) Kind() Kind               { return self.ElementKind }
func (self *GuiRemoveMessage) Kind() Kind                  { return KindGuiRemove }
func (self *GuiUpdateMessage) Kind() Kind                  { return KindGuiUpdate }
func (self *GuiModalMessage) Kind() Kind                   { return KindGuiModal }
func (self *GuiCloseModalMessage) Kind() Kind              { return KindGuiCloseModal }
func (self *ResetGuiMessage) Kind() Kind                   { return KindResetGui }
func (self *SetGuiPanelLabelMessage) Kind() Kind           { return KindSetGuiPanelLabel }
func (self *NotificationMessage) Kind() Kind               { return KindNotification }
func (self *RemoveNotificationMessage) Kind() Kind         { return KindRemoveNotification }
func (self *ThemeConfigurationMessage) Kind() Kind         { return KindThemeConfiguration }
func (self *ViewerCameraMessage) Kind() Kind               { return KindViewerCamera }
func (self *SetCameraPositionMessage) Kind() Kind          { return KindSetCameraPosition }
func (self *SetCameraUpDirectionMessage) Kind() Kind       { return KindSetCameraUpDirection }
func (self *SetCameraLookAtMessage) Kind() Kind            { return KindSetCameraLookAt }
func (self *SetCameraNearMessage) Kind() Kind              { return KindSetCameraNear }
func (self *SetCameraFarMessage) Kind() Kind               { return KindSetCameraFar }
func (self *SetCameraFovMessage) Kind() Kind               { return KindSetCameraFov }
func (self *ScenePointerMessage) Kind() Kind               { return KindScenePointer }
func (self *ScenePointerEnableMessage) Kind() Kind         { return KindScenePointerEnable }
func (self *EnvironmentMapMessage) Kind() Kind             { return KindEnvironmentMap }
func (self *EnableLightsMessage) Kind() Kind               { return KindEnableLights }
func (self *BackgroundImageMessage) Kind() Kind            { return KindBackgroundImage }
func (self *GetRenderRequestMessage) Kind() Kind           { return KindGetRenderRequest }
func (self *GetRenderResponseMessage) Kind() Kind          { return KindGetRenderResponse }
func (self *RunJavascriptMessage) Kind() Kind              { return KindRunJavascript }
func (self *FileTransferStartUpload) Kind() Kind           { return KindFileTransferStartUpload }
func (self *FileTransferStartDownload) Kind() Kind         { return KindFileTransferStartDownload }
func (self *FileTransferPart) Kind() Kind                  { return KindFileTransferPart }
func (self *FileTransferPartAck) Kind() Kind               { return KindFileTransferPartAck }
func (self *ShareUrlRequest) Kind() Kind                   { return KindShareUrlRequest }
func (self *ShareUrlUpdated) Kind() Kind                   { return KindShareUrlUpdated }
func (self *ShareUrlDisconnect) Kind() Kind                { return KindShareUrlDisconnect }

func (*SceneNodeMessage) isMessage()                  {}
func (*RemoveSceneNodeMessage) isMessage()            {}
func (*SceneNodeUpdateMessage) isMessage()            {}
func (*SetOrientationMessage) isMessage()             {}
func (*SetPositionMessage) isMessage()                {}
func (*SetSceneNodeVisibilityMessage) isMessage()     {}
func (*SetSceneNodeClickableMessage) isMessage()      {}
func (*SetBoneOrientationMessage) isMessage()         {}
func (*SetBonePositionMessage) isMessage()            {}
func (*SceneNodeClickMessage) isMessage()             {}
func (*TransformControlsUpdateMessage) isMessage()    {}
func (*TransformControlsDragStartMessage) isMessage() {}
func (*TransformControlsDragEndMessage) isMessage()   {}
func (*GuiComponentMessage) isMessage()               {}
func (*GuiRemoveMessage) isMessage()                  {}
func (*GuiUpdateMessage) isMessage()                  {}
func (*GuiModalMessage) isMessage()                   {}
func (*GuiCloseModalMessage) isMessage()              {}
func (*ResetGuiMessage) isMessage()                   {}
func (*SetGuiPanelLabelMessage) isMessage()           {}
func (*NotificationMessage) isMessage()               {}
func (*RemoveNotificationMessage) isMessage()         {}
func (*ThemeConfigurationMessage) isMessage()         {}
func (*ViewerCameraMessage) isMessage()               {}
func (*SetCameraPositionMessage) isMessage()          {}
func (*SetCameraUpDirectionMessage) isMessage()       {}
func (*SetCameraLookAtMessage) isMessage()            {}
func (*SetCameraNearMessage) isMessage()              {}
func (*SetCameraFarMessage) isMessage()               {}
func (*SetCameraFovMessage) isMessage()               {}
func (*ScenePointerMessage) isMessage()               {}
func (*ScenePointerEnableMessage) isMessage()         {}
func (*EnvironmentMapMessage) isMessage()             {}
func (*EnableLightsMessage) isMessage()               {}
func (*BackgroundImageMessage) isMessage()            {}
func (*GetRenderRequestMessage) isMessage()           {}
func (*GetRenderResponseMessage) isMessage()          {}
func (*RunJavascriptMessage) isMessage()              {}
func (*FileTransferStartUpload) isMessage()           {}
func (*FileTransferStartDownload) isMessage()         {}
func (*FileTransferPart) isMessage()                  {}
func (*FileTransferPartAck) isMessage()               {}
func (*ShareUrlRequest) isMessage()                   {}
func (*ShareUrlUpdated) isMessage()                   {}
func (*ShareUrlDisconnect) isMessage()                {}

// newMessage allocates the empty variant for a kind.
func newMessage(kind Kind) (Message, error) {
	switch kind.Category() {
	case CategorySceneNode:
		return &SceneNodeMessage{NodeKind: kind}, nil
	case CategoryGuiComponent:
		return &GuiComponentMessage{ElementKind: kind}, nil
	}
	switch kind {
	case KindRemoveSceneNode:
		return &RemoveSceneNodeMessage{}, nil
	case KindSceneNodeUpdate:
		return &SceneNodeUpdateMessage{}, nil
	case KindSetOrientation:
		return &SetOrientationMessage{}, nil
	case KindSetPosition:
		return &SetPositionMessage{}, nil
	case KindSetSceneNodeVisibility:
		return &SetSceneNodeVisibilityMessage{}, nil
	case KindSetSceneNodeClickable:
		return &SetSceneNodeClickableMessage{}, nil
	case KindSetBoneOrientation:
		return &SetBoneOrientationMessage{}, nil
	case KindSetBonePosition:
		return &SetBonePositionMessage{}, nil
	case KindSceneNodeClick:
		return &SceneNodeClickMessage{}, nil
	case KindTransformControlsUpdate:
		return &TransformControlsUpdateMessage{}, nil
	case KindTransformControlsDragStart:
		return &TransformControlsDragStartMessage{}, nil
	case KindTransformControlsDragEnd:
		return &TransformControlsDragEndMessage{}, nil
	case KindGuiRemove:
		return &GuiRemoveMessage{}, nil
	case KindGuiUpdate:
		return &GuiUpdateMessage{}, nil
	case KindGuiModal:
		return &GuiModalMessage{}, nil
	case KindGuiCloseModal:
		return &GuiCloseModalMessage{}, nil
	case KindResetGui:
		return &ResetGuiMessage{}, nil
	case KindSetGuiPanelLabel:
		return &SetGuiPanelLabelMessage{}, nil
	case KindNotification:
		return &NotificationMessage{}, nil
	case KindRemoveNotification:
		return &RemoveNotificationMessage{}, nil
	case KindThemeConfiguration:
		return &ThemeConfigurationMessage{}, nil
	case KindViewerCamera:
		return &ViewerCameraMessage{}, nil
	case KindSetCameraPosition:
		return &SetCameraPositionMessage{}, nil
	case KindSetCameraUpDirection:
		return &SetCameraUpDirectionMessage{}, nil
	case KindSetCameraLookAt:
		return &SetCameraLookAtMessage{}, nil
	case KindSetCameraNear:
		return &SetCameraNearMessage{}, nil
	case KindSetCameraFar:
		return &SetCameraFarMessage{}, nil
	case KindSetCameraFov:
		return &SetCameraFovMessage{}, nil
	case KindScenePointer:
		return &ScenePointerMessage{}, nil
	case KindScenePointerEnable:
		return &ScenePointerEnableMessage{}, nil
	case KindEnvironmentMap:
		return &EnvironmentMapMessage{}, nil
	case KindEnableLights:
		return &EnableLightsMessage{}, nil
	case KindBackgroundImage:
		return &BackgroundImageMessage{}, nil
	case KindGetRenderRequest:
		return &GetRenderRequestMessage{}, nil
	case KindGetRenderResponse:
		return &GetRenderResponseMessage{}, nil
	case KindRunJavascript:
		return &RunJavascriptMessage{}, nil
	case KindFileTransferStartUpload:
		return &FileTransferStartUpload{}, nil
	case KindFileTransferStartDownload:
		return &FileTransferStartDownload{}, nil
	case KindFileTransferPart:
		return &FileTransferPart{}, nil
	case KindFileTransferPartAck:
		return &FileTransferPartAck{}, nil
	case KindShareUrlRequest:
		return &ShareUrlRequest{}, nil
	case KindShareUrlUpdated:
		return &ShareUrlUpdated{}, nil
	case KindShareUrlDisconnect:
		return &ShareUrlDisconnect{}, nil
	default:
		return nil, ErrUnknownKind
	}
}
