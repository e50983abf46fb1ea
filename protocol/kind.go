package protocol

import (
	"fmt"
)

// Kind is the wire tag of a message variant.
// Values are part of the wire format. New kinds are appended, never renumbered.
type Kind uint16

const (
	KindUnknown Kind = 0

	// scene node lifecycle
	KindCameraFrustum     Kind = 1
	KindGlb               Kind = 2
	KindFrame             Kind = 3
	KindBatchedAxes       Kind = 4
	KindGrid              Kind = 5
	KindLabel             Kind = 6
	KindGui3D             Kind = 7
	KindPointCloud        Kind = 8
	KindDirectionalLight  Kind = 9
	KindAmbientLight      Kind = 10
	KindHemisphereLight   Kind = 11
	KindPointLight        Kind = 12
	KindRectAreaLight     Kind = 13
	KindSpotLight         Kind = 14
	KindMesh              Kind = 15
	KindBox               Kind = 16
	KindIcosphere         Kind = 17
	KindSkinnedMesh       Kind = 18
	KindBatchedMeshes     Kind = 19
	KindBatchedGlb        Kind = 20
	KindTransformControls Kind = 21
	KindImage             Kind = 22
	KindLineSegments      Kind = 23
	KindCatmullRomSpline  Kind = 24
	KindCubicBezierSpline Kind = 25
	KindGaussianSplats    Kind = 26
	KindRemoveSceneNode   Kind = 27

	// scene node state
	KindSceneNodeUpdate            Kind = 40
	KindSetOrientation             Kind = 41
	KindSetPosition                Kind = 42
	KindSetSceneNodeVisibility     Kind = 43
	KindSetSceneNodeClickable      Kind = 44
	KindSetBoneOrientation         Kind = 45
	KindSetBonePosition            Kind = 46
	KindSceneNodeClick             Kind = 47
	KindTransformControlsUpdate    Kind = 48
	KindTransformControlsDragStart Kind = 49
	KindTransformControlsDragEnd   Kind = 50

	// gui lifecycle
	KindGuiFolder          Kind = 60
	KindGuiMarkdown        Kind = 61
	KindGuiHtml            Kind = 62
	KindGuiProgressBar     Kind = 63
	KindGuiPlotly          Kind = 64
	KindGuiUplot           Kind = 65
	KindGuiImage           Kind = 66
	KindGuiTabGroup        Kind = 67
	KindGuiButton          Kind = 68
	KindGuiUploadButton    Kind = 69
	KindGuiSlider          Kind = 70
	KindGuiMultiSlider     Kind = 71
	KindGuiNumber          Kind = 72
	KindGuiRgb             Kind = 73
	KindGuiRgba            Kind = 74
	KindGuiCheckbox        Kind = 75
	KindGuiVector2         Kind = 76
	KindGuiVector3         Kind = 77
	KindGuiText            Kind = 78
	KindGuiDropdown        Kind = 79
	KindGuiButtonGroup     Kind = 80
	KindGuiRemove          Kind = 81
	KindGuiUpdate          Kind = 82
	KindGuiModal           Kind = 83
	KindGuiCloseModal      Kind = 84
	KindResetGui           Kind = 85
	KindSetGuiPanelLabel   Kind = 86
	KindNotification       Kind = 87
	KindRemoveNotification Kind = 88
	KindThemeConfiguration Kind = 89

	// camera and viewer
	KindViewerCamera         Kind = 100
	KindSetCameraPosition    Kind = 101
	KindSetCameraUpDirection Kind = 102
	KindSetCameraLookAt      Kind = 103
	KindSetCameraNear        Kind = 104
	KindSetCameraFar         Kind = 105
	KindSetCameraFov         Kind = 106
	KindScenePointer         Kind = 107
	KindScenePointerEnable   Kind = 108
	KindEnvironmentMap       Kind = 109
	KindEnableLights         Kind = 110
	KindBackgroundImage      Kind = 111
	KindGetRenderRequest     Kind = 112
	KindGetRenderResponse    Kind = 113
	KindRunJavascript        Kind = 114

	// file transfer
	KindFileTransferStartUpload   Kind = 120
	KindFileTransferStartDownload Kind = 121
	KindFileTransferPart          Kind = 122
	KindFileTransferPartAck       Kind = 123

	// share url
	KindShareUrlRequest    Kind = 130
	KindShareUrlUpdated    Kind = 131
	KindShareUrlDisconnect Kind = 132
)

// Category is the lifecycle tag shared by create messages.
type Category int

const (
	CategoryNone         Category = 0
	CategorySceneNode    Category = 1
	CategoryGuiComponent Category = 2
)

func (self Category) String() string {
	switch self {
	case CategorySceneNode:
		return "SceneNodeMessage"
	case CategoryGuiComponent:
		return "GuiComponentMessage"
	default:
		return "None"
	}
}

var kindNames = map[Kind]string{
	KindCameraFrustum:     "CameraFrustumMessage",
	KindGlb:               "GlbMessage",
	KindFrame:             "FrameMessage",
	KindBatchedAxes:       "BatchedAxesMessage",
	KindGrid:              "GridMessage",
	KindLabel:             "LabelMessage",
	KindGui3D:             "Gui3DMessage",
	KindPointCloud:        "PointCloudMessage",
	KindDirectionalLight:  "DirectionalLightMessage",
	KindAmbientLight:      "AmbientLightMessage",
	KindHemisphereLight:   "HemisphereLightMessage",
	KindPointLight:        "PointLightMessage",
	KindRectAreaLight:     "RectAreaLightMessage",
	KindSpotLight:         "SpotLightMessage",
	KindMesh:              "MeshMessage",
	KindBox:               "BoxMessage",
	KindIcosphere:         "IcosphereMessage",
	KindSkinnedMesh:       "SkinnedMeshMessage",
	KindBatchedMeshes:     "BatchedMeshesMessage",
	KindBatchedGlb:        "BatchedGlbMessage",
	KindTransformControls: "TransformControlsMessage",
	KindImage:             "ImageMessage",
	KindLineSegments:      "LineSegmentsMessage",
	KindCatmullRomSpline:  "CatmullRomSplineMessage",
	KindCubicBezierSpline: "CubicBezierSplineMessage",
	KindGaussianSplats:    "GaussianSplatsMessage",
	KindRemoveSceneNode:   "RemoveSceneNodeMessage",

	KindSceneNodeUpdate:            "SceneNodeUpdateMessage",
	KindSetOrientation:             "SetOrientationMessage",
	KindSetPosition:                "SetPositionMessage",
	KindSetSceneNodeVisibility:     "SetSceneNodeVisibilityMessage",
	KindSetSceneNodeClickable:      "SetSceneNodeClickableMessage",
	KindSetBoneOrientation:         "SetBoneOrientationMessage",
	KindSetBonePosition:            "SetBonePositionMessage",
	KindSceneNodeClick:             "SceneNodeClickMessage",
	KindTransformControlsUpdate:    "TransformControlsUpdateMessage",
	KindTransformControlsDragStart: "TransformControlsDragStartMessage",
	KindTransformControlsDragEnd:   "TransformControlsDragEndMessage",

	KindGuiFolder:          "GuiFolderMessage",
	KindGuiMarkdown:        "GuiMarkdownMessage",
	KindGuiHtml:            "GuiHtmlMessage",
	KindGuiProgressBar:     "GuiProgressBarMessage",
	KindGuiPlotly:          "GuiPlotlyMessage",
	KindGuiUplot:           "GuiUplotMessage",
	KindGuiImage:           "GuiImageMessage",
	KindGuiTabGroup:        "GuiTabGroupMessage",
	KindGuiButton:          "GuiButtonMessage",
	KindGuiUploadButton:    "GuiUploadButtonMessage",
	KindGuiSlider:          "GuiSliderMessage",
	KindGuiMultiSlider:     "GuiMultiSliderMessage",
	KindGuiNumber:          "GuiNumberMessage",
	KindGuiRgb:             "GuiRgbMessage",
	KindGuiRgba:            "GuiRgbaMessage",
	KindGuiCheckbox:        "GuiCheckboxMessage",
	KindGuiVector2:         "GuiVector2Message",
	KindGuiVector3:         "GuiVector3Message",
	KindGuiText:            "GuiTextMessage",
	KindGuiDropdown:        "GuiDropdownMessage",
	KindGuiButtonGroup:     "GuiButtonGroupMessage",
	KindGuiRemove:          "GuiRemoveMessage",
	KindGuiUpdate:          "GuiUpdateMessage",
	KindGuiModal:           "GuiModalMessage",
	KindGuiCloseModal:      "GuiCloseModalMessage",
	KindResetGui:           "ResetGuiMessage",
	KindSetGuiPanelLabel:   "SetGuiPanelLabelMessage",
	KindNotification:       "NotificationMessage",
	KindRemoveNotification: "RemoveNotificationMessage",
	KindThemeConfiguration: "ThemeConfigurationMessage",

	KindViewerCamera:         "ViewerCameraMessage",
	KindSetCameraPosition:    "SetCameraPositionMessage",
	KindSetCameraUpDirection: "SetCameraUpDirectionMessage",
	KindSetCameraLookAt:      "SetCameraLookAtMessage",
	KindSetCameraNear:        "SetCameraNearMessage",
	KindSetCameraFar:         "SetCameraFarMessage",
	KindSetCameraFov:         "SetCameraFovMessage",
	KindScenePointer:         "ScenePointerMessage",
	KindScenePointerEnable:   "ScenePointerEnableMessage",
	KindEnvironmentMap:       "EnvironmentMapMessage",
	KindEnableLights:         "EnableLightsMessage",
	KindBackgroundImage:      "BackgroundImageMessage",
	KindGetRenderRequest:     "GetRenderRequestMessage",
	KindGetRenderResponse:    "GetRenderResponseMessage",
	KindRunJavascript:        "RunJavascriptMessage",

	KindFileTransferStartUpload:   "FileTransferStartUpload",
	KindFileTransferStartDownload: "FileTransferStartDownload",
	KindFileTransferPart:          "FileTransferPart",
	KindFileTransferPartAck:       "FileTransferPartAck",

	KindShareUrlRequest:    "ShareUrlRequest",
	KindShareUrlUpdated:    "ShareUrlUpdated",
	KindShareUrlDisconnect: "ShareUrlDisconnect",
}

func (self Kind) String() string {
	if name, ok := kindNames[self]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint16(self))
}

func (self Kind) Valid() bool {
	_, ok := kindNames[self]
	return ok
}

// Category returns the lifecycle tag of create kinds.
func (self Kind) Category() Category {
	switch {
	case KindCameraFrustum <= self && self <= KindGaussianSplats:
		return CategorySceneNode
	case KindGuiFolder <= self && self <= KindGuiButtonGroup:
		return CategoryGuiComponent
	default:
		return CategoryNone
	}
}

// Kinds returns every defined kind in wire order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for i := 0; i <= int(KindShareUrlDisconnect); i += 1 {
		kind := Kind(i)
		if kind.Valid() {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func ParseKind(name string) (Kind, error) {
	for kind, kindName := range kindNames {
		if kindName == name {
			return kind, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %s", ErrUnknownKind, name)
}
