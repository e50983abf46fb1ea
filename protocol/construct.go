package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Constructors validate the shape of array payloads when the message is built,
// so a malformed message never reaches a send path.

// NewElementUuid returns an identifier for a new gui element.
func NewElementUuid() string {
	return uuid.NewString()
}

func shapeError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrShape, fmt.Sprintf(format, a...))
}

func Float32Bytes(values []float32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func BytesFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, shapeError("float32 buffer length %d", len(b))
	}
	values := make([]float32, len(b)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return values, nil
}

func Uint32Bytes(values []uint32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func Uint16Bytes(values []uint16) []byte {
	b := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b
}

// scene nodes

func NewSceneNode(kind Kind, name string, props Props) (*SceneNodeMessage, error) {
	if kind.Category() != CategorySceneNode {
		return nil, fmt.Errorf("%w: %s is not a scene node kind", ErrUnknownKind, kind)
	}
	if name == "" {
		return nil, shapeError("scene node name is empty")
	}
	return &SceneNodeMessage{
		NodeKind: kind,
		Name:     name,
		Props:    props.Clone(),
	}, nil
}

func NewFrame(name string, showAxes bool, axesLength float64, axesRadius float64) *SceneNodeMessage {
	return &SceneNodeMessage{
		NodeKind: KindFrame,
		Name:     name,
		Props: Props{
			"show_axes":     showAxes,
			"axes_length":   axesLength,
			"axes_radius":   axesRadius,
			"origin_radius": 2 * axesRadius,
			"origin_color":  []byte{236, 236, 0},
		},
	}
}

func NewGrid(name string, width float64, height float64, cellSize float64, sectionSize float64) (*SceneNodeMessage, error) {
	if width <= 0 || height <= 0 {
		return nil, shapeError("grid size %gx%g", width, height)
	}
	if cellSize <= 0 || sectionSize <= 0 {
		return nil, shapeError("grid cell %g section %g", cellSize, sectionSize)
	}
	return &SceneNodeMessage{
		NodeKind: KindGrid,
		Name:     name,
		Props: Props{
			"width":             width,
			"height":            height,
			"plane":             "xy",
			"cell_color":        []byte{200, 200, 200},
			"cell_thickness":    1.0,
			"cell_size":         cellSize,
			"section_color":     []byte{140, 140, 140},
			"section_thickness": 1.0,
			"section_size":      sectionSize,
			"shadow_opacity":    0.0,
		},
	}, nil
}

func NewLabel(name string, text string) *SceneNodeMessage {
	return &SceneNodeMessage{
		NodeKind: KindLabel,
		Name:     name,
		Props:    Props{"text": text},
	}
}

// NewPointCloud takes points of shape (N, 3) and colors of shape (N, 3) or (3,).
func NewPointCloud(name string, points []float32, colors []uint8, pointSize float64) (*SceneNodeMessage, error) {
	if len(points)%3 != 0 {
		return nil, shapeError("points length %d is not a multiple of 3", len(points))
	}
	if len(colors) != 3 && len(colors) != len(points) {
		return nil, shapeError("colors length %d does not match %d points", len(colors), len(points)/3)
	}
	return &SceneNodeMessage{
		NodeKind: KindPointCloud,
		Name:     name,
		Props: Props{
			"points":      Float32Bytes(points),
			"colors":      slices.Clone(colors),
			"point_size":  pointSize,
			"point_shape": "square",
			"precision":   "float32",
		},
	}, nil
}

// NewBatchedAxes takes wxyzs of shape (N, 4), positions of shape (N, 3) and
// optional scales of shape (N,) or (N, 3).
func NewBatchedAxes(name string, wxyzs []float32, positions []float32, scales []float32, axesLength float64, axesRadius float64) (*SceneNodeMessage, error) {
	if len(wxyzs)%4 != 0 || len(positions)%3 != 0 {
		return nil, shapeError("batched wxyzs %d / positions %d", len(wxyzs), len(positions))
	}
	n := len(wxyzs) / 4
	if len(positions)/3 != n {
		return nil, shapeError("%d orientations but %d positions", n, len(positions)/3)
	}
	props := Props{
		"batched_wxyzs":     Float32Bytes(wxyzs),
		"batched_positions": Float32Bytes(positions),
		"batched_scales":    nil,
		"axes_length":       axesLength,
		"axes_radius":       axesRadius,
	}
	if scales != nil {
		if len(scales) != n && len(scales) != 3*n {
			return nil, shapeError("batched scales length %d for %d instances", len(scales), n)
		}
		props["batched_scales"] = Float32Bytes(scales)
	}
	return &SceneNodeMessage{
		NodeKind: KindBatchedAxes,
		Name:     name,
		Props:    props,
	}, nil
}

func checkMesh(vertices []float32, faces []uint32) error {
	if len(vertices)%3 != 0 {
		return shapeError("vertices length %d is not a multiple of 3", len(vertices))
	}
	if len(faces)%3 != 0 {
		return shapeError("faces length %d is not a multiple of 3", len(faces))
	}
	vertexCount := uint32(len(vertices) / 3)
	for _, index := range faces {
		if vertexCount <= index {
			return shapeError("face index %d out of range for %d vertices", index, vertexCount)
		}
	}
	return nil
}

func meshProps(vertices []float32, faces []uint32, color Rgb) Props {
	return Props{
		"vertices":       Float32Bytes(vertices),
		"faces":          Uint32Bytes(faces),
		"color":          color[:],
		"wireframe":      false,
		"opacity":        nil,
		"flat_shading":   false,
		"side":           "front",
		"material":       "standard",
		"cast_shadow":    true,
		"receive_shadow": true,
	}
}

func NewMesh(name string, vertices []float32, faces []uint32, color Rgb) (*SceneNodeMessage, error) {
	if err := checkMesh(vertices, faces); err != nil {
		return nil, err
	}
	return &SceneNodeMessage{
		NodeKind: KindMesh,
		Name:     name,
		Props:    meshProps(vertices, faces, color),
	}, nil
}

// NewSkinnedMesh takes bones of shape (B, 4) / (B, 3) and skin arrays of shape (V, 4).
func NewSkinnedMesh(
	name string,
	vertices []float32,
	faces []uint32,
	color Rgb,
	boneWxyzs []float32,
	bonePositions []float32,
	skinIndices []uint16,
	skinWeights []float32,
) (*SceneNodeMessage, error) {
	if err := checkMesh(vertices, faces); err != nil {
		return nil, err
	}
	if len(boneWxyzs)%4 != 0 || len(bonePositions)%3 != 0 || len(boneWxyzs)/4 != len(bonePositions)/3 {
		return nil, shapeError("bone wxyzs %d / positions %d", len(boneWxyzs), len(bonePositions))
	}
	vertexCount := len(vertices) / 3
	if len(skinIndices) != 4*vertexCount || len(skinWeights) != 4*vertexCount {
		return nil, shapeError("skin arrays %d / %d for %d vertices", len(skinIndices), len(skinWeights), vertexCount)
	}
	boneCount := len(boneWxyzs) / 4
	for _, index := range skinIndices {
		if boneCount <= int(index) {
			return nil, shapeError("skin index %d out of range for %d bones", index, boneCount)
		}
	}
	props := meshProps(vertices, faces, color)
	props["bone_wxyzs"] = Float32Bytes(boneWxyzs)
	props["bone_positions"] = Float32Bytes(bonePositions)
	props["skin_indices"] = Uint16Bytes(skinIndices)
	props["skin_weights"] = Float32Bytes(skinWeights)
	return &SceneNodeMessage{
		NodeKind: KindSkinnedMesh,
		Name:     name,
		Props:    props,
	}, nil
}

func NewBox(name string, dimensions Vec3, color Rgb) (*SceneNodeMessage, error) {
	for _, d := range dimensions {
		if d < 0 {
			return nil, shapeError("box dimensions %v", dimensions)
		}
	}
	return &SceneNodeMessage{
		NodeKind: KindBox,
		Name:     name,
		Props: Props{
			"dimensions":     dimensions[:],
			"color":          color[:],
			"wireframe":      false,
			"opacity":        nil,
			"flat_shading":   false,
			"side":           "front",
			"material":       "standard",
			"cast_shadow":    true,
			"receive_shadow": true,
		},
	}, nil
}

func NewIcosphere(name string, radius float64, subdivisions int, color Rgb) (*SceneNodeMessage, error) {
	if radius < 0 || subdivisions < 0 {
		return nil, shapeError("icosphere radius %g subdivisions %d", radius, subdivisions)
	}
	return &SceneNodeMessage{
		NodeKind: KindIcosphere,
		Name:     name,
		Props: Props{
			"radius":         radius,
			"subdivisions":   subdivisions,
			"color":          color[:],
			"wireframe":      false,
			"opacity":        nil,
			"flat_shading":   false,
			"side":           "front",
			"material":       "standard",
			"cast_shadow":    true,
			"receive_shadow": true,
		},
	}, nil
}

// NewLineSegments takes points of shape (N, 2, 3) and colors of shape (N, 2, 3) or (3,).
func NewLineSegments(name string, points []float32, colors []uint8, lineWidth float64) (*SceneNodeMessage, error) {
	if len(points)%6 != 0 {
		return nil, shapeError("segment points length %d is not a multiple of 6", len(points))
	}
	if len(colors) != 3 && len(colors) != len(points) {
		return nil, shapeError("segment colors length %d for %d points", len(colors), len(points)/3)
	}
	return &SceneNodeMessage{
		NodeKind: KindLineSegments,
		Name:     name,
		Props: Props{
			"points":     Float32Bytes(points),
			"line_width": lineWidth,
			"colors":     slices.Clone(colors),
		},
	}, nil
}

var catmullRomCurveTypes = []string{"centripetal", "chordal", "catmullrom"}

func NewCatmullRomSpline(name string, points []float32, curveType string, tension float64, closed bool, lineWidth float64, color Rgb) (*SceneNodeMessage, error) {
	if len(points)%3 != 0 || len(points) < 6 {
		return nil, shapeError("spline needs at least 2 points of shape (3,), got length %d", len(points))
	}
	if !slices.Contains(catmullRomCurveTypes, curveType) {
		return nil, shapeError("curve type %q", curveType)
	}
	return &SceneNodeMessage{
		NodeKind: KindCatmullRomSpline,
		Name:     name,
		Props: Props{
			"points":     Float32Bytes(points),
			"curve_type": curveType,
			"tension":    tension,
			"closed":     closed,
			"line_width": lineWidth,
			"color":      color[:],
			"segments":   nil,
		},
	}, nil
}

// NewCubicBezierSpline takes points of shape (N, 3) and control points of shape (2N-2, 3).
func NewCubicBezierSpline(name string, points []float32, controlPoints []float32, lineWidth float64, color Rgb) (*SceneNodeMessage, error) {
	if len(points)%3 != 0 || len(points) < 6 {
		return nil, shapeError("spline needs at least 2 points of shape (3,), got length %d", len(points))
	}
	n := len(points) / 3
	if len(controlPoints) != 3*(2*n-2) {
		return nil, shapeError("%d points need %d control points, got length %d", n, 2*n-2, len(controlPoints))
	}
	return &SceneNodeMessage{
		NodeKind: KindCubicBezierSpline,
		Name:     name,
		Props: Props{
			"points":         Float32Bytes(points),
			"control_points": Float32Bytes(controlPoints),
			"line_width":     lineWidth,
			"color":          color[:],
			"segments":       nil,
		},
	}, nil
}

// NewGaussianSplats takes the packed splat buffer of shape (N, 8).
func NewGaussianSplats(name string, buffer []uint32) (*SceneNodeMessage, error) {
	if len(buffer)%8 != 0 {
		return nil, shapeError("splat buffer length %d is not a multiple of 8", len(buffer))
	}
	return &SceneNodeMessage{
		NodeKind: KindGaussianSplats,
		Name:     name,
		Props:    Props{"buffer": Uint32Bytes(buffer)},
	}, nil
}

func checkMediaType(mediaType string) error {
	switch mediaType {
	case "image/jpeg", "image/png":
		return nil
	default:
		return shapeError("media type %q", mediaType)
	}
}

func NewImage(name string, mediaType string, data []byte, renderWidth float64, renderHeight float64) (*SceneNodeMessage, error) {
	if err := checkMediaType(mediaType); err != nil {
		return nil, err
	}
	return &SceneNodeMessage{
		NodeKind: KindImage,
		Name:     name,
		Props: Props{
			"media_type":     mediaType,
			"_data":          slices.Clone(data),
			"render_width":   renderWidth,
			"render_height":  renderHeight,
			"cast_shadow":    false,
			"receive_shadow": false,
		},
	}, nil
}

func NewCameraFrustum(name string, fov float64, aspect float64, scale float64, color Rgb) (*SceneNodeMessage, error) {
	if fov <= 0 || aspect <= 0 {
		return nil, shapeError("frustum fov %g aspect %g", fov, aspect)
	}
	return &SceneNodeMessage{
		NodeKind: KindCameraFrustum,
		Name:     name,
		Props: Props{
			"fov":              fov,
			"aspect":           aspect,
			"scale":            scale,
			"line_width":       2.0,
			"color":            color[:],
			"image_media_type": nil,
			"_image_data":      nil,
			"cast_shadow":      false,
			"receive_shadow":   false,
		},
	}, nil
}

func NewGlb(name string, glbData []byte, scale float64) *SceneNodeMessage {
	return &SceneNodeMessage{
		NodeKind: KindGlb,
		Name:     name,
		Props: Props{
			"glb_data":       slices.Clone(glbData),
			"scale":          scale,
			"cast_shadow":    true,
			"receive_shadow": true,
		},
	}
}

func NewTransformControls(name string, scale float64) *SceneNodeMessage {
	return &SceneNodeMessage{
		NodeKind: KindTransformControls,
		Name:     name,
		Props: Props{
			"scale":             scale,
			"line_width":        2.5,
			"fixed":             false,
			"active_axes":       []bool{true, true, true},
			"disable_axes":      false,
			"disable_sliders":   false,
			"disable_rotations": false,
			"depth_test":        true,
			"opacity":           1.0,
		},
	}
}

func NewGui3D(name string, containerUuid string, order float64) *SceneNodeMessage {
	return &SceneNodeMessage{
		NodeKind: KindGui3D,
		Name:     name,
		Props: Props{
			"order":          order,
			"container_uuid": containerUuid,
		},
	}
}

func NewLight(kind Kind, name string, color Rgb, intensity float64) (*SceneNodeMessage, error) {
	switch kind {
	case KindDirectionalLight, KindAmbientLight, KindPointLight, KindRectAreaLight, KindSpotLight:
	case KindHemisphereLight:
		return &SceneNodeMessage{
			NodeKind: kind,
			Name:     name,
			Props: Props{
				"sky_color":    color[:],
				"ground_color": color[:],
				"intensity":    intensity,
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s is not a light", ErrUnknownKind, kind)
	}
	return &SceneNodeMessage{
		NodeKind: kind,
		Name:     name,
		Props: Props{
			"color":     color[:],
			"intensity": intensity,
		},
	}, nil
}

// gui

func NewGuiComponent(kind Kind, uuid string, containerUuid string, props Props) (*GuiComponentMessage, error) {
	if kind.Category() != CategoryGuiComponent {
		return nil, fmt.Errorf("%w: %s is not a gui kind", ErrUnknownKind, kind)
	}
	if uuid == "" {
		return nil, shapeError("gui element uuid is empty")
	}
	return &GuiComponentMessage{
		ElementKind:   kind,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props.Clone(),
	}, nil
}

func baseProps(label string, order float64) Props {
	return Props{
		"order":    order,
		"label":    label,
		"hint":     nil,
		"visible":  true,
		"disabled": false,
	}
}

func NewGuiFolder(uuid string, containerUuid string, label string, order float64) *GuiComponentMessage {
	return &GuiComponentMessage{
		ElementKind:   KindGuiFolder,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props: Props{
			"order":             order,
			"label":             label,
			"visible":           true,
			"expand_by_default": true,
		},
	}
}

func NewGuiMarkdown(uuid string, containerUuid string, markdown string, order float64) *GuiComponentMessage {
	return &GuiComponentMessage{
		ElementKind:   KindGuiMarkdown,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props: Props{
			"order":     order,
			"_markdown": markdown,
			"visible":   true,
		},
	}
}

func NewGuiButton(uuid string, containerUuid string, label string, order float64) *GuiComponentMessage {
	props := baseProps(label, order)
	props["value"] = false
	props["color"] = nil
	return &GuiComponentMessage{
		ElementKind:   KindGuiButton,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props,
	}
}

func NewGuiUploadButton(uuid string, containerUuid string, label string, mimeType string, order float64) *GuiComponentMessage {
	props := baseProps(label, order)
	props["color"] = nil
	props["mime_type"] = mimeType
	return &GuiComponentMessage{
		ElementKind:   KindGuiUploadButton,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props,
	}
}

func NewGuiCheckbox(uuid string, containerUuid string, label string, value bool, order float64) *GuiComponentMessage {
	props := baseProps(label, order)
	props["value"] = value
	return &GuiComponentMessage{
		ElementKind:   KindGuiCheckbox,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props,
	}
}

func NewGuiText(uuid string, containerUuid string, label string, value string, multiline bool, order float64) *GuiComponentMessage {
	props := baseProps(label, order)
	props["value"] = value
	props["multiline"] = multiline
	return &GuiComponentMessage{
		ElementKind:   KindGuiText,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props,
	}
}

func NewGuiNumber(uuid string, containerUuid string, label string, value float64, step float64, order float64) (*GuiComponentMessage, error) {
	if step <= 0 {
		return nil, shapeError("number step %g", step)
	}
	props := baseProps(label, order)
	props["value"] = value
	props["step"] = step
	props["precision"] = precisionOf(step)
	props["min"] = nil
	props["max"] = nil
	return &GuiComponentMessage{
		ElementKind:   KindGuiNumber,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props,
	}, nil
}

func NewGuiSlider(uuid string, containerUuid string, label string, min float64, max float64, step float64, value float64, order float64) (*GuiComponentMessage, error) {
	if max < min {
		return nil, shapeError("slider min %g > max %g", min, max)
	}
	if step <= 0 {
		return nil, shapeError("slider step %g", step)
	}
	if value < min || max < value {
		return nil, shapeError("slider value %g outside [%g, %g]", value, min, max)
	}
	props := baseProps(label, order)
	props["value"] = value
	props["min"] = min
	props["max"] = max
	props["step"] = step
	props["precision"] = precisionOf(step)
	props["_marks"] = nil
	return &GuiComponentMessage{
		ElementKind:   KindGuiSlider,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props,
	}, nil
}

func NewGuiMultiSlider(uuid string, containerUuid string, label string, min float64, max float64, step float64, values []float64, order float64) (*GuiComponentMessage, error) {
	if max < min || step <= 0 {
		return nil, shapeError("multi slider range [%g, %g] step %g", min, max, step)
	}
	if len(values) == 0 || !slices.IsSorted(values) {
		return nil, shapeError("multi slider values %v must be non-empty and sorted", values)
	}
	if values[0] < min || max < values[len(values)-1] {
		return nil, shapeError("multi slider values %v outside [%g, %g]", values, min, max)
	}
	props := baseProps(label, order)
	props["value"] = slices.Clone(values)
	props["min"] = min
	props["max"] = max
	props["step"] = step
	props["min_range"] = nil
	props["precision"] = precisionOf(step)
	props["fixed_endpoints"] = false
	props["_marks"] = nil
	return &GuiComponentMessage{
		ElementKind:   KindGuiMultiSlider,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props,
	}, nil
}

func NewGuiVector3(uuid string, containerUuid string, label string, value Vec3, step float64, order float64) *GuiComponentMessage {
	props := baseProps(label, order)
	props["value"] = value[:]
	props["min"] = nil
	props["max"] = nil
	props["step"] = step
	props["precision"] = precisionOf(step)
	return &GuiComponentMessage{
		ElementKind:   KindGuiVector3,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props,
	}
}

func NewGuiRgb(uuid string, containerUuid string, label string, value Rgb, order float64) *GuiComponentMessage {
	props := baseProps(label, order)
	props["value"] = []int{int(value[0]), int(value[1]), int(value[2])}
	return &GuiComponentMessage{
		ElementKind:   KindGuiRgb,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props,
	}
}

func newGuiOptions(kind Kind, uuid string, containerUuid string, label string, options []string, value string, order float64) (*GuiComponentMessage, error) {
	if len(options) == 0 {
		return nil, shapeError("%s needs at least one option", kind)
	}
	if !slices.Contains(options, value) {
		return nil, shapeError("%s value %q is not an option", kind, value)
	}
	props := baseProps(label, order)
	props["value"] = value
	props["options"] = slices.Clone(options)
	return &GuiComponentMessage{
		ElementKind:   kind,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props:         props,
	}, nil
}

func NewGuiDropdown(uuid string, containerUuid string, label string, options []string, value string, order float64) (*GuiComponentMessage, error) {
	return newGuiOptions(KindGuiDropdown, uuid, containerUuid, label, options, value, order)
}

func NewGuiButtonGroup(uuid string, containerUuid string, label string, options []string, order float64) (*GuiComponentMessage, error) {
	if len(options) == 0 {
		return nil, shapeError("button group needs at least one option")
	}
	return newGuiOptions(KindGuiButtonGroup, uuid, containerUuid, label, options, options[0], order)
}

// NewGuiTabGroup takes parallel tab labels, icons and container ids.
// Icons may be nil.
func NewGuiTabGroup(uuid string, containerUuid string, labels []string, icons []string, tabContainerUuids []string, order float64) (*GuiComponentMessage, error) {
	if len(labels) != len(tabContainerUuids) {
		return nil, shapeError("%d tab labels for %d tab containers", len(labels), len(tabContainerUuids))
	}
	if icons == nil {
		icons = make([]string, len(labels))
	} else if len(icons) != len(labels) {
		return nil, shapeError("%d tab icons for %d tabs", len(icons), len(labels))
	}
	return &GuiComponentMessage{
		ElementKind:   KindGuiTabGroup,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props: Props{
			"_tab_labels":        slices.Clone(labels),
			"_tab_icons_html":    slices.Clone(icons),
			"_tab_container_ids": slices.Clone(tabContainerUuids),
			"order":              order,
			"visible":            true,
		},
	}, nil
}

func NewGuiProgressBar(uuid string, containerUuid string, value float64, animated bool, order float64) (*GuiComponentMessage, error) {
	if value < 0 || 100 < value {
		return nil, shapeError("progress %g outside [0, 100]", value)
	}
	return &GuiComponentMessage{
		ElementKind:   KindGuiProgressBar,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props: Props{
			"value":    value,
			"order":    order,
			"animated": animated,
			"color":    nil,
			"visible":  true,
		},
	}, nil
}

func NewGuiImage(uuid string, containerUuid string, label string, mediaType string, data []byte, order float64) (*GuiComponentMessage, error) {
	if err := checkMediaType(mediaType); err != nil {
		return nil, err
	}
	return &GuiComponentMessage{
		ElementKind:   KindGuiImage,
		Uuid:          uuid,
		ContainerUuid: containerUuid,
		Props: Props{
			"order":      order,
			"label":      label,
			"_data":      slices.Clone(data),
			"media_type": mediaType,
			"visible":    true,
		},
	}, nil
}

// precisionOf returns the number of decimals needed to display a step.
func precisionOf(step float64) int {
	precision := 0
	for precision < 10 {
		scaled := step * math.Pow10(precision)
		if math.Abs(scaled-math.Round(scaled)) < 1e-9 {
			break
		}
		precision += 1
	}
	return precision
}
