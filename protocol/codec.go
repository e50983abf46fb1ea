package protocol

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout, protobuf wire format:
//
//	Frame  { 1: kind varint, 2: body bytes (cbor) }
//	Window { 1: repeated frame bytes }
//
// A window is the unit of one transport message.

const (
	frameKindField   protowire.Number = 1
	frameBodyField   protowire.Number = 2
	windowFrameField protowire.Number = 1
)

var cborEncMode cbor.EncMode
var cborDecMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{
		// nested property maps decode with string keys
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// MarshalCbor encodes any value with the canonical encoding used on the wire.
func MarshalCbor(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func UnmarshalCbor(data []byte, v any) error {
	return cborDecMode.Unmarshal(data, v)
}

func EncodeFrame(message Message) ([]byte, error) {
	if message == nil {
		return nil, fmt.Errorf("%w: nil message", ErrUnknownKind)
	}
	kind := message.Kind()
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	body, err := cborEncMode.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", kind, err)
	}
	b := make([]byte, 0, len(body)+8)
	b = protowire.AppendTag(b, frameKindField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(kind))
	b = protowire.AppendTag(b, frameBodyField, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b, nil
}

func RequireEncodeFrame(message Message) []byte {
	b, err := EncodeFrame(message)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeFrame recovers the kind and payload of one frame.
func DecodeFrame(b []byte) (Message, error) {
	var kind Kind
	var body []byte
	hasKind := false
	for 0 < len(b) {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("protocol: frame tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == frameKindField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: frame kind: %w", protowire.ParseError(n))
			}
			b = b[n:]
			kind = Kind(v)
			hasKind = true
		case num == frameBodyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: frame body: %w", protowire.ParseError(n))
			}
			b = b[n:]
			body = v
		default:
			// skip unknown fields
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("protocol: frame field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !hasKind {
		return nil, fmt.Errorf("%w: missing kind", ErrUnknownKind)
	}
	message, err := newMessage(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", err, uint16(kind))
	}
	if len(body) != 0 {
		if err := cborDecMode.Unmarshal(body, message); err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", kind, err)
		}
	}
	return message, nil
}

// EncodeWindow packs the frames of many messages into one transport message.
func EncodeWindow(messages []Message) ([]byte, error) {
	frames := make([][]byte, 0, len(messages))
	for _, message := range messages {
		frame, err := EncodeFrame(message)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return JoinWindow(frames), nil
}

// JoinWindow packs already encoded frames.
func JoinWindow(frames [][]byte) []byte {
	var b []byte
	for _, frame := range frames {
		b = protowire.AppendTag(b, windowFrameField, protowire.BytesType)
		b = protowire.AppendBytes(b, frame)
	}
	return b
}

// SplitWindow returns the frames of a window without decoding them,
// so that one bad frame can be dropped without losing the others.
func SplitWindow(b []byte) ([][]byte, error) {
	frames := [][]byte{}
	for 0 < len(b) {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return frames, fmt.Errorf("protocol: window tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == windowFrameField && typ == protowire.BytesType {
			frame, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return frames, fmt.Errorf("protocol: window frame: %w", protowire.ParseError(n))
			}
			b = b[n:]
			frames = append(frames, frame)
		} else {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return frames, fmt.Errorf("protocol: window field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return frames, nil
}

func DecodeWindow(b []byte) ([]Message, error) {
	frames, err := SplitWindow(b)
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(frames))
	for _, frame := range frames {
		message, err := DecodeFrame(frame)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// PayloadByteCount estimates the binary payload carried by a message.
// Used for queue accounting, not for framing.
func PayloadByteCount(message Message) int64 {
	switch v := message.(type) {
	case *FileTransferPart:
		return int64(len(v.Content))
	case *BackgroundImageMessage:
		return int64(len(v.RgbData) + len(v.DepthData))
	case *GetRenderResponseMessage:
		return int64(len(v.Payload))
	case *SceneNodeMessage:
		return propsByteCount(v.Props)
	case *GuiComponentMessage:
		return propsByteCount(v.Props)
	case *SceneNodeUpdateMessage:
		return propsByteCount(v.Updates)
	case *GuiUpdateMessage:
		return propsByteCount(v.Updates)
	default:
		return 0
	}
}

func propsByteCount(props Props) int64 {
	var c int64
	for _, value := range props {
		switch v := value.(type) {
		case []byte:
			c += int64(len(v))
		case string:
			c += int64(len(v))
		}
	}
	return c
}
