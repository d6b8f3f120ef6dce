// Package video holds the FLV video tag constants and the keyframe and sequence header
// checks used by the distribution engine.
package video

// As defined in the FLV spec: https://www.adobe.com/content/dam/acom/en/devnet/flv/video_file_format_spec_v10_1.pdf

type FrameType uint8

const (
	KeyFrame             FrameType = 1
	InterFrame           FrameType = 2
	DisposableInterFrame FrameType = 3
	GeneratedKeyFrame    FrameType = 4
	// Video info/command frame
	CommandFrame FrameType = 5
)

type Codec uint8

const (
	SorensonH263    Codec = 2
	ScreenVideo     Codec = 3
	VP6             Codec = 4
	VP6AlphaChannel Codec = 5
	ScreenVideoV2   Codec = 6
	H264            Codec = 7
	// HEVC is not part of the FLV spec but is what most encoders send today.
	HEVC Codec = 12
)

type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

// FrameTypeOf returns the frame type from the first tag byte.
func FrameTypeOf(payload []byte) (FrameType, bool) {
	if len(payload) < 1 {
		return 0, false
	}
	return FrameType(payload[0] >> 4), true
}

// CodecOf returns the codec id from the first tag byte.
func CodecOf(payload []byte) (Codec, bool) {
	if len(payload) < 1 {
		return 0, false
	}
	return Codec(payload[0] & 0x0f), true
}

// IsKeyFrame reports whether the payload is a keyframe. Sequence headers are keyframes too.
func IsKeyFrame(payload []byte) bool {
	ft, ok := FrameTypeOf(payload)
	return ok && ft == KeyFrame
}

// IsSequenceHeader reports whether the payload is an AVC or HEVC decoder configuration record.
func IsSequenceHeader(payload []byte) bool {
	if len(payload) < 2 || !IsKeyFrame(payload) {
		return false
	}
	codec, _ := CodecOf(payload)
	if codec != H264 && codec != HEVC {
		return false
	}
	return AVCPacketType(payload[1]) == AVCSequenceHeader
}

// IsAcceptable reports whether the payload has a valid frame type and a codec the server
// can relay. Anything else is dropped by the publisher path.
func IsAcceptable(payload []byte) bool {
	ft, ok := FrameTypeOf(payload)
	if !ok || ft < KeyFrame || ft > CommandFrame {
		return false
	}
	codec, _ := CodecOf(payload)
	return (codec >= SorensonH263 && codec <= H264) || codec == HEVC
}
