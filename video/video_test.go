package video

import "testing"

func TestDetectors(t *testing.T) {
	tests := []struct {
		name           string
		payload        []byte
		keyFrame       bool
		sequenceHeader bool
		acceptable     bool
	}{
		{"empty", nil, false, false, false},
		{"avcSequenceHeader", []byte{0x17, 0x00, 0, 0, 0}, true, true, true},
		{"avcKeyFrame", []byte{0x17, 0x01, 0, 0, 0}, true, false, true},
		{"avcInterFrame", []byte{0x27, 0x01, 0, 0, 0}, false, false, true},
		{"hevcSequenceHeader", []byte{0x1c, 0x00}, true, true, true},
		{"h263KeyFrame", []byte{0x12, 0x00}, true, false, true},
		{"keyFrameOneByte", []byte{0x17}, true, false, true},
		{"badFrameType", []byte{0x07, 0x00}, false, false, false},
		{"badCodec", []byte{0x18, 0x00}, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKeyFrame(tt.payload); got != tt.keyFrame {
				t.Errorf("IsKeyFrame = %v, want %v", got, tt.keyFrame)
			}
			if got := IsSequenceHeader(tt.payload); got != tt.sequenceHeader {
				t.Errorf("IsSequenceHeader = %v, want %v", got, tt.sequenceHeader)
			}
			if got := IsAcceptable(tt.payload); got != tt.acceptable {
				t.Errorf("IsAcceptable = %v, want %v", got, tt.acceptable)
			}
		})
	}
}
