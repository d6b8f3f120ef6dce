package rtmp

import (
	"time"

	"github.com/torresjeff/rtmplive/config"
	"go.uber.org/zap"
)

var nopLogger = zap.NewNop()

const defaultTestQueue = 10 * time.Second

var (
	aacSequenceHeader = []byte{0xaf, 0x00, 0x12, 0x10}
	aacRaw            = []byte{0xaf, 0x01, 0x21, 0x00}
	avcSequenceHeader = []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64}
	avcKeyFrame       = []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0x65}
	avcInterFrame     = []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0x41}
)

func audioAt(ts int64, payload []byte) *SharedMessage {
	return newSharedPayload(AudioMessage, CIDAudio, ts, 1, payload)
}

func videoAt(ts int64, payload []byte) *SharedMessage {
	return newSharedPayload(VideoMessage, CIDVideo, ts, 1, payload)
}

func rawAt(t MessageType, ts int64, payload []byte) *CommonMessage {
	p := append([]byte(nil), payload...)
	return &CommonMessage{
		Header:  MessageHeader{MessageType: t, PayloadLength: uint32(len(p)), Timestamp: ts, StreamID: 1},
		Payload: p,
		Size:    len(p),
	}
}

func timestamps(msgs []*SharedMessage) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Timestamp)
	}
	return out
}

func testRequest(app, stream string) *Request {
	req := NewRequest()
	req.DiscoveryTcUrl("rtmp://127.0.0.1/" + app)
	req.Stream = stream
	req.Strip()
	return req
}

func testStreamConfig() config.StreamConfig {
	cfg := config.Default().Stream
	cfg.QueueLength = defaultTestQueue
	return cfg
}
