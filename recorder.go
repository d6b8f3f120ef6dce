package rtmp

import "go.uber.org/zap"

// Recorder receives the messages a Source dispatches, for example to write them to a file.
type Recorder interface {
	OnMetadata(msg *SharedMessage) error
	OnAudio(msg *SharedMessage) error
	OnVideo(msg *SharedMessage) error
	Close() error
}

// RecorderFactory opens a Recorder for a publish session.
type RecorderFactory func(req *Request) (Recorder, error)

// recorderSink feeds a Recorder on a best effort basis: the first error closes it for the
// rest of the publish session.
type recorderSink struct {
	factory  RecorderFactory
	logger   *zap.Logger
	recorder Recorder
}

func (s *recorderSink) open(req *Request) {
	if s.factory == nil {
		return
	}
	s.close()
	rec, err := s.factory(req)
	if err != nil {
		s.logger.Warn("recorder disabled", zap.Error(err))
		return
	}
	s.recorder = rec
}

func (s *recorderSink) active() bool { return s.recorder != nil }

func (s *recorderSink) onMetadata(msg *SharedMessage) {
	if s.recorder != nil {
		s.check("metadata", s.recorder.OnMetadata(msg))
	}
}

func (s *recorderSink) onAudio(msg *SharedMessage) {
	if s.recorder != nil {
		s.check("audio", s.recorder.OnAudio(msg))
	}
}

func (s *recorderSink) onVideo(msg *SharedMessage) {
	if s.recorder != nil {
		s.check("video", s.recorder.OnVideo(msg))
	}
}

func (s *recorderSink) check(kind string, err error) {
	if err == nil {
		return
	}
	s.logger.Warn("recorder failed, disable it", zap.String("message", kind), zap.Error(err))
	s.close()
}

func (s *recorderSink) close() {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Close(); err != nil {
		s.logger.Warn("close recorder", zap.Error(err))
	}
	s.recorder = nil
}
