package dvr

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	rtmp "github.com/torresjeff/rtmplive"
	"github.com/torresjeff/rtmplive/config"
	"go.uber.org/zap"
)

// ZstdSuffix is appended to the path of compressed recordings.
const ZstdSuffix = ".zst"

const defaultFileTemplate = "[stream].[timestamp].flv"

// Recorder writes one publish session to an FLV file. Timestamps start at zero.
type Recorder struct {
	path   string
	logger *zap.Logger

	file   *os.File
	zw     *zstd.Encoder
	buf    *bufio.Writer
	enc    *Encoder
	jitter *rtmp.Jitter

	tags int
}

// NewFactory returns the recorder factory for cfg, or nil when recording is disabled.
func NewFactory(cfg config.DVRConfig, logger *zap.Logger) rtmp.RecorderFactory {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(req *rtmp.Request) (rtmp.Recorder, error) {
		return Open(req, cfg, time.Now(), logger)
	}
}

// Path expands the [vhost], [app], [stream] and [timestamp] variables of template. A
// template that does not name an .flv file is taken as a directory.
func Path(template string, req *rtmp.Request, now time.Time) string {
	if !strings.HasSuffix(template, ".flv") {
		template = strings.TrimSuffix(template, "/") + "/" + defaultFileTemplate
	}
	r := strings.NewReplacer(
		"[vhost]", req.Vhost,
		"[app]", req.App,
		"[stream]", req.Stream,
		"[timestamp]", strconv.FormatInt(now.UnixMilli(), 10),
	)
	return filepath.FromSlash(r.Replace(template))
}

// Open creates the file for req and writes the FLV header.
func Open(req *rtmp.Request, cfg config.DVRConfig, now time.Time, logger *zap.Logger) (*Recorder, error) {
	path := Path(cfg.Path, req, now)
	if cfg.Compress == config.CompressZstd {
		path += ZstdSuffix
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create dvr dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create dvr file")
	}

	r := &Recorder{
		path:   path,
		logger: logger.With(zap.String("stream", req.StreamURL()), zap.String("path", path)),
		file:   f,
		jitter: rtmp.NewJitter(),
	}
	var w io.Writer = f
	if cfg.Compress == config.CompressZstd {
		r.zw, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "create zstd encoder")
		}
		w = r.zw
	}
	r.buf = bufio.NewWriter(w)
	r.enc = NewEncoder(r.buf)

	if err := r.enc.WriteHeader(); err != nil {
		r.Close()
		return nil, err
	}
	r.logger.Info("dvr open")
	return r, nil
}

func (r *Recorder) Path() string { return r.path }

func (r *Recorder) OnMetadata(msg *rtmp.SharedMessage) error { return r.write(TagScript, msg) }
func (r *Recorder) OnAudio(msg *rtmp.SharedMessage) error    { return r.write(TagAudio, msg) }
func (r *Recorder) OnVideo(msg *rtmp.SharedMessage) error    { return r.write(TagVideo, msg) }

func (r *Recorder) write(tagType byte, msg *rtmp.SharedMessage) error {
	if r.enc == nil {
		return errors.Errorf("dvr %s is closed", r.path)
	}
	m := msg.Copy()
	r.jitter.Correct(m, rtmp.JitterZero)
	if m.Timestamp < 0 {
		m.Timestamp = 0
	}
	if err := r.enc.WriteTag(tagType, m.Timestamp, m.Payload); err != nil {
		return errors.Wrapf(err, "dvr %s", r.path)
	}
	r.tags++
	return nil
}

// Close flushes buffered tags and closes the file.
func (r *Recorder) Close() error {
	if r.file == nil {
		return nil
	}
	var first error
	keep := func(err error, what string) {
		if err != nil && first == nil {
			first = errors.Wrap(err, what)
		}
	}
	keep(r.buf.Flush(), "flush")
	if r.zw != nil {
		keep(r.zw.Close(), "close zstd")
	}
	keep(r.file.Close(), "close file")
	r.file, r.enc = nil, nil
	r.logger.Info("dvr close", zap.Int("tags", r.tags))
	return first
}
