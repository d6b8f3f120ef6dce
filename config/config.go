// Package config loads the server configuration from an optional YAML file and
// RTMPLIVE_* environment variables.
package config

import (
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const DefaultPort = "1935"

const FlashMediaServerVersion string = "FMS/3,5,7,7009"

const Capabilities int = 31

const Mode int = 1

const DefaultStreamID int = 1

// Jitter algorithm names accepted by stream.time_jitter.
const (
	JitterFull = "full"
	JitterZero = "zero"
	JitterOff  = "off"
)

// DVR compression names accepted by dvr.compress.
const (
	CompressNone = "none"
	CompressZstd = "zstd"
)

type Config struct {
	Listen         string        `mapstructure:"listen" yaml:"listen"`
	ChunkSize      uint32        `mapstructure:"chunk_size" yaml:"chunk_size"`
	WindowAckSize  uint32        `mapstructure:"window_ack_size" yaml:"window_ack_size"`
	PeerBandwidth  uint32        `mapstructure:"peer_bandwidth" yaml:"peer_bandwidth"`
	RecvTimeout    time.Duration `mapstructure:"recv_timeout" yaml:"recv_timeout"`
	SendTimeout    time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	BufferSize     int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections"`
	AcceptRate     float64       `mapstructure:"accept_rate" yaml:"accept_rate"`
	AcceptBurst    int           `mapstructure:"accept_burst" yaml:"accept_burst"`

	Stream  StreamConfig  `mapstructure:"stream" yaml:"stream"`
	DVR     DVRConfig     `mapstructure:"dvr" yaml:"dvr"`
	HTTPAPI HTTPAPIConfig `mapstructure:"http_api" yaml:"http_api"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// StreamConfig applies to every vhost.
type StreamConfig struct {
	GopCache                bool          `mapstructure:"gop_cache" yaml:"gop_cache"`
	QueueLength             time.Duration `mapstructure:"queue_length" yaml:"queue_length"`
	ATC                     bool          `mapstructure:"atc" yaml:"atc"`
	ATCAuto                 bool          `mapstructure:"atc_auto" yaml:"atc_auto"`
	MixCorrect              bool          `mapstructure:"mix_correct" yaml:"mix_correct"`
	ReduceSequenceHeader    bool          `mapstructure:"reduce_sequence_header" yaml:"reduce_sequence_header"`
	TimeJitter              string        `mapstructure:"time_jitter" yaml:"time_jitter"`
	MixQueueThreshold       int           `mapstructure:"mix_queue_threshold" yaml:"mix_queue_threshold"`
	GopPureAudioThreshold   int           `mapstructure:"gop_pure_audio_threshold" yaml:"gop_pure_audio_threshold"`
	PublishFirstPktTimeout  time.Duration `mapstructure:"publish_first_pkt_timeout" yaml:"publish_first_pkt_timeout"`
	PublishNormalPktTimeout time.Duration `mapstructure:"publish_normal_pkt_timeout" yaml:"publish_normal_pkt_timeout"`
	MWSleep                 time.Duration `mapstructure:"mw_sleep" yaml:"mw_sleep"`
	MWMinMsgs               int           `mapstructure:"mw_min_msgs" yaml:"mw_min_msgs"`
	MWWaitTimeout           time.Duration `mapstructure:"mw_wait_timeout" yaml:"mw_wait_timeout"`
	TCPNoDelay              bool          `mapstructure:"tcp_nodelay" yaml:"tcp_nodelay"`
	MREnabled               bool          `mapstructure:"mr_enabled" yaml:"mr_enabled"`
	MRSleep                 time.Duration `mapstructure:"mr_sleep" yaml:"mr_sleep"`
	MinChunkSize            uint32        `mapstructure:"min_chunk_size" yaml:"min_chunk_size"`
	MaxChunkSize            uint32        `mapstructure:"max_chunk_size" yaml:"max_chunk_size"`
}

type DVRConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Path     string `mapstructure:"path" yaml:"path"`
	Compress string `mapstructure:"compress" yaml:"compress"`
}

type HTTPAPIConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Listen        string        `mapstructure:"listen" yaml:"listen"`
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":"+DefaultPort)
	v.SetDefault("chunk_size", 4096)
	v.SetDefault("window_ack_size", 2500000)
	v.SetDefault("peer_bandwidth", 2500000)
	v.SetDefault("recv_timeout", "30s")
	v.SetDefault("send_timeout", "30s")
	v.SetDefault("buffer_size", 1024*64)
	v.SetDefault("max_connections", 1000)
	v.SetDefault("accept_rate", 0)
	v.SetDefault("accept_burst", 16)

	v.SetDefault("stream.gop_cache", true)
	v.SetDefault("stream.queue_length", "30s")
	v.SetDefault("stream.atc", false)
	v.SetDefault("stream.atc_auto", true)
	v.SetDefault("stream.mix_correct", false)
	v.SetDefault("stream.reduce_sequence_header", false)
	v.SetDefault("stream.time_jitter", JitterFull)
	v.SetDefault("stream.mix_queue_threshold", 10)
	v.SetDefault("stream.gop_pure_audio_threshold", 115)
	v.SetDefault("stream.publish_first_pkt_timeout", "20s")
	v.SetDefault("stream.publish_normal_pkt_timeout", "5s")
	v.SetDefault("stream.mw_sleep", "350ms")
	v.SetDefault("stream.mw_min_msgs", 8)
	v.SetDefault("stream.mw_wait_timeout", "500ms")
	v.SetDefault("stream.tcp_nodelay", false)
	v.SetDefault("stream.mr_enabled", false)
	v.SetDefault("stream.mr_sleep", "350ms")
	v.SetDefault("stream.min_chunk_size", 128)
	v.SetDefault("stream.max_chunk_size", 65536)

	v.SetDefault("dvr.enabled", false)
	v.SetDefault("dvr.path", "./dvr/[app]/[stream].[timestamp].flv")
	v.SetDefault("dvr.compress", CompressNone)

	v.SetDefault("http_api.enabled", false)
	v.SetDefault("http_api.listen", ":1985")
	v.SetDefault("http_api.stats_interval", "2s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// Load reads configPath, or rtmplive.yaml from ./configs or the working directory when
// configPath is empty. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RTMPLIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rtmplive")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "reading config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.Stream.MinChunkSize == 0 || c.Stream.MinChunkSize > c.Stream.MaxChunkSize {
		return errors.Errorf("invalid chunk size range [%d, %d]", c.Stream.MinChunkSize, c.Stream.MaxChunkSize)
	}
	if c.ChunkSize < c.Stream.MinChunkSize || c.ChunkSize > c.Stream.MaxChunkSize {
		return errors.Errorf("chunk_size %d outside [%d, %d]", c.ChunkSize, c.Stream.MinChunkSize, c.Stream.MaxChunkSize)
	}
	switch c.Stream.TimeJitter {
	case JitterFull, JitterZero, JitterOff:
	default:
		return errors.Errorf("unknown time_jitter %q", c.Stream.TimeJitter)
	}
	switch c.DVR.Compress {
	case CompressNone, CompressZstd:
	default:
		return errors.Errorf("unknown dvr compress %q", c.DVR.Compress)
	}
	if c.Stream.MixQueueThreshold < 1 {
		return errors.New("mix_queue_threshold must be >= 1")
	}
	if c.Stream.GopPureAudioThreshold < 1 {
		return errors.New("gop_pure_audio_threshold must be >= 1")
	}
	if c.Stream.QueueLength < 0 {
		return errors.New("queue_length must not be negative")
	}
	if c.Stream.MWSleep <= 0 {
		return errors.New("mw_sleep must be positive")
	}
	if c.BufferSize < 4096 {
		return errors.New("buffer_size must be >= 4096")
	}
	if c.MaxConnections < 0 || c.AcceptRate < 0 {
		return errors.New("max_connections and accept_rate must not be negative")
	}
	if c.HTTPAPI.Enabled && c.HTTPAPI.StatsInterval <= 0 {
		return errors.New("http_api.stats_interval must be positive")
	}
	return nil
}

// Dump writes cfg as YAML.
func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return errors.Wrap(enc.Close(), "encoding config")
}
