package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Room      RoomConfig      `yaml:"room"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Transport TransportConfig `yaml:"transport"`
	Playback  PlaybackConfig  `yaml:"playback"`
}

type HTTPConfig struct {
	Address      string   `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowOrigins []string `yaml:"allow_origins" env:"HTTP_ALLOW_ORIGINS"`
}

type RoomConfig struct {
	CodeLength int `yaml:"code_length" env:"ROOM_CODE_LENGTH" env-default:"6"`
	// EmptyRoomTTL tears down rooms without clients after this long. Zero keeps
	// them until the host leaves.
	EmptyRoomTTL time.Duration `yaml:"empty_room_ttl" env:"ROOM_EMPTY_TTL" env-default:"0s"`
}

type HeartbeatConfig struct {
	Interval             time.Duration `yaml:"interval" env:"HEARTBEAT_INTERVAL" env-default:"5s"`
	LatencyProbeInterval time.Duration `yaml:"latency_probe_interval" env:"HEARTBEAT_LATENCY_PROBE_INTERVAL" env-default:"10s"`
	DisconnectedAfter    int           `yaml:"disconnected_after" env:"HEARTBEAT_DISCONNECTED_AFTER" env-default:"2"`
	GraceMultiple        int           `yaml:"grace_multiple" env:"HEARTBEAT_GRACE_MULTIPLE" env-default:"3"`
	GoodLatency          time.Duration `yaml:"good_latency" env:"HEARTBEAT_GOOD_LATENCY" env-default:"50ms"`
	MediumLatency        time.Duration `yaml:"medium_latency" env:"HEARTBEAT_MEDIUM_LATENCY" env-default:"150ms"`
}

type TransportConfig struct {
	URL            string        `yaml:"url" env:"TRANSPORT_URL" env-default:"ws://localhost:8080/ws"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"TRANSPORT_REQUEST_TIMEOUT" env-default:"10s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"TRANSPORT_WRITE_TIMEOUT" env-default:"5s"`
	OutboundBuffer int           `yaml:"outbound_buffer" env:"TRANSPORT_OUTBOUND_BUFFER" env-default:"256"`
	MaxMessageSize int64         `yaml:"max_message_size" env:"TRANSPORT_MAX_MESSAGE_SIZE" env-default:"1048576"`
}

type PlaybackConfig struct {
	JitterAllowance time.Duration `yaml:"jitter_allowance" env:"PLAYBACK_JITTER_ALLOWANCE" env-default:"50ms"`
	MinBuffer       time.Duration `yaml:"min_buffer" env:"PLAYBACK_MIN_BUFFER" env-default:"100ms"`
	MaxDelay        time.Duration `yaml:"max_delay" env:"PLAYBACK_MAX_DELAY" env-default:"1s"`
	FallBehind      time.Duration `yaml:"fall_behind" env:"PLAYBACK_FALL_BEHIND" env-default:"500ms"`
	DiscardSlack    time.Duration `yaml:"discard_slack" env:"PLAYBACK_DISCARD_SLACK" env-default:"100ms"`
	SafetyMargin    time.Duration `yaml:"safety_margin" env:"PLAYBACK_SAFETY_MARGIN" env-default:"50ms"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

// Default returns the configuration built from env-default tags and the
// process environment only, without a config file.
func Default() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("cannot read config from env: " + err.Error())
	}
	cfg.setDefaults()
	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.AllowOrigins) == 0 {
		c.HTTP.AllowOrigins = []string{"http://localhost:3000"}
	}
	if c.Room.CodeLength <= 0 {
		c.Room.CodeLength = 6
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = 5 * time.Second
	}
	if c.Heartbeat.LatencyProbeInterval <= 0 {
		c.Heartbeat.LatencyProbeInterval = 10 * time.Second
	}
	if c.Heartbeat.DisconnectedAfter <= 0 {
		c.Heartbeat.DisconnectedAfter = 2
	}
	if c.Heartbeat.GraceMultiple <= 0 {
		c.Heartbeat.GraceMultiple = 3
	}
	if c.Transport.RequestTimeout <= 0 {
		c.Transport.RequestTimeout = 10 * time.Second
	}
	if c.Transport.OutboundBuffer <= 0 {
		c.Transport.OutboundBuffer = 256
	}
}
