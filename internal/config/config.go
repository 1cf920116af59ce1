package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ConnectorType identifies which transport carries the live link.
type ConnectorType string

const (
	ConnectorIP     ConnectorType = "ip"
	ConnectorSerial ConnectorType = "serial"

	ModeLive      = "live"
	ModeSimulated = "simulated"

	PolicyReject  = "reject"
	PolicyDeliver = "deliver"

	DefaultSerialBaud     = 115200
	DefaultIPPort         = 5760
	DefaultTickMS         = 100
	DefaultPollIntervalMS = 100
	DefaultRecordingName  = "telemetry_log.csv"
	DefaultRecordingDir   = "logs"
	DefaultLogMaxSize     = "10 MB"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level"`
	Format    string `json:"format" yaml:"format"`
	LogToFile bool   `json:"log_to_file" yaml:"log_to_file"`
	// MaxFileSize is a humanized size ("10 MB"); a larger event log is rotated
	// once on startup. Empty or "0" disables rotation.
	MaxFileSize string `json:"max_file_size" yaml:"max_file_size"`
}

// BackendConfig selects the backend and the live link transport.
type BackendConfig struct {
	Mode       string        `json:"mode" yaml:"mode"`
	Connector  ConnectorType `json:"connector" yaml:"connector"`
	SerialPort string        `json:"serial_port" yaml:"serial_port"`
	SerialBaud int           `json:"serial_baud" yaml:"serial_baud"`
	Host       string        `json:"host" yaml:"host"`
	Port       int           `json:"port" yaml:"port"`
}

type SimulatorConfig struct {
	TickMS int    `json:"tick_ms" yaml:"tick_ms"`
	Seed   uint64 `json:"seed" yaml:"seed"`
}

type CodecConfig struct {
	CriticalFlagPolicy string `json:"critical_flag_policy" yaml:"critical_flag_policy"`
}

type TelemetryConfig struct {
	PollIntervalMS int `json:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// RecordingConfig controls the CSV recorder. A relative Dir is resolved
// against the application data directory.
type RecordingConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Dir      string `json:"dir" yaml:"dir"`
	FileName string `json:"file_name" yaml:"file_name"`
	Archive  bool   `json:"archive" yaml:"archive"`
}

type PlaybackConfig struct {
	Speed float64 `json:"speed" yaml:"speed"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	Simulator SimulatorConfig `json:"simulator" yaml:"simulator"`
	Codec     CodecConfig     `json:"codec" yaml:"codec"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Recording RecordingConfig `json:"recording" yaml:"recording"`
	Playback  PlaybackConfig  `json:"playback" yaml:"playback"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Backend: BackendConfig{
			Mode:       ModeLive,
			Connector:  ConnectorSerial,
			SerialBaud: DefaultSerialBaud,
			Port:       DefaultIPPort,
		},
		Simulator: SimulatorConfig{
			TickMS: DefaultTickMS,
		},
		Codec: CodecConfig{
			CriticalFlagPolicy: PolicyReject,
		},
		Telemetry: TelemetryConfig{
			PollIntervalMS: DefaultPollIntervalMS,
		},
		Recording: RecordingConfig{
			Dir:      DefaultRecordingDir,
			FileName: DefaultRecordingName,
		},
		Playback: PlaybackConfig{
			Speed: 1.0,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      LogFormatText,
			LogToFile:   true,
			MaxFileSize: DefaultLogMaxSize,
		},
	}
}

// Load reads path as YAML when it ends in .yaml or .yml and as JSON
// otherwise. A missing file yields the defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime or passed explicitly by the operator.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if isYAML(cleanPath) {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config yaml: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (c *AppConfig) FillMissingDefaults() {
	c.Backend.Mode = strings.ToLower(strings.TrimSpace(c.Backend.Mode))
	if c.Backend.Mode == "" {
		c.Backend.Mode = ModeLive
	}
	if c.Backend.Connector == "" {
		c.Backend.Connector = ConnectorSerial
	}
	if c.Backend.SerialBaud <= 0 {
		c.Backend.SerialBaud = DefaultSerialBaud
	}
	if c.Backend.Port == 0 {
		c.Backend.Port = DefaultIPPort
	}
	if c.Simulator.TickMS == 0 {
		c.Simulator.TickMS = DefaultTickMS
	}
	if c.Codec.CriticalFlagPolicy == "" {
		c.Codec.CriticalFlagPolicy = PolicyReject
	}
	if c.Telemetry.PollIntervalMS == 0 {
		c.Telemetry.PollIntervalMS = DefaultPollIntervalMS
	}
	if c.Recording.Dir == "" {
		c.Recording.Dir = DefaultRecordingDir
	}
	if c.Recording.FileName == "" {
		c.Recording.FileName = DefaultRecordingName
	}
	if c.Playback.Speed == 0 {
		c.Playback.Speed = 1.0
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatText
	}
}

func (c AppConfig) Validate() error {
	switch c.Backend.Mode {
	case ModeLive, ModeSimulated:
	default:
		return fmt.Errorf("unknown backend mode: %q", c.Backend.Mode)
	}

	switch c.Backend.Connector {
	case ConnectorIP:
		if c.Backend.Port <= 0 || c.Backend.Port > 65535 {
			return fmt.Errorf("ip port out of range: %d", c.Backend.Port)
		}
	case ConnectorSerial:
		if c.Backend.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Backend.Connector)
	}

	if c.Simulator.TickMS <= 0 {
		return errors.New("simulator tick_ms must be positive")
	}
	switch strings.ToLower(c.Codec.CriticalFlagPolicy) {
	case PolicyReject, PolicyDeliver:
	default:
		return fmt.Errorf("unknown critical flag policy: %q", c.Codec.CriticalFlagPolicy)
	}
	if c.Telemetry.PollIntervalMS <= 0 {
		return errors.New("telemetry poll_interval_ms must be positive")
	}
	if strings.ContainsAny(c.Recording.FileName, `/\`) {
		return fmt.Errorf("recording file_name must not contain a path: %q", c.Recording.FileName)
	}
	if c.Playback.Speed <= 0 {
		return fmt.Errorf("playback speed must be positive: %v", c.Playback.Speed)
	}
	switch c.Logging.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}
	if _, err := c.Logging.MaxFileBytes(); err != nil {
		return err
	}

	return nil
}

// Save validates cfg and writes it atomically in the format implied by path.
func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		raw []byte
		err error
	)
	if isYAML(path) {
		raw, err = yaml.Marshal(cfg)
	} else {
		raw, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}

// MaxFileBytes parses MaxFileSize. Zero means no rotation.
func (c LoggingConfig) MaxFileBytes() (uint64, error) {
	raw := strings.TrimSpace(c.MaxFileSize)
	if raw == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid logging max_file_size %q: %w", c.MaxFileSize, err)
	}

	return n, nil
}
