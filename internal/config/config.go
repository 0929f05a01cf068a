package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfiguration wraps every validation failure reported by Load and Validate.
var ErrInvalidConfiguration = errors.New("invalid configuration")

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Stream      StreamConfig     `yaml:"stream"`
	VAD         VADConfig        `yaml:"vad"`
	STT         STTConfig        `yaml:"stt"`
	Gateway     GatewayConfig    `yaml:"gateway"`
	Relay       RelayConfig      `yaml:"relay"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// StreamConfig is the audio format and segmentation surface applied uniformly to every session.
type StreamConfig struct {
	Policy               string  `yaml:"policy"`
	VoiceThreshold       float64 `yaml:"voice_threshold"`
	BufferSecondsBefore  float64 `yaml:"buffer_seconds_before"`
	BufferSecondsAfter   float64 `yaml:"buffer_seconds_after"`
	SampleRate           int     `yaml:"sample_rate"`
	SampleWidthBytes     int     `yaml:"sample_width_bytes"`
	Channels             int     `yaml:"channels"`
	MaxRecordingSeconds  float64 `yaml:"max_recording_seconds"`
	InterimEveryTicks    int     `yaml:"interim_every_ticks"`
	RecognitionTimeoutMS int     `yaml:"recognition_timeout_ms"`
}

type VADConfig struct {
	Mode       string  `yaml:"mode"` // energy, exec, mock
	Command    string  `yaml:"command"`
	RMSFloor   float64 `yaml:"rms_floor"`
	RMSCeiling float64 `yaml:"rms_ceiling"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, http
	Command   string `yaml:"command"`
	Endpoint  string `yaml:"endpoint"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type GatewayConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Path            string `yaml:"path"`
	MaxMessageBytes int    `yaml:"max_message_bytes"`
	SendQueue       int    `yaml:"send_queue"`
}

type RelayConfig struct {
	Enabled bool `yaml:"enabled"`
	// IdleTimeoutMS disconnects relay sessions that stop receiving frames; 0 disables it.
	IdleTimeoutMS int `yaml:"idle_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-stream",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-stream.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Stream: StreamConfig{
			Policy:               "silence_at_end_of_chunk",
			VoiceThreshold:       0.5,
			BufferSecondsBefore:  1,
			BufferSecondsAfter:   1,
			SampleRate:           16000,
			SampleWidthBytes:     2,
			Channels:             1,
			MaxRecordingSeconds:  0,
			InterimEveryTicks:    0,
			RecognitionTimeoutMS: 45000,
		},
		VAD: VADConfig{
			Mode:       "energy",
			RMSFloor:   150,
			RMSCeiling: 1500,
		},
		STT: STTConfig{
			Mode:     "mock",
			Language: "en",
		},
		Gateway: GatewayConfig{
			Enabled:         true,
			Path:            "/ws/transcribe",
			MaxMessageBytes: 1 << 20,
			SendQueue:       64,
		},
		Relay: RelayConfig{
			Enabled:       false,
			IdleTimeoutMS: 30000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Stream.Policy, "LOQA_STREAM_POLICY")
	overrideFloat(&cfg.Stream.VoiceThreshold, "LOQA_STREAM_VOICE_THRESHOLD")
	overrideFloat(&cfg.Stream.BufferSecondsBefore, "LOQA_STREAM_BUFFER_SECONDS_BEFORE")
	overrideFloat(&cfg.Stream.BufferSecondsAfter, "LOQA_STREAM_BUFFER_SECONDS_AFTER")
	overrideInt(&cfg.Stream.SampleRate, "LOQA_STREAM_SAMPLE_RATE")
	overrideInt(&cfg.Stream.SampleWidthBytes, "LOQA_STREAM_SAMPLE_WIDTH_BYTES")
	overrideInt(&cfg.Stream.Channels, "LOQA_STREAM_CHANNELS")
	overrideFloat(&cfg.Stream.MaxRecordingSeconds, "LOQA_STREAM_MAX_RECORDING_SECONDS")
	overrideInt(&cfg.Stream.InterimEveryTicks, "LOQA_STREAM_INTERIM_EVERY_TICKS")
	overrideInt(&cfg.Stream.RecognitionTimeoutMS, "LOQA_STREAM_RECOGNITION_TIMEOUT_MS")
	overrideString(&cfg.VAD.Mode, "LOQA_VAD_MODE")
	overrideString(&cfg.VAD.Command, "LOQA_VAD_COMMAND")
	overrideFloat(&cfg.VAD.RMSFloor, "LOQA_VAD_RMS_FLOOR")
	overrideFloat(&cfg.VAD.RMSCeiling, "LOQA_VAD_RMS_CEILING")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.Endpoint, "LOQA_STT_ENDPOINT")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideBool(&cfg.Gateway.Enabled, "LOQA_GATEWAY_ENABLED")
	overrideString(&cfg.Gateway.Path, "LOQA_GATEWAY_PATH")
	overrideInt(&cfg.Gateway.MaxMessageBytes, "LOQA_GATEWAY_MAX_MESSAGE_BYTES")
	overrideInt(&cfg.Gateway.SendQueue, "LOQA_GATEWAY_SEND_QUEUE")
	overrideBool(&cfg.Relay.Enabled, "LOQA_RELAY_ENABLED")
	overrideInt(&cfg.Relay.IdleTimeoutMS, "LOQA_RELAY_IDLE_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, msg)
}

// Validate reports the first configuration problem, wrapped in ErrInvalidConfiguration.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return invalid("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return invalid("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return invalid("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return invalid("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Relay.Enabled && !cfg.Bus.Enabled {
		return invalid("relay.enabled requires bus.enabled")
	}
	if cfg.Relay.IdleTimeoutMS < 0 {
		return invalid("relay.idle_timeout_ms must be >= 0")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return invalid("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return invalid("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return invalid("event_store.retention_days must be >= 0")
	}
	if err := ValidateStream(cfg.Stream); err != nil {
		return err
	}
	switch cfg.VAD.Mode {
	case "energy":
		if cfg.VAD.RMSCeiling <= cfg.VAD.RMSFloor {
			return invalid("vad.rms_ceiling must be greater than vad.rms_floor")
		}
	case "exec":
		if cfg.VAD.Command == "" {
			return invalid("vad.command must be set when mode=exec")
		}
	case "mock":
	default:
		return invalid("vad.mode must be one of energy|exec|mock")
	}
	switch cfg.STT.Mode {
	case "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return invalid("stt.command must be set when mode=exec")
		}
	case "http":
		if cfg.STT.Endpoint == "" {
			return invalid("stt.endpoint must be set when mode=http")
		}
	default:
		return invalid("stt.mode must be one of mock|exec|http")
	}
	if cfg.Gateway.Enabled {
		if !strings.HasPrefix(cfg.Gateway.Path, "/") {
			return invalid("gateway.path must start with /")
		}
		if cfg.Gateway.MaxMessageBytes <= 0 {
			return invalid("gateway.max_message_bytes must be positive")
		}
		if cfg.Gateway.SendQueue <= 0 {
			return invalid("gateway.send_queue must be positive")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return invalid("telemetry.prometheus_bind must not be empty")
	}
	return nil
}

// ValidateStream checks the audio and segmentation surface shared by every session.
func ValidateStream(s StreamConfig) error {
	if s.VoiceThreshold < 0 || s.VoiceThreshold > 1 {
		return invalid("stream.voice_threshold must be within [0,1]")
	}
	if s.SampleRate <= 0 {
		return invalid("stream.sample_rate must be positive")
	}
	if s.SampleWidthBytes <= 0 {
		return invalid("stream.sample_width_bytes must be positive")
	}
	if s.Channels <= 0 {
		return invalid("stream.channels must be positive")
	}
	if s.BufferSecondsBefore < 0 {
		return invalid("stream.buffer_seconds_before must be >= 0")
	}
	if s.BufferSecondsAfter <= 0 {
		return invalid("stream.buffer_seconds_after must be positive")
	}
	if s.PostCapacity() == 0 {
		return invalid("stream.buffer_seconds_after yields a zero-byte post buffer")
	}
	if s.MaxRecordingSeconds < 0 {
		return invalid("stream.max_recording_seconds must be >= 0")
	}
	if s.InterimEveryTicks < 0 {
		return invalid("stream.interim_every_ticks must be >= 0")
	}
	if s.RecognitionTimeoutMS <= 0 {
		return invalid("stream.recognition_timeout_ms must be positive")
	}
	return nil
}

// FrameBytes is the size of one sample across all channels.
func (s StreamConfig) FrameBytes() int {
	return s.SampleWidthBytes * s.Channels
}

// PreCapacity is the look-back window size in bytes.
func (s StreamConfig) PreCapacity() int {
	return s.bytesFor(s.BufferSecondsBefore)
}

// PostCapacity is the per-tick window size in bytes.
func (s StreamConfig) PostCapacity() int {
	return s.bytesFor(s.BufferSecondsAfter)
}

// MaxRecordingBytes is zero when recordings are unbounded.
func (s StreamConfig) MaxRecordingBytes() int {
	return s.bytesFor(s.MaxRecordingSeconds)
}

func (s StreamConfig) bytesFor(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(seconds * float64(s.SampleRate) * float64(s.SampleWidthBytes) * float64(s.Channels))
}
