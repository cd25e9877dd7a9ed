// Package config loads and validates the service's Settings: a YAML file
// overlaid with ASR_-prefixed environment variables, checked against a
// JSON schema before the server starts accepting connections.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ASREngine selects which ASR backend variant the shared Models container
// constructs.
type ASREngine string

const (
	EngineMock ASREngine = "mock"
	EngineReal ASREngine = "real"
)

// Settings is the immutable configuration record consumed by Session,
// Registry, and the API layer.
type Settings struct {
	SampleRate        int `yaml:"sample_rate" json:"sample_rate"`
	VADAggressiveness int `yaml:"vad_aggressiveness" json:"vad_aggressiveness"`
	VADFrameMs        int `yaml:"vad_frame_ms" json:"vad_frame_ms"`
	EndpointingMs     int `yaml:"endpointing_ms" json:"endpointing_ms"`
	LatencyMs         int `yaml:"latency_ms" json:"latency_ms"`
	BytesPerWord      int `yaml:"bytes_per_word" json:"bytes_per_word"`

	MaxSessions                 int     `yaml:"max_sessions" json:"max_sessions"`
	IdleTimeoutSeconds          float64 `yaml:"idle_timeout_seconds" json:"idle_timeout_seconds"`
	InitialSpeechTimeoutSeconds float64 `yaml:"initial_speech_timeout_seconds" json:"initial_speech_timeout_seconds"`
	CleanupIntervalSeconds      float64 `yaml:"cleanup_interval_seconds" json:"cleanup_interval_seconds"`

	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	ASREngine  ASREngine `yaml:"asr_engine" json:"asr_engine"`
	ModelPath  string    `yaml:"asr_model_path" json:"asr_model_path"`
	ASRDevice  string    `yaml:"asr_device" json:"asr_device"`
	ASRWarmup  bool      `yaml:"asr_warmup" json:"asr_warmup"`
	ASRThreads uint      `yaml:"asr_threads" json:"asr_threads"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`
}

// BytesPerSecond derives the fixed byte rate from SampleRate (16-bit mono).
func (s Settings) BytesPerSecond() int {
	return s.SampleRate * 2
}

// Default returns the service's baked-in defaults, matching the original
// reference service's field-for-field defaults.
func Default() Settings {
	return Settings{
		SampleRate:        16000,
		VADAggressiveness: 2,
		VADFrameMs:        20,
		EndpointingMs:     300,
		LatencyMs:         50,
		BytesPerWord:      12800,

		MaxSessions:                 1000,
		IdleTimeoutSeconds:          300,
		InitialSpeechTimeoutSeconds: 10,
		CleanupIntervalSeconds:      30,

		Host: "0.0.0.0",
		Port: 8001,

		ASREngine: EngineMock,
		ASRDevice: "cpu",

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML config file, overlays ASR_-prefixed environment
// variables (via an optional .env file plus the process environment), and
// validates the result against the configuration schema.
func Load(path, envPath string) (Settings, error) {
	settings := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Settings{}, fmt.Errorf("config: load env file %q: %w", envPath, err)
		}
	}

	applyEnvOverrides(&settings)

	if err := Validate(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func applyEnvOverrides(s *Settings) {
	if v, ok := os.LookupEnv("ASR_SAMPLE_RATE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.SampleRate = n
		}
	}
	if v, ok := os.LookupEnv("ASR_VAD_AGGRESSIVENESS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.VADAggressiveness = n
		}
	}
	if v, ok := os.LookupEnv("ASR_VAD_FRAME_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.VADFrameMs = n
		}
	}
	if v, ok := os.LookupEnv("ASR_ENDPOINTING_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.EndpointingMs = n
		}
	}
	if v, ok := os.LookupEnv("ASR_LATENCY_MS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.LatencyMs = n
		}
	}
	if v, ok := os.LookupEnv("ASR_BYTES_PER_WORD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.BytesPerWord = n
		}
	}
	if v, ok := os.LookupEnv("ASR_MAX_SESSIONS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxSessions = n
		}
	}
	if v, ok := os.LookupEnv("ASR_IDLE_TIMEOUT_SECONDS"); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			s.IdleTimeoutSeconds = n
		}
	}
	if v, ok := os.LookupEnv("ASR_INITIAL_SPEECH_TIMEOUT_SECONDS"); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			s.InitialSpeechTimeoutSeconds = n
		}
	}
	if v, ok := os.LookupEnv("ASR_CLEANUP_INTERVAL_SECONDS"); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			s.CleanupIntervalSeconds = n
		}
	}
	if v, ok := os.LookupEnv("ASR_HOST"); ok {
		s.Host = v
	}
	if v, ok := os.LookupEnv("ASR_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.Port = n
		}
	}
	if v, ok := os.LookupEnv("ASR_ENGINE"); ok {
		s.ASREngine = ASREngine(v)
	}
	if v, ok := os.LookupEnv("ASR_MODEL_PATH"); ok {
		s.ModelPath = v
	}
	if v, ok := os.LookupEnv("ASR_DEVICE"); ok {
		s.ASRDevice = v
	}
	if v, ok := os.LookupEnv("ASR_WARMUP"); ok {
		s.ASRWarmup = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("ASR_LOG_LEVEL"); ok {
		s.LogLevel = v
	}
	if v, ok := os.LookupEnv("ASR_LOG_FORMAT"); ok {
		s.LogFormat = v
	}
}

// schema is the JSON Schema every loaded Settings value must satisfy before
// the server is allowed to accept connections.
const schema = `{
  "type": "object",
  "properties": {
    "sample_rate": {"type": "integer", "enum": [16000]},
    "vad_aggressiveness": {"type": "integer", "minimum": 0, "maximum": 3},
    "vad_frame_ms": {"type": "integer", "enum": [10, 20, 30]},
    "endpointing_ms": {"type": "integer", "minimum": 0},
    "latency_ms": {"type": "integer", "minimum": 0},
    "bytes_per_word": {"type": "integer", "minimum": 1},
    "max_sessions": {"type": "integer", "minimum": 1},
    "idle_timeout_seconds": {"type": "number", "minimum": 0},
    "initial_speech_timeout_seconds": {"type": "number", "minimum": 0},
    "cleanup_interval_seconds": {"type": "number", "minimum": 0},
    "port": {"type": "integer", "minimum": 1, "maximum": 65535},
    "asr_engine": {"type": "string", "enum": ["mock", "real"]}
  },
  "required": ["sample_rate", "vad_frame_ms", "max_sessions", "asr_engine"]
}`

// Validate checks settings against the configuration schema and a handful
// of cross-field rules the schema can't express (e.g. the real backend
// requiring a model path).
func Validate(s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("config: marshal for validation: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(schema)
	docLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("config: schema validation error: %w", err)
	}
	if !result.Valid() {
		var buf bytes.Buffer
		for _, e := range result.Errors() {
			fmt.Fprintf(&buf, "- %s\n", e.String())
		}
		return fmt.Errorf("config: invalid settings:\n%s", buf.String())
	}

	if s.ASREngine == EngineReal && s.ModelPath == "" {
		return fmt.Errorf("config: asr_engine=real requires asr_model_path")
	}
	if s.InitialSpeechTimeoutSeconds > s.IdleTimeoutSeconds {
		return fmt.Errorf("config: initial_speech_timeout_seconds (%.1f) should not exceed idle_timeout_seconds (%.1f)",
			s.InitialSpeechTimeoutSeconds, s.IdleTimeoutSeconds)
	}
	return nil
}
