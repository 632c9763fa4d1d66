package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries everything a pipeline run needs. It is built once by the
// CLI or server entrypoint and passed by value into the stages; there is no
// ambient global configuration.
type Config struct {
	PDFPath   string `yaml:"-"`
	OutputDir string `yaml:"-"`

	// Mode is "full" (default) or "slides". In slides mode narration and
	// video assembly are skipped.
	Mode string `yaml:"mode"`

	MaxSlides       int `yaml:"max_slides"`
	ChunkCharBudget int `yaml:"chunk_char_budget"`

	GeminiKey  string `yaml:"-"`
	MistralKey string `yaml:"-"`
	SarvamKey  string `yaml:"-"`
	OpenAIKey  string `yaml:"-"`

	// TTSProvider selects the speech synthesizer: "sarvam" or "openai".
	TTSProvider string `yaml:"tts_provider"`
	TTSLanguage string `yaml:"tts_language"`
	TTSSpeaker  string `yaml:"tts_speaker"`

	// DetectorModelPath points at a DocLayNet ONNX model. When set and the
	// OCR collaborator returns no figures, a local YOLO pass is attempted.
	DetectorModelPath string `yaml:"detector_model_path"`

	FFmpegBin  string   `yaml:"ffmpeg_bin"`
	FFprobeBin string   `yaml:"ffprobe_bin"`
	MarpCmd    []string `yaml:"marp_cmd"`

	// SubprocessTimeout bounds every renderer/encoder invocation so a hung
	// external tool cannot hang the process.
	SubprocessTimeout time.Duration `yaml:"subprocess_timeout"`

	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`

	// Heuristic matcher knobs, see deck.MatcherConfig. Preserved as
	// configuration rather than hard-coded "correct" values.
	MatchThreshold    float64 `yaml:"match_threshold"`
	MatchMentionBonus float64 `yaml:"match_mention_bonus"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the baseline settings before file/env overrides.
func DefaultConfig() Config {
	return Config{
		Mode:              "full",
		MaxSlides:         10,
		ChunkCharBudget:   12000,
		TTSProvider:       "sarvam",
		TTSLanguage:       "en-IN",
		TTSSpeaker:        "anushka",
		FFmpegBin:         "ffmpeg",
		FFprobeBin:        "ffprobe",
		MarpCmd:           []string{"npx", "marp"},
		SubprocessTimeout: 5 * time.Minute,
		MaxRetries:        3,
		BackoffBase:       2 * time.Second,
		MatchThreshold:    0.1,
		MatchMentionBonus: 0.5,
		LogLevel:          "info",
	}
}

// LoadConfig builds a Config from defaults, an optional YAML file, and the
// environment (highest precedence). A missing .env file is not an error.
func LoadConfig(yamlPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := DefaultConfig()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", yamlPath, err)
		}
	}

	cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	cfg.MistralKey = os.Getenv("MISTRAL_API_KEY")
	cfg.SarvamKey = os.Getenv("SARVAM_API_KEY")
	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")

	if v := os.Getenv("PAPERCAST_MAX_SLIDES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid PAPERCAST_MAX_SLIDES %q", v)
		}
		cfg.MaxSlides = n
	}
	if v := os.Getenv("PAPERCAST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PAPERCAST_TTS_PROVIDER"); v != "" {
		cfg.TTSProvider = v
	}
	if v := os.Getenv("PAPERCAST_DETECTOR_MODEL"); v != "" {
		cfg.DetectorModelPath = v
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants that do not depend on the input PDF.
func (c Config) Validate() error {
	if c.Mode != "full" && c.Mode != "slides" {
		return fmt.Errorf("unknown mode %q (want full or slides)", c.Mode)
	}
	if c.MaxSlides <= 0 {
		return fmt.Errorf("max_slides must be positive, got %d", c.MaxSlides)
	}
	if c.ChunkCharBudget <= 0 {
		return fmt.Errorf("chunk_char_budget must be positive, got %d", c.ChunkCharBudget)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if len(c.MarpCmd) == 0 {
		return fmt.Errorf("marp_cmd must not be empty")
	}
	return nil
}

// SlidesOnly reports whether narration and video assembly are skipped.
func (c Config) SlidesOnly() bool {
	return c.Mode == "slides"
}
