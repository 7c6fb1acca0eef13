package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the single typed configuration struct for every reelforge
// role (serve / worker / scheduler). Shape follows the teacher's
// config.Config; loading is upgraded to viper so every field also binds
// to an environment variable: REELFORGE_ followed by the field's nested
// key with '.' replaced by '_' (e.g. REELFORGE_VALIDATION_MAX_CLIP_COUNT).
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Tool       ToolConfig       `mapstructure:"tool"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Worker     WorkerRunConfig  `mapstructure:"worker"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Validation ValidationConfig `mapstructure:"validation"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ToolConfig configures the Tool Invoker's subprocess envelope.
type ToolConfig struct {
	Binary      string        `mapstructure:"binary"`
	ProbeBinary string        `mapstructure:"probe_binary"`
	GraceDelay  time.Duration `mapstructure:"grace_delay"`
	StderrCap   int           `mapstructure:"stderr_cap_bytes"`
}

// PipelineConfig holds per-stage timeouts and fan-out concurrency.
type PipelineConfig struct {
	NClip              int           `mapstructure:"n_clip"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BeatsTimeout       time.Duration `mapstructure:"beats_timeout"`
	NormalizeTimeout   time.Duration `mapstructure:"normalize_timeout"`
	CutConcatTimeout   time.Duration `mapstructure:"cut_and_concat_timeout"`
	StyleGradeTimeout  time.Duration `mapstructure:"style_grade_timeout"`
	MuxTimeout         time.Duration `mapstructure:"mux_timeout"`
	QualityGateTimeout time.Duration `mapstructure:"quality_gate_timeout"`
	AudioSliceTimeout  time.Duration `mapstructure:"audio_slice_timeout"`
	PlanTimeout        time.Duration `mapstructure:"plan_timeout"`
	MinSpacingSec      float64       `mapstructure:"min_spacing_sec"`
	OutputWidth        int           `mapstructure:"output_width"`
	OutputHeight       int           `mapstructure:"output_height"`
	OutputFPS          int           `mapstructure:"output_fps"`
	OutputDurationSec  float64       `mapstructure:"output_duration_sec"`
}

// RetentionConfig configures the reaper's sweep interval and horizons.
type RetentionConfig struct {
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	TerminalHorizon      time.Duration `mapstructure:"terminal_horizon"`
	AbandonedNonTerminal time.Duration `mapstructure:"abandoned_non_terminal_horizon"`
}

// WorkerRunConfig configures the asynq consumer.
type WorkerRunConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	VisibilityTTL time.Duration `mapstructure:"visibility_ttl"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffCap    time.Duration `mapstructure:"backoff_cap"`
}

// SchedulerConfig configures the abandoned-job detector's slack window.
type SchedulerConfig struct {
	VisibilitySlack time.Duration `mapstructure:"visibility_slack"`
}

// ValidationConfig configures JobService.Create's limits.
type ValidationConfig struct {
	MaxClipCount int   `mapstructure:"max_clip_count"`
	MaxFileSize  int64 `mapstructure:"max_file_size"`
}

// Load reads defaults, an optional YAML file at path, and environment
// overrides (prefix REELFORGE_, nested keys joined with '_'), matching
// the viper pattern used by xifofo-film-fusion and
// celalettindemir-make-singer-backend.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REELFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("mysql.dsn", "reelforge:reelforge@tcp(127.0.0.1:3306)/reelforge?parseTime=true")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("minio.endpoint", "127.0.0.1:9000")
	v.SetDefault("minio.bucket", "reelforge")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("tool.binary", "ffmpeg")
	v.SetDefault("tool.probe_binary", "ffprobe")
	v.SetDefault("tool.grace_delay", 5*time.Second)
	v.SetDefault("tool.stderr_cap_bytes", 8*1024)

	v.SetDefault("pipeline.n_clip", 2)
	v.SetDefault("pipeline.max_attempts", 2)
	v.SetDefault("pipeline.beats_timeout", 60*time.Second)
	v.SetDefault("pipeline.normalize_timeout", 180*time.Second)
	v.SetDefault("pipeline.cut_and_concat_timeout", 240*time.Second)
	v.SetDefault("pipeline.style_grade_timeout", 120*time.Second)
	v.SetDefault("pipeline.mux_timeout", 60*time.Second)
	v.SetDefault("pipeline.quality_gate_timeout", 30*time.Second)
	v.SetDefault("pipeline.audio_slice_timeout", 60*time.Second)
	v.SetDefault("pipeline.plan_timeout", 30*time.Second)
	v.SetDefault("pipeline.min_spacing_sec", 0.8)
	v.SetDefault("pipeline.output_width", 1080)
	v.SetDefault("pipeline.output_height", 1920)
	v.SetDefault("pipeline.output_fps", 30)
	v.SetDefault("pipeline.output_duration_sec", 30.0)

	v.SetDefault("retention.sweep_interval", 10*time.Minute)
	v.SetDefault("retention.terminal_horizon", time.Hour)
	v.SetDefault("retention.abandoned_non_terminal_horizon", 24*time.Hour)

	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.visibility_ttl", 15*time.Minute)
	v.SetDefault("worker.backoff_base", 30*time.Second)
	v.SetDefault("worker.backoff_cap", 10*time.Minute)

	v.SetDefault("scheduler.visibility_slack", 2*time.Minute)

	v.SetDefault("validation.max_clip_count", 5)
	v.SetDefault("validation.max_file_size", 100*1024*1024)
}

func validate(cfg *Config) error {
	if cfg.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn must be set")
	}
	if cfg.MinIO.Bucket == "" {
		return fmt.Errorf("minio.bucket must be set")
	}
	if cfg.Pipeline.NClip <= 0 {
		return fmt.Errorf("pipeline.n_clip must be positive")
	}
	if cfg.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline.max_attempts must be positive")
	}
	return nil
}
