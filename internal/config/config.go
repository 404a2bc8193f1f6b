package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Zitadel    ZitadelConfig
	Gateway    GatewayConfig
	R2         R2Config
	Transcribe TranscribeConfig
	Transform  TransformConfig
	Capture    CaptureConfig
	Pipeline   PipelineConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type TranscribeConfig struct {
	APIKey  string
	BaseURL string
}

type TransformConfig struct {
	FFmpegBin  string
	FFprobeBin string
	TimeoutSec int
}

type CaptureConfig struct {
	MaxDurationSec int
	RealtimeFilter bool
	ScratchDir     string
}

type PipelineConfig struct {
	PollIntervalSec  int
	PollMaxAttempts  int
	CaptionWindow    int
	UploadMaxRetries int
}

type RateLimitConfig struct {
	SessionsPerHour int
	PublishPerHour  int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("TRANSCRIBE_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("transcribe.api_key", "TRANSCRIBE_API_KEY")
	_ = viper.BindEnv("transcribe.base_url", "TRANSCRIBE_BASE_URL")
	_ = viper.BindEnv("transform.ffmpeg_bin", "FFMPEG_BIN")
	_ = viper.BindEnv("transform.ffprobe_bin", "FFPROBE_BIN")
	_ = viper.BindEnv("transform.timeout_sec", "TRANSFORM_TIMEOUT_SEC")
	_ = viper.BindEnv("capture.max_duration_sec", "CAPTURE_MAX_DURATION_SEC")
	_ = viper.BindEnv("capture.realtime_filter", "CAPTURE_REALTIME_FILTER")
	_ = viper.BindEnv("capture.scratch_dir", "CAPTURE_SCRATCH_DIR")
	_ = viper.BindEnv("pipeline.poll_interval_sec", "PIPELINE_POLL_INTERVAL_SEC")
	_ = viper.BindEnv("pipeline.poll_max_attempts", "PIPELINE_POLL_MAX_ATTEMPTS")
	_ = viper.BindEnv("pipeline.caption_window", "PIPELINE_CAPTION_WINDOW")
	_ = viper.BindEnv("pipeline.upload_max_retries", "PIPELINE_UPLOAD_MAX_RETRIES")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("gateway.enabled", false)
	viper.SetDefault("transcribe.base_url", "https://api.assemblyai.com")
	viper.SetDefault("transform.ffmpeg_bin", "ffmpeg")
	viper.SetDefault("transform.ffprobe_bin", "ffprobe")
	viper.SetDefault("transform.timeout_sec", 300)
	viper.SetDefault("capture.max_duration_sec", 60)
	viper.SetDefault("capture.realtime_filter", false)
	viper.SetDefault("capture.scratch_dir", "")
	viper.SetDefault("pipeline.poll_interval_sec", 3)
	viper.SetDefault("pipeline.poll_max_attempts", 60)
	viper.SetDefault("pipeline.caption_window", 8)
	viper.SetDefault("pipeline.upload_max_retries", 5)
	viper.SetDefault("ratelimit.sessions_per_hour", 30)
	viper.SetDefault("ratelimit.publish_per_hour", 10)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Transcribe: TranscribeConfig{
			APIKey:  viper.GetString("transcribe.api_key"),
			BaseURL: viper.GetString("transcribe.base_url"),
		},
		Transform: TransformConfig{
			FFmpegBin:  viper.GetString("transform.ffmpeg_bin"),
			FFprobeBin: viper.GetString("transform.ffprobe_bin"),
			TimeoutSec: viper.GetInt("transform.timeout_sec"),
		},
		Capture: CaptureConfig{
			MaxDurationSec: viper.GetInt("capture.max_duration_sec"),
			RealtimeFilter: viper.GetBool("capture.realtime_filter"),
			ScratchDir:     viper.GetString("capture.scratch_dir"),
		},
		Pipeline: PipelineConfig{
			PollIntervalSec:  viper.GetInt("pipeline.poll_interval_sec"),
			PollMaxAttempts:  viper.GetInt("pipeline.poll_max_attempts"),
			CaptionWindow:    viper.GetInt("pipeline.caption_window"),
			UploadMaxRetries: viper.GetInt("pipeline.upload_max_retries"),
		},
		RateLimit: RateLimitConfig{
			SessionsPerHour: viper.GetInt("ratelimit.sessions_per_hour"),
			PublishPerHour:  viper.GetInt("ratelimit.publish_per_hour"),
		},
	}

	return cfg, nil
}

// readSecret resolves a NAME_FILE env var into NAME for secret mounts.
func readSecret(name string) {
	fileVar := name + "_FILE"
	path := os.Getenv(fileVar)
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to read secret file for %s: %v\n", name, err)
		return
	}
	os.Setenv(name, strings.TrimSpace(string(data)))
}
