package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"compat-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	LogLevel        string

	WorkspacesDir string

	EngineCommand       string
	EngineArgs          []string
	EngineTimeout       time.Duration
	EngineModulePath    string
	EngineModulePathVar string

	CredentialPrefix string
	CredentialSlots  int

	AnalysisContention string
	AnalysisRatePerMin float64
	AnalysisRateBurst  int
	ObjectStoreType    string
	LocalStoreDir      string
	AWSRegion          string
	S3Bucket           string
	S3Prefix           string
	SSEKMSKeyID        string
	DatabaseURL        string
	QueueURL           string
}

const (
	ContentionWait   = "wait"
	ContentionReject = "reject"
)

var defaults = map[string]any{
	"PORT":                        "8080",
	"ENV":                         "dev",
	"LOG_LEVEL":                   "info",
	"CORS_ALLOW_ORIGINS":          "http://localhost:5173",
	"WORKSPACES_DIR":              "./uploads",
	"ENGINE_COMMAND":              "python3",
	"ENGINE_ARGS":                 "analyzer/main.py",
	"ENGINE_TIMEOUT":              "30m",
	"ENGINE_MODULE_PATH":          "",
	"ENGINE_MODULE_PATH_VAR":      "PYTHONPATH",
	"CREDENTIAL_PREFIX":           "ANALYSIS_API_KEY",
	"CREDENTIAL_SLOTS":            10,
	"ANALYSIS_CONTENTION":         ContentionWait,
	"RATE_LIMIT_ANALYSIS_PER_MIN": 6,
	"RATE_LIMIT_ANALYSIS_BURST":   3,
	"OBJECT_STORE":                "local",
	"LOCAL_STORE_DIR":             "./data",
	"AWS_REGION":                  "",
	"S3_BUCKET":                   "",
	"S3_PREFIX":                   "",
	"SSE_KMS_KEY_ID":              "",
	"DATABASE_URL":                "",
	"RA_SQS_QUEUE_URL":            "",
}

// Load reads configuration from environment variables and an optional
// config file with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				telemetry.Warn("config.read_failed", map[string]any{"path": path, "error": err.Error()})
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) Config {
	env := normalizeEnv(v.GetString("ENV"))
	dbURL := v.GetString("DATABASE_URL")

	if env == "production" && dbURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": env})
	}

	timeout := v.GetDuration("ENGINE_TIMEOUT")
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	slots := v.GetInt("CREDENTIAL_SLOTS")
	if slots <= 0 {
		slots = 10
	}

	return Config{
		Port:                v.GetString("PORT"),
		CORSAllowOrigin:     splitAndTrim(v.GetString("CORS_ALLOW_ORIGINS"), ","),
		Env:                 env,
		LogLevel:            v.GetString("LOG_LEVEL"),
		WorkspacesDir:       v.GetString("WORKSPACES_DIR"),
		EngineCommand:       strings.TrimSpace(v.GetString("ENGINE_COMMAND")),
		EngineArgs:          strings.Fields(v.GetString("ENGINE_ARGS")),
		EngineTimeout:       timeout,
		EngineModulePath:    v.GetString("ENGINE_MODULE_PATH"),
		EngineModulePathVar: v.GetString("ENGINE_MODULE_PATH_VAR"),
		CredentialPrefix:    strings.TrimSpace(v.GetString("CREDENTIAL_PREFIX")),
		CredentialSlots:     slots,
		AnalysisContention:  normalizeContention(v.GetString("ANALYSIS_CONTENTION")),
		AnalysisRatePerMin:  v.GetFloat64("RATE_LIMIT_ANALYSIS_PER_MIN"),
		AnalysisRateBurst:   v.GetInt("RATE_LIMIT_ANALYSIS_BURST"),
		ObjectStoreType:     normalizeStoreType(v.GetString("OBJECT_STORE")),
		LocalStoreDir:       v.GetString("LOCAL_STORE_DIR"),
		AWSRegion:           v.GetString("AWS_REGION"),
		S3Bucket:            v.GetString("S3_BUCKET"),
		S3Prefix:            v.GetString("S3_PREFIX"),
		SSEKMSKeyID:         v.GetString("SSE_KMS_KEY_ID"),
		DatabaseURL:         dbURL,
		QueueURL:            strings.TrimSpace(v.GetString("RA_SQS_QUEUE_URL")),
	}
}

func splitAndTrim(raw, sep string) []string {
	parts := strings.Split(raw, sep)
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "none", "off", "disabled":
		return "none"
	default:
		return "local"
	}
}

func normalizeContention(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ContentionReject:
		return ContentionReject
	default:
		return ContentionWait
	}
}
