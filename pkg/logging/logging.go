package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Levels outside the known set fall back to
// info so a typo in LOG_LEVEL never silences a production service.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn", "warning":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

var (
	secretKeyPattern   = regexp.MustCompile(`(?i)(api_key|apikey|token|secret|password)`)
	secretValuePattern = regexp.MustCompile(`^(rpa_|hf_)`)
)

// Redact masks a value that must never reach the log stream: bearer keys,
// HF tokens, AWS credentials. A short prefix is kept for correlation.
func Redact(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 6 {
		return "****"
	}
	return value[:4] + "****"
}

// Secret returns a zap field with the value masked.
func Secret(key, value string) zap.Field {
	return zap.String(key, Redact(value))
}

// SanitizeEnv masks entries whose key names a credential or whose value
// looks like one (rpa_/hf_ prefixes). Used when logging worker environments.
func SanitizeEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		if secretKeyPattern.MatchString(k) || secretValuePattern.MatchString(v) {
			out[k] = Redact(v)
			continue
		}
		out[k] = v
	}
	return out
}
