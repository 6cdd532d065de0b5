package logger

import (
	"os"
	"strconv"
)

// EnvConfig extends Config with environment and file rotation settings.
type EnvConfig struct {
	Config

	Environment string // APP_ENV: local, dev, prod

	LogFile     string // rotated log file, used outside the local environment
	LogFileOnly bool   // skip stdout when a log file is written

	MaxSize    int  // MB before rotation
	MaxBackups int  // rotated files kept
	MaxAge     int  // days rotated files are kept
	Compress   bool // gzip rotated files
}

// LoadFromEnv reads the LOG_* variables plus SERVICE_NAME and APP_ENV.
func LoadFromEnv() *EnvConfig {
	return &EnvConfig{
		Config: Config{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			ServiceName: getEnv("SERVICE_NAME", "themescope"),
		},
		Environment: getEnv("APP_ENV", "local"),

		LogFile:     getEnv("LOG_FILE", "/var/log/themescope/app.log"),
		LogFileOnly: getEnvBool("LOG_FILE_ONLY", false),

		MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 7),
		MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		Compress:   getEnvBool("LOG_COMPRESS", true),
	}
}

// Local reports whether logs stay on stdout only.
func (e *EnvConfig) Local() bool {
	return e.Environment == "" || e.Environment == "local"
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool gets a boolean environment variable with a default value.
func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvInt gets an integer environment variable with a default value.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
