// Package config loads process configuration from the environment.
package config

import "os"

// Config holds the process settings. Docker connection settings come from
// the standard DOCKER_HOST environment via the SDK.
type Config struct {
	ListenAddr   string
	Backend      string
	TemplatesDir string
	OutputFile   string
	HistoryDir   string
	LogLevel     string
	LogFormat    string
}

// Load reads the configuration, applying defaults for anything unset.
func Load() *Config {
	return &Config{
		ListenAddr:   getEnv("MAGICPROXY_LISTEN_ADDR", ":8880"),
		Backend:      getEnv("MAGICPROXY_BACKEND", "traefik"),
		TemplatesDir: getEnv("MAGICPROXY_TEMPLATES_DIR", "/etc/magicproxy/templates"),
		OutputFile:   getEnv("MAGICPROXY_OUTPUT_FILE", "/etc/traefik/dynamic/magicproxy.yml"),
		HistoryDir:   getEnv("MAGICPROXY_HISTORY_DIR", ""),
		LogLevel:     getEnv("MAGICPROXY_LOG_LEVEL", "info"),
		LogFormat:    getEnv("MAGICPROXY_LOG_FORMAT", "text"),
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
