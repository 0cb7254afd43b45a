/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Port range scanned when no bind port is configured.
const (
	DefaultPortRangeStart = 8096
	DefaultPortRangeEnd   = 9200
)

// Config covers process level configuration read from environment
// variables. The stream server is deliberately unprotected: it only ever
// serves audio on the local network.
type Config struct {
	Environment string
	BindIP      string
	// BindPort 0 means "pick a free port in the default range" at startup.
	BindPort int
	// PublishIP is the address communicated to players. Empty means
	// auto-detect the primary interface.
	PublishIP          string
	FFmpegBin          string
	PlayerSettingsFile string
	MetricsBind        string
}

// Load reads environment variables and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:        getEnv("MASS_ENV", "development"),
		BindIP:             getEnv("MASS_BIND_IP", "0.0.0.0"),
		BindPort:           getEnvInt("MASS_BIND_PORT", 0),
		PublishIP:          getEnv("MASS_PUBLISH_IP", ""),
		FFmpegBin:          getEnv("MASS_FFMPEG_BIN", "ffmpeg"),
		PlayerSettingsFile: getEnv("MASS_PLAYER_SETTINGS_FILE", "./players.yaml"),
		MetricsBind:        getEnv("MASS_METRICS_BIND", "127.0.0.1:9090"),
	}

	if cfg.BindPort < 0 || cfg.BindPort > 65535 {
		return nil, fmt.Errorf("MASS_BIND_PORT out of range: %d", cfg.BindPort)
	}
	if cfg.FFmpegBin == "" {
		return nil, fmt.Errorf("MASS_FFMPEG_BIN must not be empty")
	}
	return cfg, nil
}

// Entry describes one user-facing configuration value, exposed so a
// settings UI layer can render the stream server options.
type Entry struct {
	Key         string
	Type        string
	Default     any
	Label       string
	Description string
	Advanced    bool
}

// Entries returns the configuration surface of the stream server.
func (c *Config) Entries() []Entry {
	return []Entry{
		{
			Key:     "bind_port",
			Type:    "integer",
			Default: c.BindPort,
			Label:   "TCP Port",
			Description: "The TCP port to run the server. Make sure that this server " +
				"can be reached on the given IP and TCP port by players on the local network.",
		},
		{
			Key:     "publish_ip",
			Type:    "string",
			Default: c.PublishIP,
			Label:   "Published IP address",
			Description: "This IP address is communicated to players where to find this server. " +
				"Override the default in advanced scenarios, such as multi NIC configurations.",
			Advanced: true,
		},
		{
			Key:         "bind_ip",
			Type:        "string",
			Default:     c.BindIP,
			Label:       "Bind to IP/interface",
			Description: "Start the stream server on this specific interface. Use 0.0.0.0 to bind to all interfaces.",
			Advanced:    true,
		},
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
