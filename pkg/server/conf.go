package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Conf holds server-level configuration, loaded from a YAML file with flag
// and environment overrides applied in cmd/server.
type Conf struct {
	// --- Identity ---
	ServerName string `yaml:"server_name"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`

	// --- Protocol limits ---
	ReadTimeout   int `yaml:"read_timeout"`    // seconds per blocking read, 0 = none
	MaxFrameBytes int `yaml:"max_frame_bytes"` // largest accepted frame payload

	// --- Presence liveness ---
	PresenceTTL   int `yaml:"presence_ttl"`   // seconds before a silent player is evicted, 0 = never
	SweepInterval int `yaml:"sweep_interval"` // seconds between background sweeps, 0 = lazy only

	// --- Storage ---
	AccountDB       string `yaml:"account_db"`
	StoryDB         string `yaml:"story_db"`
	LegacyStoryFile string `yaml:"legacy_story_file"` // optional data.json to import on boot
	WatchLegacyFile bool   `yaml:"watch_legacy_file"` // re-import on external edits

	// --- TLS game listener ---
	TLS     bool   `yaml:"tls"`
	TLSPort int    `yaml:"tls_port"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	Domain  string `yaml:"domain"` // non-empty enables Let's Encrypt
	CertDir string `yaml:"cert_dir"`

	// --- Web server (metrics, REST, websocket transport) ---
	WebEnabled  bool     `yaml:"web_enabled"`
	WebHost     string   `yaml:"web_host"`
	WebPort     int      `yaml:"web_port"`
	JWTSecret   string   `yaml:"jwt_secret"`
	JWTExpiry   int      `yaml:"jwt_expiry"` // seconds
	CORSOrigins []string `yaml:"cors_origins"`
}

// DefaultConf returns sensible defaults. The game port matches the legacy
// deployment so existing clients need no reconfiguration.
func DefaultConf() Conf {
	return Conf{
		ServerName:    "storywalk",
		Port:          65432,
		ReadTimeout:   300,
		MaxFrameBytes: 64 * 1024,
		PresenceTTL:   300,
		SweepInterval: 60,
		AccountDB:     "users.db",
		StoryDB:       "stories.db",
		WebPort:       8080,
		JWTExpiry:     86400,
		CertDir:       "certs",
	}
}

// LoadConf reads a YAML config file over the defaults.
func LoadConf(path string) (Conf, error) {
	conf := DefaultConf()
	data, err := os.ReadFile(path)
	if err != nil {
		return conf, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return conf, nil
}

func (c Conf) readTimeout() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

func (c Conf) presenceTTL() time.Duration {
	return time.Duration(c.PresenceTTL) * time.Second
}

func (c Conf) sweepInterval() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}
