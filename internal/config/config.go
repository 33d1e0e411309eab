// Package config loads gottyd's configuration (spec.md §6 CLI surface),
// layering a JSON (or YAML) config file under environment defaults under
// CLI flags, "CLI always wins" (spec.md §6 -F/--config: "JSON config;
// merged first, CLI overrides").
//
// Grounded on Nebulide's config.Load() (env-var getEnv defaulting,
// .env loading via godotenv) and trybotster's internal/config (JSON file
// read into a struct before the environment/flag overrides are applied).
// YAML config files are this expansion's addition (SPEC_FULL.md DOMAIN
// STACK), grounded on gbnst-dev-agent-orchestrator's yaml.v3 config
// loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config mirrors spec.md §6's CLI surface plus the OTP/Redis/audit-db
// fields this expansion's DOMAIN STACK adds.
type Config struct {
	Port           string   `json:"port" yaml:"port"`
	Interface      string   `json:"interface" yaml:"interface"`
	SocketOwner    string   `json:"socket_owner" yaml:"socket_owner"`
	Credential     string   `json:"credential" yaml:"credential"`
	CredentialHash bool     `json:"credential_hash" yaml:"credential_hash"`
	AuthHeader     string   `json:"auth_header" yaml:"auth_header"`
	UID            int      `json:"uid" yaml:"uid"`
	GID            int      `json:"gid" yaml:"gid"`
	CloseSignal    string   `json:"signal" yaml:"signal"`
	Cwd            string   `json:"cwd" yaml:"cwd"`
	IndexPath      string   `json:"index" yaml:"index"`
	BasePath       string   `json:"base_path" yaml:"base_path"`
	PingInterval   int      `json:"ping_interval" yaml:"ping_interval"`
	IPv6           bool     `json:"ipv6" yaml:"ipv6"`
	SSL            bool     `json:"ssl" yaml:"ssl"`
	SSLCert        string   `json:"ssl_cert" yaml:"ssl_cert"`
	SSLKey         string   `json:"ssl_key" yaml:"ssl_key"`
	SSLCA          string   `json:"ssl_ca" yaml:"ssl_ca"`
	URLArg         bool     `json:"url_arg" yaml:"url_arg"`
	Writable       bool     `json:"writable" yaml:"writable"`
	ClientOptions  []string `json:"client_options" yaml:"client_options"`
	TerminalType   string   `json:"terminal_type" yaml:"terminal_type"`
	CheckOrigin    bool     `json:"check_origin" yaml:"check_origin"`
	MaxClients     int      `json:"max_clients" yaml:"max_clients"`
	Once           bool     `json:"once" yaml:"once"`
	ExitNoConn     bool     `json:"exit_no_conn" yaml:"exit_no_conn"`
	Browser        bool     `json:"browser" yaml:"browser"`
	Debug          int      `json:"debug" yaml:"debug"`

	// OTP / admission additions (SPEC_FULL.md DOMAIN STACK).
	OTPSecret   string `json:"otp_secret" yaml:"otp_secret"`
	OTPAndBasic bool   `json:"otp_and_basic" yaml:"otp_and_basic"`

	// Audit/session-registry persistence additions.
	RedisURL string `json:"redis_url" yaml:"redis_url"`
	AuditDSN string `json:"audit_dsn" yaml:"audit_dsn"`

	Command []string `json:"-" yaml:"-"` // argv after "--", never read from a config file
}

// Default returns the spec.md §6 defaults, matching ttyd's own.
func Default() *Config {
	return &Config{
		Port:         "7681",
		Interface:    "",
		CloseSignal:  "SIGHUP",
		IndexPath:    "",
		BasePath:     "",
		PingInterval: 300,
		Writable:     false,
		TerminalType: "xterm-256color",
		MaxClients:   0,
		Debug:        0,
		RedisURL:     "",
		AuditDSN:     "",
		UID:          -1, // -1 = do not drop privileges
		GID:          -1,
	}
}

// LoadFile reads a JSON or YAML config file per -F/--config (selected by
// extension; .yaml/.yml use yaml.v3, everything else JSON), merging it
// over the defaults. A missing path is not an error only when path == ""
// (no flag given); an unreadable or malformed file named explicitly is.
func LoadFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: resolve ~: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		return nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads a .env file for local dev (Nebulide's godotenv.Load
// pattern) and layers a small set of environment variables over cfg for
// the secrets operators don't want on a command line or in a config file.
func LoadEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("GOTTYD_CREDENTIAL"); v != "" {
		cfg.Credential = v
	}
	if v := os.Getenv("GOTTYD_OTP_SECRET"); v != "" {
		cfg.OTPSecret = v
	}
	if v := os.Getenv("GOTTYD_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("GOTTYD_AUDIT_DSN"); v != "" {
		cfg.AuditDSN = v
	}
}

// ResolveIndexPath expands a leading "~/" the way spec.md §6 requires for
// -I/--index.
func ResolveIndexPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve ~: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

// ParseSignal accepts either a bare number or a "SIG…" name (spec.md §6
// -s/--signal), returning the matching syscall.Signal.
func ParseSignal(s string) (syscall.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return syscall.Signal(n), nil
	}
	name := strings.ToUpper(strings.TrimPrefix(s, "SIG"))
	sig, ok := signalsByName[name]
	if !ok {
		return 0, fmt.Errorf("config: unknown signal %q", s)
	}
	return sig, nil
}

var signalsByName = map[string]syscall.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"TERM": syscall.SIGTERM,
	"KILL": syscall.SIGKILL,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
	"QUIT": syscall.SIGQUIT,
}

// ParseClientOptions turns repeated -t/--client-option K=V flags into the
// client-preferences JSON blob spec.md §4.3 sends as SET_PREFERENCES.
func ParseClientOptions(opts []string) ([]byte, error) {
	m := make(map[string]string, len(opts))
	for _, kv := range opts {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("config: malformed client option %q, want K=V", kv)
		}
		m[parts[0]] = parts[1]
	}
	return json.Marshal(m)
}

// ParseCredential splits a -c/--credential "user:pass" flag.
func ParseCredential(cred string) (user, pass string, err error) {
	idx := strings.IndexByte(cred, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("config: malformed credential, want user:pass")
	}
	return cred[:idx], cred[idx+1:], nil
}
