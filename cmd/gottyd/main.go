// Command gottyd shares a terminal over the web: it spawns a command under
// a PTY per WebSocket client and bridges bytes between them (spec.md §1).
//
// Flag parsing follows trybotster's cobra/pflag-bound command style
// (go-hub/cmd/botster-hub); configuration layering (JSON file under env
// under CLI) follows Nebulide's config.Load() plus trybotster's
// internal/config file-then-env merge.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"gottyd/internal/admission"
	"gottyd/internal/config"
	"gottyd/internal/logging"
	"gottyd/internal/server"
	"gottyd/internal/session"
	"gottyd/internal/store"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gottyd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()

	// -F/--config must be known before the rest of the flags are bound,
	// since the file it names is merged UNDER them ("CLI overrides" per
	// spec.md §6): a throwaway pre-scan finds it and ignores every other
	// flag, then LoadFile/LoadEnv populate cfg's defaults, and finally the
	// real flag set below binds on top so an explicit CLI flag always wins.
	configPath := prescanConfigPath(os.Args[1:])
	if err := config.LoadFile(cfg, configPath); err != nil {
		return err
	}
	config.LoadEnv(cfg)

	root := &cobra.Command{
		Use:     "gottyd -- <command> [args...]",
		Short:   "Share a terminal over the web",
		Version: version,
		Args:    cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("no command given; usage: gottyd [flags] -- <command> [args...]")
			}
			cfg.Command = args
			return serve(cfg)
		},
	}

	var unusedConfigPath string
	bindFlags(root.Flags(), cfg, &unusedConfigPath)
	return root.Execute()
}

// prescanConfigPath finds -F/--config's value without fully parsing argv,
// so the file can be loaded before the rest of the flags are bound to cfg.
func prescanConfigPath(args []string) string {
	fs := pflag.NewFlagSet("prescan", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	var path string
	fs.StringVarP(&path, "config", "F", "", "")
	_ = fs.Parse(args)
	return path
}

func bindFlags(f *pflag.FlagSet, cfg *config.Config, configPath *string) {
	f.StringVarP(&cfg.Port, "port", "p", cfg.Port, "TCP port; 0 = ephemeral")
	f.StringVarP(&cfg.Interface, "interface", "i", cfg.Interface, "bind address or UNIX-socket path (suffix .sock/.socket)")
	f.StringVarP(&cfg.SocketOwner, "socket-owner", "U", cfg.SocketOwner, "chown for UNIX socket, user[:group]")
	f.StringVarP(&cfg.Credential, "credential", "c", cfg.Credential, "HTTP basic auth credential, user:pass")
	f.StringVarP(&cfg.AuthHeader, "auth-header", "H", cfg.AuthHeader, "trust a reverse-proxy-set header")
	f.IntVarP(&cfg.UID, "uid", "u", cfg.UID, "drop privileges to this uid")
	f.IntVarP(&cfg.GID, "gid", "g", cfg.GID, "drop privileges to this gid")
	f.StringVarP(&cfg.CloseSignal, "signal", "s", cfg.CloseSignal, "child close signal, name or number")
	f.StringVarP(&cfg.Cwd, "cwd", "w", cfg.Cwd, "child working directory")
	f.StringVarP(&cfg.IndexPath, "index", "I", cfg.IndexPath, "custom index file (~/ expands to $HOME)")
	f.StringVarP(&cfg.BasePath, "base-path", "b", cfg.BasePath, "prefix for all endpoints")
	f.IntVarP(&cfg.PingInterval, "ping-interval", "P", cfg.PingInterval, "WebSocket ping cadence, seconds")
	f.BoolVarP(&cfg.IPv6, "ipv6", "6", cfg.IPv6, "accepted but has no effect; the listener address comes from --interface only")
	f.BoolVarP(&cfg.SSL, "ssl", "S", cfg.SSL, "enable TLS")
	f.StringVarP(&cfg.SSLCert, "ssl-cert", "C", cfg.SSLCert, "TLS certificate file")
	f.StringVarP(&cfg.SSLKey, "ssl-key", "K", cfg.SSLKey, "TLS key file")
	f.StringVarP(&cfg.SSLCA, "ssl-ca", "A", cfg.SSLCA, "TLS client CA file")
	f.BoolVarP(&cfg.URLArg, "url-arg", "a", cfg.URLArg, "accept ?arg=... repeated URL args appended to argv")
	f.BoolVarP(&cfg.Writable, "writable", "W", cfg.Writable, "allow client INPUT (default: readonly)")
	f.StringSliceVarP(&cfg.ClientOptions, "client-option", "t", cfg.ClientOptions, "add K=V to client-preferences JSON")
	f.StringVarP(&cfg.TerminalType, "terminal-type", "T", cfg.TerminalType, "TERM value sent to the child")
	f.BoolVarP(&cfg.CheckOrigin, "check-origin", "O", cfg.CheckOrigin, "enforce Origin==Host")
	f.IntVarP(&cfg.MaxClients, "max-clients", "m", cfg.MaxClients, "concurrent client cap, 0 = none")
	f.BoolVarP(&cfg.Once, "once", "o", cfg.Once, "serve one client then exit")
	f.BoolVarP(&cfg.ExitNoConn, "exit-no-conn", "q", cfg.ExitNoConn, "exit when the last client leaves")
	f.BoolVarP(&cfg.Browser, "browser", "B", cfg.Browser, "accepted but has no effect; no browser is opened")
	f.IntVarP(&cfg.Debug, "debug", "d", cfg.Debug, "log level, higher is more verbose")
	f.StringVarP(configPath, "config", "F", "", "JSON config file; merged first, flags override")

	f.StringVar(&cfg.OTPSecret, "otp-secret", cfg.OTPSecret, "base32 TOTP secret; enables otp admission mode")
	f.BoolVar(&cfg.OTPAndBasic, "otp-and-basic", cfg.OTPAndBasic, "require both a valid TOTP code and the basic credential")
	f.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "redis address for the distributed admission counter and lockout")
	f.StringVar(&cfg.AuditDSN, "audit-db", cfg.AuditDSN, "DSN for the optional terminal-session audit log")
	f.BoolVar(&cfg.CredentialHash, "credential-hash", cfg.CredentialHash, "keep only a bcrypt hash of -c/--credential resident, never the plaintext")
}

func serve(cfg *config.Config) error {
	logger, err := logging.New(logging.Config{
		Level: logLevelFor(cfg.Debug),
		Debug: cfg.Debug > 0,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	closeSig, err := config.ParseSignal(cfg.CloseSignal)
	if err != nil {
		return err
	}
	prefsJSON, err := config.ParseClientOptions(cfg.ClientOptions)
	if err != nil {
		return err
	}

	policy := &admission.Policy{
		WSPath:      joinPath(cfg.BasePath, "/ws"),
		CheckOrigin: cfg.CheckOrigin,
		MaxClients:  cfg.MaxClients,
		Once:        cfg.Once,
	}
	switch {
	case cfg.OTPSecret != "" && cfg.OTPAndBasic && cfg.Credential != "":
		policy.AuthMode = admission.ModeOTP
		policy.OTPSecret = cfg.OTPSecret
		if err := applyCredential(policy, cfg); err != nil {
			return err
		}
	case cfg.OTPSecret != "":
		policy.AuthMode = admission.ModeOTP
		policy.OTPSecret = cfg.OTPSecret
	case cfg.Credential != "":
		policy.AuthMode = admission.ModeBasic
		if err := applyCredential(policy, cfg); err != nil {
			return err
		}
	case cfg.AuthHeader != "":
		policy.AuthMode = admission.ModeHeader
		policy.HeaderName = cfg.AuthHeader
	default:
		policy.AuthMode = admission.ModeNone
	}

	sessCfg := session.Config{
		ArgvTemplate:    cfg.Command,
		EnvTemplate:     os.Environ(),
		Cwd:             cfg.Cwd,
		Writable:        cfg.Writable,
		URLArgEnabled:   cfg.URLArg,
		TerminalType:    cfg.TerminalType,
		PreferencesJSON: prefsJSON,
		CloseSignal:     closeSig,
		PingInterval:    secondsToDuration(cfg.PingInterval),
	}

	var auditStore *store.Store
	if cfg.AuditDSN != "" {
		auditStore, err = store.Open(cfg.AuditDSN)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
	}

	addr, unixSocket := resolveAddr(cfg)
	opts := server.Options{
		Addr:        addr,
		UnixSocket:  unixSocket,
		SocketOwner: cfg.SocketOwner,
		BasePath:    cfg.BasePath,
		IndexPath:   cfg.IndexPath,
		Browser:     cfg.Browser,
		SessionCfg:  sessCfg,
		Policy:      policy,
		Once:        cfg.Once,
		ExitNoConn:  cfg.ExitNoConn,
		Store:       auditStore,
		UID:         cfg.UID,
		GID:         cfg.GID,
	}
	if cfg.SSL {
		opts.TLS = &server.TLSConfig{CertFile: cfg.SSLCert, KeyFile: cfg.SSLKey, CAFile: cfg.SSLCA}
	}
	if cfg.RedisURL != "" {
		rdb, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		opts.Counter = admission.NewRedisCounter(rdb, "gottyd:clients", cfg.Once, policy.MaxClients)
		opts.Lockout = admission.NewLockout(rdb, logger)
	}

	return server.New(opts, logger).Run()
}

// newRedisClient parses --redis-url into a client for the distributed
// admission counter and failed-Basic-auth lockout.
func newRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// applyCredential parses -c/--credential and stores either the plaintext
// pre-encoded form or, with --credential-hash, only its bcrypt hash.
func applyCredential(policy *admission.Policy, cfg *config.Config) error {
	user, pass, err := config.ParseCredential(cfg.Credential)
	if err != nil {
		return err
	}
	if cfg.CredentialHash {
		hash, err := admission.HashCredential(user, pass)
		if err != nil {
			return fmt.Errorf("hash credential: %w", err)
		}
		policy.CredentialHash = hash
		// The plaintext is deliberately not kept: /token will serve "" in
		// this mode, so non-browser clients must already know the
		// credential out-of-band.
		return nil
	}
	policy.BasicCreds = admission.NewBasicCredential(user, pass)
	return nil
}

func resolveAddr(cfg *config.Config) (addr string, unixSocket bool) {
	if cfg.Interface != "" && (hasSuffixAny(cfg.Interface, ".sock", ".socket")) {
		return cfg.Interface, true
	}
	host := cfg.Interface
	return host + ":" + cfg.Port, false
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}

func joinPath(base, p string) string {
	return strings.TrimSuffix(base, "/") + p
}

func secondsToDuration(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func logLevelFor(debug int) string {
	if debug <= 0 {
		return "info"
	}
	return "debug"
}
