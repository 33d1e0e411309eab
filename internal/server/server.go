// Package server is the Server Core of spec.md §4.5: it owns the listener,
// the admission policy, the session registry, and the signal-driven
// shutdown sequence. It is the one place process-wide state lives, threaded
// explicitly rather than through a file-scope singleton (spec.md §9's
// "global-in-name-only" redesign flag).
//
// Grounded on the teacher's main.go router assembly and
// handlers/websocket.go's checkWSOrigin, generalized into an explicit
// *Server value instead of package-level globals, with the session set
// held in an identifier-keyed map (spec.md §9's "replace intrusive linked
// lists with an identifier-keyed map" redesign flag).
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gottyd/internal/admission"
	"gottyd/internal/httpstatic"
	"gottyd/internal/session"
	"gottyd/internal/store"
)

// Options is the fully-resolved, immutable configuration the server is
// built from (spec.md §6's CLI surface, already parsed and defaulted by
// internal/config and cmd/gottyd).
type Options struct {
	Addr        string // host:port or UNIX-socket path
	UnixSocket  bool
	SocketOwner string
	BasePath    string
	IndexPath   string
	Browser     bool

	// UID/GID implement -u/--uid and -g/--gid: drop privileges to this
	// user/group once the listener is bound. -1 (the default) means leave
	// the process's current identity untouched.
	UID int
	GID int

	SessionCfg session.Config
	Policy     *admission.Policy

	Once       bool
	ExitNoConn bool

	TLS *TLSConfig

	Store *store.Store // optional; nil disables audit logging

	// Counter tracks live-client admission. Defaults to an in-process
	// admission.LocalCounter; set to an admission.RedisCounter (--redis-url)
	// to share the cap across instances behind a load balancer.
	Counter admission.Counter

	// Lockout applies the tiered failed-Basic-auth backoff when set
	// (--redis-url); nil disables it.
	Lockout *admission.Lockout
}

// TLSConfig carries spec.md §6's -S/-C/-K/-A flag group.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// Server is one running gottyd instance.
type Server struct {
	opts   Options
	logger *zap.Logger

	endpoints httpstatic.Endpoints
	upgrader  websocket.Upgrader

	counter admission.Counter

	mu        sync.Mutex
	sessions  map[string]*session.Session
	forceExit atomicBool

	listener net.Listener
	httpSrv  *http.Server
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) set(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *atomicBool) get() bool  { b.mu.Lock(); defer b.mu.Unlock(); return b.v }

// New builds a Server. It does not bind a listener yet; call Run for that.
func New(opts Options, logger *zap.Logger) *Server {
	endpoints := httpstatic.NewEndpoints(opts.BasePath)
	counter := opts.Counter
	if counter == nil {
		maxClients := 0
		if opts.Policy != nil {
			maxClients = opts.Policy.MaxClients
		}
		counter = admission.NewLocalCounter(opts.Once, maxClients)
	}
	return &Server{
		opts:      opts,
		logger:    logger,
		endpoints: endpoints,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true }, // admission does its own Origin check
		},
		sessions: make(map[string]*session.Session),
		counter:  counter,
	}
}

// Run builds the gin engine, binds the listener, and blocks until the
// server shuts down (either from a signal or --once/--exit-no-conn
// reaching zero live clients). It logs the effective configuration once at
// startup (spec.md §4.5).
func (s *Server) Run() error {
	s.logger.Info("starting gottyd",
		zap.String("addr", s.opts.Addr),
		zap.String("base_path", s.opts.BasePath),
		zap.Bool("writable", s.opts.SessionCfg.Writable),
		zap.Bool("once", s.opts.Once),
		zap.Bool("exit_no_conn", s.opts.ExitNoConn),
		zap.Int("max_clients", s.opts.Policy.MaxClients),
	)

	r := gin.New()
	r.Use(ginZapRecovery(s.logger), securityHeaders())

	index, err := s.loadIndex()
	if err != nil {
		return fmt.Errorf("server: load index: %w", err)
	}
	credential := ""
	if s.opts.Policy.AuthMode == admission.ModeBasic {
		credential = s.opts.Policy.BasicCreds
	}
	static := httpstatic.New(s.endpoints, s.opts.Policy, credential, index)
	static.Register(r)
	r.GET(s.endpoints.WS, s.handleWebSocket)

	listener, err := s.listen()
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = listener

	if s.opts.UID >= 0 || s.opts.GID >= 0 {
		if err := dropPrivileges(s.opts.UID, s.opts.GID); err != nil {
			return fmt.Errorf("server: drop privileges: %w", err)
		}
		s.logger.Info("dropped privileges", zap.Int("uid", s.opts.UID), zap.Int("gid", s.opts.GID))
	}

	s.httpSrv = &http.Server{Handler: r}
	if s.opts.TLS != nil {
		cert, err := loadTLS(*s.opts.TLS)
		if err != nil {
			return fmt.Errorf("server: tls: %w", err)
		}
		s.httpSrv.TLSConfig = cert
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.opts.TLS != nil {
			err = s.httpSrv.ServeTLS(listener, "", "")
		} else {
			err = s.httpSrv.Serve(listener)
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	s.waitForShutdown(errCh)
	return nil
}

// waitForShutdown installs SIGINT/SIGTERM handling (spec.md §4.5, §5): the
// first signal requests a graceful shutdown; a second forces immediate
// exit.
func (s *Server) waitForShutdown(serveErr <-chan error) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-serveErr:
		if err != nil {
			s.logger.Error("listener failed", zap.Error(err))
		}
	case sig := <-sigCh:
		s.logger.Info("shutdown requested", zap.String("signal", sig.String()))
		s.forceExit.set(true)
		s.shutdown()
		select {
		case <-sigCh:
			s.logger.Warn("second signal received, forcing exit")
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}
}

// shutdown tears the listener down, then every live session (spec.md
// §4.5: "tears down the listener, then releases each live session").
func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpSrv != nil {
		_ = s.httpSrv.Shutdown(ctx)
	}

	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// handleWebSocket is the WS endpoint's admission + upgrade + session
// handoff, implementing spec.md §4.4's mandated stage order: 1. client
// caps/once, 2. HTTP-layer auth (gated by the failed-auth lockout), 3. path,
// 4. origin. An over-capacity or unauthenticated request is rejected before
// path/origin are ever consulted.
func (s *Server) handleWebSocket(c *gin.Context) {
	ctx := c.Request.Context()
	remoteAddr := c.Request.RemoteAddr

	admitted, err := s.counter.TryAdmit(ctx)
	if err != nil {
		s.logger.Warn("admission counter failed", zap.Error(err))
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	if !admitted {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	if s.opts.Lockout != nil {
		if locked, retryAfter := s.opts.Lockout.IsLocked(ctx, remoteAddr); locked {
			_ = s.counter.Release(ctx)
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
	}

	user, err := s.opts.Policy.AuthenticateHTTP(c.Request)
	if err != nil {
		_ = s.counter.Release(ctx)
		if s.opts.Lockout != nil {
			s.opts.Lockout.RecordFailure(ctx, remoteAddr)
		}
		if s.opts.Policy.AuthMode == admission.ModeBasic {
			c.Header("WWW-Authenticate", `Basic realm="ttyd"`)
		}
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if s.opts.Lockout != nil {
		s.opts.Lockout.RecordSuccess(ctx, remoteAddr)
	}

	if err := s.opts.Policy.CheckPath(c.Request.URL.Path); err != nil {
		_ = s.counter.Release(ctx)
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if err := s.opts.Policy.CheckOriginHeaders(c.GetHeader("Origin"), c.Request.Host); err != nil {
		_ = s.counter.Release(ctx)
		s.logger.Warn("origin check failed", zap.String("origin", c.GetHeader("Origin")))
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		_ = s.counter.Release(ctx)
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	info := session.Info{
		ID:       id,
		PeerAddr: c.Request.RemoteAddr,
		Path:     c.Request.URL.Path,
		URLArgs:  c.QueryArray(urlArgKey),
	}
	logger := s.logger.With(zap.String("session", id))
	started := time.Now()

	sess := session.New(conn, info, s.opts.SessionCfg, s.opts.Policy, logger, func(done *session.Session) {
		s.onSessionDone(done, user, started)
	})

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	sess.Run(user)
}

const urlArgKey = "arg"

// onSessionDone implements the TerminateHook: bookkeeping, optional audit
// write, and --once/--exit-no-conn evaluation (spec.md §9: "exit when
// count reaches zero if either flag is set").
func (s *Server) onSessionDone(sess *session.Session, user string, started time.Time) {
	info := sess.Info()

	s.mu.Lock()
	delete(s.sessions, info.ID)
	once := s.opts.Once
	s.mu.Unlock()

	_ = s.counter.Release(context.Background())
	remaining, err := s.counter.Count(context.Background())
	if err != nil {
		s.logger.Warn("admission counter count failed", zap.Error(err))
	}

	if s.opts.Store != nil {
		rec := store.SessionRecord{
			PeerAddr:  info.PeerAddr,
			Path:      info.Path,
			User:      user,
			StartedAt: started,
			EndedAt:   time.Now(),
		}
		if err := s.opts.Store.Record(rec); err != nil {
			s.logger.Warn("audit record failed", zap.Error(err))
		}
	}

	if remaining <= 0 && (once || s.opts.ExitNoConn) {
		s.logger.Info("no clients remain, exiting", zap.Bool("once", once), zap.Bool("exit_no_conn", s.opts.ExitNoConn))
		go s.shutdown()
	}
}

func (s *Server) listen() (net.Listener, error) {
	if s.opts.UnixSocket {
		l, err := net.Listen("unix", s.opts.Addr)
		if err != nil {
			return nil, err
		}
		if s.opts.SocketOwner != "" {
			if err := chownSocket(s.opts.Addr, s.opts.SocketOwner); err != nil {
				s.logger.Warn("chown socket failed", zap.Error(err))
			}
		}
		return l, nil
	}
	network := "tcp"
	return net.Listen(network, s.opts.Addr)
}

func (s *Server) loadIndex() ([]byte, error) {
	if s.opts.SessionCfg.WindowTitle == "" {
		s.opts.SessionCfg.WindowTitle = fmt.Sprintf("%s (%s)", firstArg(s.opts.SessionCfg.ArgvTemplate), hostname())
	}
	return defaultIndexLoader(s)
}

func firstArg(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

func ginZapRecovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r))
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
