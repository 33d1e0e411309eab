// Package session implements the per-connection Session State Machine of
// spec.md §4.3: it performs the handshake, owns exactly one PTY process,
// pumps bytes in both directions with backpressure, and tears down on any
// terminating event.
//
// Grounded on the teacher's handlers/terminal.go + services/terminal.go
// pairing, generalized from Nebulide's "one shell reused across
// reconnects, keyed by user" model into spec.md's "exactly one child per
// session, destroyed with the session" model (see SPEC_FULL.md's
// Non-goals note on why the reconnect behavior is deliberately dropped).
package session

import (
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gottyd/internal/admission"
	"gottyd/internal/apperr"
	"gottyd/internal/ptyproc"
	"gottyd/internal/wsproto"
)

// State is one of the rows of spec.md §4.3's state table.
type State int

const (
	StateEstablished State = iota
	StateInitialSending
	StateAwaitingHandshake
	StateRunning
	StateClosing
)

// Config is the immutable, server-wide template a Session spawns its child
// from (spec.md §3 Server: argv/argc template, environment template,
// close-signal, writable flag, etc).
type Config struct {
	ArgvTemplate    []string
	EnvTemplate     []string
	Cwd             string
	Writable        bool
	URLArgEnabled   bool
	TerminalType    string
	PreferencesJSON []byte
	WindowTitle     string
	CloseSignal     syscall.Signal
	PingInterval    time.Duration // 0 disables WebSocket pings
}

// Info is the per-connection identity captured at Established (spec.md
// §3 Session: peer address, requested URL path, per-session arg overrides).
type Info struct {
	ID       string
	PeerAddr string
	Path     string
	URLArgs  []string
}

// TerminateHook is called exactly once when a session finishes, so the
// server can decrement client_count, drop the session from its set, and
// evaluate --once / --exit-no-conn (spec.md §4.3 Termination, §4.5).
type TerminateHook func(s *Session)

// Session is one WebSocket client's server-side state.
type Session struct {
	info   Info
	cfg    Config
	policy *admission.Policy
	logger *zap.Logger
	conn   *websocket.Conn
	onDone TerminateHook

	writeMu sync.Mutex // serializes conn.WriteMessage/Close calls

	stateMu       sync.Mutex
	state         State
	authenticated bool
	user          string
	process       *ptyproc.Process

	wsClosed  atomic.Bool
	closeOnce sync.Once
	doneCh    chan struct{}
}

// New constructs a Session for an already-upgraded WebSocket connection.
// The caller (server) is responsible for admission (spec.md §4.4) having
// already accepted the request.
func New(conn *websocket.Conn, info Info, cfg Config, policy *admission.Policy, logger *zap.Logger, onDone TerminateHook) *Session {
	return &Session{
		conn:   conn,
		info:   info,
		cfg:    cfg,
		policy: policy,
		logger: logger,
		onDone: onDone,
		state:  StateEstablished,
		doneCh: make(chan struct{}),
	}
}

// Run drives the session to completion: sends the initial messages, then
// reads and dispatches client frames until a terminal event occurs. It
// blocks until the session is fully torn down.
func (s *Session) Run(user string) {
	s.user = user
	s.setState(StateInitialSending)
	s.sendInitials()
	s.setState(StateAwaitingHandshake)
	s.startPinger()
	s.readLoop()
}

// startPinger periodically sends a WebSocket ping so idle hangups are
// detected even with no PTY traffic (spec.md §5: "WebSocket ping interval
// is configurable and used to detect idle hangups").
func (s *Session) startPinger() {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.writeMu.Lock()
				err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeControlTimeout))
				s.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-s.doneCh:
				return
			}
		}
	}()
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

func (s *Session) getState() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// sendInitials emits SET_WINDOW_TITLE then SET_PREFERENCES, in that fixed
// order, before any PTY output can be sent (spec.md §4.3, §5).
func (s *Session) sendInitials() {
	if err := s.writeFrame(wsproto.EncodeWindowTitle(s.cfg.WindowTitle)); err != nil {
		s.terminateClientGone()
		return
	}
	if err := s.writeFrame(wsproto.EncodePreferences(s.cfg.PreferencesJSON)); err != nil {
		s.terminateClientGone()
	}
}

// writeFrame is the one place that calls conn.WriteMessage, serialized by
// writeMu so PTY-output writes, close frames, and initial messages never
// race (gorilla/websocket allows one concurrent writer; the mutex gives us
// that without a dedicated writer goroutine).
func (s *Session) writeFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *Session) writeCloseFrame(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeControlTimeout))
}

const writeControlTimeout = 5 * time.Second

// readLoop is the WebSocket → PTY half (spec.md §4.3 Readable-half). It
// returns once the connection is gone, at which point the caller's Run
// has nothing left to do.
func (s *Session) readLoop() {
	for {
		msgType, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.terminateClientGone()
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		tag, payload, ok := wsproto.Decode(raw)
		if !ok {
			continue
		}
		s.dispatch(tag, payload)
	}
}

// dispatch implements spec.md §4.3 Readable-half's tag switch, including
// the credential gate ("If server.credential != nil and not yet
// authenticated and the tag is not JSON_DATA, reject the connection").
func (s *Session) dispatch(tag wsproto.ClientTag, payload []byte) {
	if s.policy.AuthMode != admission.ModeNone && !s.isAuthenticated() && tag != wsproto.JSONData {
		s.terminatePolicy()
		return
	}

	switch tag {
	case wsproto.JSONData:
		if s.getState() != StateAwaitingHandshake {
			return // only meaningful during the handshake (spec.md §4.3)
		}
		s.handleHandshake(payload)
	case wsproto.Input:
		if s.getState() != StateRunning || len(payload) == 0 {
			return
		}
		if !s.cfg.Writable {
			return // readonly session silently drops INPUT
		}
		proc := s.currentProcess()
		if proc == nil {
			return
		}
		_ = proc.Write(payload)
	case wsproto.ResizeTerminal:
		r, err := wsproto.ParseResize(payload)
		if err != nil {
			s.logger.Warn("malformed resize payload", zap.Error(err))
			return
		}
		if proc := s.currentProcess(); proc != nil {
			proc.Resize(r.Columns, r.Rows)
		}
	case wsproto.Pause:
		if proc := s.currentProcess(); proc != nil {
			proc.Pause()
		}
	case wsproto.Resume:
		if proc := s.currentProcess(); proc != nil {
			proc.Resume()
		}
	default:
		s.logger.Warn("unknown client tag, ignoring", zap.Uint8("tag", uint8(tag)))
	}
}

func (s *Session) isAuthenticated() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.authenticated
}

func (s *Session) currentProcess() *ptyproc.Process {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.process
}

// handleHandshake implements spec.md §4.3's "Handshake processing".
func (s *Session) handleHandshake(payload []byte) {
	h, err := wsproto.ParseHandshake(payload)
	if err != nil {
		s.logger.Warn("malformed handshake JSON", zap.Error(err))
	}

	if s.policy.AuthMode != admission.ModeNone {
		if !s.policy.VerifyHandshakeToken(h.AuthToken) {
			s.terminatePolicy()
			return
		}
	}
	s.stateMu.Lock()
	s.authenticated = true
	s.stateMu.Unlock()

	argv := append([]string{}, s.cfg.ArgvTemplate...)
	if s.cfg.URLArgEnabled {
		argv = append(argv, s.info.URLArgs...)
	}

	env := append([]string{}, s.cfg.EnvTemplate...)
	env = append(env, "TERM="+s.cfg.TerminalType)
	if s.user != "" {
		env = append(env, "TTYD_USER="+s.user)
	}

	proc := ptyproc.New(argv, env, s.cfg.Cwd, s.logger)
	cols, rows := h.Columns, h.Rows
	if cols == 0 || rows == 0 {
		cols, rows = 80, 24
	}
	proc.SetSize(cols, rows)

	if err := proc.Spawn(s.onPTYRead, s.onPTYExit); err != nil {
		s.logger.Warn("failed to spawn child process", zap.Error(err))
		s.terminateUnexpected()
		return
	}

	s.stateMu.Lock()
	s.process = proc
	s.state = StateRunning
	s.stateMu.Unlock()

	proc.Resume()
}

// onPTYRead is the PTY Manager's read callback (spec.md §4.3 "Read callback
// from PTY").
func (s *Session) onPTYRead(buf []byte, eof bool) {
	if s.wsClosed.Load() {
		return
	}
	if eof {
		proc := s.currentProcess()
		if proc != nil && !proc.Running() {
			s.latchAndTerminate(exitCloseCode(proc.ExitCode()), "")
		}
		return
	}
	if err := s.writeFrame(wsproto.EncodeOutput(buf)); err != nil {
		s.latchAndTerminate(apperr.CloseAbnormal, "")
		return
	}
	if proc := s.currentProcess(); proc != nil {
		proc.ContinueReading()
	}
}

// onPTYExit is the PTY Manager's exit callback (spec.md §4.3 "Exit callback
// from PTY").
func (s *Session) onPTYExit(code, signal int) {
	if s.wsClosed.Load() {
		if proc := s.currentProcess(); proc != nil {
			proc.Free()
		}
		return
	}
	s.stateMu.Lock()
	s.process = nil
	s.stateMu.Unlock()
	s.latchAndTerminate(exitCloseCode(code), "")
}

func exitCloseCode(exitCode int) int {
	if exitCode == 0 {
		return apperr.CloseNormal
	}
	return apperr.CloseAbnormal
}

// latchAndTerminate sends the given WebSocket close code/reason to the
// client, then runs common teardown.
func (s *Session) latchAndTerminate(code int, reason string) {
	s.terminate(code, reason, true)
}

func (s *Session) terminatePolicy() {
	s.terminate(1008, apperr.PolicyViolationReason, true)
}

func (s *Session) terminateUnexpected() {
	s.terminate(1011, apperr.UnexpectedReason, true)
}

// terminateClientGone is used when the WebSocket itself went away (read
// error) — there is no useful close frame left to send.
func (s *Session) terminateClientGone() {
	s.terminate(apperr.CloseAbnormal, "", false)
}

// terminate is spec.md §4.3's Termination section, run at most once.
func (s *Session) terminate(code int, reason string, sendFrame bool) {
	s.closeOnce.Do(func() {
		s.wsClosed.Store(true)
		close(s.doneCh)
		s.setState(StateClosing)

		if sendFrame {
			s.writeCloseFrame(code, reason)
		}

		proc := s.currentProcess()
		if proc != nil {
			proc.Pause()
			proc.Kill(int(s.cfg.CloseSignal))
			// The exit callback fires asynchronously once the child is
			// reaped and will call proc.Free() since wsClosed is now set.
		}

		s.writeMu.Lock()
		_ = s.conn.Close()
		s.writeMu.Unlock()

		if s.onDone != nil {
			s.onDone(s)
		}
	})
}

// Info returns the session's connection identity, for server bookkeeping.
func (s *Session) Info() Info { return s.info }

// Close tears the session down from the outside, used by the server on
// shutdown (spec.md §4.5: "releases each live session").
func (s *Session) Close() {
	s.terminate(apperr.CloseNormal, "", true)
}
