package session

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gottyd/internal/admission"
	"gottyd/internal/wsproto"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(r *http.Request) bool { return true }}

func newTestServer(t *testing.T, cfg Config, policy *admission.Policy) *httptest.Server {
	t.Helper()
	var wg sync.WaitGroup
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		s := New(conn, Info{ID: "t1", PeerAddr: r.RemoteAddr, Path: r.URL.Path}, cfg, policy, zap.NewNop(), func(*Session) {})
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Run("")
		}()
	}))
	t.Cleanup(func() {
		srv.Close()
		wg.Wait()
	})
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readInitials(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	// SET_WINDOW_TITLE then SET_PREFERENCES, in that order.
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	tag, _, ok := wsproto.Decode(raw)
	require.True(t, ok)
	require.Equal(t, wsproto.SetWindowTitle, wsproto.ServerTag(tag))

	_, raw, err = conn.ReadMessage()
	require.NoError(t, err)
	tag, _, ok = wsproto.Decode(raw)
	require.True(t, ok)
	require.Equal(t, wsproto.SetPreferences, wsproto.ServerTag(tag))
}

func defaultCfg(writable bool) Config {
	return Config{
		ArgvTemplate:    []string{"cat"},
		EnvTemplate:     append([]string{}, os.Environ()...),
		Writable:        writable,
		TerminalType:    "xterm-256color",
		PreferencesJSON: []byte("{}"),
		WindowTitle:     "cat (test)",
		CloseSignal:     syscall.SIGHUP,
	}
}

func TestNoAuthEcho(t *testing.T) {
	policy := &admission.Policy{AuthMode: admission.ModeNone}
	srv := newTestServer(t, defaultCfg(true), policy)
	conn := dialWS(t, srv)
	readInitials(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, append([]byte{'{'}, []byte(`{"columns":80,"rows":24}`)...)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, append([]byte{'0'}, []byte("hello\n")...)))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	found := false
	for i := 0; i < 10 && !found; i++ {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		tag, payload, ok := wsproto.Decode(raw)
		require.True(t, ok)
		if wsproto.ServerTag(tag) == wsproto.Output && strings.Contains(string(payload), "hello") {
			found = true
		}
	}
	assert.True(t, found, "expected an OUTPUT frame containing the echoed input")
}

func TestAuthGateRejectsMissingToken(t *testing.T) {
	policy := &admission.Policy{AuthMode: admission.ModeBasic, BasicCreds: admission.NewBasicCredential("user", "pw")}
	srv := newTestServer(t, defaultCfg(true), policy)
	conn := dialWS(t, srv)
	readInitials(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, append([]byte{'{'}, []byte(`{}`)...)))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	assert.Equal(t, 1008, closeErr.Code)
	assert.Equal(t, "policy-violation", closeErr.Text)
}

func TestAuthGateAcceptsMatchingToken(t *testing.T) {
	creds := admission.NewBasicCredential("user", "pw")
	policy := &admission.Policy{AuthMode: admission.ModeBasic, BasicCreds: creds}
	srv := newTestServer(t, defaultCfg(true), policy)
	conn := dialWS(t, srv)
	readInitials(t, conn)

	hs := `{"AuthToken":"` + creds + `","columns":80,"rows":24}`
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, append([]byte{'{'}, []byte(hs)...)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, append([]byte{'0'}, []byte("ping\n")...)))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	found := false
	for i := 0; i < 10 && !found; i++ {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		tag, payload, ok := wsproto.Decode(raw)
		require.True(t, ok)
		if wsproto.ServerTag(tag) == wsproto.Output && strings.Contains(string(payload), "ping") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestReadonlySessionDropsInput(t *testing.T) {
	policy := &admission.Policy{AuthMode: admission.ModeNone}
	srv := newTestServer(t, defaultCfg(false), policy)
	conn := dialWS(t, srv)
	readInitials(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, append([]byte{'{'}, []byte(`{"columns":80,"rows":24}`)...)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, append([]byte{'0'}, []byte("nope\n")...)))

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "readonly session must not echo INPUT back as OUTPUT")
}

func TestChildExitZeroClosesNormal(t *testing.T) {
	cfg := defaultCfg(true)
	cfg.ArgvTemplate = []string{"true"}
	policy := &admission.Policy{AuthMode: admission.ModeNone}
	srv := newTestServer(t, cfg, policy)
	conn := dialWS(t, srv)
	readInitials(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, append([]byte{'{'}, []byte(`{"columns":80,"rows":24}`)...)))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var closeErr *websocket.CloseError
	for i := 0; i < 10; i++ {
		_, _, err := conn.ReadMessage()
		if ce, ok := err.(*websocket.CloseError); ok {
			closeErr = ce
			break
		}
		require.NoError(t, err)
	}
	require.NotNil(t, closeErr)
	assert.Equal(t, 1000, closeErr.Code)
}
