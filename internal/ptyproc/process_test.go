package ptyproc

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEnv() []string {
	return append(os.Environ(), "TERM=xterm-256color")
}

func TestSpawnEchoesInputThroughCat(t *testing.T) {
	p := New([]string{"cat"}, testEnv(), "", zap.NewNop())
	p.SetSize(80, 24)

	var mu sync.Mutex
	var received []byte
	gotData := make(chan struct{}, 1)

	err := p.Spawn(func(buf []byte, eof bool) {
		if eof {
			return
		}
		mu.Lock()
		received = append(received, buf...)
		mu.Unlock()
		select {
		case gotData <- struct{}{}:
		default:
		}
		p.Resume()
	}, func(code, sig int) {})
	require.NoError(t, err)
	defer p.Free()

	p.Resume()
	require.NoError(t, p.Write([]byte("hello\n")))

	select {
	case <-gotData:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for PTY output")
	}

	// give cat's echo+repeat a moment to fully land
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, string(received), "hello")
}

func TestPauseStopsDeliveryUntilResume(t *testing.T) {
	p := New([]string{"cat"}, testEnv(), "", zap.NewNop())
	p.SetSize(80, 24)

	deliveries := make(chan []byte, 8)
	err := p.Spawn(func(buf []byte, eof bool) {
		if eof {
			return
		}
		deliveries <- buf
	}, func(code, sig int) {})
	require.NoError(t, err)
	defer p.Free()

	// Do not call Resume(): process starts paused, so no delivery should
	// occur even though cat has output pending.
	require.NoError(t, p.Write([]byte("abc\n")))

	select {
	case <-deliveries:
		t.Fatal("received data while paused")
	case <-time.After(200 * time.Millisecond):
	}

	p.Resume()
	select {
	case buf := <-deliveries:
		assert.Contains(t, string(buf), "abc")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resumed delivery")
	}
}

func TestExplicitPauseOverridesAutoContinue(t *testing.T) {
	p := New([]string{"cat"}, testEnv(), "", zap.NewNop())
	p.SetSize(80, 24)

	deliveries := make(chan []byte, 8)
	err := p.Spawn(func(buf []byte, eof bool) {
		if eof {
			return
		}
		deliveries <- buf
		// Mirrors session.onPTYRead's post-write backpressure continuation:
		// must not override a client-initiated Pause.
		p.ContinueReading()
	}, func(code, sig int) {})
	require.NoError(t, err)
	defer p.Free()

	p.Resume()
	require.NoError(t, p.Write([]byte("first\n")))

	select {
	case buf := <-deliveries:
		assert.Contains(t, string(buf), "first")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first delivery")
	}

	p.Pause()
	require.NoError(t, p.Write([]byte("second\n")))

	select {
	case <-deliveries:
		t.Fatal("received data after Pause; ContinueReading must not override it")
	case <-time.After(200 * time.Millisecond):
	}

	p.Resume()
	select {
	case buf := <-deliveries:
		assert.Contains(t, string(buf), "second")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery after Resume")
	}
}

func TestExitCallbackFiresOnNormalExit(t *testing.T) {
	p := New([]string{"true"}, testEnv(), "", zap.NewNop())
	p.SetSize(80, 24)

	exited := make(chan int, 1)
	err := p.Spawn(func(buf []byte, eof bool) {
		if !eof {
			p.Resume()
		}
	}, func(code, sig int) {
		exited <- code
	})
	require.NoError(t, err)
	defer p.Free()
	p.Resume()

	select {
	case code := <-exited:
		assert.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}
	assert.False(t, p.Running())
}

func TestWriteAfterExitReturnsError(t *testing.T) {
	p := New([]string{"true"}, testEnv(), "", zap.NewNop())
	p.SetSize(80, 24)

	done := make(chan struct{})
	err := p.Spawn(func(buf []byte, eof bool) {
		if !eof {
			p.Resume()
		}
	}, func(code, sig int) {
		close(done)
	})
	require.NoError(t, err)
	defer p.Free()
	p.Resume()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	time.Sleep(20 * time.Millisecond)
	assert.Error(t, p.Write([]byte("x")))
}
