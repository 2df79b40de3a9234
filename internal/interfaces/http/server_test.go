package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(ServerConfig{Host: "127.0.0.1", Port: 8080}, http.NewServeMux(), nil)
	require.NotNil(t, s)
	assert.Equal(t, "127.0.0.1:8080", s.Addr())
	assert.Equal(t, 15*time.Second, s.srv.ReadTimeout)
	assert.Equal(t, 30*time.Second, s.shutdownTimeout)
	assert.NotNil(t, s.Handler())
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, http.NewServeMux(), nil)

	done := make(chan error, 1)
	go func() { done <- s.Start() }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
