package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/wpphub/internal/apperr"
	"github.com/matheus3301/wpphub/internal/bus"
	"github.com/matheus3301/wpphub/internal/models"
	"github.com/matheus3301/wpphub/internal/registry"
)

type staticSource map[string]registry.NotifierConfig

func (s staticSource) NotifierConfig(_ context.Context, id string) (registry.NotifierConfig, error) {
	cfg, ok := s[id]
	if !ok {
		return registry.NotifierConfig{}, apperr.SessionNotFound(id)
	}
	return cfg, nil
}

type captured struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.requests = append(c.requests, r)
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *captured) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

var inbound = models.InboundMessage{
	ID:        "m1",
	From:      "5511@s.whatsapp.net",
	Text:      "hola",
	Timestamp: 1700000000,
	PushName:  "Ana",
}

func TestDeliverPostsEnvelope(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	n := New(staticSource{"s1": {URL: srv.URL, Token: "secret", Enabled: true}}, nil, nil, zap.NewNop(), Options{})
	n.Deliver(context.Background(), "s1", inbound)

	require.Equal(t, 1, c.count())
	req := c.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var env struct {
		SessionID string                `json:"sessionId"`
		Event     string                `json:"event"`
		Data      models.InboundMessage `json:"data"`
		Timestamp time.Time             `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(c.bodies[0], &env))
	assert.Equal(t, "s1", env.SessionID)
	assert.Equal(t, "message.received", env.Event)
	assert.Equal(t, inbound, env.Data)
	assert.False(t, env.Timestamp.IsZero())

	log := n.Log()
	require.Len(t, log, 1)
	assert.True(t, log[0].Success)
	assert.Equal(t, http.StatusOK, log[0].Status)
	assert.Equal(t, "OK", log[0].StatusText)
	assert.NotEmpty(t, log[0].ID)
}

func TestDeliverWithoutTokenOmitsAuthorization(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusNoContent))
	defer srv.Close()

	n := New(staticSource{"s1": {URL: srv.URL, Enabled: true}}, nil, nil, zap.NewNop(), Options{})
	n.Deliver(context.Background(), "s1", inbound)

	require.Equal(t, 1, c.count())
	assert.Empty(t, c.requests[0].Header.Get("Authorization"))
}

func TestDeliverSkipsInactiveConfig(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	n := New(staticSource{
		"disabled": {URL: srv.URL, Enabled: false},
		"no-url":   {Enabled: true},
	}, nil, nil, zap.NewNop(), Options{})
	n.Deliver(context.Background(), "disabled", inbound)
	n.Deliver(context.Background(), "no-url", inbound)
	n.Deliver(context.Background(), "unknown", inbound)

	assert.Zero(t, c.count())
	assert.Empty(t, n.Log())
}

func TestDeliverRecordsFailures(t *testing.T) {
	var c captured
	failing := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer failing.Close()
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	n := New(staticSource{
		"s500": {URL: failing.URL, Enabled: true},
		"dead": {URL: deadURL, Enabled: true},
	}, nil, nil, zap.NewNop(), Options{Timeout: time.Second})

	n.Deliver(context.Background(), "s500", inbound)
	n.Deliver(context.Background(), "dead", inbound)

	log := n.Log()
	require.Len(t, log, 2)

	assert.Equal(t, deadURL, log[0].URL, "newest first")
	assert.False(t, log[0].Success)
	assert.Zero(t, log[0].Status)
	assert.NotEmpty(t, log[0].Error)

	assert.False(t, log[1].Success)
	assert.Equal(t, http.StatusInternalServerError, log[1].Status)
}

func TestLogIsBoundedFIFO(t *testing.T) {
	l := NewLog(20)
	for i := 1; i <= 25; i++ {
		l.Add(LogEntry{ID: fmt.Sprint(i)})
	}

	entries := l.Entries()
	require.Len(t, entries, 20)
	assert.Equal(t, "25", entries[0].ID)
	assert.Equal(t, "6", entries[19].ID, "the five oldest are evicted")
}

func TestStartConsumesBus(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	b := bus.New()
	n := New(staticSource{"s1": {URL: srv.URL, Enabled: true}}, b, nil, zap.NewNop(), Options{Workers: 2})
	n.Start(context.Background())
	defer n.Stop()

	// The subscription is registered synchronously by Start.
	b.Publish(bus.Event{Kind: bus.KindMessageReceived, Session: "s1", Timestamp: time.Now(), Payload: inbound})
	b.Publish(bus.Event{Kind: bus.KindMessageSent, Session: "s1", Timestamp: time.Now(), Payload: inbound})

	assert.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.count(), "only received messages are forwarded")
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	n := New(staticSource{}, nil, nil, zap.NewNop(), Options{QueueSize: 1})
	assert.True(t, n.Enqueue("s1", inbound))
	assert.False(t, n.Enqueue("s1", inbound))
}
