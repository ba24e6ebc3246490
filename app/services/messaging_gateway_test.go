package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/massdispatch/config"
	"github.com/amirphl/massdispatch/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMessagingGateway_SendText(t *testing.T) {
	var gotPath, gotKey string
	var gotBody sendTextRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":{"id":"ABC123"},"status":"PENDING"}`))
	}))
	defer srv.Close()

	gw := NewHTTPMessagingGateway(config.GatewayConfig{BaseURL: srv.URL + "/", APIKey: "global", Timeout: time.Second, RatePerSecond: 100})
	channel := &models.Channel{InstanceName: "shop one", APIToken: "per-channel"}

	res, err := gw.SendText(context.Background(), channel, "+989120000001", "hello")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", res.MessageID)
	assert.Equal(t, "PENDING", res.Status)

	assert.Equal(t, "/message/sendText/shop one", gotPath)
	assert.Equal(t, "per-channel", gotKey)
	assert.Equal(t, "+989120000001", gotBody.Number)
	assert.Equal(t, "hello", gotBody.Text)
}

func TestHTTPMessagingGateway_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "global", r.Header.Get("apikey"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"number does not exist"}`))
	}))
	defer srv.Close()

	gw := NewHTTPMessagingGateway(config.GatewayConfig{BaseURL: srv.URL, APIKey: "global", RatePerSecond: 100})
	channel := &models.Channel{InstanceName: "inst"}

	_, err := gw.SendText(context.Background(), channel, "+1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http status 400")
	assert.Contains(t, err.Error(), "number does not exist")

	_, err = gw.ConnectionState(context.Background(), channel)
	require.Error(t, err)

	_, err = gw.SendText(context.Background(), nil, "+1", "x")
	assert.Error(t, err)
}

func TestHTTPMessagingGateway_ConnectionState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/instance/connectionState/inst", r.URL.Path)
		_, _ = w.Write([]byte(`{"instance":{"instanceName":"inst","state":"open"}}`))
	}))
	defer srv.Close()

	gw := NewHTTPMessagingGateway(config.GatewayConfig{BaseURL: srv.URL})
	state, err := gw.ConnectionState(context.Background(), &models.Channel{InstanceName: "inst"})
	require.NoError(t, err)
	assert.True(t, state.IsConnected())
	assert.False(t, ConnectionStateConnecting.IsConnected())
}

func TestHTTPMessagingGateway_RateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"key":{"id":"1"}}`))
	}))
	defer srv.Close()

	gw := NewHTTPMessagingGateway(config.GatewayConfig{BaseURL: srv.URL, RatePerSecond: 1, RateBurst: 1})
	channel := &models.Channel{InstanceName: "inst"}

	_, err := gw.SendText(context.Background(), channel, "+1", "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = gw.SendText(ctx, channel, "+1", "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestNewMessagingGateway(t *testing.T) {
	gw, err := NewMessagingGateway(config.GatewayConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.IsType(t, &MockGateway{}, gw)

	_, err = NewMessagingGateway(config.GatewayConfig{Provider: "http"})
	assert.Error(t, err)

	_, err = NewMessagingGateway(config.GatewayConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestMockGateway(t *testing.T) {
	ctx := context.Background()
	m := NewMockGateway()
	channel := &models.Channel{InstanceName: "inst"}

	var seen []string
	m.OnSend = func(address string) { seen = append(seen, address) }
	m.FailFor("bad", errors.New("boom"))
	m.SetConnectionState("inst", ConnectionStateConnecting)

	res, err := m.SendText(ctx, channel, "good", "hi")
	require.NoError(t, err)
	assert.Equal(t, "mock-1", res.MessageID)

	_, err = m.SendText(ctx, channel, "bad", "hi")
	assert.EqualError(t, err, "boom")

	assert.Equal(t, []string{"good", "bad"}, seen)
	require.Len(t, m.Sent(), 1)
	assert.Equal(t, "inst", m.Sent()[0].Instance)

	state, err := m.ConnectionState(ctx, channel)
	require.NoError(t, err)
	assert.Equal(t, ConnectionStateConnecting, state)
}
