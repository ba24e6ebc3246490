package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/massdispatch/config"
	"github.com/amirphl/massdispatch/models"
	"golang.org/x/time/rate"
)

// ConnectionState is the gateway-reported state of a channel instance
type ConnectionState string

const (
	ConnectionStateOpen       ConnectionState = "open"
	ConnectionStateConnecting ConnectionState = "connecting"
	ConnectionStateClosed     ConnectionState = "close"
)

// IsConnected reports whether messages can be sent through the instance
func (s ConnectionState) IsConnected() bool {
	return s == ConnectionStateOpen
}

// SendResult is what the gateway returns for an accepted message
type SendResult struct {
	MessageID string
	Status    string
}

// MessagingGateway delivers text messages through a channel instance of the external gateway
type MessagingGateway interface {
	SendText(ctx context.Context, channel *models.Channel, address, body string) (*SendResult, error)
	ConnectionState(ctx context.Context, channel *models.Channel) (ConnectionState, error)
}

// NewMessagingGateway builds the gateway selected by configuration
func NewMessagingGateway(cfg config.GatewayConfig) (MessagingGateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("gateway base url is required")
		}
		return NewHTTPMessagingGateway(cfg), nil
	case "mock":
		return NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}
}

type httpMessagingGateway struct {
	cfg     config.GatewayConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPMessagingGateway creates a JSON-over-HTTP gateway client. All sends of the process
// share one rate limiter.
func NewHTTPMessagingGateway(cfg config.GatewayConfig) MessagingGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = rps
	}
	return &httpMessagingGateway{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

// SendText posts one text message to the instance of the channel
func (g *httpMessagingGateway) SendText(ctx context.Context, channel *models.Channel, address, body string) (*SendResult, error) {
	if channel == nil {
		return nil, errors.New("channel is required")
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gateway rate limiter: %w", err)
	}

	payload, err := json.Marshal(sendTextRequest{Number: address, Text: body})
	if err != nil {
		return nil, err
	}
	endpoint := g.endpoint("message/sendText", channel.InstanceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("apikey", g.apiKey(channel))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readGatewayError("sendText", resp)
	}

	var out sendTextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gateway sendText decode: %w", err)
	}
	return &SendResult{MessageID: out.Key.ID, Status: out.Status}, nil
}

// ConnectionState asks the gateway whether the instance of the channel is connected
func (g *httpMessagingGateway) ConnectionState(ctx context.Context, channel *models.Channel) (ConnectionState, error) {
	if channel == nil {
		return "", errors.New("channel is required")
	}
	endpoint := g.endpoint("instance/connectionState", channel.InstanceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("apikey", g.apiKey(channel))

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", readGatewayError("connectionState", resp)
	}

	var out struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway connectionState decode: %w", err)
	}
	return ConnectionState(out.Instance.State), nil
}

func (g *httpMessagingGateway) endpoint(path, instance string) string {
	return strings.TrimRight(g.cfg.BaseURL, "/") + "/" + path + "/" + url.PathEscape(instance)
}

func (g *httpMessagingGateway) apiKey(channel *models.Channel) string {
	if channel.APIToken != "" {
		return channel.APIToken
	}
	return g.cfg.APIKey
}

func readGatewayError(op string, resp *http.Response) error {
	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	body := strings.TrimSpace(string(bodyBytes))
	if readErr != nil {
		body = fmt.Sprintf("unable to read response body: %v", readErr)
	}
	return fmt.Errorf("gateway %s http status %d: %s", op, resp.StatusCode, body)
}

// SentMessage is a message recorded by MockGateway
type SentMessage struct {
	Instance string
	Address  string
	Body     string
	At       time.Time
}

// MockGateway is an in-process gateway that records sends and fails on demand
type MockGateway struct {
	mu       sync.Mutex
	failures map[string]error
	states   map[string]ConnectionState
	stateErr error
	sent     []SentMessage
	seq      int

	// OnSend, when set, runs before every send attempt
	OnSend func(address string)
}

// NewMockGateway creates a mock gateway whose instances are all connected
func NewMockGateway() *MockGateway {
	return &MockGateway{
		failures: make(map[string]error),
		states:   make(map[string]ConnectionState),
	}
}

// FailFor makes every send to address fail with err
func (m *MockGateway) FailFor(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = errors.New("mock gateway failure")
	}
	m.failures[address] = err
}

// SetConnectionState overrides the reported state of an instance
func (m *MockGateway) SetConnectionState(instance string, state ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[instance] = state
}

// SetConnectionStateError makes ConnectionState return err
func (m *MockGateway) SetConnectionStateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateErr = err
}

// Sent returns a copy of the successfully sent messages in send order
func (m *MockGateway) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockGateway) SendText(ctx context.Context, channel *models.Channel, address, body string) (*SendResult, error) {
	if m.OnSend != nil {
		m.OnSend(address)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failures[address]; ok {
		return nil, err
	}
	m.seq++
	instance := ""
	if channel != nil {
		instance = channel.InstanceName
	}
	m.sent = append(m.sent, SentMessage{Instance: instance, Address: address, Body: body, At: time.Now().UTC()})
	return &SendResult{MessageID: fmt.Sprintf("mock-%d", m.seq), Status: "PENDING"}, nil
}

func (m *MockGateway) ConnectionState(ctx context.Context, channel *models.Channel) (ConnectionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return "", m.stateErr
	}
	if channel != nil {
		if state, ok := m.states[channel.InstanceName]; ok {
			return state, nil
		}
	}
	return ConnectionStateOpen, nil
}
