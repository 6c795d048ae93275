package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	zap "go.uber.org/zap"

	types "github.com/i-am-bee/acp-go/types"
)

// ACPClient defines the interface for an ACP protocol client
type ACPClient interface {
	// Liveness and discovery
	Ping(ctx context.Context) error
	ListAgents(ctx context.Context) ([]types.AgentManifest, error)
	GetAgent(ctx context.Context, name string) (*types.AgentManifest, error)

	// Run operations
	RunSync(ctx context.Context, req types.RunCreateRequest) (*types.Run, error)
	RunAsync(ctx context.Context, req types.RunCreateRequest) (*types.Run, error)
	RunStream(ctx context.Context, req types.RunCreateRequest, eventChan chan<- types.Event) error
	GetRun(ctx context.Context, runID string) (*types.Run, error)
	ResumeRunSync(ctx context.Context, runID string, resume types.AwaitResume) (*types.Run, error)
	ResumeRunStream(ctx context.Context, runID string, resume types.AwaitResume, eventChan chan<- types.Event) error
	CancelRun(ctx context.Context, runID string) (*types.Run, error)
	RunEvents(ctx context.Context, runID string, eventChan chan<- types.Event) error

	// Session operations
	GetSession(ctx context.Context, sessionID string) (*types.SessionResponse, error)

	// Configuration
	SetTimeout(timeout time.Duration)
	SetHTTPClient(client *http.Client)
	SetHeader(key, value string)
	GetBaseURL() string

	// Logger configuration
	SetLogger(logger *zap.Logger)
	GetLogger() *zap.Logger
}

var _ ACPClient = (*Client)(nil)

// Config holds configuration options for the ACP client
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
	Headers    map[string]string
	Logger     *zap.Logger
}

// DefaultConfig returns a default configuration
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:   baseURL,
		Timeout:   30 * time.Second,
		UserAgent: "ACP-Go-Client/1.0",
		Headers:   make(map[string]string),
		Logger:    zap.NewNop(),
	}
}

// Client represents an ACP protocol client
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new ACP client with default configuration
func NewClient(baseURL string) ACPClient {
	config := DefaultConfig(baseURL)
	return NewClientWithConfig(config)
}

// NewClientWithConfig creates a new ACP client with custom configuration
func NewClientWithConfig(config *Config) ACPClient {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if config.UserAgent == "" {
		config.UserAgent = "ACP-Go-Client/1.0"
	}
	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// endpointURL joins the base URL with an endpoint path
func (c *Client) endpointURL(path string) string {
	return strings.TrimSuffix(c.config.BaseURL, "/") + path
}

// Ping checks that the server is reachable
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "GET", "/ping", nil, "")
	if err != nil {
		return err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// ListAgents retrieves the manifests of all agents hosted by the server
func (c *Client) ListAgents(ctx context.Context) ([]types.AgentManifest, error) {
	resp, err := c.doRequest(ctx, "GET", "/agents", nil, "")
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	var list types.AgentsListResponse
	if err := c.decodeResponse(resp, &list); err != nil {
		return nil, err
	}

	return list.Agents, nil
}

// GetAgent retrieves a single agent's manifest
func (c *Client) GetAgent(ctx context.Context, name string) (*types.AgentManifest, error) {
	resp, err := c.doRequest(ctx, "GET", "/agents/"+name, nil, "")
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	var manifest types.AgentManifest
	if err := c.decodeResponse(resp, &manifest); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// RunSync creates a run and blocks until it settles or awaits input
func (c *Client) RunSync(ctx context.Context, req types.RunCreateRequest) (*types.Run, error) {
	req.Mode = types.RunModeSync
	return c.createRun(ctx, req)
}

// RunAsync creates a run and returns immediately; poll with GetRun or
// attach with RunEvents
func (c *Client) RunAsync(ctx context.Context, req types.RunCreateRequest) (*types.Run, error) {
	req.Mode = types.RunModeAsync
	return c.createRun(ctx, req)
}

func (c *Client) createRun(ctx context.Context, req types.RunCreateRequest) (*types.Run, error) {
	c.logger.Debug("creating run",
		zap.String("agent_name", req.AgentName),
		zap.String("mode", string(req.Mode)))

	resp, err := c.doRequest(ctx, "POST", "/runs", req, "")
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	var run types.Run
	if err := c.decodeResponse(resp, &run); err != nil {
		return nil, err
	}

	return &run, nil
}

// RunStream creates a run and streams its events into eventChan until the
// run settles or awaits input. The channel is not closed by the client.
func (c *Client) RunStream(ctx context.Context, req types.RunCreateRequest, eventChan chan<- types.Event) error {
	req.Mode = types.RunModeStream
	return c.streamRequest(ctx, "POST", "/runs", req, eventChan)
}

// GetRun retrieves the current state of a run
func (c *Client) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	resp, err := c.doRequest(ctx, "GET", "/runs/"+runID, nil, "")
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	var run types.Run
	if err := c.decodeResponse(resp, &run); err != nil {
		return nil, err
	}

	return &run, nil
}

// ResumeRunSync resumes an awaiting run and blocks until it settles or
// awaits input again
func (c *Client) ResumeRunSync(ctx context.Context, runID string, resume types.AwaitResume) (*types.Run, error) {
	req := types.RunResumeRequest{AwaitResume: resume, Mode: types.RunModeSync}

	resp, err := c.doRequest(ctx, "POST", "/runs/"+runID, req, "")
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	var run types.Run
	if err := c.decodeResponse(resp, &run); err != nil {
		return nil, err
	}

	return &run, nil
}

// ResumeRunStream resumes an awaiting run and streams its events
func (c *Client) ResumeRunStream(ctx context.Context, runID string, resume types.AwaitResume, eventChan chan<- types.Event) error {
	req := types.RunResumeRequest{AwaitResume: resume, Mode: types.RunModeStream}
	return c.streamRequest(ctx, "POST", "/runs/"+runID, req, eventChan)
}

// CancelRun requests cancellation of a run
func (c *Client) CancelRun(ctx context.Context, runID string) (*types.Run, error) {
	resp, err := c.doRequest(ctx, "POST", "/runs/"+runID+"/cancel", nil, "")
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	var run types.Run
	if err := c.decodeResponse(resp, &run); err != nil {
		return nil, err
	}

	return &run, nil
}

// RunEvents re-attaches to a run's event stream
func (c *Client) RunEvents(ctx context.Context, runID string, eventChan chan<- types.Event) error {
	return c.streamRequest(ctx, "GET", "/runs/"+runID+"/events", nil, eventChan)
}

// GetSession retrieves a session's conversation history
func (c *Client) GetSession(ctx context.Context, sessionID string) (*types.SessionResponse, error) {
	resp, err := c.doRequest(ctx, "GET", "/sessions/"+sessionID, nil, "")
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	var session types.SessionResponse
	if err := c.decodeResponse(resp, &session); err != nil {
		return nil, err
	}

	return &session, nil
}

// doRequest sends an HTTP request with the client's headers applied
func (c *Client) doRequest(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpointURL(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	return resp, nil
}

// decodeResponse decodes a JSON response body, surfacing protocol errors
func (c *Client) decodeResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var protocolErr types.Error
		if err := json.Unmarshal(body, &protocolErr); err == nil && protocolErr.Code != "" {
			return &protocolErr
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// streamRequest consumes an SSE response, forwarding decoded events into
// eventChan until the stream ends
func (c *Client) streamRequest(ctx context.Context, method, path string, body any, eventChan chan<- types.Event) error {
	resp, err := c.doRequest(ctx, method, path, body, "text/event-stream")
	if err != nil {
		return err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var protocolErr types.Error
		if err := json.Unmarshal(respBody, &protocolErr); err == nil && protocolErr.Code != "" {
			return &protocolErr
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	c.logger.Debug("streaming response started")

	scanner := bufio.NewScanner(resp.Body)
	eventCount := 0
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("streaming context cancelled", zap.Int("events_received", eventCount))
			return ctx.Err()
		default:
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("failed to scan response: %w", err)
				}
				c.logger.Debug("streaming completed", zap.Int("events_received", eventCount))
				return nil
			}

			line := scanner.Text()
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}

			jsonData := strings.TrimPrefix(line, "data: ")

			var event types.Event
			if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
				return fmt.Errorf("failed to decode event: %w", err)
			}

			eventCount++

			select {
			case eventChan <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
}

func (c *Client) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Warn("failed to close response body", zap.Error(err))
	}
}

// SetHTTPClient allows customizing the HTTP client
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
	c.config.HTTPClient = client
}

// SetTimeout sets the timeout for HTTP requests
func (c *Client) SetTimeout(timeout time.Duration) {
	c.config.Timeout = timeout
	c.httpClient.Timeout = timeout
}

// SetHeader sets a header sent with every request, e.g. an Authorization
// bearer token
func (c *Client) SetHeader(key, value string) {
	c.config.Headers[key] = value
}

// GetBaseURL returns the configured base URL
func (c *Client) GetBaseURL() string {
	return c.config.BaseURL
}

// SetLogger sets the client logger
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c.logger = logger
	c.config.Logger = logger
}

// GetLogger returns the client logger
func (c *Client) GetLogger() *zap.Logger {
	return c.logger
}
