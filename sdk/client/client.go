// Package client talks to a sidecar's HTTP API: the registry endpoints, the
// watch stream and the packet endpoint remote gateways post to.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is the sidecar API client.
type Client struct {
	baseURL    string
	rootPath   string
	authHeader string
	httpClient *http.Client
}

// Option is a function that configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithBearerToken authenticates with a static token or a JWT.
func WithBearerToken(token string) Option {
	return func(client *Client) {
		client.authHeader = "Bearer " + token
	}
}

// WithBasicAuth authenticates as a configured listener user.
func WithBasicAuth(username, password string) Option {
	return func(client *Client) {
		req := http.Request{Header: http.Header{}}
		req.SetBasicAuth(username, password)
		client.authHeader = req.Header.Get("Authorization")
	}
}

// WithRootPath sets the server.root_path the sidecar mounts its API under.
func WithRootPath(path string) Option {
	return func(client *Client) {
		client.rootPath = "/" + strings.Trim(path, "/")
		if client.rootPath == "/" {
			client.rootPath = ""
		}
	}
}

// NewClient creates a new sidecar API client.
//
// Parameters:
//   - baseURL: The sidecar listener URL (e.g., "http://127.0.0.1:4000")
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) apiURL(path string) string {
	return c.baseURL + c.rootPath + "/v1" + path
}

// Health retrieves the listener health. A stopping sidecar answers 503 with
// status "stopping", which is returned without an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("health: status=%d: %w", resp.StatusCode, err)
	}
	return &h, nil
}

// ListNodes retrieves the nodes the sidecar knows about.
func (c *Client) ListNodes(ctx context.Context, onlyAvailable bool) ([]Node, error) {
	q := url.Values{}
	if onlyAvailable {
		q.Set("onlyAvailable", "true")
	}

	var nodes []Node
	if err := c.doRequest(ctx, http.MethodGet, c.apiURL("/registry/nodes"), q, &nodes); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// ListServices retrieves the service catalog.
func (c *Client) ListServices(ctx context.Context, query ServiceQuery) ([]Service, error) {
	q := url.Values{}
	if query.NodeID != "" {
		q.Set("nodeID", query.NodeID)
	}
	for name, v := range map[string]bool{
		"onlyAvailable": query.OnlyAvailable,
		"withActions":   query.WithActions,
		"withEvents":    query.WithEvents,
		"grouping":      query.Grouping,
	} {
		if v {
			q.Set(name, strconv.FormatBool(v))
		}
	}

	var services []Service
	if err := c.doRequest(ctx, http.MethodGet, c.apiURL("/registry/services"), q, &services); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return services, nil
}

// ForgetNode removes a disconnected node from the registry and its store.
func (c *Client) ForgetNode(ctx context.Context, nodeID string) error {
	if err := c.doRequest(ctx, http.MethodDelete, c.apiURL("/registry/nodes/"+url.PathEscape(nodeID)), nil, nil); err != nil {
		return fmt.Errorf("forget node: %w", err)
	}
	return nil
}

// SendPacket posts one packet to the sidecar. It returns the reply packet, or
// nil when the sidecar only acknowledged it.
func (c *Client) SendPacket(ctx context.Context, p *Packet) (*Packet, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal packet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("/message"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send packet: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var perr PacketError
		if err := json.Unmarshal(respBody, &perr); err != nil || perr.Name == "" {
			return nil, fmt.Errorf("send packet: status=%d body=%s", resp.StatusCode, string(respBody))
		}
		return nil, &perr
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}

	var reply Packet
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return &reply, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}
}

// doRequest performs a registry API request and decodes its data.
func (c *Client) doRequest(ctx context.Context, method, rawURL string, query url.Values, result any) error {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("api error: status=%d body=%s", resp.StatusCode, string(respBody))
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if !apiResp.Success {
		if apiResp.Error != nil {
			return fmt.Errorf("api error: status=%d type=%s: %s", resp.StatusCode, apiResp.Error.Type, apiResp.Error.Message)
		}
		return fmt.Errorf("api error: status=%d: %s", resp.StatusCode, apiResp.Message)
	}

	if result == nil || len(apiResp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(apiResp.Data, result); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return nil
}
