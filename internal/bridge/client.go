package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/siid-ide/update-agent/pkg/api"
)

// Client talks to a running update daemon over its local socket.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient builds a client for the daemon listening at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return Dial(ctx, socketPath)
				},
			},
		},
	}
}

// State fetches the machine's current state.
func (c *Client) State(ctx context.Context) (*api.UpdateState, error) {
	var state api.UpdateState
	if err := c.call(ctx, http.MethodGet, api.EndpointState, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Check triggers a check cycle and returns the state at dispatch
// time. The cycle runs in the daemon and outlives this call; watch
// Subscribe or poll State for the outcome.
func (c *Client) Check(ctx context.Context, explicit bool) (*api.UpdateState, error) {
	var state api.UpdateState
	err := c.call(ctx, http.MethodPost, api.EndpointCheck, api.CheckRequest{Explicit: explicit}, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Download triggers the explicit artifact download.
func (c *Client) Download(ctx context.Context) (*api.UpdateState, error) {
	var state api.UpdateState
	if err := c.call(ctx, http.MethodPost, api.EndpointDownload, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Apply stages the downloaded update for install.
func (c *Client) Apply(ctx context.Context) (*api.UpdateState, error) {
	var state api.UpdateState
	if err := c.call(ctx, http.MethodPost, api.EndpointApply, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Install performs the final quit-and-install hand-off.
func (c *Client) Install(ctx context.Context) (*api.UpdateState, error) {
	var state api.UpdateState
	if err := c.call(ctx, http.MethodPost, api.EndpointInstall, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Sideload stages a pre-downloaded package, bypassing the feed.
func (c *Client) Sideload(ctx context.Context, path string) (*api.UpdateState, error) {
	var state api.UpdateState
	err := c.call(ctx, http.MethodPost, api.EndpointSideload, api.SideloadRequest{Path: path}, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Latest asks whether the running version is current. Nil means the
// feed could not answer.
func (c *Client) Latest(ctx context.Context) (*bool, error) {
	var resp api.LatestResponse
	if err := c.call(ctx, http.MethodGet, api.EndpointLatest, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Latest, nil
}

// Subscribe opens the event stream. The first state on the channel is
// the daemon's current state; the channel closes when the connection
// drops or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context) (<-chan api.UpdateState, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return Dial(ctx, c.socketPath)
		},
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, "ws://bridge"+api.EndpointEvents, nil)
	if err != nil {
		return nil, fmt.Errorf("subscribing to events: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	events := make(chan api.UpdateState)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var state api.UpdateState
			if err := conn.ReadJSON(&state); err != nil {
				return
			}
			select {
			case events <- state:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return events, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, body, out any) error {
	var reqBody *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = strings.NewReader(string(data))
	} else {
		reqBody = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://bridge"+endpoint, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling update daemon: %w", err)
	}
	defer resp.Body.Close()

	var envelope api.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if envelope.Error != "" {
		return fmt.Errorf("daemon error: %s", envelope.Error)
	}

	if out != nil && len(envelope.Metadata) > 0 {
		if err := json.Unmarshal(envelope.Metadata, out); err != nil {
			return fmt.Errorf("decoding metadata: %w", err)
		}
	}

	return nil
}
