package server

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a control-protocol client, used by sourcefsctl and by tests.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	nextID uint64
}

// Dial connects to a daemon using the same address rules the server listens
// with.
func Dial(address, dataDir string, timeout time.Duration) (*Client, error) {
	network, addr, err := ResolveListenAddress(address, dataDir)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s %q: %w", network, addr, err)
	}
	return &Client{conn: conn}, nil
}

// Call performs one request round trip. result may be nil when the caller
// only cares about success.
func (c *Client) Call(method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := request{ID: c.nextID, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", method, err)
		}
		req.Params = raw
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	if err := writeFrame(c.conn, payload, 0); err != nil {
		return fmt.Errorf("failed to send %s request: %w", method, err)
	}

	respPayload, err := readFrame(c.conn)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var resp response
	if err := json.Unmarshal(respPayload, &resp); err != nil {
		return fmt.Errorf("malformed %s response: %w", method, err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("response id %d does not match request id %d", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
