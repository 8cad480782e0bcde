package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/windstat/internal/model"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultCallTimeout = 10 * time.Second
)

// ErrClosed is returned by calls after the server hung up.
var ErrClosed = errors.New("socketrpc: connection closed")

var _ model.ReadAPI = (*Client)(nil)

// Client is a model.ReadAPI backed by a windstat socket server. Calls are
// serialized over one connection.
type Client struct {
	conn        net.Conn
	callTimeout time.Duration

	mu      sync.Mutex
	nextID  int
	reader  *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the server at socketPath.
func Dial(socketPath string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()
	return DialContext(ctx, socketPath)
}

// DialContext connects to the server at socketPath, honoring ctx.
func DialContext(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial %s: %w", socketPath, err)
	}
	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:        conn,
		callTimeout: defaultCallTimeout,
		reader:      reader,
		encoder:     json.NewEncoder(conn),
	}, nil
}

// SetCallTimeout bounds each request/response exchange.
func (c *Client) SetCallTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.callTimeout = d
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(method string, params, dest any) error {
	req := Request{JSONRPC: jsonrpcVersion, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("socketrpc: %s params: %w", method, err)
		}
		req.Params = raw
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req.ID = c.nextID

	_ = c.conn.SetDeadline(time.Now().Add(c.callTimeout))
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: %s: %w", method, err)
	}
	if !c.reader.Scan() {
		if err := c.reader.Err(); err != nil {
			return fmt.Errorf("socketrpc: %s: %w", method, err)
		}
		return ErrClosed
	}

	var resp Response
	if err := json.Unmarshal(c.reader.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: %s response: %w", method, err)
	}
	switch {
	case resp.ID != req.ID:
		return fmt.Errorf("socketrpc: %s: response id %d, want %d", method, resp.ID, req.ID)
	case resp.Error != nil:
		return resp.Error
	case dest == nil:
		return nil
	}
	if err := json.Unmarshal(resp.Result, dest); err != nil {
		return fmt.Errorf("socketrpc: %s result: %w", method, err)
	}
	return nil
}

func (c *Client) ListMetrics() ([]string, error) {
	var names []string
	err := c.call(MethodListMetrics, nil, &names)
	return names, err
}

func (c *Client) MetricSnapshot(name string) (model.MetricSnapshot, error) {
	var snap model.MetricSnapshot
	err := c.call(MethodMetricSnapshot, snapshotParams{Name: name}, &snap)
	return snap, err
}

func (c *Client) History(metric, window string, limit int) ([]model.HistoryPoint, error) {
	var points []model.HistoryPoint
	err := c.call(MethodHistory, historyParams{Name: metric, Window: window, Limit: limit}, &points)
	return points, err
}
