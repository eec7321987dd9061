package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultDialTimeout bounds the connect attempt.
const DefaultDialTimeout = 2 * time.Second

// Client is a newline-delimited JSON client for the unix-socket server.
// Safe for concurrent use; calls are serialized on the single connection.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	writer  *bufio.Writer
	scanner *bufio.Scanner
	timeout time.Duration
	actor   string
}

// Dial connects to the server socket.
func Dial(socketPath, actor string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	conn, err := net.DialTimeout("unix", socketPath, DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Client{
		conn:    conn,
		writer:  bufio.NewWriter(conn),
		scanner: scanner,
		timeout: timeout,
		actor:   actor,
	}, nil
}

// Call invokes one tool. args may be any JSON-marshalable value or nil.
func (c *Client) Call(tool string, args interface{}) (*Response, error) {
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal args: %w", err)
		}
		raw = data
	}
	req := Request{Tool: tool, Args: raw, Actor: c.actor}
	payload, err := json.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := c.writer.Write(payload); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return nil, err
	}
	if err := c.writer.Flush(); err != nil {
		return nil, fmt.Errorf("flush request: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed by server")
	}
	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
