package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds a single tool call.
const DefaultRequestTimeout = 30 * time.Second

// maxLineBytes caps one newline-delimited request frame.
const maxLineBytes = 8 * 1024 * 1024

// Server accepts newline-delimited JSON tool calls over a unix socket.
type Server struct {
	socketPath     string
	handlers       *Handlers
	logger         *zap.Logger
	requestTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup

	// Shutdown receives once when a client issues the shutdown operation.
	Shutdown chan struct{}
}

// NewServer builds a Server bound to socketPath.
func NewServer(socketPath string, handlers *Handlers, logger *zap.Logger, requestTimeout time.Duration) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Server{
		socketPath:     socketPath,
		handlers:       handlers,
		logger:         logger.Named("rpc"),
		requestTimeout: requestTimeout,
		conns:          make(map[net.Conn]struct{}),
		Shutdown:       make(chan struct{}, 1),
	}
}

// Start binds the socket and begins accepting connections.
func (s *Server) Start() error {
	// A stale socket from a crashed process blocks the bind.
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.closed = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(listener)

	s.logger.Info("server listening", zap.String("socket", s.socketPath))
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to drain.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
	s.logger.Info("server stopped", zap.String("socket", s.socketPath))
	return err
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	writer := bufio.NewWriter(conn)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.send(writer, Fail(CodeParse, "malformed request: "+err.Error()))
			continue
		}

		resp := s.handleRequest(&req)
		s.send(writer, resp)

		if req.Tool == OpShutdown {
			select {
			case s.Shutdown <- struct{}{}:
			default:
			}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("connection read ended", zap.Error(err))
	}
}

func (s *Server) handleRequest(req *Request) *Response {
	if req.Tool == OpShutdown {
		return Ok(map[string]string{"status": "shutting down"})
	}

	fn, ok := s.handlers.Lookup(req.Tool)
	if !ok {
		return Fail(CodeValidation, fmt.Sprintf("unknown tool %q", req.Tool))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	start := time.Now()
	resp := fn(ctx, req.Args)
	s.logger.Debug("tool call",
		zap.String("tool", req.Tool),
		zap.String("actor", req.Actor),
		zap.String("request_id", req.RequestID),
		zap.String("status", string(resp.Status)),
		zap.Duration("took", time.Since(start)))
	return resp
}

func (s *Server) send(writer *bufio.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("response marshal failed", zap.Error(err))
		data = []byte(`{"status":"error","error":{"code":"internal","message":"response marshal failed"}}`)
	}
	if _, err := writer.Write(data); err != nil {
		s.logger.Debug("response write failed", zap.Error(err))
		return
	}
	if err := writer.WriteByte('\n'); err != nil {
		return
	}
	if err := writer.Flush(); err != nil {
		s.logger.Debug("response flush failed", zap.Error(err))
	}
}
