package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
	"workspace-mcp/protocol"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WebSocketHandler serves the same protocol over WebSocket: one text message per frame.
// Mount it on any mux; sessions share the server's registry, executors and limits.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shutdown.Load() {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		if err := s.prepare(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !s.connSem.TryAcquire(1) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.connSem.Release(1)
			s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		s.startConn(&wsConn{ws: ws, max: s.maxFrameSize}, func() { s.connSem.Release(1) })
	})
}

// StartWebSocket serves WebSocketHandler at path "/" on addr in the background.
func (s *Server) StartWebSocket(addr string) error {
	if err := s.prepare(); err != nil {
		return err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	hs := &http.Server{Handler: s.WebSocketHandler(), ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.httpSrvs = append(s.httpSrvs, hs)
	s.mu.Unlock()

	s.logger.Info("websocket listening", "addr", l.Addr().String())
	go func() {
		if err := hs.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("websocket listener stopped", "error", err)
		}
	}()
	return nil
}

// wsConn adapts a WebSocket to frameConn. gorilla allows one concurrent writer.
type wsConn struct {
	ws  *websocket.Conn
	max int
	mu  sync.Mutex
}

// ReadFrame returns protocol.ErrFrameTooLarge for a message over max bytes, after
// draining it, so the session continues like a TCP one.
func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, r, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var data []byte
		if c.max > 0 {
			data, err = io.ReadAll(io.LimitReader(r, int64(c.max)+1))
			if err == nil && len(data) > c.max {
				if _, err = io.Copy(io.Discard, r); err == nil {
					return nil, protocol.ErrFrameTooLarge
				}
			}
		} else {
			data, err = io.ReadAll(r)
		}
		if err != nil {
			return nil, err
		}
		data = bytes.TrimRight(data, "\r\n")
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }
func (c *wsConn) Close() error                      { return c.ws.Close() }
func (c *wsConn) RemoteAddr() string                { return c.ws.RemoteAddr().String() }
func (c *wsConn) Transport() string                 { return "websocket" }
