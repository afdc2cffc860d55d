package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
	"workspace-mcp/message"
	"workspace-mcp/protocol"

	"github.com/google/uuid"
)

const writeTimeout = 30 * time.Second

// frameConn is a bidirectional frame stream: a TCP line stream or a WebSocket.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
	Transport() string
}

// conn is the server-side session for one peer.
type conn struct {
	id        string
	fc        frameConn
	inflight  sync.WaitGroup // tasks whose responses are still owed to this peer
	closeOnce sync.Once
}

// interrupt unblocks the read loop without touching the write side, so in-flight
// responses can still be delivered.
func (c *conn) interrupt() {
	c.fc.SetReadDeadline(time.Now())
}

func (c *conn) close() {
	c.closeOnce.Do(func() { c.fc.Close() })
}

// startConn registers fc and runs its read loop. release is called once the session ends.
func (s *Server) startConn(fc frameConn, release func()) {
	c := &conn{id: uuid.NewString(), fc: fc}

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		fc.Close()
		release()
		return
	}
	s.conns[c.id] = c
	s.connWG.Add(1)
	s.mu.Unlock()

	s.metrics.Connections.Inc()
	go s.serveConn(c, release)
}

// serveConn reads frames sequentially; frame boundaries make a single reader mandatory.
func (s *Server) serveConn(c *conn, release func()) {
	log := s.logger.With("conn", c.id, "remote", c.fc.RemoteAddr(), "transport", c.fc.Transport())
	log.Info("connection opened")

	defer func() {
		c.inflight.Wait()
		c.close()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		s.metrics.Connections.Dec()
		release()
		s.connWG.Done()
		log.Info("connection closed")
	}()

	for {
		frame, err := c.fc.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				log.Warn("discarding oversized frame")
				s.metrics.Rejected.WithLabelValues("frame_too_large").Inc()
				s.reply(c, message.NewErrorResponse(nil, message.InvalidRequest("frame too large")))
				continue
			}
			switch {
			case s.shutdown.Load():
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				log.Warn("read failed", "error", err)
			}
			return
		}
		if s.shutdown.Load() {
			return
		}
		s.handleFrame(c, frame)
	}
}

// tcpConn frames a net.Conn as newline-delimited lines.
type tcpConn struct {
	nc net.Conn
	r  *protocol.Reader
	w  *protocol.Writer
}

func newTCPConn(nc net.Conn, maxFrameSize int) *tcpConn {
	return &tcpConn{
		nc: nc,
		r:  protocol.NewReader(nc, maxFrameSize),
		w:  protocol.NewWriter(deadlineWriter{nc}),
	}
}

func (t *tcpConn) ReadFrame() ([]byte, error)        { return t.r.ReadFrame() }
func (t *tcpConn) WriteFrame(frame []byte) error     { return t.w.WriteFrame(frame) }
func (t *tcpConn) SetReadDeadline(d time.Time) error { return t.nc.SetReadDeadline(d) }
func (t *tcpConn) Close() error                      { return t.nc.Close() }
func (t *tcpConn) RemoteAddr() string                { return t.nc.RemoteAddr().String() }
func (t *tcpConn) Transport() string                 { return "tcp" }

// deadlineWriter bounds every write so a peer that stops reading cannot pin a worker.
type deadlineWriter struct {
	nc net.Conn
}

func (d deadlineWriter) Write(p []byte) (int, error) {
	d.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return d.nc.Write(p)
}
