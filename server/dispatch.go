package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"workspace-mcp/codec"
	"workspace-mcp/handler"
	"workspace-mcp/message"
	"workspace-mcp/middleware"
	"workspace-mcp/worker"
)

// maxLoggedFrame caps how much of a bad frame ends up in the log.
const maxLoggedFrame = 512

// handleFrame runs on the connection's read loop. Everything that is answered without a
// handler (parse failures, unknown methods) is answered here, synchronously.
func (s *Server) handleFrame(c *conn, frame []byte) {
	s.metrics.Frames.WithLabelValues("in").Inc()
	if s.logFrames {
		s.logger.Debug("frame received", "conn", c.id, "frame", string(frame))
	}

	msg, err := s.codec.Decode(frame)
	if err != nil {
		var pe *codec.ParseError
		if !errors.As(err, &pe) {
			pe = &codec.ParseError{Text: string(frame), Err: err}
		}
		s.logger.Warn("rejecting frame",
			"conn", c.id,
			"error", pe.Err,
			"frame", truncate(pe.Text, maxLoggedFrame))
		s.metrics.Rejected.WithLabelValues("malformed").Inc()
		s.reply(c, message.NewErrorResponse(nil, pe.RPCError()))
		return
	}

	switch msg.Kind() {
	case message.KindRequest:
		entry, ok := s.registry.Lookup(msg.Method)
		if !ok {
			s.metrics.Rejected.WithLabelValues("method_not_found").Inc()
			s.reply(c, message.NewErrorResponse(msg.ID, message.MethodNotFound(msg.Method)))
			return
		}
		s.dispatch(c, entry, msg)
	case message.KindNotification:
		entry, ok := s.registry.Lookup(msg.Method)
		if !ok {
			s.logger.Debug("ignoring notification for unknown method", "conn", c.id, "method", msg.Method)
			return
		}
		s.dispatch(c, entry, msg)
	case message.KindResponse:
		// The server never issues requests, so there is nothing to correlate.
		s.logger.Debug("ignoring inbound response", "conn", c.id, "id", msg.ID.String())
	}
}

func (s *Server) executorFor(entry handler.Entry) worker.Executor {
	if entry.ExecContext == "" {
		return s.pool
	}
	return s.contexts[entry.ExecContext]
}

// dispatch hands the invocation to the entry's executor. With OverflowBlock this may block
// the read loop, which is the backpressure on a peer that outruns the workers.
func (s *Server) dispatch(c *conn, entry handler.Entry, msg *message.Message) {
	s.wg.Add(1)
	c.inflight.Add(1)
	task := func() {
		defer s.wg.Done()
		defer c.inflight.Done()
		s.invoke(c, entry, msg)
	}

	exec := s.executorFor(entry)
	var err error
	if s.overflow == OverflowReject {
		err = exec.TrySubmit(task)
	} else {
		err = exec.Submit(s.acceptCtx, task)
	}
	if err == nil {
		return
	}

	c.inflight.Done()
	s.wg.Done()
	s.metrics.Rejected.WithLabelValues("busy").Inc()
	if msg.IsNotification() {
		s.logger.Warn("dropping notification", "conn", c.id, "method", msg.Method, "error", err)
		return
	}
	s.reply(c, message.NewErrorResponse(msg.ID, message.InternalError(fmt.Sprintf("server busy: %v", err))))
}

// invoke runs on an executor goroutine.
func (s *Server) invoke(c *conn, entry handler.Entry, msg *message.Message) {
	call := &middleware.Call{
		Method:       msg.Method,
		Params:       msg.Params,
		Notification: msg.IsNotification(),
		ConnID:       c.id,
		Handler:      entry.Handler,
	}
	result, err := s.handler(s.handlerCtx, call)

	if call.Notification {
		if err != nil {
			s.logger.Warn("notification handler failed", "conn", c.id, "method", msg.Method, "error", err)
		}
		return
	}
	if err != nil {
		s.reply(c, message.NewErrorResponse(msg.ID, toRPCError(err)))
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.reply(c, message.NewErrorResponse(msg.ID, message.InternalError(fmt.Sprintf("marshal result: %v", err))))
		return
	}
	s.reply(c, message.NewResult(msg.ID, raw))
}

// toRPCError maps a handler failure onto a reserved error object.
func toRPCError(err error) *message.Error {
	var rpcErr *message.Error
	if errors.As(err, &rpcErr) {
		if message.IsReserved(rpcErr.Code) {
			return rpcErr
		}
		return &message.Error{Code: message.CodeInternalError, Message: rpcErr.Message, Data: rpcErr.Data}
	}
	return message.InternalError(err.Error())
}

// reply encodes msg and writes it as one frame. A failed write ends the connection.
func (s *Server) reply(c *conn, msg *message.Message) {
	frame, err := s.codec.Encode(msg)
	if err != nil {
		s.logger.Error("encode response failed", "conn", c.id, "error", err)
		frame, err = s.codec.Encode(message.NewErrorResponse(msg.ID, message.InternalError("failed to encode response")))
		if err != nil {
			return
		}
	}
	if s.logFrames {
		s.logger.Debug("frame sent", "conn", c.id, "frame", string(frame))
	}
	if err := c.fc.WriteFrame(frame); err != nil {
		s.logger.Warn("write failed, closing connection", "conn", c.id, "error", err)
		c.close()
		return
	}
	s.metrics.Frames.WithLabelValues("out").Inc()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
