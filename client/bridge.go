package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"workspace-mcp/protocol"
)

// Bridge relays frames between a local line stream (usually stdin/stdout of an MCP host)
// and a server connection. Frames are forwarded verbatim. It returns when either side
// ends or ctx is done, and always closes conn.
func Bridge(ctx context.Context, in io.Reader, out io.Writer, conn net.Conn, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	defer conn.Close()

	errc := make(chan error, 2)
	go func() {
		errc <- pump(protocol.NewReader(in, 0), protocol.NewWriter(conn), logger, "host→server")
	}()
	go func() {
		errc <- pump(protocol.NewReader(conn, 0), protocol.NewWriter(out), logger, "server→host")
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return nil
	}
}

func pump(r *protocol.Reader, w *protocol.Writer, logger *slog.Logger, direction string) error {
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				logger.Warn("dropping oversized frame", "direction", direction)
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := w.WriteFrame(frame); err != nil {
			return err
		}
	}
}
