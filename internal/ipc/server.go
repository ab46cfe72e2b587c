package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve accepts unix-socket clients until ctx is cancelled or the listener
// closes. Each connection carries one request line; invalid requests are
// answered without reaching handler, valid ones run under Timeout(command).
func Serve(ctx context.Context, listener net.Listener, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			serveConn(ctx, c, handler, logger)
		}(conn)
	}
}

func serveConn(ctx context.Context, c net.Conn, handler Handler, logger *slog.Logger) {
	reply := func(resp Response) {
		_ = json.NewEncoder(c).Encode(resp)
	}

	line, err := bufio.NewReader(c).ReadBytes('\n')
	if err != nil {
		reply(Response{OK: false, Error: fmt.Sprintf("read request: %v", err)})
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		logger.Warn("ipc request rejected", "error", err.Error())
		reply(Response{OK: false, Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	if err := req.Validate(); err != nil {
		logger.Warn("ipc request rejected", "command", req.Command, "error", err.Error())
		reply(Response{OK: false, Error: err.Error()})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, Timeout(req.Command))
	defer cancel()

	started := time.Now()
	resp := handler.Handle(reqCtx, req)
	attrs := []any{
		"command", req.Command,
		"ok", resp.OK,
		"state", resp.State,
		"duration_ms", time.Since(started).Milliseconds(),
	}
	if req.ID != "" {
		attrs = append(attrs, "recording_id", req.ID)
	}
	if resp.Count > 0 {
		attrs = append(attrs, "count", resp.Count)
	}
	switch {
	case !resp.OK:
		logger.Warn("ipc request failed", append(attrs, "error", resp.Error)...)
	case req.Command == CommandStatus:
		logger.Debug("ipc request", attrs...)
	default:
		logger.Info("ipc request", attrs...)
	}
	reply(resp)
}
