package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sourcefs/sourcefs/internal/logger"
)

// conn is one accepted control connection. Reads happen on the connection's
// goroutine; responses are written by request workers, serialized by writeMu.
type conn struct {
	server *Server
	conn   net.Conn

	writeMu sync.Mutex
}

func (c *conn) serve(ctx context.Context) {
	defer c.server.connWG.Done()
	defer func() {
		_ = c.conn.Close()
		if c.server.connSem != nil {
			<-c.server.connSem
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.server.stopped:
			return
		default:
		}

		payload, err := readFrame(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("Control connection read error: %v", err)
			}
			return
		}

		var req request
		if err := json.Unmarshal(payload, &req); err != nil {
			logger.Debug("Malformed control request: %v", err)
			c.sendError(0, "malformed request")
			return
		}

		if !c.server.limiter.Allow() {
			c.sendError(req.ID, "rate limit exceeded")
			continue
		}

		qr := &queuedRequest{conn: c, req: req, enqueued: time.Now()}
		if c.server.opts.MaxQueuedRequests > 0 {
			select {
			case c.server.queue <- qr:
			default:
				c.sendError(req.ID, "server overloaded")
			}
		} else {
			select {
			case c.server.queue <- qr:
			case <-c.server.stopped:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *conn) sendResult(id uint64, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.sendError(id, "failed to encode result")
		return
	}
	c.send(response{ID: id, Result: raw})
}

func (c *conn) sendError(id uint64, message string) {
	c.send(response{ID: id, Error: message})
}

func (c *conn) send(resp response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		logger.Error("Failed to encode control response: %v", err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.conn, payload, c.server.opts.MinCompressBytes); err != nil {
		logger.Debug("Control connection write error: %v", err)
	}
}
