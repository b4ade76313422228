package nntp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	"github.com/datallboy/nzbidx/internal/infra/config"
)

// Client wraps a single persistent connection to an upstream NNTP provider.
// The connection is owned exclusively by one ingest worker; it is never
// shared across goroutines, but the mutex keeps the reconnect goroutine and
// the owner from racing on the conn fields.
//
// The public surface never returns transport errors: callers observe empty
// results and the loop decides about retry scheduling.
type Client struct {
	mu   sync.Mutex
	cfg  config.NNTPConfig
	log  *slog.Logger
	conn *textproto.Conn
	raw  net.Conn

	connected    bool
	reconnecting bool
	curGroup     string
}

// NewClient builds the client without touching the network. Connect starts
// the session.
func NewClient(cfg config.NNTPConfig, log *slog.Logger) *Client {
	return &Client{cfg: cfg, log: log.With("component", "nntp")}
}

// Connect establishes the session, switches to reader mode and
// authenticates. On failure a background reconnect task takes over with
// exponential backoff; Connect itself returns immediately and foreground
// callers see the "no server" state until it heals.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected || c.reconnecting {
		return
	}
	if err := c.dialLocked(); err != nil {
		c.log.Warn("nntp_connect_failed", "host", c.cfg.Host, "error", err)
		c.spawnReconnectLocked()
	}
}

// Connected reports the session state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close sends QUIT so the server releases the slot immediately.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Cmd("QUIT")
		c.conn.Close()
	}
	c.conn = nil
	c.raw = nil
	c.connected = false
	c.curGroup = ""
}

// dialLocked performs the full session handshake: TCP or TLS dial, greeting,
// MODE READER, AUTHINFO. Caller holds the mutex.
func (c *Client) dialLocked() error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	var raw net.Conn
	var err error
	if c.cfg.TLS {
		dialer := &net.Dialer{Timeout: c.cfg.Timeout}
		raw, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
			ServerName: c.cfg.Host,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		raw, err = net.DialTimeout("tcp", addr, c.cfg.Timeout)
	}
	if err != nil {
		return err
	}

	conn := textproto.NewConn(raw)

	// Usenet servers greet with 200, or 201 when posting is not allowed.
	// Either is fine for an indexer.
	raw.SetDeadline(time.Now().Add(c.cfg.Timeout))
	code, _, err := conn.ReadCodeLine(20)
	if err != nil || (code != 200 && code != 201) {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected greeting code %d", code)
		}
		return err
	}

	c.conn = conn
	c.raw = raw

	if err := c.cmdLocked(201, "MODE READER"); err != nil {
		// Some servers answer 200 here; tolerate both.
		if err2 := c.lastCodeOK(err, 200); err2 != nil {
			c.closeLocked()
			return fmt.Errorf("MODE READER: %w", err)
		}
	}

	if err := c.authenticateLocked(); err != nil {
		c.closeLocked()
		return fmt.Errorf("authentication: %w", err)
	}

	c.connected = true
	c.curGroup = ""
	c.log.Info("nntp_connected", "host", c.cfg.Host, "port", c.cfg.Port, "tls", c.cfg.TLS)
	return nil
}

func (c *Client) authenticateLocked() error {
	if c.cfg.User == "" {
		return nil
	}
	if _, err := c.conn.Cmd("AUTHINFO USER %s", c.cfg.User); err != nil {
		return err
	}
	code, _, err := c.conn.ReadCodeLine(381) // 381: password required
	if err != nil {
		if code == 281 {
			return nil // no password needed
		}
		return err
	}
	if _, err := c.conn.Cmd("AUTHINFO PASS %s", c.cfg.Pass); err != nil {
		return err
	}
	_, _, err = c.conn.ReadCodeLine(281) // 281: authentication accepted
	return err
}

// spawnReconnectLocked starts the background dial loop with exponential
// backoff between ConnectBase and ConnectMaxDelay.
func (c *Client) spawnReconnectLocked() {
	if c.reconnecting {
		return
	}
	c.reconnecting = true

	go func() {
		delay := c.cfg.ConnectBase
		if delay <= 0 {
			delay = time.Second
		}
		for {
			time.Sleep(delay)

			c.mu.Lock()
			err := c.dialLocked()
			if err == nil {
				c.reconnecting = false
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

			c.log.Warn("nntp_reconnect_failed", "host", c.cfg.Host, "delay", delay.String(), "error", err)
			delay *= 2
			if max := c.cfg.ConnectMaxDelay; max > 0 && delay > max {
				delay = max
			}
		}
	}()
}

// reconnectInPlaceLocked tears the session down and redials once,
// synchronously. Used for the single in-place retry XOVER is allowed.
// On failure the background task takes over.
func (c *Client) reconnectInPlaceLocked() bool {
	c.closeLocked()
	if err := c.dialLocked(); err != nil {
		c.log.Warn("nntp_reconnect_failed", "host", c.cfg.Host, "error", err)
		c.spawnReconnectLocked()
		return false
	}
	return true
}

// cmdLocked sends a command and expects a specific response code. The
// deadline bounds slow reads per operation.
func (c *Client) cmdLocked(expectCode int, format string, args ...any) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.raw.SetDeadline(time.Now().Add(c.cfg.Timeout))
	id, err := c.conn.Cmd(format, args...)
	if err != nil {
		return err
	}
	c.conn.StartResponse(id)
	defer c.conn.EndResponse(id)
	_, _, err = c.conn.ReadCodeLine(expectCode)
	return err
}

// lastCodeOK lets a caller accept an alternative success code from a
// textproto error.
func (c *Client) lastCodeOK(err error, code int) error {
	if protoErr, ok := err.(*textproto.Error); ok && protoErr.Code == code {
		return nil
	}
	return err
}
