// Package lmtp accepts list posts over LMTP and feeds them into the in
// queue. Each accepted recipient is a mailing list; per-recipient status
// reporting follows RFC 2033.
package lmtp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/logger"
	"github.com/trevor/mailman3/pkg/metrics"
	"github.com/trevor/mailman3/queue"
)

// QueueNotifier wakes a pipeline runner after an enqueue.
type QueueNotifier interface {
	NotifyQueued()
}

// Backend is the LMTP server for list ingestion.
type Backend struct {
	addr           string
	hostname       string
	lists          list.Repository
	inQueue        *queue.Queue
	notifier       QueueNotifier
	maxMessageSize int64
	server         *smtp.Server
	appCtx         context.Context

	totalConnections  atomic.Int64
	activeConnections atomic.Int64
}

// Options configures the LMTP backend.
type Options struct {
	Debug          bool
	MaxMessageSize int64

	// Notifier, when set, is poked after every successful enqueue so the
	// pipeline picks the post up immediately.
	Notifier QueueNotifier
}

// New creates an LMTP backend delivering into inQueue.
func New(appCtx context.Context, hostname, addr string, lists list.Repository, inQueue *queue.Queue, options Options) (*Backend, error) {
	backend := &Backend{
		addr:           addr,
		hostname:       hostname,
		lists:          lists,
		inQueue:        inQueue,
		notifier:       options.Notifier,
		maxMessageSize: options.MaxMessageSize,
		appCtx:         appCtx,
	}

	s := smtp.NewServer(backend)
	s.Addr = addr
	s.Domain = hostname
	s.LMTP = true
	s.Network = "tcp"
	s.AllowInsecureAuth = true
	if options.MaxMessageSize > 0 {
		s.MaxMessageBytes = options.MaxMessageSize
	}

	var debugWriter io.Writer
	if options.Debug {
		debugWriter = os.Stdout
		s.Debug = debugWriter
	}
	backend.server = s

	return backend, nil
}

// NewSession implements smtp.Backend.
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	sessionCtx, sessionCancel := context.WithCancel(b.appCtx)

	b.totalConnections.Add(1)
	active := b.activeConnections.Add(1)

	metrics.ConnectionsTotal.WithLabelValues("lmtp").Inc()
	metrics.ConnectionsCurrent.WithLabelValues("lmtp").Inc()

	logger.Debug("LMTP: new session", "remote", c.Conn().RemoteAddr(), "active", active)

	return &Session{
		backend:   b,
		conn:      c,
		ctx:       sessionCtx,
		cancel:    sessionCancel,
		startTime: time.Now(),
	}, nil
}

// Start serves LMTP on the configured address; it blocks until the server
// is closed and reports startup failures through errChan.
func (b *Backend) Start(errChan chan<- error) {
	listener, err := net.Listen("tcp", b.server.Addr)
	if err != nil {
		errChan <- fmt.Errorf("failed to create LMTP listener: %w", err)
		return
	}
	defer listener.Close()

	logger.Info("LMTP server listening", "addr", b.server.Addr, "hostname", b.hostname)

	if err := b.server.Serve(listener); err != nil {
		if b.appCtx.Err() != nil {
			logger.Info("LMTP server stopped gracefully")
			return
		}
		errChan <- fmt.Errorf("LMTP server error: %w", err)
		return
	}
	logger.Info("LMTP server stopped gracefully")
}

// Close shuts the server down.
func (b *Backend) Close() error {
	if b.server != nil {
		return b.server.Close()
	}
	return nil
}

// TotalConnections returns the cumulative connection count.
func (b *Backend) TotalConnections() int64 { return b.totalConnections.Load() }

// ActiveConnections returns the current connection count.
func (b *Backend) ActiveConnections() int64 { return b.activeConnections.Load() }
