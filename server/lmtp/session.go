package lmtp

import (
	"context"
	"io"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/trevor/mailman3/helpers"
	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/logger"
	"github.com/trevor/mailman3/message"
	"github.com/trevor/mailman3/pkg/metrics"
	"github.com/trevor/mailman3/queue"
)

// Session is one LMTP session. Recipients resolve to mailing lists; DATA
// enqueues one in-queue entry per accepted list.
type Session struct {
	backend   *Backend
	conn      *smtp.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	sender     string
	recipients []*list.MailingList
}

func commandMetrics(command string, start time.Time, success *bool) {
	status := "failure"
	if *success {
		status = "success"
	}
	metrics.CommandsTotal.WithLabelValues("lmtp", command, status).Inc()
	metrics.CommandDuration.WithLabelValues("lmtp", command).Observe(time.Since(start).Seconds())
}

// Mail handles MAIL FROM. A null reverse-path (bounces) is accepted.
func (s *Session) Mail(from string, _ *smtp.MailOptions) error {
	start := time.Now()
	success := false
	defer commandMetrics("MAIL", start, &success)

	if from != "" {
		if err := helpers.ValidateEmail(from); err != nil {
			logger.Debug("LMTP: invalid sender", "from", from, "error", err)
			return &smtp.SMTPError{
				Code:         553,
				EnhancedCode: smtp.EnhancedCode{5, 1, 7},
				Message:      "Invalid sender",
			}
		}
	}
	s.sender = helpers.FoldAddress(from)

	success = true
	logger.Debug("LMTP: sender accepted", "from", s.sender)
	return nil
}

// Rcpt handles RCPT TO. The recipient must name a known mailing list;
// lookup is case-insensitive.
func (s *Session) Rcpt(to string, _ *smtp.RcptOptions) error {
	start := time.Now()
	success := false
	defer commandMetrics("RCPT", start, &success)

	if err := helpers.ValidateEmail(to); err != nil {
		logger.Debug("LMTP: invalid recipient", "to", to, "error", err)
		return &smtp.SMTPError{
			Code:         513,
			EnhancedCode: smtp.EnhancedCode{5, 0, 1},
			Message:      "Invalid recipient",
		}
	}

	mlist, err := s.backend.lists.Get(s.ctx, helpers.FoldAddress(to))
	if err != nil {
		logger.Debug("LMTP: recipient is not a list", "to", to, "error", err)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such list here",
		}
	}
	s.recipients = append(s.recipients, mlist)

	success = true
	logger.Debug("LMTP: recipient accepted", "list", mlist.ListName)
	return nil
}

// Data handles the message payload. The message must parse and carry a
// Message-ID header; the identity hash is assigned exactly once before the
// post is enqueued for every accepted recipient list. Nothing is queued
// when the message is refused.
func (s *Session) Data(r io.Reader) error {
	start := time.Now()
	success := false
	defer commandMetrics("DATA", start, &success)

	raw, err := io.ReadAll(r)
	if err != nil {
		logger.Error("LMTP: failed to read message data", "error", err)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Failed to read message",
		}
	}
	if s.backend.maxMessageSize > 0 && int64(len(raw)) > s.backend.maxMessageSize {
		logger.Warn("LMTP: message too large", "size", len(raw), "limit", s.backend.maxMessageSize)
		return &smtp.SMTPError{
			Code:         552,
			EnhancedCode: smtp.EnhancedCode{5, 3, 4},
			Message:      "Message exceeds maximum size",
		}
	}

	msg, err := message.Parse(raw)
	if err != nil {
		logger.Warn("LMTP: message parsing failure", "error", err)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message parsing failure",
		}
	}

	if _, err := message.AssignIDHash(msg); err != nil {
		logger.Info("LMTP: message refused, no identity", "sender", s.sender)
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "No Message-ID header provided",
		}
	}

	received := time.Now().UTC().Format(time.RFC3339)
	for _, mlist := range s.recipients {
		entry, err := s.backend.inQueue.Enqueue(msg, map[string]string{
			queue.MetaListname:     mlist.ListName,
			queue.MetaReceivedTime: received,
			queue.MetaOriginalSize: queue.SizeMetadata(len(raw)),
		})
		if err != nil {
			logger.Error("LMTP: failed to enqueue message",
				"list", mlist.ListName, "error", err)
			return &smtp.SMTPError{
				Code:         451,
				EnhancedCode: smtp.EnhancedCode{4, 3, 0},
				Message:      "Failed to queue message",
			}
		}
		logger.Info("LMTP: message queued",
			"list", mlist.ListName, "entry", entry.ID,
			"hash", msg.Get(message.HeaderIDHash), "size", len(raw))
	}
	metrics.MessageSizeBytes.WithLabelValues("lmtp").Observe(float64(len(raw)))

	if s.backend.notifier != nil {
		s.backend.notifier.NotifyQueued()
	}
	success = true
	return nil
}

// Reset clears per-transaction state.
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout ends the session.
func (s *Session) Logout() error {
	s.cancel()
	s.backend.activeConnections.Add(-1)
	metrics.ConnectionsCurrent.WithLabelValues("lmtp").Dec()
	logger.Debug("LMTP: session closed", "duration", time.Since(s.startTime))
	return nil
}
