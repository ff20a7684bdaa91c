// Package delivery implements the outbound delivery engine: it rewrites
// envelope and header state for list traffic, batches recipients, spools
// the serialized message to a scoped temporary file, and hands it to the
// external transport executable.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"

	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/logger"
	"github.com/trevor/mailman3/message"
	"github.com/trevor/mailman3/pkg/metrics"
	"github.com/trevor/mailman3/queue"
)

// Engine invokes the external transport for list and notification mail.
type Engine struct {
	transportPath string
	spawnCount    int
	timeout       time.Duration
	hostname      string

	// outQueue, when set, receives composed single-recipient
	// notifications instead of invoking the transport inline; the out
	// queue runner drains it. Nil means synchronous sending.
	outQueue *queue.Queue
}

// Options configures an Engine.
type Options struct {
	TransportPath string
	SpawnCount    int
	Timeout       time.Duration
	Hostname      string
	OutQueue      *queue.Queue
}

// NewEngine creates a delivery engine.
func NewEngine(options Options) *Engine {
	if options.SpawnCount <= 0 {
		options.SpawnCount = 1
	}
	if options.Timeout <= 0 {
		options.Timeout = 2 * time.Minute
	}
	if options.Hostname == "" {
		options.Hostname = "localhost"
	}
	return &Engine{
		transportPath: options.TransportPath,
		spawnCount:    options.SpawnCount,
		timeout:       options.Timeout,
		hostname:      options.Hostname,
		outQueue:      options.OutQueue,
	}
}

// QuotePeriods rewrites every body line consisting of exactly "." to " .",
// so a dot-stuffing transport never mistakes it for end-of-message.
// Nothing else on any line changes.
func QuotePeriods(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimRight(line, "\r") != "." {
			continue
		}
		if strings.HasSuffix(line, "\r") {
			lines[i] = " .\r"
		} else {
			lines[i] = " ."
		}
	}
	return strings.Join(lines, "\n")
}

// BuildListMessage produces the transport-ready byte stream for a list
// post: the rewritten header block, an optional header text block, the
// period-quoted body, and an optional footer. The input message is not
// mutated. With removeExistingTo set (digest delivery) every header
// literally named To or X-To is stripped and one canonical To naming the
// list is appended.
func BuildListMessage(mlist *list.MailingList, msg *message.Message, header, footer string, removeExistingTo bool) []byte {
	out := msg.Clone()

	if removeExistingTo {
		out.DeleteAll("To")
		out.DeleteAll("X-To")
		out.Append("To", mlist.ListName)
	}
	out.Append("Errors-To", mlist.AdminEmail())
	if mlist.ReplyGoesToList {
		out.Append("Reply-To", mlist.ListName)
	}

	var buf bytes.Buffer
	for _, h := range out.Headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	if header != "" {
		buf.WriteString(header)
		buf.WriteString("\n")
	}
	buf.WriteString(QuotePeriods(string(out.Body)))
	if footer != "" {
		buf.WriteString(footer)
	}
	return buf.Bytes()
}

// DeliverToList sends a message to the given recipient batch through the
// external transport. An empty recipient list is a no-op: no temporary
// file is created and the transport is not invoked. Transport failures are
// logged, never propagated.
func (e *Engine) DeliverToList(ctx context.Context, mlist *list.MailingList, msg *message.Message, recipients []string, header, footer string, removeExistingTo bool) error {
	if len(recipients) == 0 {
		return nil
	}

	mode := "regular"
	if removeExistingTo {
		mode = "digest"
	}
	metrics.DeliveryRecipients.WithLabelValues(mode).Observe(float64(len(recipients)))

	payload := BuildListMessage(mlist, msg, header, footer, removeExistingTo)
	return e.transport(ctx, mlist.AdminEmail(), recipients, payload)
}

// SendTextToUser renders a single-recipient notification message. The
// sender defaults to the list administrator address, as does errorsTo.
// When an out queue is configured the composed message is enqueued for the
// out runner; otherwise it is sent through the transport immediately.
func (e *Engine) SendTextToUser(ctx context.Context, mlist *list.MailingList, subject, text, recipient, sender, errorsTo string) error {
	if sender == "" {
		sender = mlist.AdminEmail()
	}
	if errorsTo == "" {
		errorsTo = mlist.AdminEmail()
	}

	composed, err := e.composeText(subject, text, recipient, sender, errorsTo)
	if err != nil {
		return fmt.Errorf("failed to compose notification: %w", err)
	}

	if e.outQueue != nil {
		_, err := e.outQueue.Enqueue(composed, map[string]string{
			queue.MetaListname:   mlist.ListName,
			queue.MetaRecipients: recipient,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue notification: %w", err)
		}
		return nil
	}
	return e.transport(ctx, mlist.AdminEmail(), []string{recipient}, composed.Bytes())
}

// SendComposed pushes an already-composed message (claimed from the out
// queue) through the transport.
func (e *Engine) SendComposed(ctx context.Context, mlist *list.MailingList, msg *message.Message, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}
	return e.transport(ctx, mlist.AdminEmail(), recipients, msg.Bytes())
}

// composeText builds a full RFC 5322 message around the rendered
// notification text.
func (e *Engine) composeText(subject, text, recipient, sender, errorsTo string) (*message.Message, error) {
	var buf bytes.Buffer
	var h gomessage.Header
	h.Set("From", sender)
	h.Set("To", recipient)
	h.Set("Subject", subject)
	h.Set("Errors-To", errorsTo)
	h.Set("Message-ID", fmt.Sprintf("<%d.notify@%s>", time.Now().UnixNano(), e.hostname))
	h.Set("Date", time.Now().Format(time.RFC1123Z))
	h.Set("Content-Type", "text/plain; charset=utf-8")

	w, err := gomessage.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := w.Write([]byte(QuotePeriods(text))); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write notification body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish notification body: %w", err)
	}

	return message.Parse(buf.Bytes())
}

// transport spools the payload to a scoped temporary file and invokes the
// external transport executable with the contract arguments
// (payload path, administrator address, spawn count, recipient list).
// The spool file is removed on every exit path. A non-zero transport exit
// is a logged delivery failure, not an error.
func (e *Engine) transport(ctx context.Context, admin string, recipients []string, payload []byte) error {
	spool, err := os.CreateTemp("", "mailman-spool-")
	if err != nil {
		metrics.Deliveries.WithLabelValues("spool_error").Inc()
		return fmt.Errorf("failed to create spool file: %w", err)
	}
	spoolPath := spool.Name()
	defer os.Remove(spoolPath)

	if _, err := spool.Write(payload); err != nil {
		spool.Close()
		metrics.Deliveries.WithLabelValues("spool_error").Inc()
		return fmt.Errorf("failed to write spool file: %w", err)
	}
	if err := spool.Close(); err != nil {
		metrics.Deliveries.WithLabelValues("spool_error").Inc()
		return fmt.Errorf("failed to close spool file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.transportPath,
		spoolPath, admin, strconv.Itoa(e.spawnCount), strings.Join(recipients, " "))
	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.Error("Delivery: transport invocation failed",
			"transport", e.transportPath, "admin", admin,
			"recipients", len(recipients), "error", err, "output", string(output))
		metrics.Deliveries.WithLabelValues("failure").Inc()
		return nil
	}

	logger.Debug("Delivery: transport accepted message",
		"admin", admin, "recipients", len(recipients), "spawn_count", e.spawnCount)
	metrics.Deliveries.WithLabelValues("success").Inc()
	return nil
}
