// Package archiver bridges queued list traffic to an external archiving
// tool. The tool is described by a command template expanded per message
// and invoked directly (no shell) with the serialized message on stdin.
package archiver

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/logger"
	"github.com/trevor/mailman3/message"
	"github.com/trevor/mailman3/pkg/metrics"
)

// Adapter invokes the external archiver. BaseURL and the command template
// may reference $listname (local part), $hostname (list domain), and
// $fqdn_listname (full list address); expansion happens per list.
type Adapter struct {
	name    string
	baseURL string
	command string
	timeout time.Duration
}

// Options configures an Adapter.
type Options struct {
	Name    string
	BaseURL string
	Command string
	Timeout time.Duration
}

// NewAdapter creates an archiver adapter.
func NewAdapter(options Options) *Adapter {
	if options.Name == "" {
		options.Name = "archiver"
	}
	if options.Timeout <= 0 {
		options.Timeout = 2 * time.Minute
	}
	return &Adapter{
		name:    options.Name,
		baseURL: options.BaseURL,
		command: options.Command,
		timeout: options.Timeout,
	}
}

// Name returns the adapter name used in logs and metrics.
func (a *Adapter) Name() string { return a.name }

// expand substitutes the list placeholders in a template string.
func expand(template string, mlist *list.MailingList) string {
	r := strings.NewReplacer(
		"$fqdn_listname", mlist.ListName,
		"$listname", mlist.LocalPart(),
		"$hostname", mlist.Domain(),
	)
	return r.Replace(template)
}

// ListURL returns the top of the list's public archive, or "" when no base
// URL is configured.
func (a *Adapter) ListURL(mlist *list.MailingList) string {
	if a.baseURL == "" {
		return ""
	}
	return expand(a.baseURL, mlist)
}

// Permalink returns the permanent URL for an archived message, derived from
// its identity hash. A message with no identity hash has no permalink.
func (a *Adapter) Permalink(mlist *list.MailingList, msg *message.Message) string {
	hash := msg.Get(message.HeaderIDHash)
	if hash == "" {
		return ""
	}
	base := a.ListURL(mlist)
	if base == "" {
		return ""
	}
	joined, err := url.JoinPath(base, hash)
	if err != nil {
		return ""
	}
	return joined
}

// ArchiveMessage runs the archiver command for one message, feeding the
// serialized message on stdin. The expanded template is split on
// whitespace into an argv; no shell is involved. Archiver failures are
// logged and counted, never returned: the pipeline must not lose a post
// because the archive hiccupped.
func (a *Adapter) ArchiveMessage(ctx context.Context, mlist *list.MailingList, msg *message.Message) error {
	if a.command == "" {
		return nil
	}
	argv := strings.Fields(expand(a.command, mlist))
	if len(argv) == 0 {
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(msg.Bytes())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stdout.Len() > 0 {
		logger.Info(fmt.Sprintf("Archiver: %s output", a.name),
			"list", mlist.ListName, "stdout", stdout.String())
	}
	if err != nil {
		logger.Warn("Archiver: command failed",
			"archiver", a.name, "list", mlist.ListName,
			"command", argv[0], "error", err, "stderr", stderr.String())
		metrics.ArchiverRuns.WithLabelValues(a.name, "failure").Inc()
		return nil
	}

	logger.Debug("Archiver: message archived",
		"archiver", a.name, "list", mlist.ListName,
		"permalink", a.Permalink(mlist, msg))
	metrics.ArchiverRuns.WithLabelValues(a.name, "success").Inc()
	return nil
}
