package pipeline

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/trevor/mailman3/archiver"
	"github.com/trevor/mailman3/delivery"
	"github.com/trevor/mailman3/helpers"
	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/logger"
	"github.com/trevor/mailman3/membership"
	"github.com/trevor/mailman3/message"
	"github.com/trevor/mailman3/notify"
	"github.com/trevor/mailman3/queue"
)

// senderOf extracts the folded sender address from the From header.
// Returns "" when the message has no usable sender.
func senderOf(msg *message.Message) string {
	from := msg.Get("From")
	if from == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return helpers.FoldAddress(addr.Address)
	}
	return helpers.FoldAddress(from)
}

// resolveList looks up the entry's target list from its metadata.
func resolveList(ctx context.Context, lists list.Repository, entry *queue.Entry) (*list.MailingList, error) {
	name := entry.Metadata[queue.MetaListname]
	if name == "" {
		return nil, fmt.Errorf("entry %s has no listname metadata", entry.ID)
	}
	mlist, err := lists.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve list %s: %w", name, err)
	}
	return mlist, nil
}

// BanHandler rejects posts whose sender matches the target list's ban
// patterns.
type BanHandler struct {
	Lists list.Repository
}

func (h *BanHandler) Name() string { return "ban" }

func (h *BanHandler) Process(ctx context.Context, entry *queue.Entry, msg *message.Message) error {
	mlist, err := resolveList(ctx, h.Lists, entry)
	if err != nil {
		return err
	}
	sender := senderOf(msg)
	if sender != "" && mlist.IsBanned(sender) {
		logger.Info("Pipeline: post from banned sender",
			"list", mlist.ListName, "sender", sender)
		return ErrRejected
	}
	return nil
}

// ArchiveHandler copies the entry into the archive queue. Archiving never
// fails the chain: a copy that cannot be enqueued is logged and the post
// continues toward delivery.
type ArchiveHandler struct {
	Archive *queue.Queue

	// Notify, when set, wakes the archive runner after a successful
	// enqueue.
	Notify func()
}

func (h *ArchiveHandler) Name() string { return "archive" }

func (h *ArchiveHandler) Process(_ context.Context, entry *queue.Entry, msg *message.Message) error {
	if _, err := h.Archive.Enqueue(msg, entry.Metadata); err != nil {
		logger.Error("Pipeline: failed to enqueue archive copy",
			"entry", entry.ID, "error", err)
		return nil
	}
	if h.Notify != nil {
		h.Notify()
	}
	return nil
}

// DeliverHandler expands the list membership and hands the post to the
// delivery engine. When the posted message carries "X-Ack: yes" the sender
// receives a post acknowledgement.
type DeliverHandler struct {
	Lists    list.Repository
	Members  *membership.Manager
	Engine   *delivery.Engine
	Notifier *notify.Notifier
}

func (h *DeliverHandler) Name() string { return "deliver" }

func (h *DeliverHandler) Process(ctx context.Context, entry *queue.Entry, msg *message.Message) error {
	mlist, err := resolveList(ctx, h.Lists, entry)
	if err != nil {
		return err
	}

	recipients, err := h.Members.Recipients(ctx, mlist)
	if err != nil {
		return err
	}
	if err := h.Engine.DeliverToList(ctx, mlist, msg, recipients, "", "", false); err != nil {
		return err
	}

	if h.Notifier != nil && strings.EqualFold(msg.Get("X-Ack"), "yes") {
		if sender := senderOf(msg); sender != "" {
			if err := h.Notifier.SendPostAck(ctx, mlist, msg, sender); err != nil {
				logger.Error("Pipeline: failed to send post acknowledgement",
					"list", mlist.ListName, "sender", sender, "error", err)
			}
		}
	}
	return nil
}

// ArchiverHandler drains the archive queue through the external archiver
// adapter.
type ArchiverHandler struct {
	Lists   list.Repository
	Adapter *archiver.Adapter
}

func (h *ArchiverHandler) Name() string { return "archiver" }

func (h *ArchiverHandler) Process(ctx context.Context, entry *queue.Entry, msg *message.Message) error {
	mlist, err := resolveList(ctx, h.Lists, entry)
	if err != nil {
		return err
	}
	return h.Adapter.ArchiveMessage(ctx, mlist, msg)
}

// SendHandler drains the out queue: composed messages go straight to the
// delivery engine's transport, addressed per the entry's recipients
// metadata.
type SendHandler struct {
	Lists  list.Repository
	Engine *delivery.Engine
}

func (h *SendHandler) Name() string { return "send" }

func (h *SendHandler) Process(ctx context.Context, entry *queue.Entry, msg *message.Message) error {
	mlist, err := resolveList(ctx, h.Lists, entry)
	if err != nil {
		return err
	}
	recipients := strings.Fields(entry.Metadata[queue.MetaRecipients])
	if len(recipients) == 0 {
		logger.Warn("Pipeline: out entry without recipients", "entry", entry.ID)
		return nil
	}
	return h.Engine.SendComposed(ctx, mlist, msg, recipients)
}
