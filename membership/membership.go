// Package membership implements subscribe and unsubscribe semantics on top
// of the list store: address validation, ban enforcement, user/address
// resolution, and the post-commit member notifications.
package membership

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/trevor/mailman3/consts"
	"github.com/trevor/mailman3/helpers"
	"github.com/trevor/mailman3/list"
	"github.com/trevor/mailman3/logger"
	"github.com/trevor/mailman3/notify"
	"github.com/trevor/mailman3/pkg/metrics"
)

// Manager mutates list membership atomically and dispatches the resulting
// member notifications after commit.
type Manager struct {
	store    list.Store
	notifier *notify.Notifier
}

// NewManager creates a membership manager. The notifier may be nil, in
// which case no notifications are sent.
func NewManager(store list.Store, notifier *notify.Notifier) *Manager {
	return &Manager{store: store, notifier: notifier}
}

// SubscribeRequest carries the parameters of an AddMember call. Language
// defaults to "en" and DeliveryMode to regular delivery.
type SubscribeRequest struct {
	Email        string
	RealName     string
	Password     string
	Language     string
	DeliveryMode list.DeliveryMode
	Role         list.Role
}

// AddMember subscribes an address to a list.
//
// The address is validated syntactically first, then checked against the
// list's ban patterns. The user and address records are resolved in one of
// three ways inside a single transaction: an existing linked address is
// used as-is; an existing orphan address gets a freshly created user linked
// to it; an unknown address gets both records created. A second
// subscription with the same (list, address, role) yields
// consts.ErrAlreadySubscribed.
func (m *Manager) AddMember(ctx context.Context, mlist *list.MailingList, req SubscribeRequest) (*list.Member, error) {
	if err := helpers.ValidateEmail(req.Email); err != nil {
		return nil, err
	}
	canonical := helpers.FoldAddress(req.Email)

	if req.Language == "" {
		req.Language = "en"
	}
	if req.DeliveryMode == "" {
		req.DeliveryMode = list.DeliveryRegular
	}
	if req.Role == "" {
		req.Role = list.RoleMember
	}

	// An existing subscription wins over the ban check; the unique
	// constraint inside the transaction backstops a concurrent subscribe.
	if addr, err := m.store.Addresses().Get(ctx, canonical); err == nil {
		if _, err := m.store.Members().Get(ctx, mlist.ListName, addr.ID, req.Role); err == nil {
			metrics.MembershipChanges.WithLabelValues(mlist.ListName, "subscribe", "duplicate").Inc()
			return nil, consts.ErrAlreadySubscribed
		}
	}
	if mlist.IsBanned(canonical) {
		metrics.MembershipChanges.WithLabelValues(mlist.ListName, "subscribe", "banned").Inc()
		return nil, consts.ErrMembershipIsBanned
	}

	var member *list.Member
	err := m.store.Tx(ctx, func(tx list.Store) error {
		addr, err := tx.Addresses().Get(ctx, canonical)
		switch {
		case err == nil && addr.Linked():
			// Case one: the address is known and already belongs to a
			// user; subscribe it directly.
		case err == nil:
			// Case two: the address exists but is an orphan. Create a
			// user and take ownership of the address; the address's real
			// name carries over when the request leaves it blank.
			if req.RealName == "" {
				req.RealName = addr.RealName
			}
			user, err := m.createUser(ctx, tx, req)
			if err != nil {
				return err
			}
			if err := tx.Addresses().Link(ctx, addr.ID, user.ID); err != nil {
				return fmt.Errorf("failed to link address to user: %w", err)
			}
			addr.UserID = user.ID
		case errors.Is(err, consts.ErrNotFound):
			// Case three: nothing is known about this address. Create
			// the user and the address together.
			user, err := m.createUser(ctx, tx, req)
			if err != nil {
				return err
			}
			addr = &list.Address{
				Email:     req.Email,
				Canonical: canonical,
				RealName:  req.RealName,
				UserID:    user.ID,
			}
			if err := tx.Addresses().Create(ctx, addr); err != nil {
				return fmt.Errorf("failed to create address: %w", err)
			}
		default:
			return fmt.Errorf("failed to resolve address: %w", err)
		}

		member = &list.Member{
			ListName:     mlist.ListName,
			AddressID:    addr.ID,
			Role:         req.Role,
			DeliveryMode: req.DeliveryMode,
			Language:     req.Language,
		}
		if err := tx.Members().Create(ctx, member); err != nil {
			if errors.Is(err, consts.ErrDBUniqueViolation) {
				return consts.ErrAlreadySubscribed
			}
			return fmt.Errorf("failed to create member: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, consts.ErrAlreadySubscribed) {
			metrics.MembershipChanges.WithLabelValues(mlist.ListName, "subscribe", "duplicate").Inc()
		} else {
			metrics.MembershipChanges.WithLabelValues(mlist.ListName, "subscribe", "error").Inc()
		}
		return nil, err
	}

	metrics.MembershipChanges.WithLabelValues(mlist.ListName, "subscribe", "success").Inc()
	logger.Info("Membership: subscribed", "list", mlist.ListName,
		"address", canonical, "role", req.Role, "delivery_mode", req.DeliveryMode)

	if m.notifier != nil && req.Role == list.RoleMember {
		digest := req.DeliveryMode == list.DeliveryDigest
		if err := m.notifier.SendSubscribeAck(ctx, mlist, req.Email, req.Password, digest); err != nil {
			logger.Error("Membership: failed to send subscribe acknowledgement",
				"list", mlist.ListName, "address", canonical, "error", err)
		}
	}
	return member, nil
}

// createUser stores a new user for req, hashing the password when one was
// supplied.
func (m *Manager) createUser(ctx context.Context, tx list.Store, req SubscribeRequest) (*list.User, error) {
	user := &list.User{
		RealName: req.RealName,
		Language: req.Language,
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}
	if err := tx.Users().Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// DeleteMember unsubscribes an address from a list. userAck and adminNotif
// default to the list's send_goodbye_msg and admin_notify_mchanges flags
// when nil. An address that is not subscribed yields consts.ErrNotAMember.
// Notifications are sent only after the removal has committed; their
// failures are logged, never propagated.
func (m *Manager) DeleteMember(ctx context.Context, mlist *list.MailingList, email string, adminNotif, userAck *bool) error {
	if userAck == nil {
		userAck = &mlist.SendGoodbyeMsg
	}
	if adminNotif == nil {
		adminNotif = &mlist.AdminNotifyMchanges
	}
	canonical := helpers.FoldAddress(email)

	// The real name and language preference are captured with the member
	// record before it disappears; the notifications below still need them.
	var realname, language string
	err := m.store.Tx(ctx, func(tx list.Store) error {
		addr, err := tx.Addresses().Get(ctx, canonical)
		if err != nil {
			if errors.Is(err, consts.ErrNotFound) {
				return consts.ErrNotAMember
			}
			return fmt.Errorf("failed to resolve address: %w", err)
		}
		realname = addr.RealName

		member, err := tx.Members().Get(ctx, mlist.ListName, addr.ID, list.RoleMember)
		if err != nil {
			if errors.Is(err, consts.ErrNotFound) {
				return consts.ErrNotAMember
			}
			return fmt.Errorf("failed to resolve member: %w", err)
		}
		language = member.Language
		if err := tx.Members().Delete(ctx, member.ID); err != nil {
			return fmt.Errorf("failed to delete member: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, consts.ErrNotAMember) {
			metrics.MembershipChanges.WithLabelValues(mlist.ListName, "unsubscribe", "not_a_member").Inc()
		} else {
			metrics.MembershipChanges.WithLabelValues(mlist.ListName, "unsubscribe", "error").Inc()
		}
		return err
	}

	metrics.MembershipChanges.WithLabelValues(mlist.ListName, "unsubscribe", "success").Inc()
	logger.Info("Membership: unsubscribed", "list", mlist.ListName,
		"address", canonical, "language", language)

	if m.notifier != nil {
		if *userAck {
			if err := m.notifier.SendUnsubscribeAck(ctx, mlist, email); err != nil {
				logger.Error("Membership: failed to send goodbye message",
					"list", mlist.ListName, "address", canonical, "error", err)
			}
		}
		if *adminNotif {
			formatted := notify.FormatMember(realname, email)
			if err := m.notifier.SendAdminUnsubscribeNotice(ctx, mlist, formatted); err != nil {
				logger.Error("Membership: failed to send admin unsubscribe notice",
					"list", mlist.ListName, "address", canonical, "error", err)
			}
		}
	}
	return nil
}

// Recipients expands the list's regular-delivery membership into the
// recipient set for an outgoing post, excluding digest members.
func (m *Manager) Recipients(ctx context.Context, mlist *list.MailingList) ([]string, error) {
	members, addresses, err := m.store.Members().ByList(ctx, mlist.ListName, list.RoleMember)
	if err != nil {
		return nil, fmt.Errorf("failed to expand recipients: %w", err)
	}
	recipients := make([]string, 0, len(members))
	for i, member := range members {
		if member.DeliveryMode != list.DeliveryRegular {
			continue
		}
		recipients = append(recipients, addresses[i].Email)
	}
	return recipients, nil
}
