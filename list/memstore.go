package list

import (
	"context"
	"sync"
	"time"

	"github.com/trevor/mailman3/consts"
	"github.com/trevor/mailman3/helpers"
)

// MemStore is an in-memory Store used by tests and by deployments that run
// without a database. Tx takes a snapshot and restores it when the
// transaction function fails, so the atomicity contract matches the
// database-backed store.
type MemStore struct {
	mu sync.RWMutex

	lists     map[string]*MailingList
	users     map[int64]*User
	addresses map[string]*Address // keyed by canonical email
	members   map[int64]*Member

	nextUserID    int64
	nextAddressID int64
	nextMemberID  int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		lists:     make(map[string]*MailingList),
		users:     make(map[int64]*User),
		addresses: make(map[string]*Address),
		members:   make(map[int64]*Member),
	}
}

func (s *MemStore) Lists() Repository            { return &memLists{s: s, lock: true} }
func (s *MemStore) Users() UserRepository        { return &memUsers{s: s, lock: true} }
func (s *MemStore) Addresses() AddressRepository { return &memAddresses{s: s, lock: true} }
func (s *MemStore) Members() MemberRepository    { return &memMembers{s: s, lock: true} }

// Tx runs fn atomically: the store lock is held for the duration and all
// mutations are rolled back if fn returns an error.
func (s *MemStore) Tx(ctx context.Context, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	tx := &txStore{s: s}
	if err := fn(tx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// txStore exposes unlocked repositories; the Tx caller already holds the
// store lock.
type txStore struct {
	s *MemStore
}

func (t *txStore) Lists() Repository            { return &memLists{s: t.s} }
func (t *txStore) Users() UserRepository        { return &memUsers{s: t.s} }
func (t *txStore) Addresses() AddressRepository { return &memAddresses{s: t.s} }
func (t *txStore) Members() MemberRepository    { return &memMembers{s: t.s} }
func (t *txStore) Tx(ctx context.Context, fn func(Store) error) error {
	// Already inside a transaction
	return fn(t)
}

type memSnapshot struct {
	lists     map[string]*MailingList
	users     map[int64]*User
	addresses map[string]*Address
	members   map[int64]*Member

	nextUserID    int64
	nextAddressID int64
	nextMemberID  int64
}

func (s *MemStore) snapshot() memSnapshot {
	snap := memSnapshot{
		lists:         make(map[string]*MailingList, len(s.lists)),
		users:         make(map[int64]*User, len(s.users)),
		addresses:     make(map[string]*Address, len(s.addresses)),
		members:       make(map[int64]*Member, len(s.members)),
		nextUserID:    s.nextUserID,
		nextAddressID: s.nextAddressID,
		nextMemberID:  s.nextMemberID,
	}
	for k, v := range s.lists {
		snap.lists[k] = copyList(v)
	}
	for k, v := range s.users {
		u := *v
		snap.users[k] = &u
	}
	for k, v := range s.addresses {
		a := *v
		snap.addresses[k] = &a
	}
	for k, v := range s.members {
		m := *v
		snap.members[k] = &m
	}
	return snap
}

func (s *MemStore) restore(snap memSnapshot) {
	s.lists = snap.lists
	s.users = snap.users
	s.addresses = snap.addresses
	s.members = snap.members
	s.nextUserID = snap.nextUserID
	s.nextAddressID = snap.nextAddressID
	s.nextMemberID = snap.nextMemberID
}

func copyList(l *MailingList) *MailingList {
	c := *l
	c.BanPatterns = append([]string(nil), l.BanPatterns...)
	c.LegacyPasswords = make(map[string]string, len(l.LegacyPasswords))
	for k, v := range l.LegacyPasswords {
		c.LegacyPasswords[k] = v
	}
	return &c
}

type memLists struct {
	s    *MemStore
	lock bool
}

func (r *memLists) Get(_ context.Context, listName string) (*MailingList, error) {
	if r.lock {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	l, ok := r.s.lists[helpers.FoldAddress(listName)]
	if !ok {
		return nil, consts.ErrNoSuchList
	}
	return copyList(l), nil
}

func (r *memLists) Create(_ context.Context, mlist *MailingList) error {
	if r.lock {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
	}
	name := helpers.FoldAddress(mlist.ListName)
	if _, ok := r.s.lists[name]; ok {
		return consts.ErrDBUniqueViolation
	}
	c := copyList(mlist)
	c.ListName = name
	if c.LegacyPasswords == nil {
		c.LegacyPasswords = make(map[string]string)
	}
	r.s.lists[name] = c
	return nil
}

func (r *memLists) Update(_ context.Context, mlist *MailingList) error {
	if r.lock {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
	}
	name := helpers.FoldAddress(mlist.ListName)
	if _, ok := r.s.lists[name]; !ok {
		return consts.ErrNoSuchList
	}
	c := copyList(mlist)
	c.ListName = name
	r.s.lists[name] = c
	return nil
}

func (r *memLists) Delete(_ context.Context, listName string) error {
	if r.lock {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
	}
	name := helpers.FoldAddress(listName)
	if _, ok := r.s.lists[name]; !ok {
		return consts.ErrNoSuchList
	}
	delete(r.s.lists, name)
	return nil
}

func (r *memLists) All(_ context.Context) ([]*MailingList, error) {
	if r.lock {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	out := make([]*MailingList, 0, len(r.s.lists))
	for _, l := range r.s.lists {
		out = append(out, copyList(l))
	}
	return out, nil
}

type memUsers struct {
	s    *MemStore
	lock bool
}

func (r *memUsers) Get(_ context.Context, id int64) (*User, error) {
	if r.lock {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil, consts.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUsers) GetByAddress(_ context.Context, canonical string) (*User, error) {
	if r.lock {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	addr, ok := r.s.addresses[helpers.FoldAddress(canonical)]
	if !ok || addr.UserID == 0 {
		return nil, consts.ErrNotFound
	}
	u, ok := r.s.users[addr.UserID]
	if !ok {
		return nil, consts.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *memUsers) Create(_ context.Context, user *User) error {
	if r.lock {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
	}
	r.s.nextUserID++
	user.ID = r.s.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	c := *user
	r.s.users[user.ID] = &c
	return nil
}

type memAddresses struct {
	s    *MemStore
	lock bool
}

func (r *memAddresses) Get(_ context.Context, canonical string) (*Address, error) {
	if r.lock {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	a, ok := r.s.addresses[helpers.FoldAddress(canonical)]
	if !ok {
		return nil, consts.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (r *memAddresses) Create(_ context.Context, addr *Address) error {
	if r.lock {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
	}
	canonical := helpers.FoldAddress(addr.Email)
	if _, ok := r.s.addresses[canonical]; ok {
		return consts.ErrDBUniqueViolation
	}
	r.s.nextAddressID++
	addr.ID = r.s.nextAddressID
	addr.Canonical = canonical
	c := *addr
	r.s.addresses[canonical] = &c
	return nil
}

func (r *memAddresses) Link(_ context.Context, addressID, userID int64) error {
	if r.lock {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
	}
	for _, a := range r.s.addresses {
		if a.ID == addressID {
			a.UserID = userID
			return nil
		}
	}
	return consts.ErrNotFound
}

type memMembers struct {
	s    *MemStore
	lock bool
}

func (r *memMembers) Get(_ context.Context, listName string, addressID int64, role Role) (*Member, error) {
	if r.lock {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	name := helpers.FoldAddress(listName)
	for _, m := range r.s.members {
		if m.ListName == name && m.AddressID == addressID && m.Role == role {
			c := *m
			return &c, nil
		}
	}
	return nil, consts.ErrNotFound
}

func (r *memMembers) Create(_ context.Context, member *Member) error {
	if r.lock {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
	}
	name := helpers.FoldAddress(member.ListName)
	for _, m := range r.s.members {
		if m.ListName == name && m.AddressID == member.AddressID && m.Role == member.Role {
			return consts.ErrDBUniqueViolation
		}
	}
	r.s.nextMemberID++
	member.ID = r.s.nextMemberID
	member.ListName = name
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now()
	}
	c := *member
	r.s.members[member.ID] = &c
	return nil
}

func (r *memMembers) Delete(_ context.Context, id int64) error {
	if r.lock {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
	}
	if _, ok := r.s.members[id]; !ok {
		return consts.ErrNotFound
	}
	delete(r.s.members, id)
	return nil
}

func (r *memMembers) ByList(_ context.Context, listName string, role Role) ([]*Member, []*Address, error) {
	if r.lock {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	name := helpers.FoldAddress(listName)
	var members []*Member
	var addrs []*Address
	for _, m := range r.s.members {
		if m.ListName != name || m.Role != role {
			continue
		}
		for _, a := range r.s.addresses {
			if a.ID == m.AddressID {
				mc := *m
				ac := *a
				members = append(members, &mc)
				addrs = append(addrs, &ac)
				break
			}
		}
	}
	return members, addrs, nil
}
