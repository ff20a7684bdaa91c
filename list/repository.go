package list

import "context"

// Repository is the list registry contract. Lookups take the canonical
// lower-cased list address. A missing list yields consts.ErrNoSuchList.
type Repository interface {
	Get(ctx context.Context, listName string) (*MailingList, error)
	Create(ctx context.Context, mlist *MailingList) error
	Update(ctx context.Context, mlist *MailingList) error
	Delete(ctx context.Context, listName string) error
	All(ctx context.Context) ([]*MailingList, error)
}

// UserRepository resolves and creates users. Missing records yield
// consts.ErrNotFound.
type UserRepository interface {
	Get(ctx context.Context, id int64) (*User, error)
	// GetByAddress returns the user linked to the given canonical address.
	GetByAddress(ctx context.Context, canonical string) (*User, error)
	Create(ctx context.Context, user *User) error
}

// AddressRepository resolves and creates addresses by canonical form.
type AddressRepository interface {
	Get(ctx context.Context, canonical string) (*Address, error)
	Create(ctx context.Context, addr *Address) error
	// Link attaches an orphan address to a user.
	Link(ctx context.Context, addressID, userID int64) error
}

// MemberRepository manages (list, address, role) subscriptions. Uniqueness
// over the triple is enforced by the store; a duplicate Create yields
// consts.ErrDBUniqueViolation.
type MemberRepository interface {
	Get(ctx context.Context, listName string, addressID int64, role Role) (*Member, error)
	Create(ctx context.Context, member *Member) error
	Delete(ctx context.Context, id int64) error
	// ByList returns all members of a list with the given role, joined to
	// their address records for recipient expansion.
	ByList(ctx context.Context, listName string, role Role) ([]*Member, []*Address, error)
}

// Store aggregates the repositories with an atomic transaction boundary.
// The function passed to Tx sees a Store whose mutations all commit or all
// roll back; partial states are never observable by concurrent readers.
type Store interface {
	Lists() Repository
	Users() UserRepository
	Addresses() AddressRepository
	Members() MemberRepository
	Tx(ctx context.Context, fn func(Store) error) error
}
