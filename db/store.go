package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/trevor/mailman3/consts"
	"github.com/trevor/mailman3/helpers"
	"github.com/trevor/mailman3/list"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// repository code runs inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store returns the list.Store backed by this database.
func (d *Database) Store() list.Store {
	return &pgStore{db: d, q: d.Pool}
}

type pgStore struct {
	db *Database
	q  querier
}

func (s *pgStore) Lists() list.Repository            { return &pgLists{s} }
func (s *pgStore) Users() list.UserRepository        { return &pgUsers{s} }
func (s *pgStore) Addresses() list.AddressRepository { return &pgAddresses{s} }
func (s *pgStore) Members() list.MemberRepository    { return &pgMembers{s} }

// Tx runs fn inside a database transaction. Nested calls reuse the
// ambient transaction.
func (s *pgStore) Tx(ctx context.Context, fn func(list.Store) error) error {
	if _, ok := s.q.(pgx.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBBeginTransactionFailed, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgStore{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", consts.ErrDBCommitTransactionFailed, err)
	}
	return nil
}

// mapError translates driver errors to the engine's sentinel errors.
func mapError(err error, missing error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return missing
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return consts.ErrDBUniqueViolation
	}
	return err
}

type pgLists struct{ s *pgStore }

const listColumns = `list_name, display_name, subject_prefix, welcome_text, goodbye_text,
	reply_goes_to_list, send_goodbye_msg, admin_notify_mchanges, migration_notice, ban_patterns`

func scanList(row pgx.Row) (*list.MailingList, error) {
	var l list.MailingList
	err := row.Scan(&l.ListName, &l.DisplayName, &l.SubjectPrefix, &l.WelcomeText,
		&l.GoodbyeText, &l.ReplyGoesToList, &l.SendGoodbyeMsg, &l.AdminNotifyMchanges,
		&l.MigrationNotice, &l.BanPatterns)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *pgLists) Get(ctx context.Context, listName string) (*list.MailingList, error) {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	name := helpers.FoldAddress(listName)
	l, err := scanList(r.s.q.QueryRow(ctx,
		`SELECT `+listColumns+` FROM lists WHERE list_name = $1`, name))
	if err != nil {
		return nil, mapError(err, consts.ErrNoSuchList)
	}

	l.LegacyPasswords = make(map[string]string)
	rows, err := r.s.q.Query(ctx,
		`SELECT email, password FROM list_passwords WHERE list_name = $1`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var email, password string
		if err := rows.Scan(&email, &password); err != nil {
			return nil, err
		}
		l.LegacyPasswords[email] = password
	}
	return l, rows.Err()
}

func (r *pgLists) Create(ctx context.Context, mlist *list.MailingList) error {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	name := helpers.FoldAddress(mlist.ListName)
	_, err := r.s.q.Exec(ctx, `
		INSERT INTO lists (list_name, display_name, subject_prefix, welcome_text, goodbye_text,
			reply_goes_to_list, send_goodbye_msg, admin_notify_mchanges, migration_notice, ban_patterns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		name, mlist.DisplayName, mlist.SubjectPrefix, mlist.WelcomeText, mlist.GoodbyeText,
		mlist.ReplyGoesToList, mlist.SendGoodbyeMsg, mlist.AdminNotifyMchanges,
		mlist.MigrationNotice, mlist.BanPatterns)
	if err != nil {
		return mapError(err, consts.ErrNotFound)
	}
	return r.writePasswords(ctx, name, mlist.LegacyPasswords)
}

func (r *pgLists) Update(ctx context.Context, mlist *list.MailingList) error {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	name := helpers.FoldAddress(mlist.ListName)
	tag, err := r.s.q.Exec(ctx, `
		UPDATE lists SET display_name = $2, subject_prefix = $3, welcome_text = $4,
			goodbye_text = $5, reply_goes_to_list = $6, send_goodbye_msg = $7,
			admin_notify_mchanges = $8, migration_notice = $9, ban_patterns = $10
		WHERE list_name = $1`,
		name, mlist.DisplayName, mlist.SubjectPrefix, mlist.WelcomeText, mlist.GoodbyeText,
		mlist.ReplyGoesToList, mlist.SendGoodbyeMsg, mlist.AdminNotifyMchanges,
		mlist.MigrationNotice, mlist.BanPatterns)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrNoSuchList
	}
	if _, err := r.s.q.Exec(ctx, `DELETE FROM list_passwords WHERE list_name = $1`, name); err != nil {
		return err
	}
	return r.writePasswords(ctx, name, mlist.LegacyPasswords)
}

func (r *pgLists) writePasswords(ctx context.Context, name string, passwords map[string]string) error {
	for email, password := range passwords {
		_, err := r.s.q.Exec(ctx, `
			INSERT INTO list_passwords (list_name, email, password) VALUES ($1, $2, $3)`,
			name, helpers.FoldAddress(email), password)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *pgLists) Delete(ctx context.Context, listName string) error {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.s.q.Exec(ctx, `DELETE FROM lists WHERE list_name = $1`,
		helpers.FoldAddress(listName))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrNoSuchList
	}
	return nil
}

func (r *pgLists) All(ctx context.Context) ([]*list.MailingList, error) {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.s.q.Query(ctx, `SELECT `+listColumns+` FROM lists ORDER BY list_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []*list.MailingList
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

type pgUsers struct{ s *pgStore }

func (r *pgUsers) Get(ctx context.Context, id int64) (*list.User, error) {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	var u list.User
	err := r.s.q.QueryRow(ctx, `
		SELECT id, real_name, password_hash, language, created_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.RealName, &u.PasswordHash, &u.Language, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err, consts.ErrUserNotFound)
	}
	return &u, nil
}

func (r *pgUsers) GetByAddress(ctx context.Context, canonical string) (*list.User, error) {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	var u list.User
	err := r.s.q.QueryRow(ctx, `
		SELECT u.id, u.real_name, u.password_hash, u.language, u.created_at
		FROM users u JOIN addresses a ON a.user_id = u.id
		WHERE a.canonical = $1`, helpers.FoldAddress(canonical)).
		Scan(&u.ID, &u.RealName, &u.PasswordHash, &u.Language, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err, consts.ErrUserNotFound)
	}
	return &u, nil
}

func (r *pgUsers) Create(ctx context.Context, user *list.User) error {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	err := r.s.q.QueryRow(ctx, `
		INSERT INTO users (real_name, password_hash, language)
		VALUES ($1, $2, $3) RETURNING id, created_at`,
		user.RealName, user.PasswordHash, user.Language).
		Scan(&user.ID, &user.CreatedAt)
	return mapErrorNil(err)
}

type pgAddresses struct{ s *pgStore }

func (r *pgAddresses) Get(ctx context.Context, canonical string) (*list.Address, error) {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	var a list.Address
	var userID *int64
	err := r.s.q.QueryRow(ctx, `
		SELECT id, email, canonical, real_name, user_id FROM addresses
		WHERE canonical = $1`, helpers.FoldAddress(canonical)).
		Scan(&a.ID, &a.Email, &a.Canonical, &a.RealName, &userID)
	if err != nil {
		return nil, mapError(err, consts.ErrNotFound)
	}
	if userID != nil {
		a.UserID = *userID
	}
	return &a, nil
}

func (r *pgAddresses) Create(ctx context.Context, addr *list.Address) error {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	addr.Canonical = helpers.FoldAddress(addr.Email)
	var userID *int64
	if addr.UserID != 0 {
		userID = &addr.UserID
	}
	err := r.s.q.QueryRow(ctx, `
		INSERT INTO addresses (email, canonical, real_name, user_id)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		addr.Email, addr.Canonical, addr.RealName, userID).
		Scan(&addr.ID)
	return mapErrorNil(err)
}

func (r *pgAddresses) Link(ctx context.Context, addressID, userID int64) error {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.s.q.Exec(ctx,
		`UPDATE addresses SET user_id = $2 WHERE id = $1`, addressID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrNotFound
	}
	return nil
}

type pgMembers struct{ s *pgStore }

func (r *pgMembers) Get(ctx context.Context, listName string, addressID int64, role list.Role) (*list.Member, error) {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	var m list.Member
	err := r.s.q.QueryRow(ctx, `
		SELECT id, list_name, address_id, role, delivery_mode, language, created_at
		FROM members WHERE list_name = $1 AND address_id = $2 AND role = $3`,
		helpers.FoldAddress(listName), addressID, role).
		Scan(&m.ID, &m.ListName, &m.AddressID, &m.Role, &m.DeliveryMode, &m.Language, &m.CreatedAt)
	if err != nil {
		return nil, mapError(err, consts.ErrNotFound)
	}
	return &m, nil
}

func (r *pgMembers) Create(ctx context.Context, member *list.Member) error {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	member.ListName = helpers.FoldAddress(member.ListName)
	err := r.s.q.QueryRow(ctx, `
		INSERT INTO members (list_name, address_id, role, delivery_mode, language)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		member.ListName, member.AddressID, member.Role, member.DeliveryMode, member.Language).
		Scan(&member.ID, &member.CreatedAt)
	return mapErrorNil(err)
}

func (r *pgMembers) Delete(ctx context.Context, id int64) error {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.s.q.Exec(ctx, `DELETE FROM members WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return consts.ErrNotFound
	}
	return nil
}

func (r *pgMembers) ByList(ctx context.Context, listName string, role list.Role) ([]*list.Member, []*list.Address, error) {
	ctx, cancel := r.s.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.s.q.Query(ctx, `
		SELECT m.id, m.list_name, m.address_id, m.role, m.delivery_mode, m.language, m.created_at,
		       a.id, a.email, a.canonical, a.real_name, a.user_id
		FROM members m JOIN addresses a ON a.id = m.address_id
		WHERE m.list_name = $1 AND m.role = $2
		ORDER BY a.canonical`,
		helpers.FoldAddress(listName), role)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var members []*list.Member
	var addrs []*list.Address
	for rows.Next() {
		var m list.Member
		var a list.Address
		var userID *int64
		err := rows.Scan(&m.ID, &m.ListName, &m.AddressID, &m.Role, &m.DeliveryMode,
			&m.Language, &m.CreatedAt, &a.ID, &a.Email, &a.Canonical, &a.RealName, &userID)
		if err != nil {
			return nil, nil, err
		}
		if userID != nil {
			a.UserID = *userID
		}
		members = append(members, &m)
		addrs = append(addrs, &a)
	}
	return members, addrs, rows.Err()
}

// mapErrorNil translates driver errors on writes, where no-rows cannot
// occur.
func mapErrorNil(err error) error {
	if err == nil {
		return nil
	}
	return mapError(err, err)
}
