package consts

import "errors"

var (
	ErrInvalidEmailAddress = errors.New("invalid email address")
	ErrAlreadySubscribed   = errors.New("already subscribed")
	ErrNotAMember          = errors.New("not a member")
	ErrMembershipIsBanned  = errors.New("membership is banned")
	ErrMissingIdentity     = errors.New("no Message-ID header provided")
	ErrMissingPassword     = errors.New("no password stored for user")

	ErrNoSuchList   = errors.New("no such list")
	ErrNotFound     = errors.New("not found")
	ErrUserNotFound = errors.New("user not found")

	ErrDBUniqueViolation         = errors.New("unique violation")
	ErrDBBeginTransactionFailed  = errors.New("start transaction failed")
	ErrDBCommitTransactionFailed = errors.New("commit failed")

	ErrQueueEmpty       = errors.New("queue empty")
	ErrMalformedMessage = errors.New("malformed message")
)
