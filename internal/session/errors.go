package session

import "errors"

var (
	// ErrUnauthenticated is returned by Store.Load when the request carries no
	// usable token, or when its token no longer resolves to a valid record.
	// The middleware treats it as the trigger for a fresh anonymous session.
	ErrUnauthenticated = errors.New("session: unauthenticated")

	// ErrInvalidSession is returned by Unit.Get when the record is missing or
	// expired. Callers must not distinguish the two cases.
	ErrInvalidSession = errors.New("session: invalid session")

	// ErrRecordNotFound is returned by a Backend when no blob is stored for a
	// token.
	ErrRecordNotFound = errors.New("session: record not found")

	// ErrCorruptRecord is returned when a stored blob does not decode into a
	// valid Record. It is a storage fault, not an invalid session.
	ErrCorruptRecord = errors.New("session: corrupt record")
)
