package core

import "errors"

var (
	// ErrNotFound is returned when a row does not exist (or is soft-deleted
	// where the operation requires a live row).
	ErrNotFound = errors.New("not found")
	// ErrNestedReply rejects a reply whose parent is itself a reply.
	ErrNestedReply = errors.New("replies cannot have replies")
	// ErrEmptyMessage rejects a send with neither text nor files.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrThreadRootDeleted ends a thread view whose root was deleted.
	ErrThreadRootDeleted = errors.New("thread root was deleted")
	// ErrNotLoaded rejects an action on a message the view does not hold.
	ErrNotLoaded = errors.New("message is not loaded")
	// ErrConflict is returned when a create collides with an existing row.
	ErrConflict = errors.New("already exists")
	// ErrInvitationInvalid rejects an unknown, expired or used-up invite code.
	ErrInvitationInvalid = errors.New("invitation is invalid or expired")
)
