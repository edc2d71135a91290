package model

import "errors"

// Domain errors returned to the immediate caller. They never cross node
// boundaries; remote failures surface as error events on the acting
// session's own sink.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyInChannel = errors.New("already in channel")
	ErrNotInChannel     = errors.New("not in channel")
	ErrNotInAnyChannel  = errors.New("not in any channel")
)
