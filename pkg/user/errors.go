package user

import "errors"

var (
	// ErrNoUser means the profile does not exist on this server.
	ErrNoUser = errors.New("no such user")
)
