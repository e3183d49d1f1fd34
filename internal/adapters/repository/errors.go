package repository

import "errors"

// Sentinel kinds for index errors.
var (
	ErrNotFound    = errors.New("user not found")
	ErrUnavailable = errors.New("score index unavailable")
	ErrEmptyUserID = errors.New("empty user id")
)
