package service

import "errors"

// Error taxonomy. Handlers map these onto HTTP statuses; every service
// failure wraps exactly one of them.
var (
	// ErrInvalidInput covers malformed or missing request data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotAuthenticated means the presented credential or session is
	// not valid. Deliberately coarse: wrong password, unknown email,
	// revoked session and expired OTP all collapse into it.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrPermissionDenied means authenticated but not allowed, such as
	// an OTP challenge that ran out of attempts or resends.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConflict means a uniqueness constraint rejected the operation.
	ErrConflict = errors.New("conflict")
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited means too many requests inside the window.
	ErrRateLimited = errors.New("rate limited")
)
