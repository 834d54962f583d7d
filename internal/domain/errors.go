package domain

import "errors"

// Sentinel errors for domain operations. Components wrap them with the
// underlying cause so callers can branch with errors.Is.
var (
	// ErrNetwork indicates a transport or HTTP failure talking to the server
	ErrNetwork = errors.New("media server request failed")

	// ErrDecode indicates the server returned a malformed response
	ErrDecode = errors.New("malformed server response")

	// ErrStorage indicates a local database failure
	ErrStorage = errors.New("local storage failure")

	// ErrNotFound indicates the entity is absent from both cache and store
	ErrNotFound = errors.New("not found")

	// ErrAuthFailed indicates authentication failed
	ErrAuthFailed = errors.New("authentication token is invalid")

	// ErrLibraryNotFound indicates the requested library does not exist
	ErrLibraryNotFound = errors.New("library not found")
)
