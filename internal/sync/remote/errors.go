package remote

import "errors"

var (
	// ErrUnavailable indicates the remote could not be reached or is not
	// configured.
	ErrUnavailable = errors.New("remote unavailable")

	// ErrPermissionDenied indicates the remote rejected the credentials or
	// the operation. This usually means a configuration problem the user
	// has to fix.
	ErrPermissionDenied = errors.New("remote permission denied")

	// ErrNotFound indicates the requested document or path does not exist.
	ErrNotFound = errors.New("remote document not found")
)

// IsPermissionDenied reports whether err is, or wraps, ErrPermissionDenied.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
