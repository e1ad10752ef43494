// Package errkind defines the error-kind taxonomy used across olsrv2d
// (SPEC_FULL.md §7). Components wrap one of these sentinels with
// github.com/pkg/errors so callers can classify a failure with
// errors.Is/errors.Cause without string matching.
package errkind

import "github.com/pkg/errors"

var (
	// TransientIO: EAGAIN/EINTR on a socket; retry via the event loop.
	TransientIO = errors.New("transient I/O error")

	// FatalIO: EBADF; the owning socket must be torn down and recreated.
	FatalIO = errors.New("fatal I/O error")

	// PermissionRateLimited: EPERM on send; warn with suppression.
	PermissionRateLimited = errors.New("permission denied (rate limited)")

	// ParseReject: malformed RFC5444 input; drop and count, keep going.
	ParseReject = errors.New("packet rejected by parser")

	// PolicyReject: ACL or authentication failure; drop silently.
	PolicyReject = errors.New("rejected by policy")

	// RouteOpError: the OS route backend reported a non-recoverable error.
	RouteOpError = errors.New("route operation failed")

	// ConfigReject: invalid configuration section; previous state kept.
	ConfigReject = errors.New("configuration rejected")
)

// Wrap returns an error annotated with msg whose cause is kind.
func Wrap(kind error, msg string) error {
	return errors.Wrap(kind, msg)
}

// Is reports whether err's chain ultimately carries kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
