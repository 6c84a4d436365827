package support

import "errors"

// Configuration errors are fatal to the operation, not the process. The
// caller owns the user-facing messaging.
var (
	// ErrNoSupportGroup means no support destination group is configured.
	ErrNoSupportGroup = errors.New("support group is not configured")
	// ErrNotForum means the configured group cannot host per-client topics,
	// so managers could not address the client in isolation.
	ErrNotForum = errors.New("support group does not support topics")
)

// IsConfigurationError reports whether err belongs to the configuration
// error class of StartSupport.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrNoSupportGroup) || errors.Is(err, ErrNotForum)
}
