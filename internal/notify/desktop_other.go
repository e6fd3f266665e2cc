//go:build !darwin

package notify

// NewDesktopSender returns nil where no desktop notifier is supported.
func NewDesktopSender() Sender {
	return nil
}
