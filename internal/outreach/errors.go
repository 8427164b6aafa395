package outreach

import "errors"

// Error taxonomy shared by the runner, CRM gateway, limiter and conversation engine.
var (
	// ErrTransient marks failures worth retrying on a later run (timeouts, 5xx).
	ErrTransient = errors.New("outreach: transient failure")
	// ErrPermanent marks rejections that will not succeed on retry (4xx, invalid recipient).
	ErrPermanent = errors.New("outreach: permanent rejection")
	// ErrQuotaExceeded stops the current account/channel slice of a run.
	ErrQuotaExceeded = errors.New("outreach: quota exceeded")
	// ErrTokenUnavailable skips the account for this run.
	ErrTokenUnavailable = errors.New("outreach: crm token unavailable")
	// ErrIneligibleContact means the contact must not receive an AI reply.
	ErrIneligibleContact = errors.New("outreach: contact not eligible")

	ErrItemNotFound = errors.New("outreach: queue item not found")
	// ErrStaleUpdate is returned when a conditional write lost to a terminal status or a newer touch.
	ErrStaleUpdate = errors.New("outreach: queue item changed or is terminal")
)

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent reports whether err is classified as a permanent rejection.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
