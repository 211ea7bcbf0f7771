package app

import "errors"

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords so responses cannot be used for account enumeration.
	ErrInvalidCredentials = errors.New("Invalid credentials")

	// ErrAccountDisabled is returned when a disabled user presents valid
	// credentials.
	ErrAccountDisabled = errors.New("Your account has been disabled")

	// ErrUnauthorized is returned for missing, invalid, or expired
	// sessions, and for sessions whose user no longer exists or is
	// inactive.
	ErrUnauthorized = errors.New("unauthorized")

	ErrUsernameTaken       = errors.New("Username already exists")
	ErrDocumentNumberTaken = errors.New("Document number already exists for this type")

	ErrUserNotFound         = errors.New("User not found")
	ErrDocumentNotFound     = errors.New("Document not found")
	ErrNotificationNotFound = errors.New("Notification not found")

	ErrSelfDeletion  = errors.New("You cannot delete your own account")
	ErrWrongPassword = errors.New("Current password is incorrect")
)

// ValidationError carries a user-facing message for a rejected input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidation reports whether err is a user-input validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

