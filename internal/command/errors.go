package command

import (
	"errors"
	"fmt"

	"github.com/autolumiku/wabot/internal/inventory"
)

// UnauthorizedReply is sent verbatim to senders outside the staff directory.
const UnauthorizedReply = "Maaf, nomor Anda tidak terdaftar sebagai staff. Perintah tidak dapat diproses."

// InternalReply is the generic apology for unexpected failures.
const InternalReply = "Maaf, terjadi kendala saat memproses pesan Anda. Tim kami akan segera membantu."

var (
	// ErrNotAuthorized indicates the sender phone is not in the tenant staff directory.
	ErrNotAuthorized = errors.New("sender is not authorized")
	// ErrPhoneMismatch rejects a /verify from a phone sender naming a different phone.
	ErrPhoneMismatch = errors.New("verify phone does not match sender")
	// ErrInternal marks unexpected failures, including recovered panics.
	ErrInternal = errors.New("internal command error")
)

// UserInputError is a correctable mistake in the command text. Message is sent
// to the sender as is.
type UserInputError struct {
	Message string
	Err     error
}

func (e *UserInputError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *UserInputError) Unwrap() error {
	return e.Err
}

func userInput(format string, args ...any) *UserInputError {
	return &UserInputError{Message: fmt.Sprintf(format, args...)}
}

// DuplicateError reports that an upload was suppressed because the same vehicle
// was created moments ago. It counts as a successful outcome.
type DuplicateError struct {
	Existing inventory.Vehicle
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of vehicle %s", e.Existing.DisplayID)
}
