package reminder

import "errors"

var (
	// ErrInvalid wraps every input validation failure of Service.Create.
	ErrInvalid          = errors.New("invalid reminder")
	ErrAlreadyRecovered = errors.New("reminders already recovered")
	ErrStopped          = errors.New("reminder engine stopped")
)
