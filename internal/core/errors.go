package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyMember       = errors.New("user is already a member of this workspace")
	ErrNotAMember          = errors.New("user is not a member of this workspace")
	ErrNotOwner            = errors.New("only the workspace owner can invite new members")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrInvalidTransition   = errors.New("invalid session transition")
	ErrAmbiguousEmail      = errors.New("more than one user has that email address")
)

var (
	ErrInvalidAmount  = fmt.Errorf("%w: amount must not be negative", ErrValidation)
	ErrEmptyProject   = fmt.Errorf("%w: empty project name", ErrValidation)
	ErrEmptyClient    = fmt.Errorf("%w: empty client", ErrValidation)
	ErrEmptyWorkspace = fmt.Errorf("%w: empty workspace id", ErrValidation)
	ErrTextTooLong    = fmt.Errorf("%w: text too long (max 200 characters)", ErrValidation)
	ErrInvalidDueDate = fmt.Errorf("%w: invalid due date", ErrValidation)
	ErrInvalidStatus  = fmt.Errorf("%w: invalid status", ErrValidation)
	ErrInvalidEmail   = fmt.Errorf("%w: invalid email address", ErrValidation)
)

var (
	ErrInvoiceNotFound   = fmt.Errorf("invoice %w", ErrNotFound)
	ErrWorkspaceNotFound = fmt.Errorf("workspace %w", ErrNotFound)
	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)
	ErrProfileNotFound   = fmt.Errorf("user profile %w", ErrNotFound)
)

// MessageUnexpected is shown whenever a collaborator fails in a way the
// caller cannot act on.
const MessageUnexpected = "An unexpected error occurred."

// Message returns the user-facing text for err. Unknown errors collapse to
// MessageUnexpected so raw collaborator errors never reach the presentation layer.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUserNotFound):
		return "User with that email does not exist."
	case errors.Is(err, ErrAmbiguousEmail):
		return "More than one user has that email address."
	case errors.Is(err, ErrProfileNotFound):
		return "User profile not found."
	case errors.Is(err, ErrWorkspaceNotFound):
		return "Workspace not found."
	case errors.Is(err, ErrInvoiceNotFound):
		return "Invoice not found."
	case errors.Is(err, ErrAlreadyMember):
		return "User is already a member of this workspace."
	case errors.Is(err, ErrNotAMember):
		return "You are not a member of this workspace."
	case errors.Is(err, ErrNotOwner):
		return "Only the workspace owner can invite new members."
	case errors.Is(err, ErrNotAuthorized):
		return "You are not allowed to do that."
	case errors.Is(err, ErrTransactionConflict):
		return "The workspace was modified concurrently, please try again."
	case errors.Is(err, ErrInvalidEmail):
		return "Please enter a valid email address."
	case errors.Is(err, ErrValidation):
		return err.Error()
	default:
		return MessageUnexpected
	}
}
