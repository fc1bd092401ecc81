package app

import "errors"

var (
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidData is returned when login input is malformed: blank CPF,
	// short password or a CPF that fails its checksum.
	ErrInvalidData = errors.New("invalid data")
	// ErrInvalidCredentials is returned for an unknown CPF or a wrong password.
	// Handlers must answer it exactly like ErrInvalidData.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrUserExists          = errors.New("user already registered")
	ErrRegistrationClosed  = errors.New("registration requires an authenticated admin")
	ErrNoFiles             = errors.New("no files sent")
	ErrInvalidRegistration = errors.New("cpf, password and responsible are required")
)

// ValidationError reports a request-level field that failed validation.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "field '" + e.Field + "' must not be empty"
}

// Rejection reasons reported per file by Ingest.
const (
	ReasonUnsupportedType = "unsupported file type"
	ReasonTooLarge        = "max size exceeded"
	ReasonEmpty           = "empty file"
	ReasonDuplicate       = "already uploaded"
	ReasonInternal        = "internal error"
)
