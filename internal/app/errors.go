package app

import "errors"

// Validation errors for create/update payloads. Messages are shown to
// callers as-is with a 400 status.
var (
	ErrTitleRequired  = errors.New("title is required")
	ErrAuthorRequired = errors.New("author is required")
	ErrISBNInvalid    = errors.New("isbn must be 10 to 32 characters")
	ErrYearInvalid    = errors.New("published_year must be between 0 and 9999")
	ErrTotalCopiesLow = errors.New("total_copies must be at least 1")
	ErrNameRequired   = errors.New("name is required")
	ErrEmailInvalid   = errors.New("a valid email is required")
)

// IsValidation reports whether err is one of the payload validation errors.
func IsValidation(err error) bool {
	for _, e := range []error{
		ErrTitleRequired, ErrAuthorRequired, ErrISBNInvalid, ErrYearInvalid,
		ErrTotalCopiesLow, ErrNameRequired, ErrEmailInvalid,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
