package store

import "errors"

// Sentinel errors returned by Store implementations. Handlers map these to
// HTTP statuses; the messages are safe to show to callers.
var (
	ErrBookNotFound   = errors.New("book not found")
	ErrMemberNotFound = errors.New("member not found")
	ErrLoanNotFound   = errors.New("loan not found")

	ErrDuplicateISBN  = errors.New("book with this ISBN already exists")
	ErrDuplicateEmail = errors.New("member with this email already exists")

	// ErrNoCopiesAvailable means every copy of the book is out on loan.
	ErrNoCopiesAvailable = errors.New("no available copies for this book")

	// ErrLoanAlreadyOpen means the member already has this book checked out.
	ErrLoanAlreadyOpen = errors.New("member already has this book checked out")

	// ErrLoanAlreadyClosed means the loan was returned before; returns are
	// not repeatable.
	ErrLoanAlreadyClosed = errors.New("loan is already closed")

	// ErrCopiesBelowCheckedOut rejects a total_copies update that would drop
	// the total under the number of copies currently out on loan.
	ErrCopiesBelowCheckedOut = errors.New("total_copies cannot be lower than currently checked-out copies")
)
