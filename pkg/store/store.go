package store

import (
	"time"

	"librarysvc/pkg/domain"
)

// Store defines persistence operations for books, members, and loans.
//
// Borrow and Return are transactional units: the precondition checks and the
// paired loan/copy-counter writes commit together or not at all, so the
// invariants 0 <= available_copies <= total_copies and "at most one open
// loan per (member, book)" hold at every commit point.
type Store interface {
	// books
	CreateBook(b domain.Book) (domain.Book, error)
	GetBook(id int64) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	UpdateBook(id int64, patch domain.BookPatch) (domain.Book, error)

	// members
	CreateMember(m domain.Member) (domain.Member, error)
	GetMember(id int64) (domain.Member, bool, error)
	ListMembers() ([]domain.Member, error)
	UpdateMember(id int64, patch domain.MemberPatch) (domain.Member, error)

	// loan lifecycle
	Borrow(memberID, bookID int64, borrowedAt time.Time, dueDate domain.Date) (domain.Loan, error)
	Return(loanID int64, returnedAt time.Time) (domain.Loan, error)

	// reporting
	ListLoans(filter domain.LoanFilter) ([]domain.Loan, error)
	ListLoanDetails(filter domain.LoanFilter) ([]domain.LoanDetail, error)
	ListOverdueLoanDetails(memberID *int64, today domain.Date) ([]domain.LoanDetail, error)
	MemberBorrowedBooks(memberID int64, activeOnly bool, today domain.Date) ([]domain.BorrowedBook, error)
}
