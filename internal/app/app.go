package app

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"librarysvc/pkg/domain"
	"librarysvc/pkg/store"
)

const defaultLoanDays = 14

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	// DefaultLoanDays is how far out the due date lands when a borrow
	// request does not supply one. Zero means the 14-day default.
	DefaultLoanDays int
}

// App is the application core: it owns the loan-period policy and
// orchestrates the store, which carries the transactional lifecycle rules.
type App struct {
	store    store.Store
	loanDays int
}

// New constructs the application with a database-backed store unless one is
// injected (tests inject the in-memory store).
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	loanDays := cfg.DefaultLoanDays
	if loanDays <= 0 {
		loanDays = defaultLoanDays
	}
	return &App{store: dataStore, loanDays: loanDays}, nil
}

// CreateBook validates and inserts a new catalog entry.
func (a *App) CreateBook(b domain.Book) (domain.Book, error) {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.ISBN = strings.TrimSpace(b.ISBN)
	if b.Title == "" {
		return domain.Book{}, ErrTitleRequired
	}
	if b.Author == "" {
		return domain.Book{}, ErrAuthorRequired
	}
	if len(b.ISBN) < 10 || len(b.ISBN) > 32 {
		return domain.Book{}, ErrISBNInvalid
	}
	if b.PublishedYear < 0 || b.PublishedYear > 9999 {
		return domain.Book{}, ErrYearInvalid
	}
	if b.TotalCopies < 1 {
		return domain.Book{}, ErrTotalCopiesLow
	}
	b.Active = true
	return a.store.CreateBook(b)
}

// GetBook retrieves a book by ID.
func (a *App) GetBook(id int64) (domain.Book, bool, error) {
	return a.store.GetBook(id)
}

// ListBooks returns the catalog ordered by id.
func (a *App) ListBooks() ([]domain.Book, error) {
	return a.store.ListBooks()
}

// UpdateBook validates and applies a partial update.
func (a *App) UpdateBook(id int64, patch domain.BookPatch) (domain.Book, error) {
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return domain.Book{}, ErrTitleRequired
		}
		patch.Title = &trimmed
	}
	if patch.Author != nil {
		trimmed := strings.TrimSpace(*patch.Author)
		if trimmed == "" {
			return domain.Book{}, ErrAuthorRequired
		}
		patch.Author = &trimmed
	}
	if patch.ISBN != nil {
		trimmed := strings.TrimSpace(*patch.ISBN)
		if len(trimmed) < 10 || len(trimmed) > 32 {
			return domain.Book{}, ErrISBNInvalid
		}
		patch.ISBN = &trimmed
	}
	if patch.PublishedYear != nil && (*patch.PublishedYear < 0 || *patch.PublishedYear > 9999) {
		return domain.Book{}, ErrYearInvalid
	}
	if patch.TotalCopies != nil && *patch.TotalCopies < 1 {
		return domain.Book{}, ErrTotalCopiesLow
	}
	return a.store.UpdateBook(id, patch)
}

// CreateMember validates and registers a member.
func (a *App) CreateMember(m domain.Member) (domain.Member, error) {
	m.Name = strings.TrimSpace(m.Name)
	m.Email = strings.TrimSpace(m.Email)
	if m.Name == "" {
		return domain.Member{}, ErrNameRequired
	}
	if !validEmail(m.Email) {
		return domain.Member{}, ErrEmailInvalid
	}
	m.Active = true
	return a.store.CreateMember(m)
}

// GetMember retrieves a member by ID.
func (a *App) GetMember(id int64) (domain.Member, bool, error) {
	return a.store.GetMember(id)
}

// ListMembers returns all members ordered by id.
func (a *App) ListMembers() ([]domain.Member, error) {
	return a.store.ListMembers()
}

// UpdateMember validates and applies a partial update.
func (a *App) UpdateMember(id int64, patch domain.MemberPatch) (domain.Member, error) {
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		if trimmed == "" {
			return domain.Member{}, ErrNameRequired
		}
		patch.Name = &trimmed
	}
	if patch.Email != nil {
		trimmed := strings.TrimSpace(*patch.Email)
		if !validEmail(trimmed) {
			return domain.Member{}, ErrEmailInvalid
		}
		patch.Email = &trimmed
	}
	return a.store.UpdateMember(id, patch)
}

// Borrow checks out a book for a member. When no due date is supplied it
// defaults to today plus the configured loan period.
func (a *App) Borrow(memberID, bookID int64, dueDate *domain.Date) (domain.Loan, error) {
	now := time.Now().UTC()
	due := domain.NewDate(now.AddDate(0, 0, a.loanDays))
	if dueDate != nil {
		due = *dueDate
	}
	return a.store.Borrow(memberID, bookID, now, due)
}

// Return closes a loan and hands back a receipt.
func (a *App) Return(loanID int64) (domain.ReturnReceipt, error) {
	loan, err := a.store.Return(loanID, time.Now().UTC())
	if err != nil {
		return domain.ReturnReceipt{}, err
	}
	return domain.ReturnReceipt{LoanID: loan.ID, ReturnedAt: *loan.ReturnedAt}, nil
}

// ListLoans returns loans with member/book display fields, newest first.
func (a *App) ListLoans(filter domain.LoanFilter) ([]domain.LoanDetail, error) {
	return a.store.ListLoanDetails(filter)
}

// ListOverdueLoans returns open loans whose due date has passed as of today.
func (a *App) ListOverdueLoans(memberID *int64) ([]domain.LoanDetail, error) {
	return a.store.ListOverdueLoanDetails(memberID, domain.NewDate(time.Now()))
}

// MemberBorrowedBooks returns a member's borrowing history with overdue flags.
func (a *App) MemberBorrowedBooks(memberID int64, activeOnly bool) ([]domain.BorrowedBook, error) {
	return a.store.MemberBorrowedBooks(memberID, activeOnly, domain.NewDate(time.Now()))
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
