package store

import (
	"errors"
	"testing"
	"time"

	"librarysvc/pkg/domain"
)

func seedBook(t *testing.T, s *MemoryStore, isbn string, copies int) domain.Book {
	t.Helper()
	book, err := s.CreateBook(domain.Book{
		Title:       "The Go Programming Language",
		Author:      "Donovan & Kernighan",
		ISBN:        isbn,
		TotalCopies: copies,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return book
}

func seedMember(t *testing.T, s *MemoryStore, email string) domain.Member {
	t.Helper()
	member, err := s.CreateMember(domain.Member{
		Name:   "Ada",
		Email:  email,
		Active: true,
	})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return member
}

func futureDue() domain.Date {
	return domain.NewDate(time.Now().UTC().AddDate(0, 0, 14))
}

func TestBorrowReturnRoundTripRestoresAvailability(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "9780134190440", 3)
	member := seedMember(t, s, "ada@example.com")

	loan, err := s.Borrow(member.ID, book.ID, time.Now().UTC(), futureDue())
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if loan.ReturnedAt != nil {
		t.Fatalf("new loan should be open")
	}
	got, _, _ := s.GetBook(book.ID)
	if got.AvailableCopies != 2 {
		t.Fatalf("available after borrow = %d, want 2", got.AvailableCopies)
	}

	returned, err := s.Return(loan.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if returned.ReturnedAt == nil {
		t.Fatalf("returned loan should be closed")
	}
	got, _, _ = s.GetBook(book.ID)
	if got.AvailableCopies != 3 {
		t.Fatalf("available after return = %d, want 3", got.AvailableCopies)
	}
}

func TestBorrowFailsWhenNoCopiesAndLeavesStateUntouched(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "9780134190440", 1)
	first := seedMember(t, s, "first@example.com")
	second := seedMember(t, s, "second@example.com")

	if _, err := s.Borrow(first.ID, book.ID, time.Now().UTC(), futureDue()); err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	if _, err := s.Borrow(second.ID, book.ID, time.Now().UTC(), futureDue()); !errors.Is(err, ErrNoCopiesAvailable) {
		t.Fatalf("second borrow err = %v, want ErrNoCopiesAvailable", err)
	}
	got, _, _ := s.GetBook(book.ID)
	if got.AvailableCopies != 0 {
		t.Fatalf("failed borrow mutated availability: %d", got.AvailableCopies)
	}
	loans, err := s.ListLoans(domain.LoanFilter{})
	if err != nil {
		t.Fatalf("list loans: %v", err)
	}
	if len(loans) != 1 {
		t.Fatalf("failed borrow created a loan: %d loans", len(loans))
	}
}

func TestBorrowRejectsSecondOpenLoanForSamePair(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "9780134190440", 5)
	member := seedMember(t, s, "ada@example.com")

	loan, err := s.Borrow(member.ID, book.ID, time.Now().UTC(), futureDue())
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := s.Borrow(member.ID, book.ID, time.Now().UTC(), futureDue()); !errors.Is(err, ErrLoanAlreadyOpen) {
		t.Fatalf("duplicate borrow err = %v, want ErrLoanAlreadyOpen", err)
	}

	// After closing the loan the same pair may borrow again; the closed loan
	// stays in history.
	if _, err := s.Return(loan.ID, time.Now().UTC()); err != nil {
		t.Fatalf("return: %v", err)
	}
	if _, err := s.Borrow(member.ID, book.ID, time.Now().UTC(), futureDue()); err != nil {
		t.Fatalf("borrow after return: %v", err)
	}
	loans, _ := s.ListLoans(domain.LoanFilter{MemberID: &member.ID})
	if len(loans) != 2 {
		t.Fatalf("loan history = %d entries, want 2", len(loans))
	}
}

func TestBorrowRejectsMissingOrInactiveParties(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "9780134190440", 1)
	member := seedMember(t, s, "ada@example.com")

	if _, err := s.Borrow(999, book.ID, time.Now().UTC(), futureDue()); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("unknown member err = %v, want ErrMemberNotFound", err)
	}
	if _, err := s.Borrow(member.ID, 999, time.Now().UTC(), futureDue()); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("unknown book err = %v, want ErrBookNotFound", err)
	}

	inactive := false
	if _, err := s.UpdateMember(member.ID, domain.MemberPatch{Active: &inactive}); err != nil {
		t.Fatalf("deactivate member: %v", err)
	}
	if _, err := s.Borrow(member.ID, book.ID, time.Now().UTC(), futureDue()); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("inactive member err = %v, want ErrMemberNotFound", err)
	}

	active := true
	if _, err := s.UpdateMember(member.ID, domain.MemberPatch{Active: &active}); err != nil {
		t.Fatalf("reactivate member: %v", err)
	}
	if _, err := s.UpdateBook(book.ID, domain.BookPatch{Active: &inactive}); err != nil {
		t.Fatalf("deactivate book: %v", err)
	}
	if _, err := s.Borrow(member.ID, book.ID, time.Now().UTC(), futureDue()); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("inactive book err = %v, want ErrBookNotFound", err)
	}
}

func TestReturnTwiceConflictsWithSingleIncrement(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "9780134190440", 2)
	member := seedMember(t, s, "ada@example.com")

	loan, err := s.Borrow(member.ID, book.ID, time.Now().UTC(), futureDue())
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := s.Return(loan.ID, time.Now().UTC()); err != nil {
		t.Fatalf("first return: %v", err)
	}
	if _, err := s.Return(loan.ID, time.Now().UTC()); !errors.Is(err, ErrLoanAlreadyClosed) {
		t.Fatalf("second return err = %v, want ErrLoanAlreadyClosed", err)
	}
	got, _, _ := s.GetBook(book.ID)
	if got.AvailableCopies != 2 {
		t.Fatalf("availability after double return = %d, want 2", got.AvailableCopies)
	}
	if _, err := s.Return(999, time.Now().UTC()); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("unknown loan err = %v, want ErrLoanNotFound", err)
	}
}

func TestLastCopyContentionScenario(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "9780134190440", 1)
	first := seedMember(t, s, "first@example.com")
	second := seedMember(t, s, "second@example.com")

	loan, err := s.Borrow(first.ID, book.ID, time.Now().UTC(), futureDue())
	if err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	if _, err := s.Borrow(second.ID, book.ID, time.Now().UTC(), futureDue()); !errors.Is(err, ErrNoCopiesAvailable) {
		t.Fatalf("contending borrow err = %v, want ErrNoCopiesAvailable", err)
	}
	if _, err := s.Return(loan.ID, time.Now().UTC()); err != nil {
		t.Fatalf("return: %v", err)
	}
	got, _, _ := s.GetBook(book.ID)
	if got.AvailableCopies != 1 {
		t.Fatalf("availability after return = %d, want 1", got.AvailableCopies)
	}
	if _, err := s.Borrow(second.ID, book.ID, time.Now().UTC(), futureDue()); err != nil {
		t.Fatalf("borrow after contention: %v", err)
	}
}

func TestUpdateBookTotalCopiesRespectsCheckedOut(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "9780134190440", 3)
	first := seedMember(t, s, "first@example.com")
	second := seedMember(t, s, "second@example.com")
	if _, err := s.Borrow(first.ID, book.ID, time.Now().UTC(), futureDue()); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := s.Borrow(second.ID, book.ID, time.Now().UTC(), futureDue()); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	one := 1
	if _, err := s.UpdateBook(book.ID, domain.BookPatch{TotalCopies: &one}); !errors.Is(err, ErrCopiesBelowCheckedOut) {
		t.Fatalf("shrink below checked-out err = %v, want ErrCopiesBelowCheckedOut", err)
	}
	two := 2
	updated, err := s.UpdateBook(book.ID, domain.BookPatch{TotalCopies: &two})
	if err != nil {
		t.Fatalf("shrink to checked-out: %v", err)
	}
	if updated.TotalCopies != 2 || updated.AvailableCopies != 0 {
		t.Fatalf("after shrink: total=%d available=%d, want 2/0", updated.TotalCopies, updated.AvailableCopies)
	}
	five := 5
	updated, err = s.UpdateBook(book.ID, domain.BookPatch{TotalCopies: &five})
	if err != nil {
		t.Fatalf("grow total: %v", err)
	}
	if updated.AvailableCopies != 3 {
		t.Fatalf("after grow: available=%d, want 3", updated.AvailableCopies)
	}
}

func TestUniquenessConstraints(t *testing.T) {
	s := NewMemoryStore()
	seedBook(t, s, "9780134190440", 1)
	if _, err := s.CreateBook(domain.Book{Title: "Copy", Author: "X", ISBN: "9780134190440", TotalCopies: 1, Active: true}); !errors.Is(err, ErrDuplicateISBN) {
		t.Fatalf("duplicate isbn err = %v, want ErrDuplicateISBN", err)
	}
	other := seedBook(t, s, "9781491941959", 1)
	isbn := "9780134190440"
	if _, err := s.UpdateBook(other.ID, domain.BookPatch{ISBN: &isbn}); !errors.Is(err, ErrDuplicateISBN) {
		t.Fatalf("update onto existing isbn err = %v, want ErrDuplicateISBN", err)
	}

	seedMember(t, s, "a@x.com")
	if _, err := s.CreateMember(domain.Member{Name: "B", Email: "a@x.com", Active: true}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("duplicate email err = %v, want ErrDuplicateEmail", err)
	}
	other2 := seedMember(t, s, "b@x.com")
	email := "a@x.com"
	if _, err := s.UpdateMember(other2.ID, domain.MemberPatch{Email: &email}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("update onto existing email err = %v, want ErrDuplicateEmail", err)
	}
}

func TestListLoansOrderingAndFilters(t *testing.T) {
	s := NewMemoryStore()
	book1 := seedBook(t, s, "9780134190440", 2)
	book2 := seedBook(t, s, "9781491941959", 2)
	member := seedMember(t, s, "ada@example.com")
	other := seedMember(t, s, "bob@example.com")

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	older, err := s.Borrow(member.ID, book1.ID, base, futureDue())
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	newer, err := s.Borrow(member.ID, book2.ID, base.Add(time.Hour), futureDue())
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := s.Borrow(other.ID, book1.ID, base.Add(2*time.Hour), futureDue()); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := s.Return(older.ID, base.Add(3*time.Hour)); err != nil {
		t.Fatalf("return: %v", err)
	}

	all, err := s.ListLoans(domain.LoanFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all loans = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].BorrowedAt.After(all[i-1].BorrowedAt) {
			t.Fatalf("loans not newest-first at index %d", i)
		}
	}

	mine, err := s.ListLoans(domain.LoanFilter{MemberID: &member.ID})
	if err != nil {
		t.Fatalf("list member: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("member loans = %d, want 2", len(mine))
	}

	open, err := s.ListLoans(domain.LoanFilter{MemberID: &member.ID, ActiveOnly: true})
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 || open[0].ID != newer.ID {
		t.Fatalf("open loans = %+v, want only loan %d", open, newer.ID)
	}

	details, err := s.ListLoanDetails(domain.LoanFilter{MemberID: &member.ID})
	if err != nil {
		t.Fatalf("list details: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("details = %d, want 2", len(details))
	}
	if details[0].MemberName != "Ada" || details[0].BookTitle == "" {
		t.Fatalf("detail join missing fields: %+v", details[0])
	}
}

func TestOverdueListingExcludesReturnedLoans(t *testing.T) {
	s := NewMemoryStore()
	book1 := seedBook(t, s, "9780134190440", 1)
	book2 := seedBook(t, s, "9781491941959", 1)
	member := seedMember(t, s, "ada@example.com")

	pastDue := domain.NewDate(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	today := domain.NewDate(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	open, err := s.Borrow(member.ID, book1.ID, time.Now().UTC(), pastDue)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	closed, err := s.Borrow(member.ID, book2.ID, time.Now().UTC(), pastDue)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := s.Return(closed.ID, time.Now().UTC()); err != nil {
		t.Fatalf("return: %v", err)
	}

	overdue, err := s.ListOverdueLoanDetails(nil, today)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != open.ID {
		t.Fatalf("overdue = %+v, want only loan %d", overdue, open.ID)
	}

	// A loan due today is not overdue yet.
	notYet, err := s.ListOverdueLoanDetails(nil, pastDue)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(notYet) != 0 {
		t.Fatalf("loan due today counted overdue: %+v", notYet)
	}
}

func TestMemberBorrowedBooks(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "9780134190440", 2)
	member := seedMember(t, s, "ada@example.com")

	if _, err := s.MemberBorrowedBooks(999, true, domain.NewDate(time.Now())); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("unknown member err = %v, want ErrMemberNotFound", err)
	}

	pastDue := domain.NewDate(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	today := domain.NewDate(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	loan, err := s.Borrow(member.ID, book.ID, time.Now().UTC(), pastDue)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	rows, err := s.MemberBorrowedBooks(member.ID, true, today)
	if err != nil {
		t.Fatalf("borrowed books: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].LoanID != loan.ID || rows[0].Title == "" || rows[0].Author == "" {
		t.Fatalf("row missing book metadata: %+v", rows[0])
	}
	if !rows[0].IsOverdue {
		t.Fatalf("open past-due loan should be flagged overdue")
	}

	if _, err := s.Return(loan.ID, time.Now().UTC()); err != nil {
		t.Fatalf("return: %v", err)
	}
	active, err := s.MemberBorrowedBooks(member.ID, true, today)
	if err != nil {
		t.Fatalf("borrowed books: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active-only should exclude returned loans: %+v", active)
	}
	history, err := s.MemberBorrowedBooks(member.ID, false, today)
	if err != nil {
		t.Fatalf("borrowed books: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d, want 1", len(history))
	}
	if history[0].IsOverdue {
		t.Fatalf("returned loan must never be overdue")
	}
}
