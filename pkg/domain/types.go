package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Date is a calendar date without a time component. It marshals as
// "YYYY-MM-DD", which is how due dates travel over the API.
type Date time.Time

// NewDate truncates t to its UTC calendar date.
func NewDate(t time.Time) Date {
	t = t.UTC()
	return Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
}

// Time returns the date as a UTC midnight time.Time.
func (d Date) Time() time.Time {
	return time.Time(d)
}

// Before reports whether d falls on an earlier calendar day than other.
func (d Date) Before(other Date) bool {
	return time.Time(d).Before(time.Time(other))
}

func (d Date) String() string {
	return time.Time(d).Format(time.DateOnly)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	*d = Date(t)
	return nil
}

// Book is a catalog entry. AvailableCopies is a stored counter kept equal to
// TotalCopies minus the number of open loans; the store updates it in the
// same transaction as every loan mutation.
type Book struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn"`
	PublishedYear   int       `json:"published_year,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// Member is a registered library member.
type Member struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Loan records one borrow of one book copy. ReturnedAt is nil while the loan
// is open; it is set exactly once, when the copy comes back.
type Loan struct {
	ID         int64      `json:"id"`
	MemberID   int64      `json:"member_id"`
	BookID     int64      `json:"book_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueDate    Date       `json:"due_date"`
	ReturnedAt *time.Time `json:"returned_at"`
}

// Open reports whether the loan has not been returned yet.
func (l Loan) Open() bool {
	return l.ReturnedAt == nil
}

// Overdue reports whether the loan is open and past due as of today.
func (l Loan) Overdue(today Date) bool {
	return l.ReturnedAt == nil && l.DueDate.Before(today)
}

// LoanDetail is a loan joined with the owning member's name and the book's
// title for display.
type LoanDetail struct {
	Loan
	MemberName string `json:"member_name"`
	BookTitle  string `json:"book_title"`
}

// BorrowedBook is one row of a member's borrowing history.
type BorrowedBook struct {
	LoanID     int64      `json:"loan_id"`
	BookID     int64      `json:"book_id"`
	Title      string     `json:"title"`
	Author     string     `json:"author"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueDate    Date       `json:"due_date"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	IsOverdue  bool       `json:"is_overdue"`
}

// ReturnReceipt is the response to a successful return.
type ReturnReceipt struct {
	LoanID     int64     `json:"loan_id"`
	ReturnedAt time.Time `json:"returned_at"`
}

// BookPatch is a partial book update; nil fields are left unchanged.
type BookPatch struct {
	Title         *string `json:"title"`
	Author        *string `json:"author"`
	ISBN          *string `json:"isbn"`
	PublishedYear *int    `json:"published_year"`
	TotalCopies   *int    `json:"total_copies"`
	Active        *bool   `json:"active"`
}

// MemberPatch is a partial member update; nil fields are left unchanged.
type MemberPatch struct {
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
	Active  *bool   `json:"active"`
}

// LoanFilter narrows loan listings.
type LoanFilter struct {
	MemberID   *int64
	ActiveOnly bool
}
