package store

import (
	"sort"
	"sync"
	"time"

	"librarysvc/pkg/domain"
)

// MemoryStore keeps all records in-process. It enforces the same invariants
// as the Postgres store under a single mutex, which makes every operation a
// serialized atomic unit; app and server tests run against it.
type MemoryStore struct {
	mu      sync.Mutex
	books   map[int64]domain.Book
	members map[int64]domain.Member
	loans   map[int64]domain.Loan
	nextID  int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:   make(map[int64]domain.Book),
		members: make(map[int64]domain.Member),
		loans:   make(map[int64]domain.Loan),
		nextID:  1,
	}
}

func (m *MemoryStore) allocID() int64 {
	id := m.nextID
	m.nextID++
	return id
}

// CreateBook inserts a new book with every copy available.
func (m *MemoryStore) CreateBook(b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.books {
		if existing.ISBN == b.ISBN {
			return domain.Book{}, ErrDuplicateISBN
		}
	}
	b.ID = m.allocID()
	b.AvailableCopies = b.TotalCopies
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.books[b.ID] = b
	return b, nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(id int64) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns all books ordered by id.
func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// UpdateBook applies a partial update with the same copy-count rules as the
// Postgres store.
func (m *MemoryStore) UpdateBook(id int64, patch domain.BookPatch) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	if patch.ISBN != nil && *patch.ISBN != b.ISBN {
		for _, existing := range m.books {
			if existing.ISBN == *patch.ISBN {
				return domain.Book{}, ErrDuplicateISBN
			}
		}
		b.ISBN = *patch.ISBN
	}
	if patch.TotalCopies != nil {
		checkedOut := b.TotalCopies - b.AvailableCopies
		if *patch.TotalCopies < checkedOut {
			return domain.Book{}, ErrCopiesBelowCheckedOut
		}
		b.TotalCopies = *patch.TotalCopies
		b.AvailableCopies = *patch.TotalCopies - checkedOut
	}
	if patch.Title != nil {
		b.Title = *patch.Title
	}
	if patch.Author != nil {
		b.Author = *patch.Author
	}
	if patch.PublishedYear != nil {
		b.PublishedYear = *patch.PublishedYear
	}
	if patch.Active != nil {
		b.Active = *patch.Active
	}
	m.books[id] = b
	return b, nil
}

// CreateMember registers a member.
func (m *MemoryStore) CreateMember(member domain.Member) (domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.members {
		if existing.Email == member.Email {
			return domain.Member{}, ErrDuplicateEmail
		}
	}
	member.ID = m.allocID()
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	m.members[member.ID] = member
	return member, nil
}

// GetMember retrieves a member by ID.
func (m *MemoryStore) GetMember(id int64) (domain.Member, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[id]
	return member, ok, nil
}

// ListMembers returns all members ordered by id.
func (m *MemoryStore) ListMembers() ([]domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Member, 0, len(m.members))
	for _, member := range m.members {
		res = append(res, member)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// UpdateMember applies a partial update keyed on email uniqueness.
func (m *MemoryStore) UpdateMember(id int64, patch domain.MemberPatch) (domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[id]
	if !ok {
		return domain.Member{}, ErrMemberNotFound
	}
	if patch.Email != nil && *patch.Email != member.Email {
		for _, existing := range m.members {
			if existing.Email == *patch.Email {
				return domain.Member{}, ErrDuplicateEmail
			}
		}
		member.Email = *patch.Email
	}
	if patch.Name != nil {
		member.Name = *patch.Name
	}
	if patch.Phone != nil {
		member.Phone = *patch.Phone
	}
	if patch.Address != nil {
		member.Address = *patch.Address
	}
	if patch.Active != nil {
		member.Active = *patch.Active
	}
	m.members[id] = member
	return member, nil
}

// Borrow mirrors the Postgres store's transactional checkout under the
// store mutex.
func (m *MemoryStore) Borrow(memberID, bookID int64, borrowedAt time.Time, dueDate domain.Date) (domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[memberID]
	if !ok || !member.Active {
		return domain.Loan{}, ErrMemberNotFound
	}
	book, ok := m.books[bookID]
	if !ok || !book.Active {
		return domain.Loan{}, ErrBookNotFound
	}
	if book.AvailableCopies <= 0 {
		return domain.Loan{}, ErrNoCopiesAvailable
	}
	for _, loan := range m.loans {
		if loan.MemberID == memberID && loan.BookID == bookID && loan.ReturnedAt == nil {
			return domain.Loan{}, ErrLoanAlreadyOpen
		}
	}
	loan := domain.Loan{
		ID:         m.allocID(),
		MemberID:   memberID,
		BookID:     bookID,
		BorrowedAt: borrowedAt.UTC(),
		DueDate:    dueDate,
	}
	m.loans[loan.ID] = loan
	book.AvailableCopies--
	m.books[bookID] = book
	return loan, nil
}

// Return mirrors the Postgres store's transactional return under the store
// mutex.
func (m *MemoryStore) Return(loanID int64, returnedAt time.Time) (domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[loanID]
	if !ok {
		return domain.Loan{}, ErrLoanNotFound
	}
	if loan.ReturnedAt != nil {
		return domain.Loan{}, ErrLoanAlreadyClosed
	}
	book, ok := m.books[loan.BookID]
	if !ok {
		return domain.Loan{}, ErrBookNotFound
	}
	at := returnedAt.UTC()
	loan.ReturnedAt = &at
	m.loans[loanID] = loan
	if book.AvailableCopies < book.TotalCopies {
		book.AvailableCopies++
		m.books[book.ID] = book
	}
	return loan, nil
}

func (m *MemoryStore) loansFiltered(memberID *int64, activeOnly bool) []domain.Loan {
	res := make([]domain.Loan, 0, len(m.loans))
	for _, loan := range m.loans {
		if memberID != nil && loan.MemberID != *memberID {
			continue
		}
		if activeOnly && loan.ReturnedAt != nil {
			continue
		}
		res = append(res, loan)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].BorrowedAt.Equal(res[j].BorrowedAt) {
			return res[i].BorrowedAt.After(res[j].BorrowedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res
}

// ListLoans returns loans newest-borrowed-first.
func (m *MemoryStore) ListLoans(filter domain.LoanFilter) ([]domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loansFiltered(filter.MemberID, filter.ActiveOnly), nil
}

func (m *MemoryStore) detail(loan domain.Loan) domain.LoanDetail {
	return domain.LoanDetail{
		Loan:       loan,
		MemberName: m.members[loan.MemberID].Name,
		BookTitle:  m.books[loan.BookID].Title,
	}
}

// ListLoanDetails returns loans joined with member name and book title.
func (m *MemoryStore) ListLoanDetails(filter domain.LoanFilter) ([]domain.LoanDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loans := m.loansFiltered(filter.MemberID, filter.ActiveOnly)
	res := make([]domain.LoanDetail, 0, len(loans))
	for _, loan := range loans {
		res = append(res, m.detail(loan))
	}
	return res, nil
}

// ListOverdueLoanDetails returns open loans past their due date.
func (m *MemoryStore) ListOverdueLoanDetails(memberID *int64, today domain.Date) ([]domain.LoanDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loans := m.loansFiltered(memberID, true)
	res := make([]domain.LoanDetail, 0, len(loans))
	for _, loan := range loans {
		if loan.Overdue(today) {
			res = append(res, m.detail(loan))
		}
	}
	return res, nil
}

// MemberBorrowedBooks returns a member's loans with book metadata and a
// computed overdue flag.
func (m *MemoryStore) MemberBorrowedBooks(memberID int64, activeOnly bool, today domain.Date) ([]domain.BorrowedBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[memberID]; !ok {
		return nil, ErrMemberNotFound
	}
	loans := m.loansFiltered(&memberID, activeOnly)
	res := make([]domain.BorrowedBook, 0, len(loans))
	for _, loan := range loans {
		book := m.books[loan.BookID]
		res = append(res, domain.BorrowedBook{
			LoanID:     loan.ID,
			BookID:     book.ID,
			Title:      book.Title,
			Author:     book.Author,
			BorrowedAt: loan.BorrowedAt,
			DueDate:    loan.DueDate,
			ReturnedAt: loan.ReturnedAt,
			IsOverdue:  loan.Overdue(today),
		})
	}
	return res, nil
}
