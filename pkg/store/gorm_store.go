package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"librarysvc/pkg/domain"
)

const migrateLockID int64 = 52175217

// GormStore implements Store using GORM + Postgres.
//
// Borrow and Return lock the book row (SELECT ... FOR UPDATE) so concurrent
// requests for the last copy serialize; the partial unique index on open
// loans and the CHECK constraint on copy bounds are the backstop for
// anything the in-transaction checks race on.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&BookModel{}, &MemberModel{}, &LoanModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// At most one open loan per (member, book) pair; closed loans for
		// the same pair may pile up historically.
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_loan_models_open_pair
			ON loan_models (member_id, book_id)
			WHERE returned_at IS NULL;
		`).Error; err != nil {
			return fmt.Errorf("create open-loan index: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'book_models'
					AND constraint_name = 'book_models_copies_within_total'
				) THEN
					ALTER TABLE book_models
					ADD CONSTRAINT book_models_copies_within_total
					CHECK (available_copies >= 0 AND available_copies <= total_copies);
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'loan_models'
					AND constraint_name = 'loan_models_member_id_fkey'
				) THEN
					ALTER TABLE loan_models
					ADD CONSTRAINT loan_models_member_id_fkey
					FOREIGN KEY (member_id) REFERENCES member_models(id) ON DELETE RESTRICT;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'loan_models'
					AND constraint_name = 'loan_models_book_id_fkey'
				) THEN
					ALTER TABLE loan_models
					ADD CONSTRAINT loan_models_book_id_fkey
					FOREIGN KEY (book_id) REFERENCES book_models(id) ON DELETE RESTRICT;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure loan constraints: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateBook inserts a new book with every copy available.
func (s *GormStore) CreateBook(b domain.Book) (domain.Book, error) {
	model := bookToModel(b)
	model.ID = 0
	model.AvailableCopies = model.TotalCopies
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Book{}, ErrDuplicateISBN
		}
		return domain.Book{}, err
	}
	return bookFromModel(model), nil
}

// GetBook retrieves a book by ID.
func (s *GormStore) GetBook(id int64) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books ordered by id.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// UpdateBook applies a partial update. A total_copies change keeps the
// checked-out count intact: available = new_total - (old_total - old_available).
func (s *GormStore) UpdateBook(id int64, patch domain.BookPatch) (domain.Book, error) {
	var out BookModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var m BookModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		updates := map[string]any{}
		if patch.Title != nil {
			updates["title"] = *patch.Title
		}
		if patch.Author != nil {
			updates["author"] = *patch.Author
		}
		if patch.PublishedYear != nil {
			updates["published_year"] = *patch.PublishedYear
		}
		if patch.Active != nil {
			updates["active"] = *patch.Active
		}
		if patch.ISBN != nil && *patch.ISBN != m.ISBN {
			var count int64
			if err := tx.Model(&BookModel{}).Where("isbn = ?", *patch.ISBN).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrDuplicateISBN
			}
			updates["isbn"] = *patch.ISBN
		}
		if patch.TotalCopies != nil {
			checkedOut := m.TotalCopies - m.AvailableCopies
			if *patch.TotalCopies < checkedOut {
				return ErrCopiesBelowCheckedOut
			}
			updates["total_copies"] = *patch.TotalCopies
			updates["available_copies"] = *patch.TotalCopies - checkedOut
		}
		if len(updates) > 0 {
			if err := tx.Model(&BookModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrDuplicateISBN
				}
				return err
			}
		}
		return tx.First(&out, "id = ?", id).Error
	})
	if err != nil {
		return domain.Book{}, err
	}
	return bookFromModel(out), nil
}

// CreateMember registers a member.
func (s *GormStore) CreateMember(m domain.Member) (domain.Member, error) {
	model := memberToModel(m)
	model.ID = 0
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Member{}, ErrDuplicateEmail
		}
		return domain.Member{}, err
	}
	return memberFromModel(model), nil
}

// GetMember retrieves a member by ID.
func (s *GormStore) GetMember(id int64) (domain.Member, bool, error) {
	var model MemberModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Member{}, false, nil
		}
		return domain.Member{}, false, err
	}
	return memberFromModel(model), true, nil
}

// ListMembers returns all members ordered by id.
func (s *GormStore) ListMembers() ([]domain.Member, error) {
	var models []MemberModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Member, 0, len(models))
	for _, m := range models {
		res = append(res, memberFromModel(m))
	}
	return res, nil
}

// UpdateMember applies a partial update keyed on email uniqueness.
func (s *GormStore) UpdateMember(id int64, patch domain.MemberPatch) (domain.Member, error) {
	var out MemberModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var m MemberModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}
		updates := map[string]any{}
		if patch.Name != nil {
			updates["name"] = *patch.Name
		}
		if patch.Phone != nil {
			updates["phone"] = *patch.Phone
		}
		if patch.Address != nil {
			updates["address"] = *patch.Address
		}
		if patch.Active != nil {
			updates["active"] = *patch.Active
		}
		if patch.Email != nil && *patch.Email != m.Email {
			var count int64
			if err := tx.Model(&MemberModel{}).Where("email = ?", *patch.Email).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrDuplicateEmail
			}
			updates["email"] = *patch.Email
		}
		if len(updates) > 0 {
			if err := tx.Model(&MemberModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrDuplicateEmail
				}
				return err
			}
		}
		return tx.First(&out, "id = ?", id).Error
	})
	if err != nil {
		return domain.Member{}, err
	}
	return memberFromModel(out), nil
}

// Borrow checks eligibility and availability, then creates the loan and
// decrements the book's available count as one transaction.
func (s *GormStore) Borrow(memberID, bookID int64, borrowedAt time.Time, dueDate domain.Date) (domain.Loan, error) {
	var model LoanModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var member MemberModel
		if err := tx.First(&member, "id = ? AND active", memberID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return err
		}
		var book BookModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&book, "id = ? AND active", bookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		if book.AvailableCopies <= 0 {
			return ErrNoCopiesAvailable
		}
		var open int64
		if err := tx.Model(&LoanModel{}).
			Where("member_id = ? AND book_id = ? AND returned_at IS NULL", memberID, bookID).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrLoanAlreadyOpen
		}
		model = LoanModel{
			MemberID:   memberID,
			BookID:     bookID,
			BorrowedAt: borrowedAt.UTC(),
			DueDate:    datatypes.Date(dueDate.Time()),
		}
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrLoanAlreadyOpen
			}
			return err
		}
		res := tx.Model(&BookModel{}).
			Where("id = ? AND available_copies > 0", bookID).
			UpdateColumn("available_copies", gorm.Expr("available_copies - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoCopiesAvailable
		}
		return nil
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return loanFromModel(model), nil
}

// Return closes the loan and increments the book's available count as one
// transaction. A second return of the same loan fails with ErrLoanAlreadyClosed.
func (s *GormStore) Return(loanID int64, returnedAt time.Time) (domain.Loan, error) {
	var model LoanModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", loanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}
		if model.ReturnedAt != nil {
			return ErrLoanAlreadyClosed
		}
		var book BookModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&book, "id = ?", model.BookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		at := returnedAt.UTC()
		res := tx.Model(&LoanModel{}).
			Where("id = ? AND returned_at IS NULL", loanID).
			Update("returned_at", at)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrLoanAlreadyClosed
		}
		res = tx.Model(&BookModel{}).
			Where("id = ? AND available_copies < total_copies", model.BookID).
			UpdateColumn("available_copies", gorm.Expr("available_copies + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("book %d availability already at total", model.BookID)
		}
		model.ReturnedAt = &at
		return nil
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return loanFromModel(model), nil
}

// ListLoans returns loans newest-borrowed-first, optionally scoped to a
// member and/or restricted to open loans.
func (s *GormStore) ListLoans(filter domain.LoanFilter) ([]domain.Loan, error) {
	query := s.db.Order("borrowed_at DESC, id DESC")
	if filter.MemberID != nil {
		query = query.Where("member_id = ?", *filter.MemberID)
	}
	if filter.ActiveOnly {
		query = query.Where("returned_at IS NULL")
	}
	var models []LoanModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Loan, 0, len(models))
	for _, m := range models {
		res = append(res, loanFromModel(m))
	}
	return res, nil
}

type loanDetailRow struct {
	ID         int64
	MemberID   int64
	BookID     int64
	BorrowedAt time.Time
	DueDate    datatypes.Date
	ReturnedAt *time.Time
	MemberName string
	BookTitle  string
}

func (r loanDetailRow) toDomain() domain.LoanDetail {
	return domain.LoanDetail{
		Loan: domain.Loan{
			ID:         r.ID,
			MemberID:   r.MemberID,
			BookID:     r.BookID,
			BorrowedAt: r.BorrowedAt,
			DueDate:    domain.NewDate(time.Time(r.DueDate)),
			ReturnedAt: r.ReturnedAt,
		},
		MemberName: r.MemberName,
		BookTitle:  r.BookTitle,
	}
}

func (s *GormStore) loanDetailQuery() *gorm.DB {
	return s.db.Table("loan_models").
		Select(`loan_models.id, loan_models.member_id, loan_models.book_id,
			loan_models.borrowed_at, loan_models.due_date, loan_models.returned_at,
			member_models.name AS member_name, book_models.title AS book_title`).
		Joins("JOIN member_models ON member_models.id = loan_models.member_id").
		Joins("JOIN book_models ON book_models.id = loan_models.book_id").
		Order("loan_models.borrowed_at DESC, loan_models.id DESC")
}

// ListLoanDetails returns loans joined with member name and book title.
func (s *GormStore) ListLoanDetails(filter domain.LoanFilter) ([]domain.LoanDetail, error) {
	query := s.loanDetailQuery()
	if filter.MemberID != nil {
		query = query.Where("loan_models.member_id = ?", *filter.MemberID)
	}
	if filter.ActiveOnly {
		query = query.Where("loan_models.returned_at IS NULL")
	}
	var rows []loanDetailRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LoanDetail, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toDomain())
	}
	return res, nil
}

// ListOverdueLoanDetails returns open loans whose due date has passed.
// Overdue is evaluated here at query time, never stored.
func (s *GormStore) ListOverdueLoanDetails(memberID *int64, today domain.Date) ([]domain.LoanDetail, error) {
	query := s.loanDetailQuery().
		Where("loan_models.returned_at IS NULL AND loan_models.due_date < ?", today.Time())
	if memberID != nil {
		query = query.Where("loan_models.member_id = ?", *memberID)
	}
	var rows []loanDetailRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.LoanDetail, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toDomain())
	}
	return res, nil
}

type borrowedBookRow struct {
	LoanID     int64
	BookID     int64
	Title      string
	Author     string
	BorrowedAt time.Time
	DueDate    datatypes.Date
	ReturnedAt *time.Time
}

// MemberBorrowedBooks returns a member's loans joined with book metadata,
// newest first, with a computed overdue flag.
func (s *GormStore) MemberBorrowedBooks(memberID int64, activeOnly bool, today domain.Date) ([]domain.BorrowedBook, error) {
	var member MemberModel
	if err := s.db.First(&member, "id = ?", memberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	query := s.db.Table("loan_models").
		Select(`loan_models.id AS loan_id, book_models.id AS book_id,
			book_models.title, book_models.author,
			loan_models.borrowed_at, loan_models.due_date, loan_models.returned_at`).
		Joins("JOIN book_models ON book_models.id = loan_models.book_id").
		Where("loan_models.member_id = ?", memberID).
		Order("loan_models.borrowed_at DESC, loan_models.id DESC")
	if activeOnly {
		query = query.Where("loan_models.returned_at IS NULL")
	}
	var rows []borrowedBookRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.BorrowedBook, 0, len(rows))
	for _, r := range rows {
		due := domain.NewDate(time.Time(r.DueDate))
		res = append(res, domain.BorrowedBook{
			LoanID:     r.LoanID,
			BookID:     r.BookID,
			Title:      r.Title,
			Author:     r.Author,
			BorrowedAt: r.BorrowedAt,
			DueDate:    due,
			ReturnedAt: r.ReturnedAt,
			IsOverdue:  r.ReturnedAt == nil && due.Before(today),
		})
	}
	return res, nil
}
