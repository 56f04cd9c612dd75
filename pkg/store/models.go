package store

import (
	"time"

	"gorm.io/datatypes"

	"librarysvc/pkg/domain"
)

// GORM models used for persistence.
type BookModel struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	Title           string `gorm:"not null;index"`
	Author          string `gorm:"not null;index"`
	ISBN            string `gorm:"column:isbn;uniqueIndex;not null"`
	PublishedYear   int
	TotalCopies     int       `gorm:"not null"`
	AvailableCopies int       `gorm:"not null"`
	Active          bool      `gorm:"not null;default:true"`
	CreatedAt       time.Time `gorm:"not null"`
}

type MemberModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"not null"`
	Email     string `gorm:"uniqueIndex;not null"`
	Phone     string
	Address   string
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
}

type LoanModel struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	MemberID   int64          `gorm:"not null;index"`
	BookID     int64          `gorm:"not null;index"`
	BorrowedAt time.Time      `gorm:"not null;index"`
	DueDate    datatypes.Date `gorm:"not null"`
	ReturnedAt *time.Time
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		PublishedYear:   b.PublishedYear,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		Active:          b.Active,
		CreatedAt:       b.CreatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:              m.ID,
		Title:           m.Title,
		Author:          m.Author,
		ISBN:            m.ISBN,
		PublishedYear:   m.PublishedYear,
		TotalCopies:     m.TotalCopies,
		AvailableCopies: m.AvailableCopies,
		Active:          m.Active,
		CreatedAt:       m.CreatedAt,
	}
}

func memberToModel(m domain.Member) MemberModel {
	return MemberModel{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Phone:     m.Phone,
		Address:   m.Address,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}
}

func memberFromModel(m MemberModel) domain.Member {
	return domain.Member{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Phone:     m.Phone,
		Address:   m.Address,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}
}

func loanFromModel(m LoanModel) domain.Loan {
	return domain.Loan{
		ID:         m.ID,
		MemberID:   m.MemberID,
		BookID:     m.BookID,
		BorrowedAt: m.BorrowedAt,
		DueDate:    domain.NewDate(time.Time(m.DueDate)),
		ReturnedAt: m.ReturnedAt,
	}
}
