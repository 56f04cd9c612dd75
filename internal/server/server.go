package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"librarysvc/internal/app"
	"librarysvc/internal/util"
	"librarysvc/pkg/domain"
	"librarysvc/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
}

// Server exposes the library REST endpoints.
type Server struct {
	app *app.App
	mux *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	s := &Server{
		app: cfg.App,
		mux: http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/books", s.handleBooks)
	s.mux.HandleFunc("/books/", s.handleBookByID)

	s.mux.HandleFunc("/members", s.handleMembers)
	s.mux.HandleFunc("/members/", s.handleMemberByID)

	s.mux.HandleFunc("/loans", s.handleListLoans)
	s.mux.HandleFunc("/loans/overdue", s.handleListOverdueLoans)
	s.mux.HandleFunc("/loans/borrow", s.handleBorrow)
	s.mux.HandleFunc("/loans/", s.handleLoanByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createBookRequest struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"isbn"`
	PublishedYear int    `json:"published_year"`
	TotalCopies   int    `json:"total_copies"`
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createBookRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.TotalCopies == 0 {
			req.TotalCopies = 1
		}
		book, err := s.app.CreateBook(domain.Book{
			Title:         req.Title,
			Author:        req.Author,
			ISBN:          req.ISBN,
			PublishedYear: req.PublishedYear,
			TotalCopies:   req.TotalCopies,
		})
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	case http.MethodGet:
		books, err := s.app.ListBooks()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, books)
	default:
		methodNotAllowed(w)
	}
}

// /books/{id}
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := parseID(r.URL.Path, "/books/")
	if !ok || rest != "" {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		book, found, err := s.app.GetBook(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !found {
			notFound(w, store.ErrBookNotFound.Error())
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut:
		var patch domain.BookPatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		book, err := s.app.UpdateBook(id, patch)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	default:
		methodNotAllowed(w)
	}
}

type createMemberRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createMemberRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		member, err := s.app.CreateMember(domain.Member{
			Name:    req.Name,
			Email:   req.Email,
			Phone:   req.Phone,
			Address: req.Address,
		})
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, member)
	case http.MethodGet:
		members, err := s.app.ListMembers()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, members)
	default:
		methodNotAllowed(w)
	}
}

// /members/{id} or /members/{id}/borrowed-books
func (s *Server) handleMemberByID(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := parseID(r.URL.Path, "/members/")
	if !ok {
		notFound(w, "not found")
		return
	}
	if rest == "borrowed-books" {
		s.handleMemberBorrowedBooks(w, r, id)
		return
	}
	if rest != "" {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		member, found, err := s.app.GetMember(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !found {
			notFound(w, store.ErrMemberNotFound.Error())
			return
		}
		writeJSON(w, http.StatusOK, member)
	case http.MethodPut:
		var patch domain.MemberPatch
		if err := decodeJSON(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		member, err := s.app.UpdateMember(id, patch)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, member)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMemberBorrowedBooks(w http.ResponseWriter, r *http.Request, memberID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	activeOnly := true
	if v := r.URL.Query().Get("active_only"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active_only")
			return
		}
		activeOnly = parsed
	}
	books, err := s.app.MemberBorrowedBooks(memberID, activeOnly)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

type borrowRequest struct {
	MemberID int64        `json:"member_id"`
	BookID   int64        `json:"book_id"`
	DueDate  *domain.Date `json:"due_date"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	loan, err := s.app.Borrow(req.MemberID, req.BookID, req.DueDate)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

// /loans/{id}/return
func (s *Server) handleLoanByID(w http.ResponseWriter, r *http.Request) {
	id, rest, ok := parseID(r.URL.Path, "/loans/")
	if !ok || rest != "return" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	receipt, err := s.app.Return(id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter, err := loanFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loans, err := s.app.ListLoans(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) handleListOverdueLoans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter, err := loanFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loans, err := s.app.ListOverdueLoans(filter.MemberID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func loanFilterFromQuery(r *http.Request) (domain.LoanFilter, error) {
	filter := domain.LoanFilter{}
	if v := r.URL.Query().Get("member_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, errors.New("invalid member_id")
		}
		filter.MemberID = &id
	}
	if v := r.URL.Query().Get("active_only"); v != "" {
		activeOnly, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("invalid active_only")
		}
		filter.ActiveOnly = activeOnly
	}
	return filter, nil
}

// parseID splits "{prefix}{id}" or "{prefix}{id}/{rest}" and parses the id.
func parseID(path, prefix string) (int64, string, bool) {
	trimmed := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(trimmed, "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	if len(parts) == 2 {
		return id, parts[1], true
	}
	return id, "", true
}

// writeAppError maps application and store errors to HTTP statuses:
// validation and copy-count violations to 400, missing entities to 404,
// uniqueness/inventory/lifecycle conflicts to 409.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case app.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrCopiesBelowCheckedOut):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrBookNotFound),
		errors.Is(err, store.ErrMemberNotFound),
		errors.Is(err, store.ErrLoanNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateISBN),
		errors.Is(err, store.ErrDuplicateEmail),
		errors.Is(err, store.ErrNoCopiesAvailable),
		errors.Is(err, store.ErrLoanAlreadyOpen),
		errors.Is(err, store.ErrLoanAlreadyClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCode(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCode(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "member not found":
		return "MEMBER_NOT_FOUND"
	case message == "loan not found":
		return "LOAN_NOT_FOUND"
	case strings.Contains(message, "isbn already exists"):
		return "BOOK_DUPLICATE_ISBN"
	case strings.Contains(message, "email already exists"):
		return "MEMBER_DUPLICATE_EMAIL"
	case message == "no available copies for this book":
		return "LOAN_NO_COPIES"
	case message == "member already has this book checked out":
		return "LOAN_ALREADY_OPEN"
	case message == "loan is already closed":
		return "LOAN_ALREADY_CLOSED"
	case strings.Contains(message, "checked-out copies"):
		return "BOOK_COPIES_BELOW_CHECKED_OUT"
	case message == "invalid json body":
		return "REQUEST_INVALID_BODY"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "REQUEST_CONFLICT"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
