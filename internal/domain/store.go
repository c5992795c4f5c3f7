package domain

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/russross/meddler"

	"github.com/skillnet-labs/examchain-backend/internal/logger"
)

const defaultListLimit = 50

// Store is the repository for all domain projections.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// NewStore creates a domain store on an open database.
func NewStore(db *sql.DB, log *logger.Logger) *Store {
	return &Store{
		db:  db,
		log: log,
	}
}

// FindOrCreateExam inserts the exam unless one with the same chain id
// already exists. Defaults are applied only on create, an existing exam is
// returned untouched.
func (s *Store) FindOrCreateExam(ctx context.Context, exam *Exam) (*Exam, bool, error) {
	if exam.Category == "" {
		exam.Category = DefaultExamCategory
	}
	if exam.DurationMinutes == 0 {
		exam.DurationMinutes = DefaultExamDuration
	}
	if exam.PassingScore == 0 {
		exam.PassingScore = DefaultExamPassingScore
	}
	if exam.Price == "" {
		exam.Price = DefaultExamPrice
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO exams
		(id, name, category, description, duration_minutes, passing_score, price, is_certification, creator_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exam.ID, exam.Name, exam.Category, exam.Description,
		exam.DurationMinutes, exam.PassingScore, exam.Price,
		exam.IsCertification, exam.CreatorAddress, time.Now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert exam: %w", err)
	}

	created, err := rowsCreated(res)
	if err != nil {
		return nil, false, err
	}

	stored, err := s.GetExam(ctx, exam.ID)
	if err != nil {
		return nil, false, err
	}

	return stored, created, nil
}

// GetExam returns the exam with the given chain id, or nil when unknown.
func (s *Store) GetExam(ctx context.Context, id string) (*Exam, error) {
	exam := &Exam{}
	err := meddler.QueryRow(s.db, exam, `SELECT * FROM exams WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load exam: %w", err)
	}
	return exam, nil
}

// ListExams returns exams newest first, with the total count.
func (s *Store) ListExams(ctx context.Context, limit, offset int) ([]*Exam, int, error) {
	return listRows[Exam](ctx, s.db, "exams", nil, nil, limit, offset)
}

// FindOrCreateUserByWallet inserts a user for the wallet address unless one
// exists. New users get a username derived from the wallet.
func (s *Store) FindOrCreateUserByWallet(ctx context.Context, wallet string) (*User, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (id, wallet_address, username, created_at)
		VALUES (?, ?, ?, ?)`,
		uuid.NewString(), wallet, defaultUsername(wallet), time.Now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert user: %w", err)
	}

	created, err := rowsCreated(res)
	if err != nil {
		return nil, false, err
	}

	user, err := s.GetUserByWallet(ctx, wallet)
	if err != nil {
		return nil, false, err
	}
	if user == nil {
		return nil, false, fmt.Errorf("user for wallet %s not found after insert", wallet)
	}

	return user, created, nil
}

// GetUserByWallet returns the user owning the wallet address, or nil.
func (s *Store) GetUserByWallet(ctx context.Context, wallet string) (*User, error) {
	user := &User{}
	err := meddler.QueryRow(s.db, user, `SELECT * FROM users WHERE wallet_address = ?`, wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// defaultUsername derives a stable placeholder username from a wallet
// address: "user_" plus the first 8 hex characters.
func defaultUsername(wallet string) string {
	trimmed := strings.TrimPrefix(strings.ToLower(wallet), "0x")
	if len(trimmed) > 8 {
		trimmed = trimmed[:8]
	}
	return "user_" + trimmed
}

// FindOrCreateRegistration inserts a registration for the (user, exam) pair
// unless one exists. Chain-sourced registrations are confirmed and paid, and
// new ones get a random exam code.
func (s *Store) FindOrCreateRegistration(ctx context.Context, userID, examID string) (*Registration, bool, error) {
	code, err := newExamCode()
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO registrations
		(id, user_id, exam_id, status, payment_status, exam_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, examID,
		RegistrationStatusConfirmed, PaymentStatusCompleted, code, time.Now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert registration: %w", err)
	}

	created, err := rowsCreated(res)
	if err != nil {
		return nil, false, err
	}

	reg, err := s.GetRegistration(ctx, userID, examID)
	if err != nil {
		return nil, false, err
	}
	if reg == nil {
		return nil, false, fmt.Errorf("registration for user %s exam %s not found after insert", userID, examID)
	}

	return reg, created, nil
}

// GetRegistration returns the registration for the (user, exam) pair, or nil.
func (s *Store) GetRegistration(ctx context.Context, userID, examID string) (*Registration, error) {
	reg := &Registration{}
	err := meddler.QueryRow(s.db, reg,
		`SELECT * FROM registrations WHERE user_id = ? AND exam_id = ?`, userID, examID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}
	return reg, nil
}

// ListRegistrations returns registrations newest first, optionally filtered
// by exam, with the total count.
func (s *Store) ListRegistrations(ctx context.Context, examID string, limit, offset int) ([]*Registration, int, error) {
	var conditions []string
	var args []interface{}
	if examID != "" {
		conditions = append(conditions, "exam_id = ?")
		args = append(args, examID)
	}
	return listRows[Registration](ctx, s.db, "registrations", conditions, args, limit, offset)
}

// newExamCode generates a random 8-character uppercase hex code handed to
// the candidate at exam time.
func newExamCode() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate exam code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf[:])), nil
}

// UpsertResult creates the result for a registration or, when one already
// exists, updates its score, outcome and completion time.
func (s *Store) UpsertResult(
	ctx context.Context,
	reg *Registration,
	score int,
	isPassed bool,
	completionTime *int64,
) (*Result, bool, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO results
		(id, registration_id, user_id, exam_id, score, is_passed, completion_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), reg.ID, reg.UserID, reg.ExamID,
		score, isPassed, completionTime, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert result: %w", err)
	}

	created, err := rowsCreated(res)
	if err != nil {
		return nil, false, err
	}

	if !created {
		_, err = s.db.ExecContext(ctx, `
			UPDATE results SET score = ?, is_passed = ?, completion_time = ?, updated_at = ?
			WHERE registration_id = ?`,
			score, isPassed, completionTime, now, reg.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update result: %w", err)
		}
	}

	result := &Result{}
	err = meddler.QueryRow(s.db, result, `SELECT * FROM results WHERE registration_id = ?`, reg.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load result: %w", err)
	}

	return result, created, nil
}

// SetCertificateURL stores the certificate URL on every passing result of
// the exam and returns the rows it touched.
func (s *Store) SetCertificateURL(ctx context.Context, examID, url string) ([]*Result, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE results SET certificate_url = ?, updated_at = ?
		WHERE exam_id = ? AND is_passed = 1`,
		url, time.Now().UTC(), examID)
	if err != nil {
		return nil, fmt.Errorf("failed to set certificate url: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM results WHERE exam_id = ? AND is_passed = 1`, examID)
	if err != nil {
		return nil, fmt.Errorf("failed to load passing results: %w", err)
	}
	defer rows.Close()

	var results []*Result
	if err := meddler.ScanAll(rows, &results); err != nil {
		return nil, fmt.Errorf("failed to scan passing results: %w", err)
	}

	return results, nil
}

// ListResults returns results newest first, optionally filtered by exam and
// user, with the total count.
func (s *Store) ListResults(ctx context.Context, examID, userID string, limit, offset int) ([]*Result, int, error) {
	var conditions []string
	var args []interface{}
	if examID != "" {
		conditions = append(conditions, "exam_id = ?")
		args = append(args, examID)
	}
	if userID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, userID)
	}
	return listRows[Result](ctx, s.db, "results", conditions, args, limit, offset)
}

// CreateNotification stores a notification. A nil userID addresses every
// user.
func (s *Store) CreateNotification(ctx context.Context, userID *string, typ, title, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		uuid.NewString(), userID, typ, title, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns notifications newest first, optionally filtered
// by user (global notifications included), with the total count.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit, offset int) ([]*Notification, int, error) {
	var conditions []string
	var args []interface{}
	if userID != "" {
		conditions = append(conditions, "(user_id = ? OR user_id IS NULL)")
		args = append(args, userID)
	}
	return listRows[Notification](ctx, s.db, "notifications", conditions, args, limit, offset)
}

func rowsCreated(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return affected > 0, nil
}

// listRows pages through a table newest first and returns the total match
// count alongside the page.
func listRows[T any](
	ctx context.Context,
	db *sql.DB,
	table string,
	conditions []string,
	args []interface{},
	limit, offset int,
) ([]*T, int, error) {
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	//nolint:gosec // Table name is a package-internal constant, not user input
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", table, err)
	}

	if limit <= 0 {
		limit = defaultListLimit
	}

	//nolint:gosec // Table name is a package-internal constant, not user input
	query := "SELECT * FROM " + table + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var items []*T
	if err := meddler.ScanAll(rows, &items); err != nil {
		return nil, 0, fmt.Errorf("failed to scan %s: %w", table, err)
	}

	return items, total, nil
}
