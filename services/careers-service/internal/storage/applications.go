package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"github.com/northpeak/studio/libs/db"
)

type Status string

const (
	StatusDraft        Status = "draft"
	StatusApplied      Status = "applied"
	StatusInterviewing Status = "interviewing"
	StatusOffer        Status = "offer"
	StatusRejected     Status = "rejected"
	StatusWithdrawn    Status = "withdrawn"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusApplied, StatusInterviewing, StatusOffer, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

type DocumentsStatus string

const (
	DocumentsNone    DocumentsStatus = "none"
	DocumentsPending DocumentsStatus = "pending"
	DocumentsReady   DocumentsStatus = "ready"
	DocumentsFailed  DocumentsStatus = "failed"
)

type Application struct {
	ID              string
	Company         string
	RoleTitle       string
	JobURL          string
	JobDescription  string
	ContactName     string
	Status          Status
	DocumentsStatus DocumentsStatus
	CVKey           string
	CoverLetterKey  string
	CoverLetterText string
	DocumentsError  string
	Notes           string
	AppliedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Changes holds a partial update. Nil fields are left untouched.
type Changes struct {
	Company        *string
	RoleTitle      *string
	JobURL         *string
	JobDescription *string
	ContactName    *string
	Status         *Status
	Notes          *string
}

type Repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

const applicationColumns = `id::text, company, role_title, job_url, job_description, contact_name, status,
	documents_status, cv_key, cover_letter_key, cover_letter_text, documents_error, notes,
	applied_at, created_at, updated_at`

func scanApplication(row pgx.Row) (Application, error) {
	var a Application
	var status, docs string
	err := row.Scan(&a.ID, &a.Company, &a.RoleTitle, &a.JobURL, &a.JobDescription, &a.ContactName, &status,
		&docs, &a.CVKey, &a.CoverLetterKey, &a.CoverLetterText, &a.DocumentsError, &a.Notes,
		&a.AppliedAt, &a.CreatedAt, &a.UpdatedAt)
	a.Status = Status(status)
	a.DocumentsStatus = DocumentsStatus(docs)
	return a, err
}

func (r *Repository) Create(ctx context.Context, a Application) (Application, error) {
	if a.Status == "" {
		a.Status = StatusDraft
	}
	return scanApplication(r.db.QueryRow(ctx, `
		INSERT INTO job_applications (company, role_title, job_url, job_description, contact_name, status, notes, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CASE WHEN $6 = 'applied' THEN now() END)
		RETURNING `+applicationColumns,
		a.Company, a.RoleTitle, a.JobURL, a.JobDescription, a.ContactName, string(a.Status), a.Notes))
}

func (r *Repository) Get(ctx context.Context, id string) (Application, error) {
	return scanApplication(r.db.QueryRow(ctx, `SELECT `+applicationColumns+` FROM job_applications WHERE id = $1`, id))
}

func (r *Repository) List(ctx context.Context, status Status, limit int) ([]Application, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + applicationColumns + ` FROM job_applications`
	args := []any{}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Application{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Update applies c. Moving to applied stamps applied_at once.
func (r *Repository) Update(ctx context.Context, id string, c Changes) (Application, error) {
	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if c.Company != nil {
		add("company", *c.Company)
	}
	if c.RoleTitle != nil {
		add("role_title", *c.RoleTitle)
	}
	if c.JobURL != nil {
		add("job_url", *c.JobURL)
	}
	if c.JobDescription != nil {
		add("job_description", *c.JobDescription)
	}
	if c.ContactName != nil {
		add("contact_name", *c.ContactName)
	}
	if c.Notes != nil {
		add("notes", *c.Notes)
	}
	if c.Status != nil {
		add("status", string(*c.Status))
		if *c.Status == StatusApplied {
			sets = append(sets, "applied_at = COALESCE(applied_at, now())")
		}
	}
	if len(sets) == 0 {
		return r.Get(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	return scanApplication(r.db.QueryRow(ctx, `UPDATE job_applications SET `+strings.Join(sets, ", ")+
		` WHERE id = $1 RETURNING `+applicationColumns, args...))
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM job_applications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkPendingTx flips documents to pending unless a run is already pending.
func (r *Repository) MarkPendingTx(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE job_applications
		SET documents_status = 'pending', documents_error = '', updated_at = now()
		WHERE id = $1 AND documents_status <> 'pending'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkReady(ctx context.Context, id, cvKey, coverLetterKey, coverLetterText string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE job_applications
		SET documents_status = 'ready', cv_key = $2, cover_letter_key = $3,
			cover_letter_text = $4, documents_error = '', updated_at = now()
		WHERE id = $1
	`, id, cvKey, coverLetterKey, coverLetterText)
	return err
}

const maxDocumentsError = 1000

// MarkFailed stores reason, cut to maxDocumentsError bytes on a rune boundary.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	reason = truncateUTF8(strings.ToValidUTF8(reason, "?"), maxDocumentsError)
	_, err := r.db.Exec(ctx, `
		UPDATE job_applications
		SET documents_status = 'failed', documents_error = $2, updated_at = now()
		WHERE id = $1
	`, id, reason)
	return err
}

// truncateUTF8 cuts s to at most n bytes without splitting a character.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func IsNotFound(err error) bool {
	return db.IsNotFound(err)
}
