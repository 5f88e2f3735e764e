package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/northpeak/studio/libs/db"
)

const projectSlugConstraint = "projects_slug_key"

type Project struct {
	ID            string
	Slug          string
	Title         string
	Summary       string
	Body          string
	TechStack     []string
	ProjectURL    string
	CoverImageKey string
	Published     bool
	SortOrder     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ContactMessage struct {
	ID        string
	Name      string
	Email     string
	Company   string
	Message   string
	CreatedAt time.Time
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

const projectColumns = `id::text, slug, title, summary, body, tech_stack, project_url, cover_image_key, published, sort_order, created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Slug, &p.Title, &p.Summary, &p.Body, &p.TechStack, &p.ProjectURL,
		&p.CoverImageKey, &p.Published, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt)
	if p.TechStack == nil {
		p.TechStack = []string{}
	}
	return p, err
}

func (r *Repository) collectProjects(rows pgx.Rows) ([]Project, error) {
	defer rows.Close()
	out := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) ListPublishedProjects(ctx context.Context) ([]Project, error) {
	rows, err := r.db.Query(ctx, `SELECT `+projectColumns+`
		FROM projects
		WHERE published
		ORDER BY sort_order, created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return r.collectProjects(rows)
}

func (r *Repository) GetPublishedProject(ctx context.Context, slug string) (Project, error) {
	return scanProject(r.db.QueryRow(ctx, `SELECT `+projectColumns+`
		FROM projects
		WHERE slug = $1 AND published
	`, slug))
}

func (r *Repository) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := r.db.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY sort_order, created_at DESC`)
	if err != nil {
		return nil, err
	}
	return r.collectProjects(rows)
}

func (r *Repository) GetProject(ctx context.Context, id string) (Project, error) {
	return scanProject(r.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

func (r *Repository) CreateProject(ctx context.Context, p Project) (Project, error) {
	return scanProject(r.db.QueryRow(ctx, `
		INSERT INTO projects (slug, title, summary, body, tech_stack, project_url, published, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+projectColumns,
		p.Slug, p.Title, p.Summary, p.Body, p.TechStack, p.ProjectURL, p.Published, p.SortOrder))
}

// UpdateProject replaces every editable field. The cover key is managed by SetCoverKey.
func (r *Repository) UpdateProject(ctx context.Context, p Project) (Project, error) {
	return scanProject(r.db.QueryRow(ctx, `
		UPDATE projects
		SET slug = $2, title = $3, summary = $4, body = $5, tech_stack = $6,
			project_url = $7, published = $8, sort_order = $9, updated_at = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		p.ID, p.Slug, p.Title, p.Summary, p.Body, p.TechStack, p.ProjectURL, p.Published, p.SortOrder))
}

func (r *Repository) SetCoverKey(ctx context.Context, id, key string) (Project, error) {
	return scanProject(r.db.QueryRow(ctx, `
		UPDATE projects SET cover_image_key = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+projectColumns, id, key))
}

func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *Repository) CreateContactMessage(ctx context.Context, tx pgx.Tx, m ContactMessage) (ContactMessage, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO contact_messages (name, email, company, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, created_at
	`, m.Name, m.Email, m.Company, m.Message).Scan(&m.ID, &m.CreatedAt)
	return m, err
}

func IsNotFound(err error) bool {
	return db.IsNotFound(err)
}

func IsSlugTaken(err error) bool {
	return db.IsUniqueViolationOn(err, projectSlugConstraint)
}
