package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"prowler/internal/model"
)

// Postgres implements Repository on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

const jobColumns = `id, url, task_description, status, scraper_type, user_id, session_id,
	options, html, markdown, text_content, screenshots, entities, metadata,
	ai_processing, chat_history, error_message, created_at, started_at, completed_at`

func (p *Postgres) Create(ctx context.Context, job *model.Job) error {
	options, _ := json.Marshal(job.Options)
	screenshots, _ := json.Marshal(job.Screenshots)
	entities, _ := json.Marshal(job.Entities)
	metadata, _ := json.Marshal(job.Metadata)
	aiProcessing, _ := json.Marshal(job.AIProcessing)
	chatHistory, _ := json.Marshal(job.ChatHistory)

	_, err := p.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		job.ID, job.URL, job.TaskDescription, job.Status, job.ScraperType,
		job.UserID, job.SessionID, options, job.HTML, job.Markdown, job.Text,
		screenshots, entities, metadata, aiProcessing, chatHistory,
		job.ErrorMessage, job.CreatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	return job, err
}

func (p *Postgres) Update(ctx context.Context, job *model.Job) error {
	options, _ := json.Marshal(job.Options)
	screenshots, _ := json.Marshal(job.Screenshots)
	entities, _ := json.Marshal(job.Entities)
	metadata, _ := json.Marshal(job.Metadata)
	aiProcessing, _ := json.Marshal(job.AIProcessing)
	chatHistory, _ := json.Marshal(job.ChatHistory)

	tag, err := p.pool.Exec(ctx, `
		UPDATE jobs SET
			url = $2, task_description = $3, status = $4, scraper_type = $5,
			user_id = $6, session_id = $7, options = $8, html = $9,
			markdown = $10, text_content = $11, screenshots = $12,
			entities = $13, metadata = $14, ai_processing = $15,
			chat_history = $16, error_message = $17, started_at = $18,
			completed_at = $19
		WHERE id = $1`,
		job.ID, job.URL, job.TaskDescription, job.Status, job.ScraperType,
		job.UserID, job.SessionID, options, job.HTML, job.Markdown, job.Text,
		screenshots, entities, metadata, aiProcessing, chatHistory,
		job.ErrorMessage, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrJobNotFound
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, f ListFilter) ([]*model.Job, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	var total int
	if err := p.pool.QueryRow(ctx, "SELECT count(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := "SELECT " + jobColumns + " FROM jobs" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (p *Postgres) FindRecentCompleted(ctx context.Context, url, sessionID string, since time.Time) (*model.Job, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE url = $1 AND session_id = $2 AND status = $3 AND completed_at >= $4
		ORDER BY completed_at DESC LIMIT 1`,
		url, sessionID, model.StatusCompleted, since)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	return job, err
}

func (p *Postgres) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention delete: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		job          model.Job
		options      []byte
		screenshots  []byte
		entities     []byte
		metadata     []byte
		aiProcessing []byte
		chatHistory  []byte
	)
	err := row.Scan(
		&job.ID, &job.URL, &job.TaskDescription, &job.Status, &job.ScraperType,
		&job.UserID, &job.SessionID, &options, &job.HTML, &job.Markdown,
		&job.Text, &screenshots, &entities, &metadata, &aiProcessing,
		&chatHistory, &job.ErrorMessage, &job.CreatedAt, &job.StartedAt,
		&job.CompletedAt)
	if err != nil {
		return nil, err
	}

	unmarshal := func(raw []byte, dst any) {
		if len(raw) > 0 && string(raw) != "null" {
			_ = json.Unmarshal(raw, dst)
		}
	}
	unmarshal(options, &job.Options)
	unmarshal(screenshots, &job.Screenshots)
	unmarshal(entities, &job.Entities)
	unmarshal(metadata, &job.Metadata)
	unmarshal(aiProcessing, &job.AIProcessing)
	unmarshal(chatHistory, &job.ChatHistory)
	return &job, nil
}
