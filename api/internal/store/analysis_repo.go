package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"receipt-proxy/api/internal/receipt"
)

// Open connects through the pgx stdlib driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return db, nil
}

type AnalysisRepo struct{ DB *sql.DB }

func NewAnalysisRepo(db *sql.DB) *AnalysisRepo { return &AnalysisRepo{DB: db} }

const schema = `
create table if not exists receipt_analyses (
    id                bigserial primary key,
    created_at        timestamptz not null default now(),
    request_id        text,
    engine            text not null,
    model             text not null,
    status            integer not null,
    kind              text,
    prompt_tokens     integer not null default 0,
    completion_tokens integer not null default 0,
    total_tokens      integer not null default 0,
    item_count        integer not null default 0,
    total_amount      bigint not null default 0,
    raw_content       text,
    duration_ms       bigint not null default 0
)`

func (r *AnalysisRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

// Record inserts one analysis outcome.
func (r *AnalysisRepo) Record(ctx context.Context, ev receipt.AnalysisEvent) error {
	const q = `
insert into receipt_analyses(created_at, request_id, engine, model, status, kind,
    prompt_tokens, completion_tokens, total_tokens, item_count, total_amount, raw_content, duration_ms)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.DB.ExecContext(ctx, q,
		ev.CreatedAt,
		nullString(ev.RequestID),
		ev.Engine,
		ev.Model,
		ev.Status,
		nullString(string(ev.Kind)),
		ev.PromptTokens,
		ev.CompletionTokens,
		ev.TotalTokens,
		ev.ItemCount,
		ev.TotalAmount,
		nullString(ev.RawContent),
		ev.Duration.Milliseconds(),
	)
	return err
}

// Summary aggregates analyses since a point in time.
type Summary struct {
	Total       int
	Failed      int
	TotalTokens int
	TotalAmount int64
}

func (r *AnalysisRepo) Summary(ctx context.Context, since time.Time) (Summary, error) {
	const q = `
select count(*),
       count(*) filter (where status <> 200),
       coalesce(sum(total_tokens),0),
       coalesce(sum(total_amount),0)
from receipt_analyses
where created_at >= $1`
	var s Summary
	if err := r.DB.QueryRowContext(ctx, q, since).Scan(&s.Total, &s.Failed, &s.TotalTokens, &s.TotalAmount); err != nil {
		return Summary{}, err
	}
	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
