package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"campaign-tracker/models"

	_ "github.com/lib/pq"
)

const campaignRowsSchema = `
CREATE TABLE IF NOT EXISTS campaign_rows (
    sheet     TEXT    NOT NULL,
    row_num   INTEGER NOT NULL,
    name      TEXT    NOT NULL DEFAULT '',
    email     TEXT    NOT NULL DEFAULT '',
    subject   TEXT    NOT NULL DEFAULT '',
    message   TEXT    NOT NULL DEFAULT '',
    schedule  TEXT    NOT NULL DEFAULT '',
    status    TEXT    NOT NULL DEFAULT '',
    sent_at   TEXT    NOT NULL DEFAULT '',
    opened    TEXT    NOT NULL DEFAULT '',
    opened_at TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (sheet, row_num)
)`

// pgColumns maps sheet headers onto campaign_rows columns.
var pgColumns = map[string]string{
	models.ColumnName:          "name",
	models.ColumnEmail:         "email",
	models.ColumnSubject:       "subject",
	models.ColumnMessage:       "message",
	models.ColumnSchedule:      "schedule",
	models.ColumnStatus:        "status",
	models.ColumnTimestamp:     "sent_at",
	models.ColumnOpened:        "opened",
	models.ColumnOpenTimestamp: "opened_at",
}

const pgSelectRow = `SELECT sheet, row_num, name, email, subject, message, schedule, status, sent_at, opened, opened_at FROM campaign_rows`

const pgUnsetStatus = `(btrim(status) = '' OR lower(btrim(status)) = 'pending')`

// PostgresStore keeps campaign rows in a single table. It supports conditional
// updates, so opens and claims are atomic across processes.
type PostgresStore struct {
	DB *sql.DB
}

func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &PostgresStore{DB: db}, nil
}

// EnsureSchema creates the campaign_rows table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, campaignRowsSchema)
	return err
}

func (s *PostgresStore) GetRow(ctx context.Context, sheet string, row int) (*models.CampaignRow, error) {
	r := s.DB.QueryRowContext(ctx, pgSelectRow+` WHERE sheet = $1 AND row_num = $2`, sheet, row)
	out, err := scanCampaignRow(r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errRowNotFound(sheet, row)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListPendingRows(ctx context.Context, sheet string) ([]*models.CampaignRow, error) {
	rows, err := s.DB.QueryContext(ctx, pgSelectRow+` WHERE sheet = $1 AND `+pgUnsetStatus+` ORDER BY row_num`, sheet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CampaignRow
	for rows.Next() {
		r, err := scanCampaignRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateCells(ctx context.Context, sheet string, updates ...models.RowUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range updates {
		if len(u.Cells) == 0 {
			continue
		}
		query, args, err := buildRowUpdate(sheet, u)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errRowNotFound(sheet, u.Row)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Records(ctx context.Context, sheet string) ([]map[string]string, error) {
	return nil, fmt.Errorf("%w: records of %q", models.ErrUnsupported, sheet)
}

func (s *PostgresStore) MarkOpened(ctx context.Context, sheet string, row int, openedAt string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaign_rows SET opened = $1, opened_at = $2
		WHERE sheet = $3 AND row_num = $4
		  AND lower(btrim(opened)) <> 'yes'
		  AND btrim(status) = $5`,
		models.OpenedYes, openedAt, sheet, row, string(models.StatusSent))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PostgresStore) ClaimRow(ctx context.Context, sheet string, row int) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE campaign_rows SET status = $1 WHERE sheet = $2 AND row_num = $3 AND `+pgUnsetStatus,
		string(models.StatusProcessing), sheet, row)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PostgresStore) Close() error {
	return s.DB.Close()
}

func buildRowUpdate(sheet string, u models.RowUpdate) (string, []any, error) {
	headers := make([]string, 0, len(u.Cells))
	for h := range u.Cells {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	sets := make([]string, 0, len(headers))
	args := make([]any, 0, len(headers)+2)
	for _, h := range headers {
		col, ok := pgColumns[h]
		if !ok {
			return "", nil, fmt.Errorf("%w: campaign_rows has no column for %q", models.ErrMissingColumn, h)
		}
		args = append(args, u.Cells[h])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, sheet, u.Row)
	query := fmt.Sprintf("UPDATE campaign_rows SET %s WHERE sheet = $%d AND row_num = $%d",
		strings.Join(sets, ", "), len(args)-1, len(args))
	return query, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaignRow(s rowScanner) (*models.CampaignRow, error) {
	var r models.CampaignRow
	err := s.Scan(&r.Sheet, &r.Row, &r.Name, &r.Email, &r.Subject, &r.Message,
		&r.ScheduledAt, &r.Status, &r.SentAt, &r.Opened, &r.OpenedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
