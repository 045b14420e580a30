package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	errs "github.com/odvcencio/affilink/pkg/errors"
)

// Outcome statuses.
const (
	StatusReported     = "reported"
	StatusReportFailed = "report_failed"
	StatusAbandoned    = "abandoned"
	StatusOpenFailed   = "open_failed"
)

// Outcome is one terminal workflow result.
type Outcome struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	RequestID   string          `json:"requestId"`
	UserID      string          `json:"userId"`
	OriginalURL string          `json:"originalUrl"`
	ProductURL  string          `json:"productUrl"`
	ItemID      string          `json:"itemId,omitempty"`
	SubID       string          `json:"subId,omitempty"`
	Link        string          `json:"link,omitempty"`
	ProductData json.RawMessage `json:"productData,omitempty"`
	Surface     string          `json:"surface,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
}

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const outcomeColumns = `id, status, request_id, user_id, original_url, product_url, item_id,
	sub_id, link, product_data, surface, error, started_at, finished_at`

// RecordOutcome appends an outcome. ID and FinishedAt are filled in when
// empty.
func (s *Store) RecordOutcome(ctx context.Context, o *Outcome) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if o.ID == "" {
		o.ID = ulid.Make().String()
	}
	if o.FinishedAt.IsZero() {
		o.FinishedAt = time.Now().UTC()
	}
	if o.StartedAt.IsZero() {
		o.StartedAt = o.FinishedAt
	}
	var data any
	if len(o.ProductData) > 0 {
		data = string(o.ProductData)
	}

	const query = `INSERT INTO outcomes (` + outcomeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []any{
		o.ID, o.Status, o.RequestID, o.UserID, o.OriginalURL, o.ProductURL, o.ItemID,
		o.SubID, o.Link, data, o.Surface, o.Error,
		o.StartedAt.UTC().Format(timeLayout), o.FinishedAt.UTC().Format(timeLayout),
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err = s.db.ExecContext(ctx, query, args...); !isBusyError(err) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	if err != nil {
		return errs.Wrap(err, errs.ErrCodeStorageWrite, "insert outcome")
	}
	return nil
}

// ListOutcomes returns the most recent outcomes, newest first.
func (s *Store) ListOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrCodeStorageRead, "query outcomes")
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

// OutcomesForRequest returns every outcome recorded for a request id.
func (s *Store) OutcomesForRequest(ctx context.Context, requestID string) ([]Outcome, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes WHERE request_id = ? ORDER BY finished_at, id`, requestID)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrCodeStorageRead, "query outcomes").WithContext("request_id", requestID)
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

// CountByStatus returns outcome totals keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outcomes GROUP BY status`)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrCodeStorageRead, "count outcomes")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errs.Wrap(err, errs.ErrCodeStorageRead, "scan count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanOutcomes(rows *sql.Rows) ([]Outcome, error) {
	var out []Outcome
	for rows.Next() {
		var (
			o                 Outcome
			data              sql.NullString
			started, finished string
		)
		if err := rows.Scan(&o.ID, &o.Status, &o.RequestID, &o.UserID, &o.OriginalURL, &o.ProductURL,
			&o.ItemID, &o.SubID, &o.Link, &data, &o.Surface, &o.Error, &started, &finished); err != nil {
			return nil, errs.Wrap(err, errs.ErrCodeStorageRead, "scan outcome")
		}
		if data.Valid {
			o.ProductData = json.RawMessage(data.String)
		}
		o.StartedAt, _ = time.Parse(timeLayout, started)
		o.FinishedAt, _ = time.Parse(timeLayout, finished)
		out = append(out, o)
	}
	return out, rows.Err()
}
