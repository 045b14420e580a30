// Package report transmits completed workflows to the result sink.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/odvcencio/affilink/pkg/errors"
	"github.com/odvcencio/affilink/pkg/session"
	"github.com/odvcencio/affilink/pkg/telemetry"
)

// Result is the payload POSTed to the result sink.
type Result struct {
	Link        string               `json:"link"`
	Data        *session.ProductData `json:"data,omitempty"`
	RequestID   string               `json:"requestId"`
	SubID       string               `json:"subId"`
	OriginalURL string               `json:"originalUrl"`
	UserID      string               `json:"userId"`
}

// FromSession builds the payload for a session that produced link.
// originalUrl carries the resolved product URL.
func FromSession(s *session.Session, link string) Result {
	return Result{
		Link:        link,
		Data:        s.ProductData,
		RequestID:   s.RequestID,
		SubID:       s.SubID,
		OriginalURL: s.ProductURL,
		UserID:      s.UserID,
	}
}

// Reporter sends results. Implementations may block on network I/O.
type Reporter interface {
	Report(ctx context.Context, r Result) error
}

// HTTPReporter POSTs JSON results to a fixed URL.
type HTTPReporter struct {
	url    string
	client *http.Client
}

// NewHTTPReporter returns a reporter with its own client and timeout.
func NewHTTPReporter(url string, timeout time.Duration) *HTTPReporter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReporter{url: url, client: &http.Client{Timeout: timeout}}
}

func (r *HTTPReporter) Report(ctx context.Context, res Result) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "report",
		telemetry.AttrRequestID.String(res.RequestID),
		telemetry.AttrURL.String(res.OriginalURL),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	body, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReportTransmission, "encode result")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReportTransmission, "build result request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReportTransmission, "send result").
			WithContext("request_id", res.RequestID).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	// the body is read but its content does not decide success
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	span.SetAttributes(telemetry.AttrStatus.Int(resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New(errors.ErrCodeReportTransmission, fmt.Sprintf("result sink returned %d", resp.StatusCode)).
			WithContext("request_id", res.RequestID).
			WithContext("body", string(respBody)).
			WithRetryable(resp.StatusCode >= 500)
	}
	return nil
}
