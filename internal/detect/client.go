package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrBadResponse covers non-2xx statuses and bodies that are not a JSON
// array of [x_min, y_min, x_max, y_max, ...] rows.
var ErrBadResponse = errors.New("bad detector response")

// RawDetection is one row of the detector response in mosaic coordinates
type RawDetection struct {
	Box   [4]float64
	Extra []any
}

// Detector is the black-box detection endpoint
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) ([]RawDetection, error)
}

// Client posts JPEG mosaics to the detector over HTTP
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a detector client with a per-request timeout
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Detect sends one encoded mosaic and parses the flat detection list
func (c *Client) Detect(ctx context.Context, jpeg []byte) ([]RawDetection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jpeg))
	if err != nil {
		return nil, fmt.Errorf("failed to build detector request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read detector response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrBadResponse, resp.StatusCode, bytes.TrimSpace(body))
	}
	return ParseDetections(body)
}

// ParseDetections decodes a detector response body
func ParseDetections(body []byte) ([]RawDetection, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if rows == nil {
		return nil, fmt.Errorf("%w: expected a list, got %s", ErrBadResponse, bytes.TrimSpace(body))
	}

	out := make([]RawDetection, 0, len(rows))
	for i, row := range rows {
		if len(row) < 4 {
			return nil, fmt.Errorf("%w: row %d has %d fields, need at least 4", ErrBadResponse, i, len(row))
		}
		var d RawDetection
		for j := 0; j < 4; j++ {
			var v *float64
			if err := json.Unmarshal(row[j], &v); err != nil {
				return nil, fmt.Errorf("%w: row %d field %d: %v", ErrBadResponse, i, j, err)
			}
			if v == nil {
				return nil, fmt.Errorf("%w: row %d field %d is null", ErrBadResponse, i, j)
			}
			d.Box[j] = *v
		}
		for _, raw := range row[4:] {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("%w: row %d: %v", ErrBadResponse, i, err)
			}
			d.Extra = append(d.Extra, v)
		}
		out = append(out, d)
	}
	return out, nil
}
