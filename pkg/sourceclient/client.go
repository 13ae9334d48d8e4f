// Package sourceclient talks to external time-tracking systems.
//
// Two API profiles exist. A range_query system answers a date-range query
// directly with cursor pagination. An enumerate system only exposes
// per-target worklog lists, so targets touched in the period are enumerated
// first. Both are driven through the same Client interface; the sync
// pipeline never branches on the profile.
package sourceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hourglass-hq/hourglass-engine/pkg/apperrors"
	"github.com/hourglass-hq/hourglass-engine/pkg/models"
)

// RawRecord is one worklog as reported by the external system, before it is
// normalized into canonical storage.
type RawRecord struct {
	ExternalID      string
	AuthorEmail     string
	AuthorName      string
	TargetKey       string
	TargetSummary   string
	ContainerKey    *string
	ContainerName   *string
	StartedAt       time.Time
	DurationSeconds int
	Comment         string
}

// Page is one pageful of records. Cursor is opaque to the caller; passing it
// back resumes where the page ended. Done is set on the final page.
// Malformed counts records dropped from this page because they could not be
// normalized; one bad record never sinks its page.
type Page struct {
	Records   []RawRecord
	Cursor    string
	Done      bool
	Malformed int
}

// Client fetches worklogs from one configured source.
type Client interface {
	// Probe verifies connectivity and credentials without transferring
	// records.
	Probe(ctx context.Context) error

	// FetchPage returns records started in [from, to). An empty cursor
	// starts from the beginning.
	FetchPage(ctx context.Context, from, to time.Time, cursor string) (*Page, error)
}

// defaultPageSize bounds one upstream request.
const defaultPageSize = 100

// New builds a client for the source's API profile.
func New(source *models.Source, httpClient *http.Client) (Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimRight(source.URL, "/")

	switch source.APIProfile {
	case models.APIProfileRangeQuery:
		return &rangeClient{
			base:      base,
			authEmail: source.AuthEmail,
			token:     source.APIToken,
			http:      httpClient,
		}, nil
	case models.APIProfileEnumerate:
		return &enumerateClient{
			base:      base,
			authEmail: source.AuthEmail,
			token:     source.APIToken,
			http:      httpClient,
		}, nil
	default:
		return nil, fmt.Errorf("unknown api profile %q", source.APIProfile)
	}
}

// doJSON performs an authenticated GET and decodes the response into out,
// classifying every failure mode as a SourceError.
func doJSON(ctx context.Context, client *http.Client, authEmail, token, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if authEmail != "" {
		req.SetBasicAuth(authEmail, token)
	} else if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewSourceError(apperrors.SourceErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperrors.NewSourceError(apperrors.SourceErrAuth,
			fmt.Errorf("upstream returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewSourceError(apperrors.SourceErrRateLimit,
			fmt.Errorf("upstream returned 429"))
	case resp.StatusCode >= 500:
		return apperrors.NewSourceError(apperrors.SourceErrTransient,
			fmt.Errorf("upstream returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return apperrors.NewSourceError(apperrors.SourceErrMalformed,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return apperrors.NewSourceError(apperrors.SourceErrTransient, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewSourceError(apperrors.SourceErrMalformed, err)
	}

	return nil
}

// wireRecord is the upstream JSON shape shared by both profiles.
type wireRecord struct {
	ID              string    `json:"id"`
	AuthorEmail     string    `json:"authorEmail"`
	AuthorName      string    `json:"authorName"`
	TargetKey       string    `json:"targetKey"`
	TargetSummary   string    `json:"targetSummary"`
	ContainerKey    *string   `json:"containerKey"`
	ContainerName   *string   `json:"containerName"`
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds int       `json:"durationSeconds"`
	Comment         string    `json:"comment"`
}

func (w *wireRecord) valid() bool {
	return w.ID != "" && w.DurationSeconds >= 0 && !w.StartedAt.IsZero()
}

func (w *wireRecord) toRaw() RawRecord {
	return RawRecord{
		ExternalID:      w.ID,
		AuthorEmail:     w.AuthorEmail,
		AuthorName:      w.AuthorName,
		TargetKey:       w.TargetKey,
		TargetSummary:   w.TargetSummary,
		ContainerKey:    w.ContainerKey,
		ContainerName:   w.ContainerName,
		StartedAt:       w.StartedAt,
		DurationSeconds: w.DurationSeconds,
		Comment:         w.Comment,
	}
}

// toRawRecords normalizes a page, dropping records that fail validation and
// returning how many were dropped.
func toRawRecords(wire []wireRecord) ([]RawRecord, int) {
	records := make([]RawRecord, 0, len(wire))
	malformed := 0
	for i := range wire {
		if !wire[i].valid() {
			malformed++
			continue
		}
		records = append(records, wire[i].toRaw())
	}
	return records, malformed
}
