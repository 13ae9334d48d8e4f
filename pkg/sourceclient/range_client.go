package sourceclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// rangeClient implements the range_query profile: one endpoint answers a
// date-range query with cursor pagination.
type rangeClient struct {
	base      string
	authEmail string
	token     string
	http      *http.Client
}

func (c *rangeClient) Probe(ctx context.Context) error {
	// A zero-width window exercises auth and routing without moving data.
	now := time.Now().UTC()
	var out struct {
		Items []wireRecord `json:"items"`
	}
	u := c.worklogsURL(now, now, "", 1)
	return doJSON(ctx, c.http, c.authEmail, c.token, u, &out)
}

func (c *rangeClient) FetchPage(ctx context.Context, from, to time.Time, cursor string) (*Page, error) {
	var out struct {
		Items      []wireRecord `json:"items"`
		NextCursor string       `json:"nextCursor"`
	}
	u := c.worklogsURL(from, to, cursor, defaultPageSize)
	if err := doJSON(ctx, c.http, c.authEmail, c.token, u, &out); err != nil {
		return nil, err
	}

	records, malformed := toRawRecords(out.Items)

	return &Page{
		Records:   records,
		Cursor:    out.NextCursor,
		Done:      out.NextCursor == "",
		Malformed: malformed,
	}, nil
}

func (c *rangeClient) worklogsURL(from, to time.Time, cursor string, limit int) string {
	q := url.Values{}
	q.Set("from", from.UTC().Format("2006-01-02"))
	q.Set("to", to.UTC().Format("2006-01-02"))
	q.Set("limit", fmt.Sprint(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.base + "/worklogs?" + q.Encode()
}

var _ Client = (*rangeClient)(nil)
