// Package directory fetches the member list of a group from the member
// server.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrRejected  = errors.New("member server rejected the request")
	ErrMalformed = errors.New("malformed member list")
)

// Member is one entry of the member list.
type Member struct {
	Address string
	Desc    string
}

type listResponse struct {
	Status  *bool `json:"status"`
	Members []struct {
		IP4Addr *string `json:"ip4addr"`
		Desc    *string `json:"desc"`
	} `json:"members"`
}

// Client is a thin HTTP client for the member server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Members fetches GET /members/{group}. Entries without a description are
// reported with an empty Desc.
func (c *Client) Members(ctx context.Context, group string) ([]Member, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("member server not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/members/"+url.PathEscape(group), nil)
	if err != nil {
		return nil, err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return nil, fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return nil, fmt.Errorf("request failed: %s", res.Status)
	}

	var list listResponse
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if list.Status == nil {
		return nil, fmt.Errorf("%w: missing status", ErrMalformed)
	}
	if !*list.Status {
		return nil, ErrRejected
	}

	out := make([]Member, 0, len(list.Members))
	for i, m := range list.Members {
		if m.IP4Addr == nil {
			return nil, fmt.Errorf("%w: member %d has no ip4addr", ErrMalformed, i)
		}
		member := Member{Address: *m.IP4Addr}
		if m.Desc != nil {
			member.Desc = *m.Desc
		}
		out = append(out, member)
	}
	return out, nil
}
