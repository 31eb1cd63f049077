package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// adminClient posts form requests to the social admin service.
type adminClient struct {
	base string
	http *http.Client
}

func newAdminClient(base string, timeout time.Duration) adminClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return adminClient{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}}
}

// adminReply is the envelope every admin endpoint answers with. Data is a
// message text for verify and welcome_msg.
type adminReply struct {
	Code json.RawMessage `json:"code"`
	Data json.RawMessage `json:"data"`
}

// OK reports code == 200, accepting a number or a numeric string.
func (r adminReply) OK() bool {
	raw := strings.Trim(string(r.Code), `" `)
	n, err := strconv.Atoi(raw)
	return err == nil && n == http.StatusOK
}

// Text returns data as a string, or fallback when absent or not a string.
func (r adminReply) Text(fallback string) string {
	if len(r.Data) == 0 {
		return fallback
	}
	var s string
	if err := json.Unmarshal(r.Data, &s); err != nil || s == "" {
		return fallback
	}
	return s
}

func (c adminClient) post(ctx context.Context, path string, form url.Values) (adminReply, error) {
	var out adminReply
	if c.base == "" {
		return out, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+path, strings.NewReader(form.Encode()))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("%w: %s status %d", ErrUpstream, path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("%w: decode %s: %v", ErrUpstream, path, err)
	}
	return out, nil
}
