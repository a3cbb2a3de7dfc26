// Package provider talks to the delivery platform's order API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kchenfs/PrepDeck/internal/domain"
)

const maxBody = 4 << 20

type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a client for apiURL. httpClient may be nil.
func New(apiURL string, timeout time.Duration, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", apiURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: base, http: httpClient, timeout: timeout, logger: logger}, nil
}

// Accept acknowledges the order on the platform. It is best-effort: the error
// is informational and callers continue either way.
func (c *Client) Accept(ctx context.Context, orderID, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.base.JoinPath("v1", "delivery", "order", orderID, "accept")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader([]byte("{}")))
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("accept %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("accept %s: status %d: %s", orderID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return true, nil
}

// FetchDetails GETs the order document at href. Relative hrefs are resolved
// against the api url; absolute ones must point at the same host.
func (c *Client) FetchDetails(ctx context.Context, href, token string) (domain.RawOrder, error) {
	u, err := c.resolve(href)
	if err != nil {
		return domain.RawOrder{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.RawOrder{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.RawOrder{}, &domain.FetchError{Kind: domain.FetchUnavailable, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("order fetched",
		zap.String("href", u.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if kind, failed := classify(resp.StatusCode); failed {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.RawOrder{}, &domain.FetchError{
			Kind:   kind,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	var order domain.RawOrder
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&order); err != nil {
		return domain.RawOrder{}, &domain.FetchError{
			Kind:   domain.FetchUnavailable,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("decode order: %w", err),
		}
	}
	return order, nil
}

func (c *Client) resolve(href string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || (ref.Host == "" && ref.Path == "") {
		return nil, &domain.ValidationError{Field: "resource_href", Reason: "not a url"}
	}
	u := c.base.ResolveReference(ref)
	if !strings.EqualFold(u.Host, c.base.Host) {
		return nil, &domain.ValidationError{Field: "resource_href", Reason: "unexpected host " + u.Host}
	}
	return u, nil
}

func classify(status int) (domain.FetchErrorKind, bool) {
	switch {
	case status/100 == 2:
		return "", false
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.FetchUnauthorized, true
	case status == http.StatusNotFound:
		return domain.FetchNotFound, true
	default:
		return domain.FetchUnavailable, true
	}
}
