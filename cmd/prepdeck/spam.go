package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kchenfs/PrepDeck/internal/httpapi"
	"github.com/kchenfs/PrepDeck/internal/pkg/signature"
)

// Spammer posts signed synthetic order notifications at a fixed rate.
type Spammer struct {
	client  *http.Client
	url     string
	secret  string
	hrefFmt string

	isRunning atomic.Bool
	totalSent atomic.Int64
	rejected  atomic.Int64
}

type SpamStats struct {
	TotalSent int64         `json:"total_sent"`
	Rejected  int64         `json:"rejected"`
	Duration  time.Duration `json:"duration"`
}

func NewSpammer(client *http.Client, url, secret, apiURL string) *Spammer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Spammer{
		client:  client,
		url:     url,
		secret:  secret,
		hrefFmt: apiURL + "/v2/eats/order/%s",
	}
}

// Run blocks until duration elapses or ctx is done.
func (s *Spammer) Run(ctx context.Context, rate int, duration time.Duration) (SpamStats, error) {
	if rate <= 0 {
		return SpamStats{}, errors.New("rate must be positive")
	}
	if !s.isRunning.CompareAndSwap(false, true) {
		return SpamStats{}, errors.New("already running")
	}
	defer s.isRunning.Store(false)

	start := time.Now()
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	timer := time.NewTimer(duration)
	defer timer.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.send(ctx); err != nil {
				s.rejected.Add(1)
				continue
			}
			s.totalSent.Add(1)
		case <-timer.C:
			return s.stats(start), nil
		case <-ctx.Done():
			return s.stats(start), nil
		}
	}
}

func (s *Spammer) stats(start time.Time) SpamStats {
	return SpamStats{
		TotalSent: s.totalSent.Load(),
		Rejected:  s.rejected.Load(),
		Duration:  time.Since(start),
	}
}

func (s *Spammer) send(ctx context.Context) error {
	body, err := json.Marshal(s.fakeNotification())
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpapi.SignatureHeader, signature.Sign(s.secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (s *Spammer) fakeNotification() map[string]any {
	orderID := uuid.NewString()
	return map[string]any{
		"event_id":      uuid.NewString(),
		"event_type":    "orders.notification",
		"event_time":    time.Now().Unix(),
		"resource_href": fmt.Sprintf(s.hrefFmt, orderID),
		"meta": map[string]any{
			"user_id":     fmt.Sprintf("store_%d", rand.Intn(10)),
			"resource_id": orderID,
			"status":      "pos",
		},
	}
}

func newSpamCmd() *cobra.Command {
	var (
		url      string
		secret   string
		apiURL   string
		rate     int
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "spam",
		Short: "Send signed synthetic webhooks to a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := webhookSecret(secret)
			if key == "" {
				return errors.New("no secret: pass --secret or set WEBHOOK_SECRET")
			}
			st, err := NewSpammer(nil, url, key, apiURL).Run(cmd.Context(), rate, duration)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:8081/webhooks/ubereats", "webhook endpoint")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to WEBHOOK_SECRET, then UBER_CLIENT_SECRET)")
	cmd.Flags().StringVar(&apiURL, "api-url", "https://api.uber.com", "base for generated resource_href values")
	cmd.Flags().IntVar(&rate, "rate", 10, "notifications per second")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to send")
	return cmd
}
