// Package dispatch delivers finished reports: email through an HTTP relay
// and JSON archives in S3-compatible storage.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"intelreport/internal/report"
)

// EmailConfig points the sender at a Resend-style relay.
type EmailConfig struct {
	URL     string
	APIKey  string
	From    string
	Timeout time.Duration
}

// EmailSender posts rendered reports to an email relay API.
type EmailSender struct {
	cfg  EmailConfig
	http *http.Client
}

var _ report.Sender = (*EmailSender)(nil)

// NewEmailSender validates the relay settings.
func NewEmailSender(cfg EmailConfig) (*EmailSender, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("email relay url is required")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", cfg.From, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmailSender{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

type emailPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

// Send implements report.Sender.
func (s *EmailSender) Send(ctx context.Context, rendered report.Rendered, recipients []string) error {
	to, err := ParseRecipients(recipients)
	if err != nil {
		return err
	}
	if len(to) == 0 {
		return errors.New("no recipients")
	}

	body, err := json.Marshal(emailPayload{
		From:    s.cfg.From,
		To:      to,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	})
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email relay returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// ParseRecipients splits comma separated entries, trims them and validates
// each address. Duplicates are dropped keeping the first occurrence.
func ParseRecipients(entries []string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	for _, entry := range entries {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			addr, err := mail.ParseAddress(part)
			if err != nil {
				return nil, fmt.Errorf("invalid recipient %q: %w", part, err)
			}
			key := strings.ToLower(addr.Address)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr.Address)
		}
	}
	return out, nil
}
