package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"intelreport/internal/report"
	"intelreport/internal/timeframe"
)

// HTTPAdsProvider reads paid-traffic metrics from an ads reporting endpoint.
type HTTPAdsProvider struct {
	client
}

var _ report.AdsProvider = (*HTTPAdsProvider)(nil)

// NewHTTPAdsProvider returns nil when url is empty.
func NewHTTPAdsProvider(endpoint, apiKey string, timeout time.Duration) *HTTPAdsProvider {
	if strings.TrimSpace(endpoint) == "" {
		return nil
	}
	return &HTTPAdsProvider{client: newClient(endpoint, apiKey, timeout)}
}

// Fetch implements report.AdsProvider. The window is sent as inclusive
// calendar dates.
func (p *HTTPAdsProvider) Fetch(ctx context.Context, window timeframe.Window) (*report.AdsMetrics, error) {
	u, err := url.Parse(p.url)
	if err != nil {
		return nil, fmt.Errorf("parse ads url: %w", err)
	}
	q := u.Query()
	q.Set("from", window.From.Format("2006-01-02"))
	q.Set("to", window.To.AddDate(0, 0, -1).Format("2006-01-02"))
	u.RawQuery = q.Encode()

	var m report.AdsMetrics
	if err := p.do(ctx, http.MethodGet, u.String(), nil, &m); err != nil {
		return nil, err
	}
	derive(&m)
	return &m, nil
}

// derive fills ratios the provider left out.
func derive(m *report.AdsMetrics) {
	if m.CTR == 0 && m.Impressions > 0 {
		m.CTR = float64(m.Clicks) / float64(m.Impressions)
	}
	if m.CPC == 0 && m.Clicks > 0 {
		m.CPC = m.Spend / float64(m.Clicks)
	}
	if m.ROAS == 0 && m.Spend > 0 {
		m.ROAS = m.ConversionValue / m.Spend
	}
}
