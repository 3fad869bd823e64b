package enrich

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"intelreport/internal/report"
)

// HTTPNarrator posts the report to a narrative service and expects a
// Narrative back.
type HTTPNarrator struct {
	client
}

var _ report.Narrator = (*HTTPNarrator)(nil)

// NewHTTPNarrator returns nil when url is empty so callers can treat the
// narrator as not configured.
func NewHTTPNarrator(url, apiKey string, timeout time.Duration) *HTTPNarrator {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	return &HTTPNarrator{client: newClient(url, apiKey, timeout)}
}

type narrativeRequest struct {
	Report *report.Report `json:"report"`
	// Highlights are precomputed sentences so the service does not need to
	// interpret raw anomaly fields.
	Highlights []string `json:"highlights"`
}

// Narrate implements report.Narrator.
func (n *HTTPNarrator) Narrate(ctx context.Context, r *report.Report) (report.Narrative, error) {
	req := narrativeRequest{Report: r}
	for _, a := range r.Anomalies.Anomalies {
		req.Highlights = append(req.Highlights, report.Describe(a))
	}

	var out report.Narrative
	if err := n.do(ctx, http.MethodPost, n.url, req, &out); err != nil {
		return report.Narrative{}, err
	}
	if strings.TrimSpace(out.Summary) == "" {
		return report.Narrative{}, errors.New("narrative response has no executive summary")
	}
	return out, nil
}
