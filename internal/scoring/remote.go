package scoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const maxAssessmentBytes = 1 << 20

// HTTPAssessor posts the scan request as JSON to an external scoring service
// and reads a ScoredItem back. It has no timeout of its own; wrap it in a
// GuardedAssessor.
type HTTPAssessor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPAssessor creates an assessor for endpoint. client may be nil.
func NewHTTPAssessor(endpoint string, client *http.Client) *HTTPAssessor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAssessor{endpoint: endpoint, client: client}
}

// Assess implements Assessor.
func (a *HTTPAssessor) Assess(ctx context.Context, req *domain.ScanRequest) (*domain.ScoredItem, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scan request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build assessor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("assessor request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAssessmentBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read assessor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assessor returned status %d", resp.StatusCode)
	}

	var item domain.ScoredItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAssessment, err)
	}
	return &item, nil
}
