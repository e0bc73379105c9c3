package notifier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// CallbackConfig holds callback notifier settings
type CallbackConfig struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// Callback calls GET <url>?predictionId=<job id> on the front end
type Callback struct {
	endpoint *url.URL
	client   *http.Client
	logger   *slog.Logger
}

// NewCallback creates a callback notifier
func NewCallback(cfg CallbackConfig) (*Callback, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid callback url: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("invalid callback url scheme: %q", endpoint.Scheme)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Callback{endpoint: endpoint, client: client, logger: cfg.Logger}, nil
}

func (c *Callback) Notify(ctx context.Context, summary *domain.PredictionSummary) error {
	target := *c.endpoint
	query := target.Query()
	query.Set("predictionId", summary.JobID)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NewTransientError(fmt.Errorf("callback request failed: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.NewTransientError(fmt.Errorf("callback returned status %d", resp.StatusCode))
	}

	c.logger.Debug("Callback delivered",
		slog.String("job_id", summary.JobID),
		slog.Int("status", resp.StatusCode),
	)
	return nil
}
