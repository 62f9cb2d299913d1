// Package classifier talks to the clustering and labeling service over its
// JSON HTTP API.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	types "github.com/yungbote/codeframe-backend/internal/domain"
	"github.com/yungbote/codeframe-backend/internal/pkg/httpx"
	"github.com/yungbote/codeframe-backend/internal/pkg/logger"
)

const serviceName = "classifier"

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client interface {
	Cluster(ctx context.Context, req types.ClusterRequest) ([]types.ClusterAssignment, error)
	Label(ctx context.Context, req types.LabelRequest) (*types.ClusterLabel, error)
	Health(ctx context.Context) error
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg Config, log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing classifier base url")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &client{
		log:        log.With("service", "ClassifierClient"),
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", serviceName, path, err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpx.StatusError{Service: serviceName, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s decode error: %w", serviceName, err)
	}
	return nil
}

type clusterResponse struct {
	Clusters []types.ClusterAssignment `json:"clusters"`
}

func (c *client) Cluster(ctx context.Context, req types.ClusterRequest) ([]types.ClusterAssignment, error) {
	var resp clusterResponse
	if err := c.do(ctx, http.MethodPost, "/v1/cluster", req, &resp); err != nil {
		return nil, err
	}
	out := resp.Clusters[:0]
	for _, cl := range resp.Clusters {
		if len(cl.AnswerIDs) == 0 {
			continue
		}
		out = append(out, cl)
	}
	c.log.Debug("clustered", "points", len(req.Points), "clusters", len(out))
	return out, nil
}

func (c *client) Label(ctx context.Context, req types.LabelRequest) (*types.ClusterLabel, error) {
	var label types.ClusterLabel
	if err := c.do(ctx, http.MethodPost, "/v1/label", req, &label); err != nil {
		return nil, err
	}
	if strings.TrimSpace(label.ThemeName) == "" || len(label.Codes) == 0 {
		return nil, fmt.Errorf("%s: empty label for cluster %d", serviceName, req.ClusterID)
	}
	label.ClusterID = req.ClusterID
	return &label, nil
}

func (c *client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
