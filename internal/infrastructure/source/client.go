// Package source implements the client for the external chess data API.
// The API serves paginated JSON collections of players, clubs, tournaments
// and games.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	config "github.com/rookline/chessync/internal/config"
	model "github.com/rookline/chessync/internal/domain/model"
	exception "github.com/rookline/chessync/internal/support/exception"
	logger "github.com/rookline/chessync/internal/support/logger"
)

const ModuleSourceClient = "SourceClient"

// Client fetches normalized records from the external data source.
type Client interface {
	// FetchAll retrieves every record of one kind, walking all pages.
	// Each record carries its decoded payload and canonical payload hash.
	// Records without a usable source identifier are dropped with a warning.
	FetchAll(ctx context.Context, kind model.EntityKind) ([]model.SourceRecord, error)

	// Ping probes source availability with a cheap request.
	Ping(ctx context.Context) error
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	cfg    *config.SourceConfig
	client *http.Client
}

// NewHTTPClient creates an HTTPClient from the source configuration.
func NewHTTPClient(cfg *config.SourceConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("SourceConfig.BaseURL is not configured")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// page mirrors the wire shape of one collection page.
type page struct {
	Records  []map[string]interface{} `json:"records"`
	NextPage *int                     `json:"next_page"`
}

// FetchAll implements Client.
func (c *HTTPClient) FetchAll(ctx context.Context, kind model.EntityKind) ([]model.SourceRecord, error) {
	logger.Infof("Fetching %s from %s ...", kind, c.cfg.BaseURL)

	var records []model.SourceRecord
	pageNum := 1
	for {
		p, err := c.fetchPage(ctx, kind, pageNum)
		if err != nil {
			return nil, err
		}

		for _, payload := range p.Records {
			sourceID, ok := extractSourceID(payload)
			if !ok {
				logger.Warnf("Dropping %s record without a source id: %v", kind, payload)
				continue
			}
			hash, err := model.HashPayload(payload)
			if err != nil {
				return nil, err
			}
			records = append(records, model.SourceRecord{
				Kind:     kind,
				SourceID: sourceID,
				Payload:  payload,
				Hash:     hash,
			})
		}

		if p.NextPage == nil {
			break
		}
		pageNum = *p.NextPage
	}

	logger.Debugf("Fetched %d %s record(s) from source.", len(records), kind)
	return records, nil
}

// fetchPage retrieves one page of a collection and classifies failures.
func (c *HTTPClient) fetchPage(ctx context.Context, kind model.EntityKind, pageNum int) (*page, error) {
	url := fmt.Sprintf("%s/%s?page=%d&page_size=%d", c.cfg.BaseURL, kind, pageNum, c.cfg.PageSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, exception.NewPermanentError(ModuleSourceClient, "failed to create API request", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A transport-level failure may mean the whole source is down.
		// Probe once to tell a flaky request apart from a dead source.
		if pingErr := c.Ping(ctx); pingErr != nil {
			return nil, exception.NewUnavailableError(ModuleSourceClient,
				fmt.Sprintf("source unreachable while fetching %s page %d", kind, pageNum), err)
		}
		return nil, exception.NewTransientError(ModuleSourceClient,
			fmt.Sprintf("API call for %s page %d failed", kind, pageNum), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		bodyString := strings.TrimSpace(string(bodyBytes))
		errMsg := fmt.Sprintf("error response for %s page %d: status code %d, body: %s", kind, pageNum, resp.StatusCode, bodyString)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, exception.NewTransientError(ModuleSourceClient, errMsg, errors.New(bodyString))
		}
		return nil, exception.NewPermanentError(ModuleSourceClient, errMsg, errors.New(bodyString))
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, exception.NewPermanentError(ModuleSourceClient,
			fmt.Sprintf("failed to decode API response for %s page %d", kind, pageNum), err)
	}
	return &p, nil
}

// Ping implements Client. It issues a HEAD request against the base URL.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.BaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// extractSourceID pulls the source identifier from a raw payload.
// The source emits "id" as either a string or a number.
func extractSourceID(payload map[string]interface{}) (string, bool) {
	raw, ok := payload["id"]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case float64:
		return fmt.Sprintf("%.0f", v), true
	default:
		return "", false
	}
}

var _ Client = (*HTTPClient)(nil)
