package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RESTClient is the request/reply HTTP surface of the hub, used for command
// execution and bulk state queries alongside the websocket.
type RESTClient interface {
	GetConfig(ctx context.Context) (*HAConfig, error)
	GetStates(ctx context.Context) ([]EntityState, error)
	GetState(ctx context.Context, entityID string) (*EntityState, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) error

	// Raw API call for extensibility
	DoRequest(ctx context.Context, method, path string, body any) ([]byte, error)
}

type restClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger

	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

// NewRESTClient creates a new REST client
func NewRESTClient(baseURL, token string, logger *logrus.Logger) RESTClient {
	return &restClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:        logger,
		maxRetries:    3,
		retryDelay:    time.Second,
		maxRetryDelay: 10 * time.Second,
	}
}

// GetConfig retrieves Home Assistant configuration
func (c *restClient) GetConfig(ctx context.Context) (*HAConfig, error) {
	data, err := c.DoRequest(ctx, http.MethodGet, "/api/config", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	var config HAConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewHAError(0, "Failed to parse config response", map[string]any{
			"error": err.Error(),
		})
	}

	c.logger.WithFields(logrus.Fields{
		"version":  config.Version,
		"timezone": config.TimeZone,
	}).Debug("Retrieved Home Assistant configuration")

	return &config, nil
}

// GetStates retrieves all entity states
func (c *restClient) GetStates(ctx context.Context) ([]EntityState, error) {
	data, err := c.DoRequest(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get states: %w", err)
	}

	var states []EntityState
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, NewHAError(0, "Failed to parse states response", map[string]any{
			"error": err.Error(),
		})
	}

	c.logger.WithField("count", len(states)).Debug("Retrieved entity states")
	return states, nil
}

// GetState retrieves a specific entity state
func (c *restClient) GetState(ctx context.Context, entityID string) (*EntityState, error) {
	path := fmt.Sprintf("/api/states/%s", entityID)
	data, err := c.DoRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get state for entity %s: %w", entityID, err)
	}

	var state EntityState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, NewHAError(0, "Failed to parse state response", map[string]any{
			"entity_id": entityID,
			"error":     err.Error(),
		})
	}
	return &state, nil
}

// CallService calls a Home Assistant service
func (c *restClient) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	c.logger.WithFields(logrus.Fields{
		"domain":  domain,
		"service": service,
	}).Debug("Calling Home Assistant service")

	path := fmt.Sprintf("/api/services/%s/%s", domain, service)

	body := make(map[string]any)
	for k, v := range data {
		body[k] = v
	}

	if _, err := c.DoRequest(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("failed to call service %s.%s: %w", domain, service, err)
	}
	return nil
}

// DoRequest performs a raw HTTP request with retry logic and proper error handling
func (c *restClient) DoRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, NewHAError(0, "Failed to marshal request body", map[string]any{
				"error": err.Error(),
			})
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	var lastErr error
	retryDelay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}

			retryDelay *= 2
			if retryDelay > c.maxRetryDelay {
				retryDelay = c.maxRetryDelay
			}

			// Reset body reader for retry
			if body != nil {
				jsonBody, _ := json.Marshal(body)
				bodyReader = bytes.NewReader(jsonBody)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			lastErr = NewHAError(0, "Failed to create request", map[string]any{
				"error": err.Error(),
				"url":   url,
			})
			continue
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = NewHAError(0, "HTTP request failed", map[string]any{
				"error":   err.Error(),
				"url":     url,
				"attempt": attempt + 1,
			})
			c.logger.WithFields(logrus.Fields{
				"error":   err.Error(),
				"attempt": attempt + 1,
			}).Warn("HTTP request failed, will retry")
			continue
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = NewHAError(0, "Failed to read response body", map[string]any{
				"error":       err.Error(),
				"status_code": resp.StatusCode,
			})
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return responseBody, nil
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, ErrUnauthorized
		case http.StatusNotFound:
			return nil, ErrEntityNotFound
		case http.StatusTooManyRequests:
			// Rate limited - wait longer before retry
			retryDelay = 5 * time.Second
			lastErr = NewHAError(resp.StatusCode, "Rate limited", map[string]any{
				"response": string(responseBody),
			})
			continue
		default:
			// 5xx errors retry; remaining 4xx errors do not.
			if resp.StatusCode >= 500 {
				lastErr = NewHAError(resp.StatusCode, "Server error", map[string]any{
					"response": string(responseBody),
				})
				continue
			}
			return nil, NewHAError(resp.StatusCode, "Client error", map[string]any{
				"response": string(responseBody),
			})
		}
	}

	c.logger.WithError(lastErr).Error("All retry attempts failed")
	return nil, lastErr
}
