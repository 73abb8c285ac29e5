package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	graphBaseURL     = "https://graph.microsoft.com/v1.0"
	graphScope       = "https://graph.microsoft.com/.default"
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token" //nolint:gosec // URL template, not a credential

	// Retry settings.
	maxRetries       = 3
	initialRetryWait = 1 * time.Second
	maxRetryWait     = 30 * time.Second

	// HTTP client timeout.
	httpTimeout = 30 * time.Second
)

// guidPattern matches the standard GUID format.
var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

// GraphOption customises a GraphClient.
type GraphOption func(*graphOptions)

type graphOptions struct {
	baseURL    string
	tokenURL   string
	httpClient *http.Client
	retryWait  time.Duration
}

// WithGraphEndpoints overrides the Graph API and token endpoints.
func WithGraphEndpoints(baseURL, tokenURL string) GraphOption {
	return func(o *graphOptions) {
		o.baseURL = baseURL
		o.tokenURL = tokenURL
	}
}

// WithGraphHTTPClient sets the base HTTP client used for tokens and requests.
func WithGraphHTTPClient(c *http.Client) GraphOption {
	return func(o *graphOptions) { o.httpClient = c }
}

// WithGraphRetryWait sets the initial wait between retried requests.
func WithGraphRetryWait(d time.Duration) GraphOption {
	return func(o *graphOptions) { o.retryWait = d }
}

// validateCredentials checks that required credential fields are present.
// If strict is true, validates GUID format for TenantID and ClientID.
func validateCredentials(cfg *GraphConfig, strict bool) error {
	if cfg.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if strict && !guidPattern.MatchString(cfg.TenantID) {
		return fmt.Errorf("tenant ID must be a valid GUID (e.g., 12345678-1234-1234-1234-123456789abc)")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if strict && !guidPattern.MatchString(cfg.ClientID) {
		return fmt.Errorf("client ID must be a valid GUID (e.g., 12345678-1234-1234-1234-123456789abc)")
	}
	if cfg.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	return nil
}

// GraphClient sends emails via Microsoft Graph API.
type GraphClient struct {
	fromAddress string
	baseURL     string
	retryWait   time.Duration
	httpClient  *http.Client
}

// NewGraphClient creates a new email client using client credentials.
func NewGraphClient(cfg *GraphConfig, opts ...GraphOption) (*GraphClient, error) {
	if err := validateCredentials(cfg, false); err != nil {
		return nil, err
	}
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("from address (shared mailbox) is required")
	}

	o := graphOptions{
		baseURL:    graphBaseURL,
		tokenURL:   fmt.Sprintf(tokenURLTemplate, url.PathEscape(cfg.TenantID)),
		httpClient: &http.Client{Timeout: httpTimeout},
		retryWait:  initialRetryWait,
	}
	for _, opt := range opts {
		opt(&o)
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     o.tokenURL,
		Scopes:       []string{graphScope},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, o.httpClient)

	return &GraphClient{
		fromAddress: cfg.FromAddress,
		baseURL:     strings.TrimRight(o.baseURL, "/"),
		retryWait:   o.retryWait,
		httpClient:  conf.Client(ctx),
	}, nil
}

type graphMailRequest struct {
	Message graphMessage `json:"message"`
}

type graphMessage struct {
	Subject      string           `json:"subject"`
	Body         graphBody        `json:"body"`
	ToRecipients []graphRecipient `json:"toRecipients"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Address string `json:"address"`
}

// SendMail sends a plain-text email to recipients.
func (c *GraphClient) SendMail(ctx context.Context, recipients []string, subject, body string) error {
	toRecipients := make([]graphRecipient, 0, len(recipients))
	for _, addr := range recipients {
		if addr = strings.TrimSpace(addr); addr != "" {
			toRecipients = append(toRecipients, graphRecipient{
				EmailAddress: graphEmailAddress{Address: addr},
			})
		}
	}
	if len(toRecipients) == 0 {
		return fmt.Errorf("no valid recipients after filtering")
	}

	jsonData, err := json.Marshal(graphMailRequest{Message: graphMessage{
		Subject:      subject,
		Body:         graphBody{ContentType: "Text", Content: body},
		ToRecipients: toRecipients,
	}})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doWithRetry(ctx, jsonData)
}

// doWithRetry sends the email request, retrying rate limits and server errors.
func (c *GraphClient) doWithRetry(ctx context.Context, jsonData []byte) error {
	apiURL := fmt.Sprintf("%s/users/%s/sendMail", c.baseURL, url.PathEscape(c.fromAddress))
	backoff := util.Backoff{Initial: c.retryWait, Max: maxRetryWait}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 && !util.Sleep(ctx, backoff.Delay(attempt)) {
			return errors.Join(lastErr, ctx.Err())
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("send request: %w", err)
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusAccepted, http.StatusOK, http.StatusNoContent:
			return nil
		case http.StatusTooManyRequests:
			// Retry-After is honoured in whole seconds only.
			if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
				if !util.Sleep(ctx, time.Duration(seconds)*time.Second) {
					return ctx.Err()
				}
			}
			lastErr = fmt.Errorf("graph API rate limited (429): %s", string(respBody))
		case http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			lastErr = fmt.Errorf("graph API returned %d: %s", resp.StatusCode, string(respBody))
		default:
			return fmt.Errorf("graph API error %d: %s", resp.StatusCode, string(respBody))
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// ValidateConfig validates that cfg has all required fields.
func ValidateConfig(cfg *GraphConfig) error {
	if err := validateCredentials(cfg, true); err != nil {
		return err
	}
	if cfg.FromAddress == "" {
		return fmt.Errorf("from address (shared mailbox) is required")
	}
	if cfg.Recipients == "" {
		return fmt.Errorf("recipients are required")
	}
	return nil
}

// IsConfigured reports whether the Graph configuration has the minimum required fields.
func IsConfigured(cfg *GraphConfig) bool {
	return cfg.TenantID != "" && cfg.ClientID != "" && cfg.ClientSecret != "" &&
		cfg.FromAddress != "" && cfg.Recipients != ""
}

// ParseRecipients splits a comma-separated recipients string into a slice.
func ParseRecipients(recipients string) []string {
	var result []string
	for r := range strings.SplitSeq(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			result = append(result, r)
		}
	}
	return result
}
