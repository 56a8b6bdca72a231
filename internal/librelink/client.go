package librelink

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"glucosesync/internal/domain"
)

// timestampLayout is the vendor date format: M/D/YYYY h:mm:ss AM|PM,
// interpreted in the local time zone.
const timestampLayout = "1/2/2006 3:04:05 PM"

// Config holds vendor API client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Product string
	Version string
}

// Client speaks the LibreLinkUp HTTP/JSON protocol. Neither operation
// retries; failures surface immediately and the caller decides what to do.
type Client struct {
	httpClient *http.Client
	baseURL    string
	product    string
	version    string
	logger     *slog.Logger
}

// New creates a vendor API client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-de.libreview.io/llu"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Product == "" {
		cfg.Product = "llu.ios"
	}
	if cfg.Version == "" {
		cfg.Version = "4.12.0"
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.BaseURL,
		product: cfg.Product,
		version: cfg.Version,
		logger:  logger.With("source", domain.SourceID),
	}
}

// AccountIDHash returns the deterministic hex SHA-256 digest of an account
// id. The account-id request header always carries this digest, never the
// raw id.
func AccountIDHash(accountID string) string {
	sum := sha256.Sum256([]byte(accountID))
	return hex.EncodeToString(sum[:])
}

// Login authenticates against the vendor cloud and returns a fresh session.
func (c *Client) Login(ctx context.Context, email, password string) (domain.Session, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return domain.Session{}, fmt.Errorf("create request: %w", err)
	}
	c.setDefaultHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Session{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	var parsed loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.Session{}, fmt.Errorf("decode login response: %w", err)
	}

	if parsed.Error != nil && parsed.Error.Message != "" {
		return domain.Session{}, &APIError{Status: resp.StatusCode, Message: parsed.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Session{}, &APIError{Status: resp.StatusCode}
	}

	if parsed.Data == nil || parsed.Data.AuthTicket == nil || parsed.Data.User == nil ||
		parsed.Data.AuthTicket.Token == "" || parsed.Data.User.ID == "" {
		return domain.Session{}, fmt.Errorf("login response missing token or account id: %w", ErrMalformedResponse)
	}

	return domain.Session{
		Token:     parsed.Data.AuthTicket.Token,
		AccountID: parsed.Data.User.ID,
	}, nil
}

// FetchReadings retrieves the vendor's recent glucose window for the
// session's account. Entries missing required fields or carrying an
// unparsable timestamp are dropped individually; partial data beats total
// failure. Server order is preserved and values stay in mg/dL.
func (c *Client) FetchReadings(ctx context.Context, session domain.Session) ([]domain.Reading, error) {
	url := fmt.Sprintf("%s/connections/%s/graph", c.baseURL, session.AccountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setDefaultHeaders(req)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	req.Header.Set("account-id", AccountIDHash(session.AccountID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	var parsed graphResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode graph response: %w", err)
	}

	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, &APIError{Status: resp.StatusCode, Message: parsed.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode}
	}
	if parsed.Data == nil || parsed.Data.GraphData == nil {
		return nil, fmt.Errorf("graph response missing graphData: %w", ErrMalformedResponse)
	}

	readings := make([]domain.Reading, 0, len(parsed.Data.GraphData))
	for _, raw := range parsed.Data.GraphData {
		var entry graphEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.logger.Warn("dropping undecodable reading entry", "error", err)
			continue
		}
		if entry.ValueInMgPerDl == nil || entry.Timestamp == nil {
			c.logger.Warn("dropping reading entry with missing fields")
			continue
		}
		ts, err := time.ParseInLocation(timestampLayout, *entry.Timestamp, time.Local)
		if err != nil {
			c.logger.Warn("dropping reading with unparsable timestamp",
				"timestamp", *entry.Timestamp,
			)
			continue
		}
		readings = append(readings, domain.Reading{
			ExternalID:   *entry.Timestamp,
			ValueMgPerDl: *entry.ValueInMgPerDl,
			Timestamp:    ts,
		})
	}

	return readings, nil
}

func (c *Client) setDefaultHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("product", c.product)
	req.Header.Set("version", c.version)
}
