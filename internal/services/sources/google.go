package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"golang.org/x/time/rate"

	"github.com/ternarybob/sheetporter/internal/models"
)

const (
	// DefaultSheetsBaseURL is the base URL for the Google Sheets API.
	DefaultSheetsBaseURL = "https://sheets.googleapis.com"

	// SheetsReadOnlyScope is the only scope the worker requests.
	SheetsReadOnlyScope = "https://www.googleapis.com/auth/spreadsheets.readonly"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5
)

// GoogleSheetsClient reads spreadsheet values over the Sheets v4 REST API.
type GoogleSheetsClient struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the GoogleSheetsClient.
type ClientOption func(*GoogleSheetsClient)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *GoogleSheetsClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client. The client is responsible for authentication.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *GoogleSheetsClient) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *GoogleSheetsClient) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *GoogleSheetsClient) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// ServiceAccount holds the credentials used to mint access tokens.
type ServiceAccount struct {
	Email           string
	PrivateKey      string
	PrivateKeyID    string
	CredentialsFile string
}

// NewServiceAccountHTTPClient builds an HTTP client that signs requests with a
// service-account token. A credentials file takes precedence over email + key.
func NewServiceAccountHTTPClient(ctx context.Context, account ServiceAccount, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// Token exchange uses the same timeout as data requests
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout})

	var conf *jwt.Config
	if account.CredentialsFile != "" {
		data, err := os.ReadFile(account.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		conf, err = google.JWTConfigFromJSON(data, SheetsReadOnlyScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials file: %w", err)
		}
	} else {
		if account.Email == "" || account.PrivateKey == "" {
			return nil, errors.New("service account email and private key are required")
		}
		conf = &jwt.Config{
			Email:        account.Email,
			PrivateKey:   []byte(strings.ReplaceAll(account.PrivateKey, `\n`, "\n")),
			PrivateKeyID: account.PrivateKeyID,
			Scopes:       []string{SheetsReadOnlyScope},
			TokenURL:     google.JWTTokenURL,
		}
	}

	client := conf.Client(ctx)
	client.Timeout = timeout
	return client, nil
}

// NewGoogleSheetsClient creates a new Sheets client.
func NewGoogleSheetsClient(opts ...ClientOption) *GoogleSheetsClient {
	c := &GoogleSheetsClient{
		baseURL: DefaultSheetsBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  arbor.NewLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an error from the Sheets API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sheets API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

type valueRange struct {
	Range          string          `json:"range"`
	MajorDimension string          `json:"majorDimension"`
	Values         [][]interface{} `json:"values"`
}

type spreadsheet struct {
	Properties struct {
		Title string `json:"title"`
	} `json:"properties"`
	Sheets []struct {
		Properties struct {
			SheetID        int64  `json:"sheetId"`
			Title          string `json:"title"`
			GridProperties struct {
				RowCount    int `json:"rowCount"`
				ColumnCount int `json:"columnCount"`
			} `json:"gridProperties"`
		} `json:"properties"`
	} `json:"sheets"`
}

// get performs a GET request to the API and maps HTTP failures onto source errors.
func (c *GoogleSheetsClient) get(ctx context.Context, sourceID, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.NewSourceAccessError(sourceID, fmt.Errorf("rate limit wait: %w", err))
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL = reqURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.NewSourceAccessError(sourceID, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("source_id", sourceID).
		Str("path", path).
		Msg("Sheets API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewSourceAccessError(sourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
		switch resp.StatusCode {
		case http.StatusNotFound, http.StatusBadRequest:
			return models.NewSourceNotFoundError(sourceID, apiErr)
		default:
			return models.NewSourceAccessError(sourceID, apiErr)
		}
	}

	// Numbers stay as written so cell values are not reformatted as floats
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(result); err != nil {
		return models.NewSourceAccessError(sourceID, fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}

// FetchTable reads the values in rng of the spreadsheet sourceID.
func (c *GoogleSheetsClient) FetchTable(ctx context.Context, sourceID, rng string) (models.RawTable, error) {
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s", url.PathEscape(sourceID), url.PathEscape(rng))

	var vr valueRange
	if err := c.get(ctx, sourceID, path, nil, &vr); err != nil {
		return nil, err
	}

	table := make(models.RawTable, len(vr.Values))
	for i, row := range vr.Values {
		cells := make([]string, len(row))
		for j, cell := range row {
			if cell != nil {
				cells[j] = fmt.Sprint(cell)
			}
		}
		table[i] = cells
	}

	c.logger.Info().
		Str("source_id", sourceID).
		Str("range", rng).
		Int("rows", len(table)).
		Msg("Fetched sheet data")

	return table, nil
}

// Metadata returns the spreadsheet title and tab list.
func (c *GoogleSheetsClient) Metadata(ctx context.Context, sourceID string) (*models.SourceMetadata, error) {
	path := fmt.Sprintf("/v4/spreadsheets/%s", url.PathEscape(sourceID))
	params := url.Values{}
	params.Set("fields", "properties.title,sheets.properties")

	var doc spreadsheet
	if err := c.get(ctx, sourceID, path, params, &doc); err != nil {
		return nil, err
	}

	meta := &models.SourceMetadata{
		Title:  doc.Properties.Title,
		Sheets: make([]models.SheetDetail, 0, len(doc.Sheets)),
	}
	for _, s := range doc.Sheets {
		meta.Sheets = append(meta.Sheets, models.SheetDetail{
			Title:       s.Properties.Title,
			SheetID:     s.Properties.SheetID,
			RowCount:    s.Properties.GridProperties.RowCount,
			ColumnCount: s.Properties.GridProperties.ColumnCount,
		})
	}
	return meta, nil
}

// ProbeAccess reports whether the spreadsheet metadata can be read.
func (c *GoogleSheetsClient) ProbeAccess(ctx context.Context, sourceID string) bool {
	if _, err := c.Metadata(ctx, sourceID); err != nil {
		c.logger.Warn().Err(err).Str("source_id", sourceID).Msg("Sheet access probe failed")
		return false
	}
	return true
}
