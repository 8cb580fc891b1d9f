package form

import (
	"bytes"
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

	"github.com/cenkalti/backoff/v4"
)

// Document Intelligence defaults.
const (
	defaultAPIVersion   = "2023-07-31"
	defaultModelID      = "prebuilt-layout"
	defaultPollInterval = time.Second
	defaultMaxPolls     = 120
)

// ErrAnalyze wraps every Document Intelligence failure.
var ErrAnalyze = errors.New("document analysis failed")

// AnalyzeResult is the subset of the prebuilt-layout result the extractor uses.
type AnalyzeResult struct {
	Pages []Page `json:"pages"`
}

// Page is one analysed page.
type Page struct {
	PageNumber     int             `json:"pageNumber"`
	Lines          []Line          `json:"lines"`
	SelectionMarks []SelectionMark `json:"selectionMarks"`
}

// Line is a line of recognised text. Polygon is a flat x1,y1,x2,y2,... list.
type Line struct {
	Content string    `json:"content"`
	Polygon []float64 `json:"polygon"`
}

// SelectionMark is a detected checkbox.
type SelectionMark struct {
	State      string    `json:"state"`
	Polygon    []float64 `json:"polygon"`
	Confidence float64   `json:"confidence"`
}

// ClientConfig holds the Document Intelligence connection settings.
type ClientConfig struct {
	// Endpoint is the resource endpoint, e.g. https://<name>.cognitiveservices.azure.com.
	Endpoint string
	// Key is the resource API key.
	Key string
	// APIVersion defaults to 2023-07-31.
	APIVersion string
	// Pages restricts analysis to a page range such as "1". Empty analyses all pages.
	Pages string
	// PollInterval is the delay between result polls. Defaults to 1s.
	PollInterval time.Duration
	// MaxPolls bounds the number of result polls. Defaults to 120.
	MaxPolls uint64
	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client
}

// Client calls the Document Intelligence layout model over REST: submit the
// document, then poll the returned Operation-Location until it settles.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClientFromEnv reads AZURE_FORM_RECOGNIZER_ENDPOINT and
// AZURE_FORM_RECOGNIZER_KEY.
func NewClientFromEnv() (*Client, error) {
	return NewClient(ClientConfig{
		Endpoint: os.Getenv("AZURE_FORM_RECOGNIZER_ENDPOINT"),
		Key:      os.Getenv("AZURE_FORM_RECOGNIZER_KEY"),
		Pages:    "1",
	})
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("form: AZURE_FORM_RECOGNIZER_ENDPOINT is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("form: AZURE_FORM_RECOGNIZER_KEY is required")
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg, http: hc}, nil
}

// analyzeOperation is the polled operation body.
type analyzeOperation struct {
	Status        string         `json:"status"`
	AnalyzeResult *AnalyzeResult `json:"analyzeResult"`
	Error         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze runs the layout model on document and returns the result.
func (c *Client) Analyze(ctx context.Context, document []byte) (*AnalyzeResult, error) {
	opURL, err := c.submit(ctx, document)
	if err != nil {
		return nil, err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.PollInterval), c.cfg.MaxPolls),
		ctx,
	)
	result, err := backoff.RetryWithData(func() (*AnalyzeResult, error) {
		op, err := c.poll(ctx, opURL)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		switch strings.ToLower(op.Status) {
		case "succeeded":
			if op.AnalyzeResult == nil {
				return nil, backoff.Permanent(fmt.Errorf("%w: succeeded without a result", ErrAnalyze))
			}
			return op.AnalyzeResult, nil
		case "failed", "canceled":
			msg := op.Status
			if op.Error != nil {
				msg = op.Error.Code + ": " + op.Error.Message
			}
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrAnalyze, msg))
		default:
			return nil, fmt.Errorf("%w: operation still %s", ErrAnalyze, op.Status)
		}
	}, policy)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) submit(ctx context.Context, document []byte) (string, error) {
	q := url.Values{"api-version": {c.cfg.APIVersion}}
	if c.cfg.Pages != "" {
		q.Set("pages", c.cfg.Pages)
	}
	u := fmt.Sprintf("%s/formrecognizer/documentModels/%s:analyze?%s", c.cfg.Endpoint, defaultModelID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(document))
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %w", ErrAnalyze, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.Key)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: submit: %w", ErrAnalyze, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: submit returned %d: %s", ErrAnalyze, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", fmt.Errorf("%w: response has no Operation-Location", ErrAnalyze)
	}
	return opURL, nil
}

func (c *Client) poll(ctx context.Context, opURL string) (*analyzeOperation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating poll request: %w", ErrAnalyze, err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.Key)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: poll: %w", ErrAnalyze, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: poll returned %d: %s", ErrAnalyze, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var op analyzeOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("%w: decoding operation: %w", ErrAnalyze, err)
	}
	return &op, nil
}
