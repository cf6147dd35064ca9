package shippo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/hollowpine/storefront-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.goshippo.com"
	errorBodyReadLimit   int64 = 2048
	transactionSucceeded       = "SUCCESS"
)

var errAPIKeyRequired = errors.New("shippo api key is required")

// Client wraps the Shippo carrier-aggregation API used for address
// validation, rate shopping, and label purchase.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the Shippo client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// Address mirrors Shippo's address payload.
type Address struct {
	ObjectID string `json:"object_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Street1  string `json:"street1"`
	Street2  string `json:"street2,omitempty"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Validate bool   `json:"validate,omitempty"`

	ValidationResults *ValidationResults `json:"validation_results,omitempty"`
}

// ValidationResults reports whether Shippo considers the address deliverable.
type ValidationResults struct {
	IsValid  bool                `json:"is_valid"`
	Messages []ValidationMessage `json:"messages,omitempty"`
}

// ValidationMessage is one reason an address failed validation.
type ValidationMessage struct {
	Source string `json:"source,omitempty"`
	Code   string `json:"code,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Parcel describes the package being shipped.
type Parcel struct {
	Length       string `json:"length"`
	Width        string `json:"width"`
	Height       string `json:"height"`
	DistanceUnit string `json:"distance_unit"`
	Weight       string `json:"weight"`
	MassUnit     string `json:"mass_unit"`
}

// ShipmentRequest is the payload for synchronous rate shopping.
type ShipmentRequest struct {
	AddressFrom Address  `json:"address_from"`
	AddressTo   Address  `json:"address_to"`
	Parcels     []Parcel `json:"parcels"`
	Async       bool     `json:"async"`
}

// Shipment is the rate-shopping response.
type Shipment struct {
	ObjectID string `json:"object_id"`
	Status   string `json:"status"`
	Rates    []Rate `json:"rates"`
}

// Rate is one carrier service level quote.
type Rate struct {
	ObjectID     string `json:"object_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Provider     string `json:"provider"`
	ServiceLevel struct {
		Name  string `json:"name"`
		Token string `json:"token"`
	} `json:"servicelevel"`
	EstimatedDays int `json:"estimated_days"`
}

// Transaction is the label purchase response.
type Transaction struct {
	ObjectID       string              `json:"object_id"`
	Status         string              `json:"status"`
	TrackingNumber string              `json:"tracking_number"`
	TrackingURL    string              `json:"tracking_url_provider"`
	LabelURL       string              `json:"label_url"`
	Messages       []ValidationMessage `json:"messages,omitempty"`
}

// Succeeded reports whether the label purchase completed.
func (t *Transaction) Succeeded() bool {
	return t != nil && t.Status == transactionSucceeded
}

// ErrorText flattens the transaction messages into one line.
func (t *Transaction) ErrorText() string {
	if t == nil || len(t.Messages) == 0 {
		return ""
	}
	parts := make([]string, 0, len(t.Messages))
	for _, msg := range t.Messages {
		if msg.Text != "" {
			parts = append(parts, msg.Text)
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateAddress submits the address for carrier validation.
func (c *Client) ValidateAddress(ctx context.Context, addr Address) (*Address, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shippo client not configured")
	}
	addr.Validate = true

	var validated Address
	if err := c.post(ctx, "/addresses", addr, &validated); err != nil {
		return nil, err
	}
	return &validated, nil
}

// CreateShipment requests rates for the shipment synchronously.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shippo client not configured")
	}
	req.Async = false

	var shipment Shipment
	if err := c.post(ctx, "/shipments", req, &shipment); err != nil {
		return nil, err
	}
	return &shipment, nil
}

// PurchaseLabel buys a label for the given rate.
func (c *Client) PurchaseLabel(ctx context.Context, rateID string) (*Transaction, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shippo client not configured")
	}
	if strings.TrimSpace(rateID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rate id is required")
	}

	payload := map[string]any{
		"rate":            rateID,
		"label_file_type": "PDF",
		"async":           false,
	}

	var txn Transaction
	if err := c.post(ctx, "/transactions", payload, &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal shippo request")
	}

	url := strings.TrimRight(c.baseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build shippo request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "ShippoToken "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute shippo request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("shippo %s returned %d", path, resp.StatusCode)).
			WithDetails(map[string]any{"body": string(snippet)})
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shippo response")
	}
	return nil
}
