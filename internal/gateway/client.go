package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/northwind-labs/checkout-service/internal/models"
)

// Checkout is the adapter's result: the provider's opaque session id
// and the URL the storefront redirects the customer to.
type Checkout struct {
	CheckoutSessionID string
	PaymentURL        string
}

// Client wraps the external payment provider's HTTP API. Each call
// carries a bounded timeout so a stalled provider cannot hang draft
// creation.
type Client struct {
	baseURL     string
	apiKey      string
	returnBase  string
	httpClient  *http.Client
	callTimeout time.Duration
}

func NewClient(baseURL, apiKey, returnBase string) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		returnBase:  returnBase,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		callTimeout: 10 * time.Second,
	}
}

type providerCustomer struct {
	ID string `json:"id"`
}

type providerProduct struct {
	ID string `json:"id"`
}

type providerPrice struct {
	ID string `json:"id"`
}

type providerCheckout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckout runs the provider's dependent resource chain
// (customer -> product -> price -> checkout session). A failure at any
// step surfaces as a single adapter-level error; callers must not
// assume any substep succeeded.
func (c *Client) CreateCheckout(ctx context.Context, draft *models.CheckoutDraft, amount int64) (*Checkout, error) {
	var customer providerCustomer
	err := c.post(ctx, "/v1/customers", map[string]any{
		"email": draft.Email,
		"name":  draft.FullName,
		"phone": draft.Phone,
	}, &customer)
	if err != nil {
		return nil, fmt.Errorf("create checkout: customer: %w", err)
	}

	var product providerProduct
	err = c.post(ctx, "/v1/products", map[string]any{
		"name": fmt.Sprintf("Order for draft %s", draft.ID),
	}, &product)
	if err != nil {
		return nil, fmt.Errorf("create checkout: product: %w", err)
	}

	var price providerPrice
	err = c.post(ctx, "/v1/prices", map[string]any{
		"product":  product.ID,
		"amount":   amount,
		"currency": draft.Cart.Currency,
	}, &price)
	if err != nil {
		return nil, fmt.Errorf("create checkout: price: %w", err)
	}

	var checkout providerCheckout
	err = c.post(ctx, "/v1/checkouts", map[string]any{
		"customer":    customer.ID,
		"price":       price.ID,
		"success_url": c.returnURL("success", draft.ID),
		"cancel_url":  c.returnURL("failure", draft.ID),
		"metadata":    map[string]string{"draft_id": draft.ID},
	}, &checkout)
	if err != nil {
		return nil, fmt.Errorf("create checkout: session: %w", err)
	}
	if checkout.ID == "" || checkout.URL == "" {
		return nil, fmt.Errorf("create checkout: session: provider returned empty id or url")
	}

	return &Checkout{
		CheckoutSessionID: checkout.ID,
		PaymentURL:        checkout.URL,
	}, nil
}

// returnURL builds the browser-return pages. These pages only query
// payment status by draft id; they finalize nothing.
func (c *Client) returnURL(outcome, draftID string) string {
	return fmt.Sprintf("%s/checkout/%s?draft=%s", c.returnBase, outcome, url.QueryEscape(draftID))
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
