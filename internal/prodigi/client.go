// Package prodigi quotes shipping and production cost with Prodigi.
package prodigi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/printstudio/internal/rest"
)

const DefaultBaseURL = "https://api.prodigi.com"

type Credentials struct {
	APIKey  string
	BaseURL string
}

type QuoteRequest struct {
	SKU                    string `json:"sku"`
	Copies                 int    `json:"copies"`
	DestinationCountryCode string `json:"destination_country_code"`
	CurrencyCode           string `json:"currency_code,omitempty"`
	ShippingMethod         string `json:"shipping_method,omitempty"`
}

type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type Quote struct {
	ShipmentMethod string `json:"shipment_method"`
	Items          Money  `json:"items"`
	Shipping       Money  `json:"shipping"`
	Total          Money  `json:"total"`
}

type quoteBody struct {
	ShippingMethod         string      `json:"shippingMethod"`
	DestinationCountryCode string      `json:"destinationCountryCode"`
	CurrencyCode           string      `json:"currencyCode"`
	Items                  []quoteItem `json:"items"`
}

type quoteItem struct {
	SKU    string       `json:"sku"`
	Copies int          `json:"copies"`
	Assets []quoteAsset `json:"assets"`
}

type quoteAsset struct {
	PrintArea string `json:"printArea"`
}

// Prodigi encodes amounts as strings.
type wireMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type quoteResponse struct {
	Outcome string `json:"outcome"`
	Quotes  []struct {
		ShipmentMethod string `json:"shipmentMethod"`
		CostSummary    struct {
			Items    wireMoney `json:"items"`
			Shipping wireMoney `json:"shipping"`
		} `json:"costSummary"`
	} `json:"quotes"`
}

type Client struct {
	rest *rest.Client
}

func NewClient(restClient *rest.Client) *Client {
	return &Client{rest: restClient}
}

func (c *Client) Quote(ctx context.Context, creds Credentials, req QuoteRequest) ([]Quote, error) {
	if strings.TrimSpace(creds.APIKey) == "" {
		return nil, errors.New("prodigi api key is not configured")
	}
	if strings.TrimSpace(req.SKU) == "" || len(strings.TrimSpace(req.DestinationCountryCode)) != 2 {
		return nil, errors.New("sku and a two-letter destination country code are required")
	}

	body := quoteBody{
		ShippingMethod:         defaultString(req.ShippingMethod, "Standard"),
		DestinationCountryCode: strings.ToUpper(req.DestinationCountryCode),
		CurrencyCode:           defaultString(req.CurrencyCode, "USD"),
		Items: []quoteItem{{
			SKU:    req.SKU,
			Copies: max(1, req.Copies),
			Assets: []quoteAsset{{PrintArea: "default"}},
		}},
	}

	base := strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}

	var out quoteResponse
	err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPost,
		URL:    base + "/v4.0/quotes",
		Header: http.Header{"X-API-Key": []string{creds.APIKey}},
		Body:   body,
	}, &out, nil)
	if err != nil {
		return nil, fmt.Errorf("prodigi quote: %w", err)
	}
	if !strings.EqualFold(out.Outcome, "Created") {
		return nil, fmt.Errorf("prodigi quote: outcome %q", out.Outcome)
	}

	quotes := make([]Quote, 0, len(out.Quotes))
	for _, q := range out.Quotes {
		items, err := q.CostSummary.Items.money()
		if err != nil {
			return nil, fmt.Errorf("prodigi quote items cost: %w", err)
		}
		shipping, err := q.CostSummary.Shipping.money()
		if err != nil {
			return nil, fmt.Errorf("prodigi quote shipping cost: %w", err)
		}
		quotes = append(quotes, Quote{
			ShipmentMethod: q.ShipmentMethod,
			Items:          items,
			Shipping:       shipping,
			Total:          Money{Amount: items.Amount + shipping.Amount, Currency: items.Currency},
		})
	}
	return quotes, nil
}

func (m wireMoney) money() (Money, error) {
	if m.Amount == "" {
		return Money{Currency: m.Currency}, nil
	}
	v, err := strconv.ParseFloat(m.Amount, 64)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: v, Currency: m.Currency}, nil
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
