// Package gelato places print-on-demand orders with Gelato.
package gelato

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dunamismax/printstudio/internal/rest"
)

const DefaultBaseURL = "https://order.gelatoapis.com"

type Credentials struct {
	APIKey  string
	BaseURL string
}

type Address struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	PostCode     string `json:"postCode"`
	State        string `json:"state,omitempty"`
	Country      string `json:"country"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
}

type OrderRequest struct {
	ReferenceID string
	ProductUID  string
	DesignURL   string
	Quantity    int
	Currency    string
	Shipping    Address
}

func (r OrderRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ReferenceID) == "":
		return errors.New("reference id is required")
	case strings.TrimSpace(r.ProductUID) == "":
		return errors.New("product uid is required")
	case strings.TrimSpace(r.DesignURL) == "":
		return errors.New("design url is required")
	case strings.TrimSpace(r.Shipping.Country) == "" || strings.TrimSpace(r.Shipping.AddressLine1) == "":
		return errors.New("shipping address is incomplete")
	}
	return nil
}

type Order struct {
	ID                string `json:"id"`
	OrderReferenceID  string `json:"orderReferenceId"`
	FulfillmentStatus string `json:"fulfillmentStatus"`
	FinancialStatus   string `json:"financialStatus,omitempty"`
}

type orderBody struct {
	OrderType           string      `json:"orderType"`
	OrderReferenceID    string      `json:"orderReferenceId"`
	CustomerReferenceID string      `json:"customerReferenceId"`
	Currency            string      `json:"currency"`
	Items               []orderItem `json:"items"`
	ShippingAddress     Address     `json:"shippingAddress"`
}

type orderItem struct {
	ItemReferenceID string     `json:"itemReferenceId"`
	ProductUID      string     `json:"productUid"`
	Files           []itemFile `json:"files"`
	Quantity        int        `json:"quantity"`
}

type itemFile struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type Client struct {
	rest *rest.Client
}

func NewClient(restClient *rest.Client) *Client {
	return &Client{rest: restClient}
}

func (c *Client) CreateOrder(ctx context.Context, creds Credentials, req OrderRequest) (Order, error) {
	if strings.TrimSpace(creds.APIKey) == "" {
		return Order{}, errors.New("gelato api key is not configured")
	}
	if err := req.Validate(); err != nil {
		return Order{}, err
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	body := orderBody{
		OrderType:           "order",
		OrderReferenceID:    req.ReferenceID,
		CustomerReferenceID: req.ReferenceID,
		Currency:            currency,
		Items: []orderItem{{
			ItemReferenceID: req.ReferenceID + "-item-1",
			ProductUID:      req.ProductUID,
			Files:           []itemFile{{Type: "default", URL: req.DesignURL}},
			Quantity:        max(1, req.Quantity),
		}},
		ShippingAddress: req.Shipping,
	}

	base := strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}

	var out Order
	err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPost,
		URL:    base + "/v4/orders",
		Header: http.Header{"X-API-KEY": []string{creds.APIKey}},
		Body:   body,
	}, &out, nil)
	if err != nil {
		return Order{}, fmt.Errorf("create gelato order: %w", err)
	}
	if out.ID == "" {
		return Order{}, errors.New("create gelato order: response has no order id")
	}
	return out, nil
}
