// Package shopify creates storefront products for finished designs through
// the Shopify Admin REST API.
package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/printstudio/internal/batch"
	"github.com/dunamismax/printstudio/internal/rest"
)

const DefaultAPIVersion = "2024-10"

type Credentials struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.ShopDomain) == "" || strings.TrimSpace(c.AccessToken) == "" {
		return errors.New("shopify credentials are not configured")
	}
	return nil
}

func (c Credentials) baseURL() string {
	version := strings.TrimSpace(c.APIVersion)
	if version == "" {
		version = DefaultAPIVersion
	}
	domain := strings.TrimSpace(c.ShopDomain)
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return strings.TrimRight(domain, "/") + "/admin/api/" + version
}

func (c Credentials) header() http.Header {
	return http.Header{"X-Shopify-Access-Token": []string{c.AccessToken}}
}

type NewProduct struct {
	Title    string
	SKU      string
	Price    float64
	ImageURL string
}

type Product struct {
	ID        int64  `json:"id"`
	VariantID int64  `json:"variant_id"`
	Handle    string `json:"handle"`
}

type Metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

type Client struct {
	rest      *rest.Client
	batchSize int
}

func NewClient(restClient *rest.Client) *Client {
	return &Client{rest: restClient, batchSize: batch.DefaultSize}
}

type productEnvelope struct {
	Product productBody `json:"product"`
}

type productBody struct {
	ID       int64         `json:"id,omitempty"`
	Title    string        `json:"title,omitempty"`
	Handle   string        `json:"handle,omitempty"`
	Status   string        `json:"status,omitempty"`
	Variants []variantBody `json:"variants,omitempty"`
	Images   []imageBody   `json:"images,omitempty"`
}

type variantBody struct {
	ID    int64  `json:"id,omitempty"`
	SKU   string `json:"sku,omitempty"`
	Price string `json:"price,omitempty"`
}

type imageBody struct {
	ID  int64  `json:"id,omitempty"`
	Src string `json:"src"`
}

func (c *Client) CreateProduct(ctx context.Context, creds Credentials, in NewProduct) (Product, error) {
	if err := creds.validate(); err != nil {
		return Product{}, err
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.SKU) == "" {
		return Product{}, errors.New("product title and sku are required")
	}

	body := productEnvelope{Product: productBody{
		Title:    in.Title,
		Status:   "active",
		Variants: []variantBody{{SKU: in.SKU, Price: strconv.FormatFloat(in.Price, 'f', 2, 64)}},
	}}
	if in.ImageURL != "" {
		body.Product.Images = []imageBody{{Src: in.ImageURL}}
	}

	var out productEnvelope
	err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPost,
		URL:    creds.baseURL() + "/products.json",
		Header: creds.header(),
		Body:   body,
	}, &out, nil)
	if err != nil {
		return Product{}, fmt.Errorf("create shopify product: %w", err)
	}
	if out.Product.ID == 0 || len(out.Product.Variants) == 0 {
		return Product{}, errors.New("create shopify product: response has no product or variant id")
	}

	return Product{
		ID:        out.Product.ID,
		VariantID: out.Product.Variants[0].ID,
		Handle:    out.Product.Handle,
	}, nil
}

// AttachImages adds each image to the product. Uploads run in concurrent
// batches; the returned slice holds one error (or nil) per input URL.
func (c *Client) AttachImages(ctx context.Context, creds Credentials, productID int64, imageURLs []string) []error {
	results := batch.Run(ctx, imageURLs, c.batchSize, func(ctx context.Context, src string) (struct{}, error) {
		if err := creds.validate(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, c.rest.Do(ctx, rest.Request{
			Method: http.MethodPost,
			URL:    fmt.Sprintf("%s/products/%d/images.json", creds.baseURL(), productID),
			Header: creds.header(),
			Body:   map[string]imageBody{"image": {Src: src}},
		}, nil, nil)
	})
	return errorsOf(results)
}

func (c *Client) SetMetafields(ctx context.Context, creds Credentials, productID int64, fields []Metafield) []error {
	results := batch.Run(ctx, fields, c.batchSize, func(ctx context.Context, mf Metafield) (struct{}, error) {
		if err := creds.validate(); err != nil {
			return struct{}{}, err
		}
		if mf.Type == "" {
			mf.Type = "single_line_text_field"
		}
		return struct{}{}, c.rest.Do(ctx, rest.Request{
			Method: http.MethodPost,
			URL:    fmt.Sprintf("%s/products/%d/metafields.json", creds.baseURL(), productID),
			Header: creds.header(),
			Body:   map[string]Metafield{"metafield": mf},
		}, nil, nil)
	})
	return errorsOf(results)
}

// CartURL is a storefront permalink that drops one unit of the variant into a
// fresh cart.
func CartURL(creds Credentials, variantID int64) string {
	domain := strings.TrimSpace(creds.ShopDomain)
	domain = strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://")
	return fmt.Sprintf("https://%s/cart/%d:1", strings.TrimRight(domain, "/"), variantID)
}

func errorsOf[T any](results []batch.Result[T]) []error {
	out := make([]error, len(results))
	for i, r := range results {
		out[i] = r.Err
	}
	return out
}
