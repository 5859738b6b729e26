package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dunamismax/printstudio/internal/catalog"
	"github.com/dunamismax/printstudio/internal/domain"
	"github.com/dunamismax/printstudio/internal/dzine"
	"github.com/dunamismax/printstudio/internal/gelato"
	"github.com/dunamismax/printstudio/internal/id"
	"github.com/dunamismax/printstudio/internal/prodigi"
	"github.com/dunamismax/printstudio/internal/shopify"
	"github.com/dunamismax/printstudio/internal/storage"
)

const metafieldNamespace = "printstudio"

type checkoutRequest struct {
	domain.ProductSelection
	Title            string   `json:"title,omitempty"`
	AdditionalImages []string `json:"additional_images,omitempty"`
}

type shippingQuoteRequest struct {
	ProductID      string `json:"product_id"`
	Copies         int    `json:"copies"`
	Country        string `json:"country"`
	Currency       string `json:"currency,omitempty"`
	ShippingMethod string `json:"shipping_method,omitempty"`
}

type fulfillmentOrderRequest struct {
	ProductID   string         `json:"product_id"`
	DesignURL   string         `json:"design_url"`
	Quantity    int            `json:"quantity"`
	Currency    string         `json:"currency,omitempty"`
	ReferenceID string         `json:"reference_id,omitempty"`
	Shipping    gelato.Address `json:"shipping"`
}

// handleCheckout turns an exported design into a storefront product and
// returns a cart link for it.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.storefront == nil || s.catalog == nil {
		unavailable(w, "checkout")
		return
	}

	var req checkoutRequest
	if err := decodeJSONLimited(r, &req, s.imageBodyLimit()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, ok := s.lookupProduct(w, req.ProductID)
	if !ok {
		return
	}
	if sku := strings.TrimSpace(req.SKU); sku != product.SKU {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("sku %q does not match product %s", sku, product.ID))
		return
	}

	imageURL, err := s.shareableImageURL(r, req.ImageURL)
	if err != nil {
		s.logger.Error().Err(err).Str("product_id", product.ID).Msg("store checkout image failed")
		writeError(w, http.StatusInternalServerError, "failed to store design image")
		return
	}

	creds, err := s.secrets.Resolve(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("resolve credentials failed")
		writeError(w, http.StatusServiceUnavailable, "credentials are unavailable")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = product.Title + " (custom design)"
	}
	created, err := s.storefront.CreateProduct(r.Context(), creds.Shopify, shopify.NewProduct{
		Title:    title,
		SKU:      product.SKU,
		Price:    product.Price,
		ImageURL: imageURL,
	})
	if err != nil {
		s.metrics.partnerErrors.WithLabelValues("shopify").Inc()
		s.metrics.checkouts.WithLabelValues("failed").Inc()
		s.logger.Error().Err(err).Str("product_id", product.ID).Msg("create storefront product failed")
		writeError(w, http.StatusBadGateway, "failed to create storefront product")
		return
	}

	logger := s.logger.With().Int64("shopify_product_id", created.ID).Logger()
	imageErrors := 0
	if len(req.AdditionalImages) > 0 {
		for i, err := range s.storefront.AttachImages(r.Context(), creds.Shopify, created.ID, req.AdditionalImages) {
			if err != nil {
				imageErrors++
				logger.Warn().Err(err).Int("image", i).Msg("attach image failed")
			}
		}
	}
	fields := []shopify.Metafield{
		{Namespace: metafieldNamespace, Key: "catalog_product_id", Value: product.ID},
		{Namespace: metafieldNamespace, Key: "design_url", Value: imageURL, Type: "url"},
	}
	if product.GelatoProductUID != "" {
		fields = append(fields, shopify.Metafield{Namespace: metafieldNamespace, Key: "gelato_product_uid", Value: product.GelatoProductUID})
	}
	for i, err := range s.storefront.SetMetafields(r.Context(), creds.Shopify, created.ID, fields) {
		if err != nil {
			logger.Warn().Err(err).Str("key", fields[i].Key).Msg("set metafield failed")
		}
	}

	s.metrics.checkouts.WithLabelValues("created").Inc()
	writeJSON(w, http.StatusCreated, map[string]any{
		"product_id":    created.ID,
		"variant_id":    created.VariantID,
		"handle":        created.Handle,
		"cart_url":      shopify.CartURL(creds.Shopify, created.VariantID),
		"design_url":    imageURL,
		"images_failed": imageErrors,
	})
}

// shareableImageURL stores an inline data URL as an export so partners can
// fetch it. HTTP URLs pass through.
func (s *Server) shareableImageURL(r *http.Request, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "data:image/") {
		return raw, nil
	}
	data, err := dzine.DecodeImage(raw)
	if err != nil {
		return "", err
	}
	key := storage.ExportKey(id.New())
	if err := s.storage.WriteObject(r.Context(), key, data, http.DetectContentType(data)); err != nil {
		return "", err
	}
	return s.storage.PresignedGetURL(r.Context(), key)
}

func (s *Server) handleShippingQuote(w http.ResponseWriter, r *http.Request) {
	if s.quoter == nil || s.catalog == nil {
		unavailable(w, "shipping quotes")
		return
	}

	var req shippingQuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Country) == "" {
		writeError(w, http.StatusBadRequest, "country is required")
		return
	}
	product, ok := s.lookupProduct(w, req.ProductID)
	if !ok {
		return
	}
	if product.ProdigiSKU == "" {
		writeError(w, http.StatusUnprocessableEntity, "product has no shipping partner sku")
		return
	}

	creds, err := s.secrets.Resolve(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("resolve credentials failed")
		writeError(w, http.StatusServiceUnavailable, "credentials are unavailable")
		return
	}
	quotes, err := s.quoter.Quote(r.Context(), creds.Prodigi, prodigi.QuoteRequest{
		SKU:                    product.ProdigiSKU,
		Copies:                 max(1, req.Copies),
		DestinationCountryCode: strings.ToUpper(strings.TrimSpace(req.Country)),
		CurrencyCode:           strings.ToUpper(strings.TrimSpace(req.Currency)),
		ShippingMethod:         req.ShippingMethod,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("product_id", product.ID).Msg("shipping quote failed")
		s.metrics.partnerErrors.WithLabelValues("prodigi").Inc()
		writeError(w, http.StatusBadGateway, "failed to quote shipping")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": product.ID, "quotes": quotes})
}

func (s *Server) handleCreateFulfillmentOrder(w http.ResponseWriter, r *http.Request) {
	if s.fulfiller == nil || s.catalog == nil {
		unavailable(w, "fulfillment")
		return
	}

	var req fulfillmentOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, ok := s.lookupProduct(w, req.ProductID)
	if !ok {
		return
	}
	if product.GelatoProductUID == "" {
		writeError(w, http.StatusUnprocessableEntity, "product has no fulfillment partner uid")
		return
	}

	order := gelato.OrderRequest{
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		ProductUID:  product.GelatoProductUID,
		DesignURL:   strings.TrimSpace(req.DesignURL),
		Quantity:    max(1, req.Quantity),
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		Shipping:    req.Shipping,
	}
	if order.ReferenceID == "" {
		order.ReferenceID = id.New()
	}
	if err := order.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	creds, err := s.secrets.Resolve(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("resolve credentials failed")
		writeError(w, http.StatusServiceUnavailable, "credentials are unavailable")
		return
	}
	created, err := s.fulfiller.CreateOrder(r.Context(), creds.Gelato, order)
	if err != nil {
		s.logger.Error().Err(err).Str("reference_id", order.ReferenceID).Msg("create fulfillment order failed")
		s.metrics.partnerErrors.WithLabelValues("gelato").Inc()
		writeError(w, http.StatusBadGateway, "failed to create fulfillment order")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) lookupProduct(w http.ResponseWriter, productID string) (catalog.Product, bool) {
	product, err := s.catalog.Get(strings.TrimSpace(productID))
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return catalog.Product{}, false
		}
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return catalog.Product{}, false
	}
	return product, true
}
