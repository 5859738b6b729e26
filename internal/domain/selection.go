package domain

import (
	"errors"
	"strings"
)

// ProductSelection is what the placement editor hands to checkout: the chosen
// product and a displayable image of the exported print area.
type ProductSelection struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	ImageURL  string `json:"image_url"`
}

func (s ProductSelection) Validate() error {
	if strings.TrimSpace(s.ProductID) == "" {
		return errors.New("product_id is required")
	}
	if strings.TrimSpace(s.SKU) == "" {
		return errors.New("sku is required")
	}
	img := strings.TrimSpace(s.ImageURL)
	if img == "" {
		return errors.New("image_url is required")
	}
	if strings.HasPrefix(img, "data:image/") {
		return nil
	}
	return validateHTTPURL(img)
}
