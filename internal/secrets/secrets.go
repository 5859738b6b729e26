// Package secrets resolves third-party API credentials for one request.
// Nothing here keeps credentials in process-wide state; callers pass the
// resolved value down explicitly.
package secrets

import (
	"context"
	"os"
	"strings"

	"github.com/dunamismax/printstudio/internal/dzine"
	"github.com/dunamismax/printstudio/internal/gelato"
	"github.com/dunamismax/printstudio/internal/prodigi"
	"github.com/dunamismax/printstudio/internal/shopify"
)

type Credentials struct {
	Dzine   dzine.Credentials
	Shopify shopify.Credentials
	Gelato  gelato.Credentials
	Prodigi prodigi.Credentials
}

type Resolver interface {
	Resolve(ctx context.Context) (Credentials, error)
}

// Parameter names relative to a store prefix, shared by env and SSM lookups.
const (
	keyDzineAPIKey       = "dzine/api_key"
	keyDzineBaseURL      = "dzine/base_url"
	keyShopifyDomain     = "shopify/shop_domain"
	keyShopifyToken      = "shopify/access_token"
	keyShopifyAPIVersion = "shopify/api_version"
	keyGelatoAPIKey      = "gelato/api_key"
	keyGelatoBaseURL     = "gelato/base_url"
	keyProdigiAPIKey     = "prodigi/api_key"
	keyProdigiBaseURL    = "prodigi/base_url"
)

var allKeys = []string{
	keyDzineAPIKey,
	keyDzineBaseURL,
	keyShopifyDomain,
	keyShopifyToken,
	keyShopifyAPIVersion,
	keyGelatoAPIKey,
	keyGelatoBaseURL,
	keyProdigiAPIKey,
	keyProdigiBaseURL,
}

func fromValues(v map[string]string) Credentials {
	return Credentials{
		Dzine:   dzine.Credentials{APIKey: v[keyDzineAPIKey], BaseURL: v[keyDzineBaseURL]},
		Shopify: shopify.Credentials{ShopDomain: v[keyShopifyDomain], AccessToken: v[keyShopifyToken], APIVersion: v[keyShopifyAPIVersion]},
		Gelato:  gelato.Credentials{APIKey: v[keyGelatoAPIKey], BaseURL: v[keyGelatoBaseURL]},
		Prodigi: prodigi.Credentials{APIKey: v[keyProdigiAPIKey], BaseURL: v[keyProdigiBaseURL]},
	}
}

// EnvResolver reads credentials from the environment on every call, so
// rotated values are picked up without a restart. "dzine/api_key" is read
// from DZINE_API_KEY.
type EnvResolver struct {
	Lookup func(string) (string, bool)
}

func (r EnvResolver) Resolve(context.Context) (Credentials, error) {
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	values := make(map[string]string, len(allKeys))
	for _, key := range allKeys {
		if v, ok := lookup(envName(key)); ok {
			values[key] = strings.TrimSpace(v)
		}
	}
	return fromValues(values), nil
}

func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "/", "_"))
}

// Static always returns the same credentials. Used by tests and the CLI.
type Static Credentials

func (s Static) Resolve(context.Context) (Credentials, error) {
	return Credentials(s), nil
}
