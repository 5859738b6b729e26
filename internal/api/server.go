package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/printstudio/internal/catalog"
	"github.com/dunamismax/printstudio/internal/compress"
	"github.com/dunamismax/printstudio/internal/dzine"
	"github.com/dunamismax/printstudio/internal/gelato"
	"github.com/dunamismax/printstudio/internal/prodigi"
	"github.com/dunamismax/printstudio/internal/queue"
	"github.com/dunamismax/printstudio/internal/secrets"
	"github.com/dunamismax/printstudio/internal/shopify"
	"github.com/dunamismax/printstudio/internal/store"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultClientIDHeader = "X-Client-ID"
	maxJSONBodyBytes      = 1 << 20
)

type Server struct {
	logger      zerolog.Logger
	queueClient queueEnqueuer
	jobStore    store.JobStore
	storage     objectStorage
	catalog     productCatalog
	stylizer    stylizer
	storefront  storefront
	quoter      shippingQuoter
	fulfiller   orderPlacer
	secrets     secrets.Resolver
	encoder     compress.Encoder
	rateLimiter RateLimiter
	tracer      trace.Tracer
	metrics     *metrics
	opts        Options
	mux         *http.ServeMux
	now         func() time.Time
}

type queueEnqueuer interface {
	EnqueuePollStylization(ctx context.Context, payload queue.PollStylizationPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	PresignedGetURL(ctx context.Context, objectKey string) (string, error)
}

type productCatalog interface {
	Products() []catalog.Product
	Get(id string) (catalog.Product, error)
	Mockup(id string) (image.Image, error)
}

type stylizer interface {
	Submit(ctx context.Context, creds dzine.Credentials, image []byte, params dzine.StyleParams) (string, error)
	ListStyles(ctx context.Context, creds dzine.Credentials, page, pageSize int) ([]dzine.Style, error)
}

type storefront interface {
	CreateProduct(ctx context.Context, creds shopify.Credentials, in shopify.NewProduct) (shopify.Product, error)
	AttachImages(ctx context.Context, creds shopify.Credentials, productID int64, imageURLs []string) []error
	SetMetafields(ctx context.Context, creds shopify.Credentials, productID int64, fields []shopify.Metafield) []error
}

type shippingQuoter interface {
	Quote(ctx context.Context, creds prodigi.Credentials, req prodigi.QuoteRequest) ([]prodigi.Quote, error)
}

type orderPlacer interface {
	CreateOrder(ctx context.Context, creds gelato.Credentials, req gelato.OrderRequest) (gelato.Order, error)
}

// Options carries the request-shaping knobs that come from configuration.
type Options struct {
	AllowedOrigins []string
	MaxUploadBytes int64
	ClientIDHeader string
	Compress       compress.Options

	// StylizeCost is the rate-limit token cost of one stylization submission.
	StylizeCost int
}

// Dependencies are the collaborators the handlers call. Any of them may be nil;
// the routes that need a missing one answer 503.
type Dependencies struct {
	Queue       queueEnqueuer
	JobStore    store.JobStore
	Storage     objectStorage
	Catalog     productCatalog
	Stylizer    stylizer
	Storefront  storefront
	Quoter      shippingQuoter
	Fulfiller   orderPlacer
	Secrets     secrets.Resolver
	Encoder     compress.Encoder
	RateLimiter RateLimiter
	Tracer      trace.Tracer
}

func NewServer(logger zerolog.Logger, deps Dependencies, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if opts.ClientIDHeader == "" {
		opts.ClientIDHeader = defaultClientIDHeader
	}
	if opts.StylizeCost <= 0 {
		opts.StylizeCost = 1
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if deps.Storage == nil {
		deps.Storage = unavailableObjectStorage{}
	}
	if deps.Secrets == nil {
		deps.Secrets = secrets.EnvResolver{}
	}

	s := &Server{
		logger:      logger,
		queueClient: deps.Queue,
		jobStore:    deps.JobStore,
		storage:     deps.Storage,
		catalog:     deps.Catalog,
		stylizer:    deps.Stylizer,
		storefront:  deps.Storefront,
		quoter:      deps.Quoter,
		fulfiller:   deps.Fulfiller,
		secrets:     deps.Secrets,
		encoder:     deps.Encoder,
		rateLimiter: deps.RateLimiter,
		tracer:      deps.Tracer,
		metrics:     newMetrics(),
		opts:        opts,
		mux:         http.NewServeMux(),
		now:         time.Now,
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

var errStorageUnavailable = errors.New("object storage is unavailable")

func (unavailableObjectStorage) ReadObject(context.Context, string) ([]byte, error) {
	return nil, errStorageUnavailable
}

func (unavailableObjectStorage) WriteObject(context.Context, string, []byte, string) error {
	return errStorageUnavailable
}

func (unavailableObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errStorageUnavailable
}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string) (string, error) {
	return "", errStorageUnavailable
}

// Handler wraps the routes with CORS, tracing, metrics and rate limiting, in
// that order from the outside in.
func (s *Server) Handler() http.Handler {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", s.opts.ClientIDHeader},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Remaining"},
		MaxAge:         300,
	})
	return corsHandler(s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("GET /v1/products", s.handleListProducts)
	s.mux.HandleFunc("GET /v1/styles", s.handleListStyles)
	s.mux.HandleFunc("POST /v1/uploads", s.handleUpload)

	s.mux.HandleFunc("POST /v1/stylizations", s.handleCreateStylization)
	s.mux.HandleFunc("GET /v1/stylizations/{id}", s.handleGetStylization)

	s.mux.HandleFunc("POST /v1/placements/initial", s.handleInitialPlacement)
	s.mux.HandleFunc("POST /v1/placements/preview", s.handlePlacementPreview)
	s.mux.HandleFunc("POST /v1/placements/export", s.handlePlacementExport)

	s.mux.HandleFunc("POST /v1/checkout", s.handleCheckout)
	s.mux.HandleFunc("POST /v1/shipping/quote", s.handleShippingQuote)
	s.mux.HandleFunc("POST /v1/fulfillment/orders", s.handleCreateFulfillmentOrder)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, into any) error {
	return decodeJSONLimited(r, into, maxJSONBodyBytes)
}

func decodeJSONLimited(r *http.Request, into any, limit int64) error {
	limited := io.LimitReader(r.Body, limit)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// imageBodyLimit bounds JSON bodies that may inline a base64 image.
func (s *Server) imageBodyLimit() int64 {
	return s.opts.MaxUploadBytes*4/3 + maxJSONBodyBytes
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" is not configured")
}
