package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/dunamismax/printstudio/internal/catalog"
	"github.com/dunamismax/printstudio/internal/domain"
	"github.com/dunamismax/printstudio/internal/dzine"
	"github.com/dunamismax/printstudio/internal/id"
	"github.com/dunamismax/printstudio/internal/placement"
	"github.com/dunamismax/printstudio/internal/storage"
)

const (
	defaultCanvasSide = 800
	maxCanvasSide     = 4096
)

// placementRequest replays an editing session: the server is stateless, so
// the client sends the starting state (or none for the initial placement) and
// the gestures made since.
type placementRequest struct {
	ProductID  string           `json:"product_id"`
	ImageKey   string           `json:"image_key,omitempty"`
	Image      string           `json:"image,omitempty"`
	Canvas     placement.Size   `json:"canvas"`
	State      *placement.State `json:"state,omitempty"`
	Operations []placementOp    `json:"operations,omitempty"`
	Clip       string           `json:"clip,omitempty"`

	// Inline returns the export as a data URL instead of storing it.
	Inline bool `json:"inline,omitempty"`
}

type placementOp struct {
	Type   string            `json:"type"`
	Path   []placement.Point `json:"path,omitempty"`
	Delta  float64           `json:"delta,omitempty"`
	Cursor placement.Point   `json:"cursor"`
}

type placementResponse struct {
	State           placement.State   `json:"state"`
	Canvas          placement.Size    `json:"canvas"`
	PrintableRegion []placement.Point `json:"printable_region"`
	TemplateUsable  bool              `json:"template_usable"`
	Photo           placement.Size    `json:"photo"`
}

type exportResponse struct {
	Selection domain.ProductSelection `json:"selection"`
	ExportKey string                  `json:"export_key,omitempty"`
	Bounds    bounds                  `json:"bounds"`
	State     placement.State         `json:"state"`
}

type bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s *Server) handleListProducts(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil {
		unavailable(w, "catalog")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": s.catalog.Products()})
}

func (s *Server) handleInitialPlacement(w http.ResponseWriter, r *http.Request) {
	editor, _, _, ok := s.placementSession(w, r)
	if !ok {
		return
	}
	corners, usable := editor.PrintableRegion()
	writeJSON(w, http.StatusOK, placementResponse{
		State:           editor.State(),
		Canvas:          editor.Canvas(),
		PrintableRegion: corners,
		TemplateUsable:  usable,
		Photo:           editor.PhotoSize(),
	})
}

func (s *Server) handlePlacementPreview(w http.ResponseWriter, r *http.Request) {
	editor, _, _, ok := s.placementSession(w, r)
	if !ok {
		return
	}
	canvas, rendered := editor.Render()
	if !rendered {
		writeError(w, http.StatusUnprocessableEntity, "nothing to render")
		return
	}
	data, err := placement.EncodePNG(canvas)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode preview failed")
		writeError(w, http.StatusInternalServerError, "failed to render preview")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handlePlacementExport(w http.ResponseWriter, r *http.Request) {
	editor, product, req, ok := s.placementSession(w, r)
	if !ok {
		return
	}
	mode, err := placement.ParseClipMode(req.Clip)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, box, err := editor.ExportPNG(mode)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, placement.ErrNoImage) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	resp := exportResponse{
		Selection: domain.ProductSelection{ProductID: product.ID, SKU: product.SKU},
		Bounds:    bounds{X: box.Min.X, Y: box.Min.Y, Width: box.Dx(), Height: box.Dy()},
		State:     editor.State(),
	}
	if req.Inline {
		resp.Selection.ImageURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
		s.metrics.exports.WithLabelValues("inline").Inc()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	key := storage.ExportKey(id.New())
	if err := s.storage.WriteObject(r.Context(), key, data, "image/png"); err != nil {
		s.logger.Error().Err(err).Str("object_key", key).Msg("export write failed")
		writeError(w, http.StatusInternalServerError, "failed to store export")
		return
	}
	url, err := s.storage.PresignedGetURL(r.Context(), key)
	if err != nil {
		s.logger.Error().Err(err).Str("object_key", key).Msg("presign export failed")
		writeError(w, http.StatusInternalServerError, "failed to share export")
		return
	}
	resp.Selection.ImageURL = url
	resp.ExportKey = key
	s.metrics.exports.WithLabelValues("stored").Inc()
	writeJSON(w, http.StatusOK, resp)
}

// placementSession builds an editor for the request and replays its gestures.
// On failure it has already written the response.
func (s *Server) placementSession(w http.ResponseWriter, r *http.Request) (*placement.Editor, catalog.Product, placementRequest, bool) {
	var req placementRequest
	if s.catalog == nil {
		unavailable(w, "catalog")
		return nil, catalog.Product{}, req, false
	}
	if err := decodeJSONLimited(r, &req, s.imageBodyLimit()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, catalog.Product{}, req, false
	}

	product, err := s.catalog.Get(strings.TrimSpace(req.ProductID))
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return nil, catalog.Product{}, req, false
		}
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return nil, catalog.Product{}, req, false
	}
	mockup, err := s.catalog.Mockup(product.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("product_id", product.ID).Msg("load mockup failed")
		writeError(w, http.StatusInternalServerError, "failed to load product mockup")
		return nil, catalog.Product{}, req, false
	}

	photo, status, err := s.placementPhoto(r, req)
	if err != nil {
		writeError(w, status, err.Error())
		return nil, catalog.Product{}, req, false
	}

	width, height, err := canvasSize(req.Canvas)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, catalog.Product{}, req, false
	}

	editor := placement.NewEditor(width, height)
	editor.SetProduct(mockup, product.PrintableTemplate())
	editor.SetPhoto(photo)
	if req.State != nil {
		editor.SetState(*req.State)
	}
	if err := replay(editor, req.Operations); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, catalog.Product{}, req, false
	}
	return editor, product, req, true
}

func (s *Server) placementPhoto(r *http.Request, req placementRequest) (image.Image, int, error) {
	key := strings.TrimSpace(req.ImageKey)
	var data []byte
	switch {
	case key != "" && req.Image != "":
		return nil, http.StatusBadRequest, errors.New("image and image_key are mutually exclusive")
	case key != "":
		if !storage.IsUploadKey(key) && !storage.IsResultKey(key) {
			return nil, http.StatusBadRequest, errors.New("image_key must name an upload or a stylization result")
		}
		raw, err := s.storage.ReadObject(r.Context(), key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, http.StatusNotFound, errors.New("image not found")
			}
			s.logger.Warn().Err(err).Str("object_key", key).Msg("read placement photo failed")
			return nil, http.StatusBadGateway, errors.New("image could not be loaded")
		}
		data = raw
	case req.Image != "":
		raw, err := dzine.DecodeImage(req.Image)
		if err != nil {
			return nil, http.StatusBadRequest, errors.New("image must be base64 or a data URL")
		}
		data = raw
	default:
		return nil, http.StatusBadRequest, errors.New("one of image or image_key is required")
	}

	img, err := placement.Decode(data, placement.MaxPixels)
	if err != nil {
		if errors.Is(err, placement.ErrImageTooLarge) {
			return nil, http.StatusRequestEntityTooLarge, err
		}
		return nil, http.StatusUnsupportedMediaType, errors.New("image is not a supported format")
	}
	return img, 0, nil
}

func canvasSize(c placement.Size) (int, int, error) {
	w, h := int(c.Width), int(c.Height)
	if w == 0 && h == 0 {
		return defaultCanvasSide, defaultCanvasSide, nil
	}
	if w <= 0 || h <= 0 || w > maxCanvasSide || h > maxCanvasSide {
		return 0, 0, fmt.Errorf("canvas must be between 1 and %d pixels per side", maxCanvasSide)
	}
	return w, h, nil
}

func replay(editor *placement.Editor, ops []placementOp) error {
	for i, op := range ops {
		switch strings.ToLower(op.Type) {
		case "drag":
			if len(op.Path) < 2 {
				return fmt.Errorf("operation %d: drag needs at least two points", i)
			}
			editor.PointerDown(op.Path[0])
			for _, p := range op.Path[1:] {
				editor.PointerMove(p)
			}
			editor.PointerUp()
		case "wheel":
			editor.Wheel(op.Delta, op.Cursor)
		case "reset":
			editor.Reset()
		default:
			return fmt.Errorf("operation %d: unsupported type %q", i, op.Type)
		}
	}
	return nil
}
