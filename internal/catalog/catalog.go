// Package catalog loads the printable products: metadata, mockup image and
// printable template, one directory per product.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/dunamismax/printstudio/internal/placement"
	"github.com/rs/zerolog"
)

const (
	productFile  = "product.json"
	templateFile = "template.json"
)

var (
	ErrProductNotFound = errors.New("product not found")
	mockupFiles        = []string{"mockup.png", "mockup.jpg", "mockup.jpeg"}
)

type Product struct {
	ID               string  `json:"id"`
	SKU              string  `json:"sku"`
	Title            string  `json:"title"`
	Price            float64 `json:"price"`
	GelatoProductUID string  `json:"gelato_product_uid,omitempty"`
	ProdigiSKU       string  `json:"prodigi_sku,omitempty"`

	MockupWidth  int                 `json:"mockup_width"`
	MockupHeight int                 `json:"mockup_height"`
	Template     *placement.Template `json:"template,omitempty"`

	dir string
}

func (p Product) MockupSize() placement.Size {
	return placement.Size{Width: float64(p.MockupWidth), Height: float64(p.MockupHeight)}
}

// PrintableTemplate returns the product's template or an empty one, which the
// editor treats as free placement.
func (p Product) PrintableTemplate() placement.Template {
	if p.Template == nil {
		return placement.Template{}
	}
	return *p.Template
}

type Catalog struct {
	products map[string]Product
	mockups  map[string]image.Image
	order    []string
}

// LoadDir is Load over an operating-system directory.
func LoadDir(dir string, logger zerolog.Logger) (*Catalog, error) {
	return Load(os.DirFS(dir), logger)
}

// Load scans every top-level directory of fsys. Directories without a
// product.json are skipped; an invalid template is logged and dropped. Mockups
// are decoded once here and shared read-only by every caller.
func Load(fsys fs.FS, logger zerolog.Logger) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read catalog root: %w", err)
	}

	c := &Catalog{products: make(map[string]Product), mockups: make(map[string]image.Image)}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		p, mockup, ok, err := loadProduct(fsys, entry.Name(), logger)
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", entry.Name(), err)
		}
		if !ok {
			continue
		}
		if _, dup := c.products[p.ID]; dup {
			return nil, fmt.Errorf("duplicate product id %q in %s", p.ID, entry.Name())
		}
		c.products[p.ID] = p
		c.mockups[p.ID] = mockup
		c.order = append(c.order, p.ID)
	}
	sort.Strings(c.order)

	logger.Info().Int("products", len(c.order)).Msg("catalog loaded")
	return c, nil
}

func loadProduct(fsys fs.FS, dir string, logger zerolog.Logger) (Product, image.Image, bool, error) {
	raw, err := fs.ReadFile(fsys, path.Join(dir, productFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Product{}, nil, false, nil
	}
	if err != nil {
		return Product{}, nil, false, err
	}

	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return Product{}, nil, false, fmt.Errorf("decode %s: %w", productFile, err)
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = dir
	}
	if strings.TrimSpace(p.SKU) == "" {
		return Product{}, nil, false, fmt.Errorf("%s: sku is required", productFile)
	}
	p.dir = dir

	mockup, err := loadMockup(fsys, dir)
	if err != nil {
		return Product{}, nil, false, err
	}
	b := mockup.Bounds()
	p.MockupWidth, p.MockupHeight = b.Dx(), b.Dy()

	p.Template = loadTemplate(fsys, p, logger)
	return p, mockup, true, nil
}

func loadMockup(fsys fs.FS, dir string) (image.Image, error) {
	for _, name := range mockupFiles {
		raw, err := fs.ReadFile(fsys, path.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		img, err := placement.Decode(raw, placement.MaxPixels)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("no mockup image (%s)", strings.Join(mockupFiles, ", "))
}

func loadTemplate(fsys fs.FS, p Product, logger zerolog.Logger) *placement.Template {
	raw, err := fs.ReadFile(fsys, path.Join(p.dir, templateFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Str("product_id", p.ID).Msg("template unreadable, using free placement")
		}
		return nil
	}

	tpl, err := placement.ParseTemplate(raw)
	if err == nil {
		err = tpl.Validate(p.MockupSize())
	}
	if err != nil {
		logger.Warn().Err(err).Str("product_id", p.ID).Msg("template invalid, using free placement")
		return nil
	}
	return &tpl
}

func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.products[id])
	}
	return out
}

func (c *Catalog) Get(id string) (Product, error) {
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, nil
}

// Mockup returns the product's decoded mockup. Callers must not draw on it.
func (c *Catalog) Mockup(id string) (image.Image, error) {
	img, ok := c.mockups[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return img, nil
}
