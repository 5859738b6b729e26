package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/printstudio/internal/config"
	"github.com/dunamismax/printstudio/internal/dzine"
	"github.com/dunamismax/printstudio/internal/placement"
	"github.com/dunamismax/printstudio/internal/secrets"
	"github.com/rs/zerolog"
)

const mugTemplate = `{"corners":[{"x":100,"y":50},{"x":300,"y":50},{"x":300,"y":250},{"x":100,"y":250}]}`

func noWait(context.Context, time.Duration) error { return nil }

func newTestRoot(resolver secrets.Resolver) *Root {
	root := NewRoot(config.Config{}, zerolog.Nop(), resolver)
	root.sleep = noWait
	return root
}

func run(t *testing.T, root *Root, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(root)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func pngFile(t *testing.T, dir, name string, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestPlaceAppliesGesturesAndWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	mockup := pngFile(t, dir, "mockup.png", 400, 300, color.White)
	photo := pngFile(t, dir, "photo.png", 100, 100, color.RGBA{R: 255, A: 255})
	tpl := filepath.Join(dir, "template.json")
	if err := os.WriteFile(tpl, []byte(mugTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	preview := filepath.Join(dir, "out", "preview.png")
	export := filepath.Join(dir, "out", "export.png")

	out, err := run(t, newTestRoot(nil), "place", mockup, photo,
		"--template", tpl, "--canvas", "400x300", "--drag", "10,5",
		"--preview", preview, "--export", export)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	var summary struct {
		State        placement.State `json:"state"`
		ExportBounds struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"export_bounds"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if !near(summary.State.Scale, 1.8) || !near(summary.State.Position.X, 120) || !near(summary.State.Position.Y, 65) {
		t.Fatalf("unexpected state %+v", summary.State)
	}
	if summary.ExportBounds.Width != 200 || summary.ExportBounds.Height != 200 {
		t.Fatalf("unexpected export bounds %+v", summary.ExportBounds)
	}

	for _, p := range []string{preview, export} {
		f, err := os.Open(p)
		if err != nil {
			t.Fatalf("open %s: %v", p, err)
		}
		cfg, err := png.DecodeConfig(f)
		f.Close()
		if err != nil {
			t.Fatalf("decode %s: %v", p, err)
		}
		if p == preview && (cfg.Width != 400 || cfg.Height != 300) {
			t.Fatalf("unexpected preview size %dx%d", cfg.Width, cfg.Height)
		}
	}
}

func TestPlaceZoomAndFreePlacement(t *testing.T) {
	dir := t.TempDir()
	mockup := pngFile(t, dir, "mockup.png", 400, 300, color.White)
	photo := pngFile(t, dir, "photo.png", 100, 100, color.Black)

	out, err := run(t, newTestRoot(nil), "place", mockup, photo, "--canvas", "400x300", "--zoom", "-100@0,0")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	var summary struct {
		State  placement.State   `json:"state"`
		Region []placement.Point `json:"printable_region"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	// Free placement: min(400/100, 300/100) * 0.8 = 2.4, then one wheel step of +1.
	if !near(summary.State.Scale, 3.4) {
		t.Fatalf("expected scale 3.4, got %v", summary.State.Scale)
	}
	if summary.Region != nil {
		t.Fatalf("expected no printable region without a template, got %v", summary.Region)
	}
}

func TestPlaceRejectsBadFlags(t *testing.T) {
	dir := t.TempDir()
	mockup := pngFile(t, dir, "mockup.png", 10, 10, color.White)
	photo := pngFile(t, dir, "photo.png", 10, 10, color.Black)

	cases := [][]string{
		{"place", mockup},
		{"place", mockup, photo, "--canvas", "big"},
		{"place", mockup, photo, "--drag", "1"},
		{"place", mockup, photo, "--zoom", "5"},
		{"place", mockup, photo, "--clip", "circle"},
		{"place", mockup, filepath.Join(dir, "missing.png")},
	}
	for _, args := range cases {
		if _, err := run(t, newTestRoot(nil), args...); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestCompressWritesSmallerJPEG(t *testing.T) {
	dir := t.TempDir()
	photo := pngFile(t, dir, "photo.png", 300, 200, color.RGBA{G: 200, A: 255})

	out, err := run(t, newTestRoot(nil), "compress", photo, "--max-width", "150", "--quality", "70")
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	target := filepath.Join(dir, "photo.compressed.jpg")
	if !strings.Contains(out, target) || !strings.Contains(out, "150x100") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected output file: %v", err)
	}
}

func TestTemplateCheck(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(good, []byte(mugTemplate), 0o644)
	_ = os.WriteFile(bad, []byte(`{"corners":[{"x":0,"y":0},{"x":10,"y":0},{"x":10,"y":10}]}`), 0o644)
	mockup := pngFile(t, dir, "mockup.png", 400, 300, color.White)

	out, err := run(t, newTestRoot(nil), "template", "check", good, "--mockup", mockup)
	if err != nil || !strings.Contains(out, "ok") {
		t.Fatalf("expected good template to pass, out=%q err=%v", out, err)
	}
	if _, err := run(t, newTestRoot(nil), "template", "check", good, "--size", "200x200"); err == nil {
		t.Fatal("expected out-of-bounds template to fail")
	}
	if _, err := run(t, newTestRoot(nil), "template", "check", bad, "--size", "400x300"); err == nil {
		t.Fatal("expected three-corner template to fail")
	}
	if _, err := run(t, newTestRoot(nil), "template", "check", good); err == nil {
		t.Fatal("expected missing mockup size to fail")
	}
}

func TestStylizeSubmitsPollsAndDownloads(t *testing.T) {
	dir := t.TempDir()
	photo := pngFile(t, dir, "photo.png", 8, 8, color.White)

	var result bytes.Buffer
	_ = png.Encode(&result, image.NewRGBA(image.Rect(0, 0, 2, 2)))

	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/create_task_img2img":
			if r.Header.Get("Authorization") != "key-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"code":200,"data":{"task_id":"task-9"}}`))
		case "/task_progress/task-9":
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"code":200,"data":{"status":"processing"}}`))
				return
			}
			fmt.Fprintf(w, `{"code":200,"data":{"status":"succeed","generate_result_slots":["","%s/out.png"]}}`, srv.URL)
		case "/out.png":
			_, _ = w.Write(result.Bytes())
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	root := newTestRoot(secrets.Static{Dzine: dzine.Credentials{APIKey: "key-1", BaseURL: srv.URL}})
	outDir := filepath.Join(dir, "results")
	out, err := run(t, root, "stylize", photo, "--style", "ghibli", "--out-dir", outDir)
	if err != nil {
		t.Fatalf("stylize: %v (output %q)", err, out)
	}

	for _, want := range []string{"task task-9 submitted", "Processing... (3%)", "Done (100%)", srv.URL + "/out.png"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output %q", want, out)
		}
	}
	saved, err := os.ReadFile(filepath.Join(outDir, "results", "task-9.png"))
	if err != nil {
		t.Fatalf("read downloaded result: %v", err)
	}
	if !bytes.Equal(saved, result.Bytes()) {
		t.Fatal("downloaded result differs from upstream")
	}
}

func TestStylizeReportsIncompatibleStyle(t *testing.T) {
	dir := t.TempDir()
	photo := pngFile(t, dir, "photo.png", 8, 8, color.White)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":108005,"msg":"style not supported"}`))
	}))
	defer srv.Close()

	root := newTestRoot(secrets.Static{Dzine: dzine.Credentials{APIKey: "k", BaseURL: srv.URL}})
	if _, err := run(t, root, "stylize", photo, "--style", "text-only"); err == nil {
		t.Fatal("expected incompatible style error")
	}
	if _, err := run(t, root, "stylize", photo); err == nil {
		t.Fatal("expected missing --style to fail")
	}
}
