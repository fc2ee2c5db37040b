package world

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

const previewAmbientLight = 0.35

var previewLightDir = mgl32.Vec3{-0.4, 0.8, -0.45}.Normalize()

// PreviewTile is the geometry of one chunk as seen by the preview renderer.
type PreviewTile struct {
	Offset  Offset
	Heights []float32
	Normals []mgl32.Vec3
}

// PreviewOptions controls heightmap rendering. Min and Max normalize heights
// before the gradient lookup.
type PreviewOptions struct {
	Resolution int
	Min        float32
	Max        float32
	Gradient   *Gradient
	Centroid   Offset
	Marker     bool
}

// RenderHeightmap draws the tiles as a top-down mosaic, one pixel per quad,
// with +Y pointing up in the image.
func RenderHeightmap(tiles []PreviewTile, opts PreviewOptions) (*image.NRGBA, error) {
	if len(tiles) == 0 {
		return nil, errors.New("no tiles to render")
	}
	res := opts.Resolution
	if res <= 0 {
		return nil, fmt.Errorf("invalid preview resolution %d", res)
	}
	gradient := opts.Gradient
	if gradient == nil {
		gradient = DefaultGradient()
	}

	minX, minY := tiles[0].Offset.X, tiles[0].Offset.Y
	maxX, maxY := minX, minY
	for _, tile := range tiles[1:] {
		minX = min(minX, tile.Offset.X)
		minY = min(minY, tile.Offset.Y)
		maxX = max(maxX, tile.Offset.X)
		maxY = max(maxY, tile.Offset.Y)
	}
	width := (maxX - minX + 1) * res
	height := (maxY - minY + 1) * res
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	background := color.NRGBA{R: 10, G: 10, B: 18, A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	span := float64(opts.Max - opts.Min)
	count := VertexCount(res)
	sorted := append([]PreviewTile(nil), tiles...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Offset.Y == sorted[j].Offset.Y {
			return sorted[i].Offset.X < sorted[j].Offset.X
		}
		return sorted[i].Offset.Y < sorted[j].Offset.Y
	})
	for _, tile := range sorted {
		if len(tile.Heights) != count {
			return nil, fmt.Errorf("tile %v holds %d heights, want %d", tile.Offset, len(tile.Heights), count)
		}
		originX := (tile.Offset.X - minX) * res
		originY := (maxY - tile.Offset.Y) * res
		for y := 0; y < res; y++ {
			for x := 0; x < res; x++ {
				idx := VertexIndex(x, y, res)
				t := 0.5
				if span > 0 {
					t = (float64(tile.Heights[idx]) - float64(opts.Min)) / span
				}
				base := gradient.Lookup(t)
				light := 1.0
				if len(tile.Normals) == count {
					light = previewAmbientLight + (1-previewAmbientLight)*math.Max(0, float64(tile.Normals[idx].Dot(previewLightDir)))
				}
				img.SetNRGBA(originX+x, originY+res-1-y, applyLighting(base, light))
			}
		}
	}

	if opts.Marker {
		cx := (opts.Centroid.X-minX)*res + res/2
		cy := (maxY-opts.Centroid.Y)*res + res/2
		r := max(2, res/8)
		marker := []image.Point{{X: cx, Y: cy - r}, {X: cx + r, Y: cy}, {X: cx, Y: cy + r}, {X: cx - r, Y: cy}}
		fillPolygon(img, marker, color.NRGBA{R: 220, G: 40, B: 40, A: 255})
	}
	return img, nil
}

// SaveHeightmapPreview renders the tiles and writes a PNG to path.
func SaveHeightmapPreview(path string, tiles []PreviewTile, opts PreviewOptions) error {
	img, err := RenderHeightmap(tiles, opts)
	if err != nil {
		return err
	}
	if err := ensurePreviewDir(filepath.Dir(path)); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}

func parseHexColor(value string) (color.NRGBA, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return color.NRGBA{}, false
	}
	trimmed = strings.TrimPrefix(trimmed, "#")
	if len(trimmed) != 6 {
		return color.NRGBA{}, false
	}
	r, ok := parseHexByte(trimmed[0:2])
	if !ok {
		return color.NRGBA{}, false
	}
	g, ok := parseHexByte(trimmed[2:4])
	if !ok {
		return color.NRGBA{}, false
	}
	b, ok := parseHexByte(trimmed[4:6])
	if !ok {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: r, G: g, B: b, A: 255}, true
}

func parseHexByte(value string) (uint8, bool) {
	if len(value) != 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(value, 16, 8)
	if err != nil {
		return 0, false
	}
	return uint8(v), true
}

func applyLighting(base color.NRGBA, factor float64) color.NRGBA {
	factor = clamp(factor, 0, 1)
	r := uint8(math.Round(float64(base.R) * factor))
	g := uint8(math.Round(float64(base.G) * factor))
	b := uint8(math.Round(float64(base.B) * factor))
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

func fillPolygon(img *image.NRGBA, pts []image.Point, col color.NRGBA) {
	if len(pts) < 3 {
		return
	}
	minY := pts[0].Y
	maxY := pts[0].Y
	for _, p := range pts[1:] {
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}
	bounds := img.Bounds()
	minY = max(minY, bounds.Min.Y)
	maxY = min(maxY, bounds.Max.Y-1)

	xs := make([]int, 0, len(pts))
	for y := minY; y <= maxY; y++ {
		xs = xs[:0]
		for i := range pts {
			j := (i + 1) % len(pts)
			x1, y1 := pts[i].X, pts[i].Y
			x2, y2 := pts[j].X, pts[j].Y
			if y1 == y2 {
				continue
			}
			if y < min(y1, y2) || y >= max(y1, y2) {
				continue
			}
			xs = append(xs, x1+(y-y1)*(x2-x1)/(y2-y1))
		}
		if len(xs) < 2 {
			continue
		}
		sort.Ints(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			xStart := max(xs[i], bounds.Min.X)
			xEnd := min(xs[i+1], bounds.Max.X-1)
			for x := xStart; x <= xEnd; x++ {
				img.SetNRGBA(x, y, col)
			}
		}
	}
}

func ensurePreviewDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("output directory is empty")
	}
	return os.MkdirAll(dir, 0o755)
}
