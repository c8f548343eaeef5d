package httpserver

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"os"
	"strconv"
	"strings"

	// decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"aird/internal/kind"
)

const (
	thumbDefaultEdge = 256
	thumbMaxEdge     = 1024
)

// handleThumb serves a scaled JPEG preview of an image file under the root.
// GET /thumb?path=<logical>&size=<edge>.
func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	logical := r.URL.Query().Get("path")
	edge := thumbDefaultEdge
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "bad size", http.StatusBadRequest)
			return
		}
		if n > thumbMaxEdge {
			n = thumbMaxEdge
		}
		edge = n
	}

	abs, err := s.ops.Resolve(logical)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := scaleImage(abs, edge)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, r, fmt.Errorf("thumb: %w", kind.ErrNotFound))
			return
		}
		// Undecodable input is a client problem, not a server one.
		http.Error(w, "unsupported image", http.StatusUnsupportedMediaType)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(data)
}

// scaleImage decodes absPath and scales the longer edge down to max,
// preserving aspect ratio. Images already within bounds are re-encoded
// as-is sized.
func scaleImage(absPath string, max int) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, os.ErrInvalid
	}

	nw, nh := fitWithin(w, h, max)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func fitWithin(w, h, max int) (int, int) {
	if max < 1 {
		max = 1
	}
	longer := w
	if h > w {
		longer = h
	}
	if longer <= max {
		return w, h
	}
	ratio := float64(max) / float64(longer)
	nw := int(float64(w) * ratio)
	nh := int(float64(h) * ratio)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// isImageName reports whether the name looks like a decodable image, used
// by the directory template to decide when to show a preview link.
func isImageName(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	switch strings.ToLower(name[i+1:]) {
	case "jpg", "jpeg", "png", "gif", "webp":
		return true
	}
	return false
}
