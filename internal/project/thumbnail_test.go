package project

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/netsblox/cloud-go/internal/errs"
)

func roleCodeWithThumbnail(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return fmt.Sprintf("<project><thumbnail>data:image/png;base64,%s</thumbnail></project>", encoded)
}

func TestExtractThumbnail(t *testing.T) {
	t.Parallel()
	code := roleCodeWithThumbnail(t, 40, 30)

	out, err := ExtractThumbnail(code, 0)
	if err != nil {
		t.Fatalf("ExtractThumbnail() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
		t.Errorf("dimensions = %dx%d, want 40x30", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestExtractThumbnailLetterbox(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		w, h         int
		aspectRatio  float64
		wantW, wantH int
	}{
		{name: "grow width", w: 40, h: 40, aspectRatio: 2, wantW: 80, wantH: 40},
		{name: "grow height", w: 40, h: 40, aspectRatio: 0.5, wantW: 40, wantH: 80},
		{name: "already matching", w: 80, h: 40, aspectRatio: 2, wantW: 80, wantH: 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code := roleCodeWithThumbnail(t, tt.w, tt.h)

			out, err := ExtractThumbnail(code, tt.aspectRatio)
			if err != nil {
				t.Fatalf("ExtractThumbnail() error = %v", err)
			}
			img, err := png.Decode(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("output not a PNG: %v", err)
			}
			if img.Bounds().Dx() != tt.wantW || img.Bounds().Dy() != tt.wantH {
				t.Errorf("dimensions = %dx%d, want %dx%d",
					img.Bounds().Dx(), img.Bounds().Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestExtractThumbnailMissing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		code string
		kind errs.Kind
	}{
		{name: "no thumbnail element", code: "<project/>", kind: errs.KindThumbnailNotFound},
		{name: "unterminated element", code: "<thumbnail>data:image/png;base64,AAAA", kind: errs.KindThumbnailNotFound},
		{name: "bad base64", code: "<thumbnail>data:image/png;base64,!!!</thumbnail>", kind: errs.KindBase64Decode},
		{name: "not a png", code: "<thumbnail>data:image/png;base64,aGVsbG8=</thumbnail>", kind: errs.KindThumbnailDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ExtractThumbnail(tt.code, 0)
			if !errs.Is(err, tt.kind) {
				t.Errorf("ExtractThumbnail() error = %v, want kind %v", err, tt.kind)
			}
		})
	}
}
