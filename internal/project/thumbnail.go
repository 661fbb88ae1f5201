package project

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/netsblox/cloud-go/internal/errs"
)

const (
	thumbnailOpen  = "<thumbnail>data:image/png;base64,"
	thumbnailClose = "</thumbnail>"
)

// ExtractThumbnail pulls the embedded PNG thumbnail out of role code XML and
// re-encodes it. When aspectRatio is non-zero the image is letterboxed onto a
// transparent canvas of that width/height ratio.
func ExtractThumbnail(code string, aspectRatio float64) ([]byte, error) {
	start := strings.Index(code, thumbnailOpen)
	if start == -1 {
		return nil, errs.New(errs.KindThumbnailNotFound)
	}
	rest := code[start+len(thumbnailOpen):]
	end := strings.Index(rest, thumbnailClose)
	if end == -1 {
		return nil, errs.New(errs.KindThumbnailNotFound)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest[:end]))
	if err != nil {
		return nil, errs.Wrap(errs.KindBase64Decode, err)
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(errs.KindThumbnailDecode, err)
	}

	if aspectRatio > 0 {
		img = letterbox(img, aspectRatio)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errs.Wrap(errs.KindThumbnailEncode, err)
	}
	return buf.Bytes(), nil
}

// letterbox pastes img centered onto a transparent canvas whose width/height
// ratio equals aspectRatio, growing one dimension as needed.
func letterbox(img image.Image, aspectRatio float64) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	currentRatio := float64(w) / float64(h)
	canvasW, canvasH := w, h
	if aspectRatio > currentRatio {
		canvasW = int(float64(h) * aspectRatio)
	} else {
		canvasH = int(float64(w) / aspectRatio)
	}

	canvas := imaging.New(canvasW, canvasH, color.Transparent)
	return imaging.PasteCenter(canvas, img)
}
