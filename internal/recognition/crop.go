package recognition

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"parking-service/internal/domain/parking"
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// CropRegion cuts the spot region out of an encoded frame and re-encodes it as JPEG.
// An empty region or a region outside the frame returns the input unchanged.
func CropRegion(data []byte, region parking.Region) ([]byte, error) {
	if region.Empty() {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	rect := image.Rect(region.X1, region.Y1, region.X2, region.Y2).Intersect(img.Bounds())
	if rect.Empty() {
		return data, nil
	}

	si, ok := img.(subImager)
	if !ok {
		return data, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, si.SubImage(rect), &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
