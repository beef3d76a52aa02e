package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/andresmejia3/sentinel-watch/internal/types"
)

// MaxCropSide bounds the longest side of a stored face crop.
const MaxCropSide = 512

// Crop cuts box out of the JPEG frame and re-encodes it.
// The box is clamped to the frame; crops larger than MaxCropSide are downscaled.
func Crop(frame []byte, box types.BoundingBox) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	rect := image.Rect(box.Left, box.Top, box.Right, box.Bottom).Intersect(src.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("face box %+v lies outside the %v frame", box, src.Bounds().Size())
	}

	w, h := rect.Dx(), rect.Dy()
	if longest := max(w, h); longest > MaxCropSide {
		w = w * MaxCropSide / longest
		h = h * MaxCropSide / longest
	}

	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	if w == rect.Dx() && h == rect.Dy() {
		draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, rect, draw.Src, nil)
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return out.Bytes(), nil
}
