// Package preprocess turns uploaded bytes into images and images into the
// float32 tensors a classifier expects.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"reflect"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	apperrors "github.com/Brownie44l1/lesion-api/internal/errors"
	"github.com/Brownie44l1/lesion-api/internal/model"
)

// Decode reads an encoded image (JPEG, PNG, GIF, BMP, TIFF or WebP) and
// applies its EXIF orientation.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.NewDecodeError("failed to decode image", err)
	}
	if img.Bounds().Empty() {
		return nil, apperrors.NewDecodeError("decoded image is empty", nil)
	}
	return img, nil
}

// IsNil reports whether img is nil or wraps a nil pointer, such as
// (*image.RGBA)(nil).
func IsNil(img image.Image) bool {
	if img == nil {
		return true
	}
	v := reflect.ValueOf(img)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func DecodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperrors.NewDecodeError("image data is empty", nil)
	}
	return Decode(bytes.NewReader(data))
}

// Tensor converts img into the model's input layout: resized to the model
// image size, scaled to [0,1], optionally normalized per channel.
func Tensor(img image.Image, meta model.Metadata) ([]float32, error) {
	if IsNil(img) || img.Bounds().Empty() {
		return nil, apperrors.NewDecodeError("image has no pixels", nil)
	}
	if meta.ImageSize <= 0 {
		return nil, apperrors.NewDecodeError(fmt.Sprintf("invalid target size %d", meta.ImageSize), nil)
	}

	size := meta.ImageSize
	var resized image.Image
	switch meta.ResizeMode {
	case model.ResizeFill:
		resized = imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	default:
		resized = resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	}

	channels := meta.Channels()
	if channels != 1 && channels != 3 {
		return nil, apperrors.NewDecodeError(fmt.Sprintf("unsupported channel count %d", channels), nil)
	}

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]float32, channels*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			px := [3]float32{
				float32(r) / 65535.0,
				float32(g) / 65535.0,
				float32(b) / 65535.0,
			}
			if channels == 1 {
				// ITU-R 601 luma, the same weights as color.GrayModel.
				px[0] = 0.299*px[0] + 0.587*px[1] + 0.114*px[2]
			}

			pixelIndex := y*width + x
			for c := 0; c < channels; c++ {
				v := normalize(px[c], c, meta)
				if meta.Layout == model.LayoutNHWC {
					data[pixelIndex*channels+c] = v
				} else {
					data[c*plane+pixelIndex] = v
				}
			}
		}
	}

	if want := meta.InputSize(); want != len(data) {
		return nil, apperrors.NewDecodeError(
			fmt.Sprintf("tensor has %d values, model expects %d", len(data), want), nil)
	}
	return data, nil
}

func normalize(v float32, c int, meta model.Metadata) float32 {
	if len(meta.Mean) > c {
		v -= meta.Mean[c]
	}
	if len(meta.Std) > c {
		v /= meta.Std[c]
	}
	return v
}
