// Package acquisition produces the single image a session classifies. Each
// Acquire call yields at most one Selection on its channel and then closes
// it; a closed channel with no value means nothing was picked.
package acquisition

import (
	"context"
	"image"
	"io"
	"os"

	apperrors "github.com/Brownie44l1/lesion-api/internal/errors"
	"github.com/Brownie44l1/lesion-api/internal/preprocess"
)

// Selection is a picked image, or the error that kept it from decoding.
type Selection struct {
	Name  string
	Image image.Image
	Err   error
}

type Source interface {
	Acquire(ctx context.Context) <-chan Selection
}

// FileSource picks an image from the local filesystem. An empty Path
// behaves like a dismissed picker.
type FileSource struct {
	Path string
}

func (s FileSource) Acquire(ctx context.Context) <-chan Selection {
	if s.Path == "" {
		return none()
	}
	return acquire(ctx, s.Path, func() (image.Image, error) {
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, apperrors.NewDecodeError("failed to open image", err)
		}
		defer f.Close()
		return preprocess.Decode(f)
	})
}

// ReaderSource decodes an uploaded stream, such as a multipart file.
type ReaderSource struct {
	Name   string
	Reader io.Reader
}

func (s ReaderSource) Acquire(ctx context.Context) <-chan Selection {
	if s.Reader == nil {
		return none()
	}
	return acquire(ctx, s.Name, func() (image.Image, error) {
		return preprocess.Decode(s.Reader)
	})
}

// ImageSource hands over an image that is already decoded.
type ImageSource struct {
	Name  string
	Image image.Image
}

func (s ImageSource) Acquire(ctx context.Context) <-chan Selection {
	if preprocess.IsNil(s.Image) {
		return none()
	}
	return acquire(ctx, s.Name, func() (image.Image, error) {
		return s.Image, nil
	})
}

func acquire(ctx context.Context, name string, load func() (image.Image, error)) <-chan Selection {
	out := make(chan Selection, 1)
	go func() {
		defer close(out)
		if ctx.Err() != nil {
			return
		}
		img, err := load()
		out <- Selection{Name: name, Image: img, Err: err}
	}()
	return out
}

func none() <-chan Selection {
	out := make(chan Selection)
	close(out)
	return out
}
