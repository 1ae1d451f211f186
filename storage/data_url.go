package storage

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"regexp"
	"strings"

	// регистрация декодеров для image.DecodeConfig
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

var (
	ErrEmptyImage     = errors.New("image payload is empty")
	ErrMalformedImage = errors.New("image payload is not a valid data URL")
	ErrUnsupported    = errors.New("unsupported image type")
	ErrImageTooLarge  = errors.New("image dimensions exceed the limit")
)

// MaxImageSide предельная ширина и высота подписи в пикселях
const MaxImageSide = 2000

var dataURLPattern = regexp.MustCompile(`^data:(image/\w+);base64,(.+)$`)

var imageExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/gif":  "gif",
}

// Image декодированное изображение подписи
type Image struct {
	ContentType string
	Extension   string
	Data        []byte
}

// ParseImageDataURL разбирает подпись вида data:image/png;base64,... и проверяет, что это изображение
func ParseImageDataURL(payload string) (*Image, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrEmptyImage
	}

	m := dataURLPattern.FindStringSubmatch(payload)
	if m == nil {
		return nil, ErrMalformedImage
	}

	contentType := strings.ToLower(m[1])
	ext, ok := imageExtensions[contentType]
	if !ok {
		return nil, ErrUnsupported
	}

	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, ErrMalformedImage
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	if err := CheckImageBounds(data); err != nil {
		return nil, err
	}

	return &Image{ContentType: contentType, Extension: ext, Data: data}, nil
}

// CheckImageBounds читает только заголовок изображения и отклоняет слишком большие
func CheckImageBounds(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ErrMalformedImage
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxImageSide || cfg.Height > MaxImageSide {
		return ErrImageTooLarge
	}
	return nil
}
