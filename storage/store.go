package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
)

// ObjectStore хранилище бинарных объектов (подписи, акты)
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) (*Object, error)
	Delete(ctx context.Context, ref string) error
	URL(ref string) string
}

// Object содержимое объекта вместе с типом
type Object struct {
	Ref         string
	ContentType string
	Data        []byte
}

// Ref собирает ссылку на объект в виде "<bucket>/<key>"
func Ref(bucket, key string) string {
	return bucket + "/" + key
}

// SplitRef разбирает ссылку на бакет и ключ
func SplitRef(ref string) (string, string, error) {
	ref = strings.TrimPrefix(ref, "/")
	bucket, key, ok := strings.Cut(ref, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", ErrInvalidKey
	}
	if strings.Contains(key, "..") {
		return "", "", ErrInvalidKey
	}
	return bucket, key, nil
}
