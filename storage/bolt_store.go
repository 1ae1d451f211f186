package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// метаданные хранятся в отдельном бакете, ключ совпадает со ссылкой
const metaBucket = "__content_types"

// BoltStore реализация ObjectStore поверх встроенной bbolt базы
type BoltStore struct {
	db      *bolt.DB
	baseURL string
}

// NewBoltStore открывает (или создает) файл хранилища
func NewBoltStore(path, publicBaseURL string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия хранилища объектов: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка инициализации хранилища объектов: %w", err)
	}

	return &BoltStore{db: db, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Close закрывает хранилище
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put сохраняет объект и возвращает его ссылку
func (s *BoltStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := Ref(bucket, key)
	if _, _, err := SplitRef(ref); err != nil {
		return "", err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		if err := b.Put([]byte(key), data); err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(ref), []byte(contentType))
	})
	if err != nil {
		return "", fmt.Errorf("ошибка сохранения объекта %s: %w", ref, err)
	}

	return ref, nil
}

// Get читает объект по ссылке
func (s *BoltStore) Get(ctx context.Context, ref string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, key, err := SplitRef(ref)
	if err != nil {
		return nil, err
	}

	var obj *Object
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrObjectNotFound
		}
		data := b.Get([]byte(key))
		if data == nil {
			return ErrObjectNotFound
		}
		// данные bbolt действительны только внутри транзакции
		copied := make([]byte, len(data))
		copy(copied, data)

		obj = &Object{
			Ref:         Ref(bucket, key),
			ContentType: string(tx.Bucket([]byte(metaBucket)).Get([]byte(Ref(bucket, key)))),
			Data:        copied,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	return obj, nil
}

// Delete удаляет объект, отсутствие объекта ошибкой не считается
func (s *BoltStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bucket, key, err := SplitRef(ref)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Delete([]byte(Ref(bucket, key)))
	})
}

// URL возвращает публичный адрес объекта
func (s *BoltStore) URL(ref string) string {
	return s.baseURL + "/files/" + strings.TrimPrefix(ref, "/")
}
