package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"custody_backend/models"
	"custody_backend/storage"
	"custody_backend/testutils"
)

const (
	testSignatureBucket = "signatures"
	testDocumentBucket  = "documents"
	testPin             = "1234"
)

// recordingStore запоминает ссылки сохраненных объектов и может отказывать в записи в выбранный bucket
type recordingStore struct {
	storage.ObjectStore

	mu       sync.Mutex
	puts     []string
	failPuts map[string]bool
}

func (s *recordingStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	fail := s.failPuts[bucket]
	s.mu.Unlock()
	if fail {
		return "", errors.New("хранилище недоступно")
	}

	ref, err := s.ObjectStore.Put(ctx, bucket, key, data, contentType)
	if err == nil {
		s.mu.Lock()
		s.puts = append(s.puts, ref)
		s.mu.Unlock()
	}
	return ref, err
}

func (s *recordingStore) setFailing(bucket string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPuts[bucket] = fail
}

func (s *recordingStore) refs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.puts...)
}

// failingRenderer рендерер, который всегда возвращает ошибку
type failingRenderer struct{}

func (failingRenderer) Render(*DocumentPayload, *storage.Image, *storage.Image) ([]byte, error) {
	return nil, errors.New("рендерер недоступен")
}

// recordingNotifier запоминает уведомления о несформированных актах
type recordingNotifier struct {
	mu      sync.Mutex
	batches []uint
}

func (n *recordingNotifier) DocumentPending(_ context.Context, batchID uint, _ string, _ int, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, batchID)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.batches)
}

type handoverHarness struct {
	db        *gorm.DB
	store     *recordingStore
	notifier  *recordingNotifier
	history   *HistoryService
	flags     *FlagService
	devices   *DeviceService
	documents *DocumentService
	handover  *HandoverService
	admin     *models.Person
	courier   *models.Person
}

func newHandoverHarness(t *testing.T) *handoverHarness {
	t.Helper()

	db := testutils.SetupTestDB(t)
	bolt, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "objects.db"), "http://localhost:8080")
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	h := &handoverHarness{
		db:       db,
		store:    &recordingStore{ObjectStore: bolt, failPuts: map[string]bool{}},
		notifier: &recordingNotifier{},
	}
	metrics := NewMetrics(prometheus.NewRegistry())

	h.history = NewHistoryService(db)
	h.flags = NewFlagService(db, h.history)
	h.devices = NewDeviceService(db, h.history, h.flags)
	h.documents = NewDocumentService(db, h.store, NewPDFRenderer(), h.notifier, metrics, nil, testDocumentBucket)
	h.handover = NewHandoverService(db, h.store, NewCredentialService(4), h.history, h.flags, h.documents, metrics, nil,
		HandoverOptions{SignatureBucket: testSignatureBucket, Location: "Warehouse 1"})

	h.admin = testutils.CreateTestAdmin(t, db, "admin@example.com")
	h.courier = testutils.CreateTestCourier(t, db, "c1@example.com", testPin)
	return h
}

// request собирает корректный запрос, который тесты портят по одному полю
func (h *handoverHarness) request(t *testing.T, action models.HandoverAction, courier *models.Person, ids ...uint) HandoverRequest {
	t.Helper()

	return HandoverRequest{
		Action:              action,
		CourierID:           courier.ID,
		DeviceIDs:           ids,
		Pin:                 testPin,
		CourierSignature:    testutils.PNGDataURL(t),
		DispatcherSignature: testutils.PNGDataURL(t),
		Dispatcher:          h.admin,
	}
}

func (h *handoverHarness) reload(t *testing.T, id uint) models.Device {
	t.Helper()

	var d models.Device
	require.NoError(t, h.db.First(&d, id).Error)
	return d
}

func (h *handoverHarness) countLogs(t *testing.T, deviceID uint, action models.HandoverAction) int64 {
	t.Helper()

	var n int64
	require.NoError(t, h.db.Model(&models.HandoverLog{}).
		Where("device_id = ? AND action = ?", deviceID, action).
		Count(&n).Error)
	return n
}
