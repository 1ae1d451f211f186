package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"custody_backend/models"
	"custody_backend/storage"
)

// DocumentService формирует акты передач, сохраняет их и проставляет ссылку в партии
type DocumentService struct {
	DB       *gorm.DB
	Store    storage.ObjectStore
	Renderer DocumentRenderer
	Notifier Notifier
	Metrics  *Metrics
	Logger   *zap.Logger
	Bucket   string
}

// NewDocumentService создает сервис актов
func NewDocumentService(db *gorm.DB, store storage.ObjectStore, renderer DocumentRenderer, notifier Notifier, metrics *Metrics, logger *zap.Logger, bucket string) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &DocumentService{
		DB:       db,
		Store:    store,
		Renderer: renderer,
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   logger,
		Bucket:   bucket,
	}
}

// DocumentKey ключ акта в хранилище: <courierID>/<batchID>.pdf
func DocumentKey(courierID, batchID uint) string {
	return fmt.Sprintf("%d/%d.pdf", courierID, batchID)
}

// Generate рендерит акт, сохраняет его и проставляет ссылку в партии.
// Ошибка записывается в партию, передача при этом остается зафиксированной.
func (ds *DocumentService) Generate(ctx context.Context, batch *models.HandoverBatch, payload *DocumentPayload, giverSig, receiverSig *storage.Image) (string, error) {
	ref, err := ds.renderAndStore(ctx, batch, payload, giverSig, receiverSig)
	if err != nil {
		ds.recordFailure(ctx, batch, payload, err)
		return "", err
	}

	ds.Metrics.observeDocument("success")
	batch.DocumentPath = &ref
	batch.DocumentError = ""
	batch.DocumentAttempts++
	return ref, nil
}

func (ds *DocumentService) renderAndStore(ctx context.Context, batch *models.HandoverBatch, payload *DocumentPayload, giverSig, receiverSig *storage.Image) (string, error) {
	data, err := ds.Renderer.Render(payload, giverSig, receiverSig)
	if err != nil {
		return "", fmt.Errorf("ошибка генерации акта: %w", err)
	}

	ref, err := ds.Store.Put(ctx, ds.Bucket, DocumentKey(batch.CourierID, batch.ID), data, "application/pdf")
	if err != nil {
		return "", fmt.Errorf("ошибка сохранения акта: %w", err)
	}

	if err := ds.DB.WithContext(ctx).Model(&models.HandoverBatch{}).
		Where("id = ?", batch.ID).
		Updates(map[string]interface{}{
			"document_path":     ref,
			"document_error":    "",
			"document_attempts": gorm.Expr("document_attempts + 1"),
		}).Error; err != nil {
		return "", fmt.Errorf("ошибка сохранения ссылки на акт: %w", err)
	}

	return ref, nil
}

func (ds *DocumentService) recordFailure(ctx context.Context, batch *models.HandoverBatch, payload *DocumentPayload, cause error) {
	ds.Metrics.observeDocument("failure")
	batch.DocumentError = cause.Error()
	batch.DocumentAttempts++

	// контекст запроса мог быть отменен, отметку об ошибке пишем независимо от него
	if err := ds.DB.WithContext(context.WithoutCancel(ctx)).Model(&models.HandoverBatch{}).
		Where("id = ?", batch.ID).
		Updates(map[string]interface{}{
			"document_error":    cause.Error(),
			"document_attempts": gorm.Expr("document_attempts + 1"),
		}).Error; err != nil {
		ds.Logger.Error("не удалось записать ошибку формирования акта",
			zap.Uint("batch_id", batch.ID), zap.Error(err))
	}

	ds.Logger.Warn("акт передачи не сформирован",
		zap.Uint("batch_id", batch.ID), zap.Int("attempts", batch.DocumentAttempts), zap.Error(cause))
	if shouldAlert(batch.DocumentAttempts) {
		ds.Notifier.DocumentPending(ctx, batch.ID, courierName(batch, payload), batch.DocumentAttempts, cause)
	}
}

// documentAlertEvery период повторных оповещений о том же акте
const documentAlertEvery = 10

// shouldAlert оповещает о первой ошибке и далее о каждой documentAlertEvery попытке
func shouldAlert(attempts int) bool {
	return attempts == 1 || (attempts > 0 && attempts%documentAlertEvery == 0)
}

// Regenerate повторно формирует акт из сохраненного снимка и подписей в хранилище
func (ds *DocumentService) Regenerate(ctx context.Context, batchID uint) (*models.HandoverBatch, error) {
	var batch models.HandoverBatch
	if err := ds.DB.WithContext(ctx).Preload("Courier").First(&batch, batchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("ошибка при получении передачи: %w", err)
	}

	if len(batch.DocumentPayload) == 0 {
		return nil, ErrDocumentMissing
	}
	var payload DocumentPayload
	if err := json.Unmarshal(batch.DocumentPayload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentMissing, err)
	}

	giverSig := ds.loadSignature(ctx, payload.Giver.SignatureRef)
	receiverSig := ds.loadSignature(ctx, payload.Receiver.SignatureRef)

	if _, err := ds.Generate(ctx, &batch, &payload, giverSig, receiverSig); err != nil {
		return &batch, err
	}
	return &batch, nil
}

// RetryPending перегенерирует акты партий без документа, возвращает число успешных
func (ds *DocumentService) RetryPending(ctx context.Context, limit int) (int, error) {
	pending, err := ds.Pending(ctx, limit)
	if err != nil {
		return 0, err
	}

	succeeded := 0
	for _, b := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := ds.Regenerate(ctx, b.ID); err != nil {
			continue
		}
		succeeded++
	}
	return succeeded, nil
}

// Pending возвращает партии без сформированного акта, старые первыми
func (ds *DocumentService) Pending(ctx context.Context, limit int) ([]models.HandoverBatch, error) {
	query := ds.DB.WithContext(ctx).
		Where("document_path IS NULL").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var batches []models.HandoverBatch
	if err := query.Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("ошибка при получении передач без акта: %w", err)
	}
	return batches, nil
}

// loadSignature отсутствие подписи не ошибка, в акте будет заглушка
func (ds *DocumentService) loadSignature(ctx context.Context, ref string) *storage.Image {
	if ref == "" {
		return nil
	}
	obj, err := ds.Store.Get(ctx, ref)
	if err != nil {
		ds.Logger.Warn("подпись недоступна", zap.String("ref", ref), zap.Error(err))
		return nil
	}
	return &storage.Image{ContentType: obj.ContentType, Data: obj.Data}
}

func courierName(batch *models.HandoverBatch, payload *DocumentPayload) string {
	if batch.Courier != nil {
		return batch.Courier.DisplayName()
	}
	if payload != nil {
		for _, p := range []DocumentParty{payload.Giver, payload.Receiver} {
			if p.PersonID == batch.CourierID {
				return p.Name
			}
		}
	}
	return fmt.Sprintf("#%d", batch.CourierID)
}
