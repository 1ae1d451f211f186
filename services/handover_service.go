package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"custody_backend/models"
	"custody_backend/storage"
)

// courierAuthFailed единый текст отказа, чтобы не раскрывать, какая проверка не прошла
const courierAuthFailed = "courier authentication failed"

// HandoverOutcome результат зафиксированной передачи
type HandoverOutcome string

const (
	OutcomeCompleted       HandoverOutcome = "completed"
	OutcomeDocumentPending HandoverOutcome = "document_pending"
)

// DeviceConditionUpdate состояние устройства, подтвержденное при передаче
type DeviceConditionUpdate struct {
	DeviceID    uint        `json:"device_id"`
	IsDamaged   bool        `json:"is_damaged"`
	DamageNote  string      `json:"damage_note"`
	IsFaulty    bool        `json:"is_faulty"`
	FaultNote   string      `json:"fault_note"`
	CustomFlags []FlagInput `json:"custom_flags"`
}

// HandoverRequest запрос на выдачу или возврат партии устройств
type HandoverRequest struct {
	Action              models.HandoverAction
	CourierID           uint
	DeviceIDs           []uint
	Pin                 string
	CourierSignature    string
	DispatcherSignature string
	Notes               string
	DeviceUpdates       []DeviceConditionUpdate
	Dispatcher          *models.Person
}

// HandoverResult результат передачи. Отказ возвращается ошибкой, а не результатом.
type HandoverResult struct {
	Outcome       HandoverOutcome       `json:"outcome"`
	Batch         *models.HandoverBatch `json:"batch"`
	DocumentRef   string                `json:"document_ref,omitempty"`
	DocumentURL   string                `json:"document_url,omitempty"`
	DocumentError string                `json:"document_error,omitempty"`
}

// HandoverOptions настройки движка передач
type HandoverOptions struct {
	SignatureBucket string
	Location        string
}

// HandoverService движок передач: проверки, атомарная запись, формирование акта
type HandoverService struct {
	DB          *gorm.DB
	Store       storage.ObjectStore
	Credentials *CredentialService
	History     *HistoryService
	Flags       *FlagService
	Documents   *DocumentService
	Metrics     *Metrics
	Logger      *zap.Logger
	Options     HandoverOptions
	now         func() time.Time
}

// NewHandoverService создает движок передач
func NewHandoverService(
	db *gorm.DB,
	store storage.ObjectStore,
	credentials *CredentialService,
	history *HistoryService,
	flags *FlagService,
	documents *DocumentService,
	metrics *Metrics,
	logger *zap.Logger,
	options HandoverOptions,
) *HandoverService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.SignatureBucket == "" {
		options.SignatureBucket = "signatures"
	}
	return &HandoverService{
		DB:          db,
		Store:       store,
		Credentials: credentials,
		History:     history,
		Flags:       flags,
		Documents:   documents,
		Metrics:     metrics,
		Logger:      logger,
		Options:     options,
		now:         time.Now,
	}
}

// preparedSignatures подписи, разобранные до обращения к базе
type preparedSignatures struct {
	courier    *storage.Image
	dispatcher *storage.Image
}

// PerformHandover выполняет выдачу или возврат партии.
// Все проверки выполняются до первой записи; после фиксации ошибка акта не считается отказом.
func (hs *HandoverService) PerformHandover(ctx context.Context, req HandoverRequest) (*HandoverResult, error) {
	started := hs.now()

	result, err := hs.performHandover(ctx, req)
	if err != nil {
		kind := "internal"
		var he *HandoverError
		if errors.As(err, &he) {
			kind = string(he.Kind)
		}
		hs.Metrics.observeRejection(string(req.Action), kind)
		hs.Logger.Info("передача отклонена",
			zap.String("action", string(req.Action)),
			zap.Uint("courier_id", req.CourierID),
			zap.String("kind", kind),
			zap.Error(err))
		return nil, err
	}

	hs.Metrics.observeHandover(string(req.Action), string(result.Outcome), hs.now().Sub(started).Seconds())
	hs.Logger.Info("передача зафиксирована",
		zap.String("action", string(req.Action)),
		zap.Uint("batch_id", result.Batch.ID),
		zap.Uint("courier_id", req.CourierID),
		zap.Int("devices", len(result.Batch.Logs)),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

func (hs *HandoverService) performHandover(ctx context.Context, req HandoverRequest) (*HandoverResult, error) {
	// 1. Синтаксис запроса, без обращения к базе
	deviceIDs, sigs, err := hs.validateRequest(&req)
	if err != nil {
		return nil, err
	}
	db := hs.DB.WithContext(ctx)

	// 2. Курьер: существует, активен, роль COURIER
	var courier models.Person
	if err := db.First(&courier, req.CourierID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newHandoverError(KindCourierInvalid, courierAuthFailed)
		}
		return nil, &HandoverError{Kind: KindStorageFailure, Message: "failed to load courier", Err: err}
	}
	if !courier.IsActiveCourier() {
		return nil, newHandoverError(KindCourierInvalid, courierAuthFailed)
	}

	// 3. PIN проверяется только после дешевых проверок
	if !hs.Credentials.Verify(req.Pin, courier.PinHash) {
		return nil, newHandoverError(KindUnauthorized, courierAuthFailed)
	}

	// 4. Устройства и предусловия перехода
	devices, err := hs.loadDevices(db, deviceIDs)
	if err != nil {
		return nil, err
	}
	if err := checkPreconditions(req.Action, courier.ID, deviceIDs, devices); err != nil {
		return nil, err
	}

	// 5. Обновления состояния проверяются целиком до записи
	updates, err := hs.validateUpdates(db, deviceIDs, req.DeviceUpdates)
	if err != nil {
		return nil, err
	}

	// 6. Подписи в хранилище
	courierRef, dispatcherRef, err := hs.storeSignatures(ctx, courier.ID, req.Dispatcher.ID, sigs)
	if err != nil {
		return nil, err
	}

	// 7. Запись: состояние, партия, журнал, условное обновление статусов
	batch, payload, err := hs.commit(ctx, req, &courier, devices, updates, courierRef, dispatcherRef)
	if err != nil {
		hs.deleteSignatures(ctx, courierRef, dispatcherRef)
		return nil, err
	}

	// 8. Акт формируется после фиксации, ошибка не отменяет передачу
	giverSig, receiverSig := sigs.dispatcher, sigs.courier
	if req.Action == models.HandoverReturn {
		giverSig, receiverSig = sigs.courier, sigs.dispatcher
	}

	result := &HandoverResult{Batch: batch, Outcome: OutcomeCompleted}
	ref, docErr := hs.Documents.Generate(ctx, batch, payload, giverSig, receiverSig)
	if docErr != nil {
		result.Outcome = OutcomeDocumentPending
		result.DocumentError = docErr.Error()
		return result, nil
	}

	result.DocumentRef = ref
	result.DocumentURL = hs.Store.URL(ref)
	return result, nil
}

// validateRequest проверяет обязательные поля, формат PIN и подписей, убирает повторы устройств
func (hs *HandoverService) validateRequest(req *HandoverRequest) ([]uint, *preparedSignatures, error) {
	if !req.Action.IsValid() {
		return nil, nil, newHandoverError(KindInvalidInput, "unknown handover action")
	}
	if req.Dispatcher == nil || !req.Dispatcher.IsActiveAdmin() {
		return nil, nil, newHandoverError(KindUnauthorized, "dispatcher must be an active admin")
	}
	if req.CourierID == 0 {
		return nil, nil, newHandoverError(KindInvalidInput, "courier is required")
	}

	deviceIDs := dedupeIDs(req.DeviceIDs)
	if len(deviceIDs) == 0 {
		return nil, nil, newHandoverError(KindInvalidInput, "at least one device is required")
	}
	for _, id := range deviceIDs {
		if id == 0 {
			return nil, nil, newHandoverError(KindInvalidInput, "device id must be positive")
		}
	}

	if !ValidPinFormat(req.Pin) {
		return nil, nil, newHandoverError(KindInvalidInput, "PIN must be 4 to 6 digits")
	}

	courierSig, err := storage.ParseImageDataURL(req.CourierSignature)
	if err != nil {
		return nil, nil, &HandoverError{Kind: KindInvalidInput, Message: "courier signature is missing or invalid", Err: err}
	}
	dispatcherSig, err := storage.ParseImageDataURL(req.DispatcherSignature)
	if err != nil {
		return nil, nil, &HandoverError{Kind: KindInvalidInput, Message: "dispatcher signature is missing or invalid", Err: err}
	}

	return deviceIDs, &preparedSignatures{courier: courierSig, dispatcher: dispatcherSig}, nil
}

func (hs *HandoverService) loadDevices(db *gorm.DB, ids []uint) ([]models.Device, error) {
	var found []models.Device
	if err := db.Where("id IN ?", ids).Find(&found).Error; err != nil {
		return nil, &HandoverError{Kind: KindStorageFailure, Message: "failed to load devices", Err: err}
	}

	byID := make(map[uint]models.Device, len(found))
	for _, d := range found {
		byID[d.ID] = d
	}

	// порядок устройств совпадает с порядком запроса
	devices := make([]models.Device, 0, len(ids))
	var missing []uint
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		devices = append(devices, d)
	}
	if len(missing) > 0 {
		return nil, newHandoverError(KindPreconditionFailed, "devices not found", missing...)
	}
	return devices, nil
}

// checkPreconditions выдача только из AVAILABLE, возврат только устройств, числящихся за курьером
func checkPreconditions(action models.HandoverAction, courierID uint, ids []uint, devices []models.Device) error {
	var failed []uint
	for i := range devices {
		d := &devices[i]
		switch action {
		case models.HandoverIssue:
			if d.Status != models.DeviceStatusAvailable {
				failed = append(failed, d.ID)
			}
		case models.HandoverReturn:
			if !d.IsHeldBy(courierID) {
				failed = append(failed, d.ID)
			}
		}
	}

	if len(failed) == 0 {
		return nil
	}
	if action == models.HandoverIssue {
		return newHandoverError(KindPreconditionFailed, "devices are not available for issue", failed...)
	}
	return newHandoverError(KindPreconditionFailed, "devices are not held by this courier", failed...)
}

// validateUpdates проверяет заметки и признаки. Обновления устройств вне партии игнорируются.
func (hs *HandoverService) validateUpdates(db *gorm.DB, ids []uint, updates []DeviceConditionUpdate) (map[uint]DeviceConditionUpdate, error) {
	inBatch := make(map[uint]bool, len(ids))
	for _, id := range ids {
		inBatch[id] = true
	}

	result := make(map[uint]DeviceConditionUpdate, len(updates))
	var noteMissing []uint
	var referenced []FlagInput
	for _, u := range updates {
		if !inBatch[u.DeviceID] {
			continue
		}
		cond := models.Condition{
			IsDamaged:  u.IsDamaged,
			DamageNote: u.DamageNote,
			IsFaulty:   u.IsFaulty,
			FaultNote:  u.FaultNote,
		}.Normalize()
		if err := cond.Validate(); err != nil {
			noteMissing = append(noteMissing, u.DeviceID)
			continue
		}
		u.IsDamaged, u.DamageNote = cond.IsDamaged, cond.DamageNote
		u.IsFaulty, u.FaultNote = cond.IsFaulty, cond.FaultNote
		result[u.DeviceID] = u
		referenced = append(referenced, u.CustomFlags...)
	}

	if len(noteMissing) > 0 {
		return nil, &HandoverError{
			Kind:      KindValidationFailed,
			Message:   "a note is required for every damaged or faulty device",
			DeviceIDs: noteMissing,
			Err:       ErrConditionNoteRequired,
		}
	}

	missing, err := hs.Flags.MissingFlagIDs(db, flagIDs(referenced))
	if err != nil {
		return nil, &HandoverError{Kind: KindStorageFailure, Message: "failed to load flag definitions", Err: err}
	}
	if len(missing) > 0 {
		return nil, &HandoverError{
			Kind:    KindValidationFailed,
			Message: fmt.Sprintf("unknown custom flags: %v", missing),
			Err:     ErrFlagNotFound,
		}
	}

	return result, nil
}

func (hs *HandoverService) storeSignatures(ctx context.Context, courierID, dispatcherID uint, sigs *preparedSignatures) (string, string, error) {
	courierRef, err := hs.putSignature(ctx, courierID, sigs.courier)
	if err != nil {
		return "", "", &HandoverError{Kind: KindStorageFailure, Message: "failed to store courier signature", Err: err}
	}

	dispatcherRef, err := hs.putSignature(ctx, dispatcherID, sigs.dispatcher)
	if err != nil {
		hs.deleteSignatures(ctx, courierRef)
		return "", "", &HandoverError{Kind: KindStorageFailure, Message: "failed to store dispatcher signature", Err: err}
	}

	return courierRef, dispatcherRef, nil
}

func (hs *HandoverService) putSignature(ctx context.Context, personID uint, img *storage.Image) (string, error) {
	key := fmt.Sprintf("%d/%s.%s", personID, uuid.NewString(), img.Extension)
	return hs.Store.Put(ctx, hs.Options.SignatureBucket, key, img.Data, img.ContentType)
}

func (hs *HandoverService) deleteSignatures(ctx context.Context, refs ...string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := hs.Store.Delete(context.WithoutCancel(ctx), ref); err != nil {
			hs.Logger.Warn("не удалось удалить подпись отклоненной передачи", zap.String("ref", ref), zap.Error(err))
		}
	}
}

// commit записывает передачу одной транзакцией. Статусы меняются условным UPDATE,
// поэтому параллельная передача тех же устройств откатит одну из транзакций.
func (hs *HandoverService) commit(
	ctx context.Context,
	req HandoverRequest,
	courier *models.Person,
	devices []models.Device,
	updates map[uint]DeviceConditionUpdate,
	courierRef, dispatcherRef string,
) (*models.HandoverBatch, *DocumentPayload, error) {
	actorID := req.Dispatcher.ID
	ids := make([]uint, len(devices))
	for i := range devices {
		ids[i] = devices[i].ID
	}

	batch := &models.HandoverBatch{
		Action:              req.Action,
		CourierID:           courier.ID,
		DispatcherID:        req.Dispatcher.ID,
		CourierSignature:    courierRef,
		DispatcherSignature: dispatcherRef,
		Notes:               strings.TrimSpace(req.Notes),
	}
	var payload *DocumentPayload

	tx := hs.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, nil, &HandoverError{Kind: KindStorageFailure, Message: "failed to begin transaction", Err: tx.Error}
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	fail := func(message string, err error) (*models.HandoverBatch, *DocumentPayload, error) {
		tx.Rollback()
		var he *HandoverError
		if errors.As(err, &he) {
			return nil, nil, he
		}
		return nil, nil, &HandoverError{Kind: KindStorageFailure, Message: message, Err: err}
	}

	// Состояние устройств, подтвержденное при передаче
	for i := range devices {
		d := &devices[i]
		u, ok := updates[d.ID]
		if !ok {
			continue
		}

		before := *d
		d.ApplyCondition(models.Condition{
			IsDamaged:  u.IsDamaged,
			DamageNote: u.DamageNote,
			IsFaulty:   u.IsFaulty,
			FaultNote:  u.FaultNote,
		})
		if changes := DiffDevice(&before, d); len(changes) > 0 {
			if err := tx.Model(&models.Device{}).Where("id = ?", d.ID).Updates(changedColumns(d, changes)).Error; err != nil {
				return fail("failed to update device condition", err)
			}
			if err := hs.History.RecordFieldChanges(tx, d.ID, &actorID, changes); err != nil {
				return fail("failed to record device history", err)
			}
		}
		if len(u.CustomFlags) > 0 {
			if err := hs.Flags.UpsertFlags(tx, d.ID, u.CustomFlags, &actorID); err != nil {
				return fail("failed to update custom flags", err)
			}
		}
	}

	// Партия
	if err := tx.Create(batch).Error; err != nil {
		return fail("failed to create handover batch", err)
	}

	// Журнал по одному устройству
	logs := make([]models.HandoverLog, 0, len(devices))
	for i := range devices {
		entry := models.HandoverLog{
			BatchID:  batch.ID,
			DeviceID: devices[i].ID,
			Action:   req.Action,
		}
		courierID := courier.ID
		if req.Action == models.HandoverIssue {
			entry.FromPersonID = devices[i].CurrentHolderID
			entry.ToPersonID = &courierID
		} else {
			entry.FromPersonID = &courierID
		}
		logs = append(logs, entry)
	}
	if err := tx.Create(&logs).Error; err != nil {
		return fail("failed to create handover logs", err)
	}
	batch.Logs = logs

	// Условное обновление статусов: предусловие проверяется повторно в момент записи
	query := tx.Model(&models.Device{}).Where("id IN ?", ids)
	var columns map[string]interface{}
	if req.Action == models.HandoverIssue {
		query = query.Where("status = ?", models.DeviceStatusAvailable)
		columns = map[string]interface{}{
			"status":            models.DeviceStatusIssued,
			"current_holder_id": courier.ID,
		}
	} else {
		query = query.Where("status = ? AND current_holder_id = ?", models.DeviceStatusIssued, courier.ID)
		columns = map[string]interface{}{
			"status":            models.DeviceStatusAvailable,
			"current_holder_id": nil,
		}
	}
	res := query.Updates(columns)
	if res.Error != nil {
		return fail("failed to update device status", res.Error)
	}
	if res.RowsAffected != int64(len(ids)) {
		return fail("", newHandoverError(KindPreconditionFailed, "devices changed state concurrently, refresh and retry", ids...))
	}

	for i := range devices {
		if req.Action == models.HandoverIssue {
			courierID := courier.ID
			devices[i].Status = models.DeviceStatusIssued
			devices[i].CurrentHolderID = &courierID
		} else {
			devices[i].Status = models.DeviceStatusAvailable
			devices[i].CurrentHolderID = nil
		}
	}

	// Снимок акта читается внутри транзакции, чтобы учесть только что записанные признаки
	flagValues, err := hs.Flags.loadValues(tx, ids)
	if err != nil {
		return fail("failed to load flag values", err)
	}
	payload = buildDocumentPayload(batch, courier, req.Dispatcher, devices, flagValues, hs.Options.Location, hs.now())
	raw, err := json.Marshal(payload)
	if err != nil {
		return fail("failed to encode document payload", err)
	}
	batch.DocumentPayload = datatypes.JSON(raw)
	if err := tx.Model(batch).Update("document_payload", batch.DocumentPayload).Error; err != nil {
		return fail("failed to store document payload", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, nil, &HandoverError{Kind: KindStorageFailure, Message: "failed to commit handover", Err: err}
	}

	return batch, payload, nil
}

// dedupeIDs убирает повторы, сохраняя порядок первого вхождения
func dedupeIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
