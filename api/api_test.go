package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"custody_backend/config"
	"custody_backend/models"
	"custody_backend/services"
	"custody_backend/storage"
	"custody_backend/testutils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type brokenRenderer struct{}

func (brokenRenderer) Render(*services.DocumentPayload, *storage.Image, *storage.Image) ([]byte, error) {
	return nil, errors.New("рендерер недоступен")
}

type testServer struct {
	t      *testing.T
	deps   Dependencies
	router *gin.Engine
	token  string
	admin  *models.Person
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutils.SetupTestDB(t)
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "objects.db"), "http://localhost:8080")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST", "PUT", "PATCH"}},
		Security: config.SecurityConfig{
			RateLimitRequests: 1000,
			RateLimitWindow:   time.Minute,
			PinAttempts:       100,
			PinWindow:         time.Minute,
		},
	}

	registry := prometheus.NewRegistry()
	metrics := services.NewMetrics(registry)
	credentials := services.NewCredentialService(4)
	history := services.NewHistoryService(db)
	flags := services.NewFlagService(db, history)
	devices := services.NewDeviceService(db, history, flags)
	documents := services.NewDocumentService(db, store, services.NewPDFRenderer(), services.NewLogNotifier(nil), metrics, nil, "documents")

	deps := Dependencies{
		Config:    cfg,
		DB:        db,
		Store:     store,
		Gatherer:  registry,
		Auth:      services.NewAuthService("test-secret", "custody", time.Hour),
		Persons:   services.NewPersonService(db, credentials),
		Devices:   devices,
		Flags:     flags,
		History:   history,
		Documents: documents,
		Exports:   services.NewExportService(devices, history),
		Dashboard: services.NewDashboardService(db, services.NewCacheService(nil)),
		Handover: services.NewHandoverService(db, store, credentials, history, flags, documents, metrics, nil,
			services.HandoverOptions{SignatureBucket: "signatures", Location: "Warehouse 1"}),
	}

	s := &testServer{t: t, deps: deps, router: SetupRouter(deps)}
	s.admin = testutils.CreateTestAdmin(t, db, "admin@example.com")

	resp := s.call(http.MethodPost, "/api/auth/login", gin.H{"email": "ADMIN@example.com", "password": testutils.TestAdminPassword})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var login struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &login))
	require.NotEmpty(t, login.Data.Token)
	s.token = login.Data.Token
	return s
}

func (s *testServer) call(method, path string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// decode разбирает поле data ответа
func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()

	var envelope struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope), resp.Body.String())
	assert.Equal(t, "success", envelope.Status)
	return envelope.Data
}

type errorBody struct {
	Status    string `json:"status"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
	DeviceIDs []uint `json:"device_ids"`
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorBody {
	t.Helper()

	var body errorBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body), resp.Body.String())
	assert.Equal(t, "error", body.Status)
	return body
}

func (s *testServer) createDevice(tag string, deviceType models.DeviceType) models.Device {
	s.t.Helper()

	resp := s.call(http.MethodPost, "/api/devices", gin.H{"asset_tag": tag, "type": deviceType, "sim_card_id": "8970" + tag})
	require.Equal(s.t, http.StatusCreated, resp.Code, resp.Body.String())
	return decode[models.Device](s.t, resp)
}

func (s *testServer) createCourier(email string) models.Person {
	s.t.Helper()

	resp := s.call(http.MethodPost, "/api/persons", gin.H{"email": email, "full_name": "Courier", "role": models.RoleCourier, "pin": "1234"})
	require.Equal(s.t, http.StatusCreated, resp.Code, resp.Body.String())
	return decode[models.Person](s.t, resp)
}

func handoverBody(t *testing.T, courierID uint, pin string, ids ...uint) gin.H {
	return gin.H{
		"courier_id":           courierID,
		"device_ids":           ids,
		"pin":                  pin,
		"courier_signature":    testutils.PNGDataURL(t),
		"dispatcher_signature": testutils.PNGDataURL(t),
	}
}

func TestPublicRoutes(t *testing.T) {
	s := newTestServer(t)

	t.Run("Ping", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/ping", nil)
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.NotEmpty(t, resp.Header().Get("X-Request-ID"))
	})

	t.Run("Метрики", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("Без токена", func(t *testing.T) {
		token := s.token
		s.token = ""
		defer func() { s.token = token }()

		resp := s.call(http.MethodGet, "/api/devices", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("Неверный пароль", func(t *testing.T) {
		resp := s.call(http.MethodPost, "/api/auth/login", gin.H{"email": "admin@example.com", "password": "wrong-password"})
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("Текущий администратор", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/api/auth/me", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, s.admin.ID, decode[models.Person](t, resp).ID)
	})
}

func TestHandoverFlow(t *testing.T) {
	s := newTestServer(t)
	courier := s.createCourier("courier@example.com")
	pda := s.createDevice("A-100", models.DeviceTypePDA)
	printer := s.createDevice("A-101", models.DeviceTypeMobilePrinter)

	var issued services.HandoverResult

	t.Run("Выдача партии", func(t *testing.T) {
		resp := s.call(http.MethodPost, "/api/handovers/issue", handoverBody(t, courier.ID, "1234", pda.ID, printer.ID))
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

		issued = decode[services.HandoverResult](t, resp)
		assert.Equal(t, services.OutcomeCompleted, issued.Outcome)
		assert.NotEmpty(t, issued.DocumentRef)

		resp = s.call(http.MethodGet, "/api/devices?holder_id="+itoa(courier.ID), nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Len(t, decode[[]models.Device](t, resp), 2)
	})

	t.Run("Повторная выдача отклоняется", func(t *testing.T) {
		spare := s.createDevice("A-102", models.DeviceTypePDA)

		resp := s.call(http.MethodPost, "/api/handovers/issue", handoverBody(t, courier.ID, "1234", spare.ID, pda.ID))
		require.Equal(t, http.StatusConflict, resp.Code)
		body := decodeError(t, resp)
		assert.Equal(t, string(services.KindPreconditionFailed), body.Kind)
		assert.Equal(t, []uint{pda.ID}, body.DeviceIDs)

		resp = s.call(http.MethodGet, "/api/devices/"+itoa(spare.ID), nil)
		assert.Equal(t, models.DeviceStatusAvailable, decode[models.Device](t, resp).Status)
	})

	t.Run("Неверный PIN", func(t *testing.T) {
		resp := s.call(http.MethodPost, "/api/handovers/return", handoverBody(t, courier.ID, "9999", pda.ID))
		require.Equal(t, http.StatusUnauthorized, resp.Code)
		assert.Equal(t, string(services.KindUnauthorized), decodeError(t, resp).Kind)
	})

	t.Run("Пустой список устройств", func(t *testing.T) {
		resp := s.call(http.MethodPost, "/api/handovers/return", handoverBody(t, courier.ID, "1234"))
		require.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, string(services.KindInvalidInput), decodeError(t, resp).Kind)
	})

	t.Run("Слишком большой запрос", func(t *testing.T) {
		body := handoverBody(t, courier.ID, "1234", pda.ID)
		body["notes"] = strings.Repeat("x", maxHandoverBody)

		resp := s.call(http.MethodPost, "/api/handovers/return", body)
		require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
		assert.Equal(t, string(services.KindInvalidInput), decodeError(t, resp).Kind)
	})

	t.Run("Подпись больше допустимого размера", func(t *testing.T) {
		body := handoverBody(t, courier.ID, "1234", pda.ID)
		body["courier_signature"] = testutils.SizedPNGDataURL(t, storage.MaxImageSide+1, 1)

		resp := s.call(http.MethodPost, "/api/handovers/return", body)
		require.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, string(services.KindInvalidInput), decodeError(t, resp).Kind)

		resp = s.call(http.MethodGet, "/api/devices/"+itoa(pda.ID), nil)
		assert.Equal(t, models.DeviceStatusIssued, decode[models.Device](t, resp).Status)
	})

	t.Run("Повреждение без заметки", func(t *testing.T) {
		body := handoverBody(t, courier.ID, "1234", pda.ID)
		body["device_updates"] = []gin.H{{"device_id": pda.ID, "is_damaged": true}}

		resp := s.call(http.MethodPost, "/api/handovers/return", body)
		require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
		assert.Equal(t, string(services.KindValidationFailed), decodeError(t, resp).Kind)
	})

	t.Run("Возврат с повреждением", func(t *testing.T) {
		body := handoverBody(t, courier.ID, "1234", pda.ID)
		body["notes"] = "end of shift"
		body["device_updates"] = []gin.H{{"device_id": pda.ID, "is_damaged": true, "damage_note": "cracked screen"}}

		resp := s.call(http.MethodPost, "/api/handovers/return", body)
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

		resp = s.call(http.MethodGet, "/api/devices/"+itoa(pda.ID), nil)
		device := decode[models.Device](t, resp)
		assert.Equal(t, models.DeviceStatusAvailable, device.Status)
		assert.Nil(t, device.CurrentHolderID)
		assert.True(t, device.IsDamaged)
		assert.Equal(t, "cracked screen", device.DamageNote)
	})

	t.Run("Журнал передач", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/api/handovers?courier_id="+itoa(courier.ID), nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Len(t, decode[[]models.HandoverBatch](t, resp), 2)

		resp = s.call(http.MethodGet, "/api/handovers?action=lend", nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code)

		resp = s.call(http.MethodGet, "/api/handovers/"+itoa(issued.Batch.ID), nil)
		require.Equal(t, http.StatusOK, resp.Code)
		data := decode[struct {
			Batch       models.HandoverBatch `json:"batch"`
			DocumentURL string               `json:"document_url"`
		}](t, resp)
		assert.Len(t, data.Batch.Logs, 2)
		assert.Equal(t, "http://localhost:8080/files/"+issued.DocumentRef, data.DocumentURL)
	})

	t.Run("Скачивание акта", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/files/"+issued.DocumentRef, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
		assert.True(t, strings.HasPrefix(resp.Body.String(), "%PDF"))

		resp = s.call(http.MethodGet, "/files/documents/missing.pdf", nil)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("История устройства", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/api/devices/"+itoa(pda.ID)+"/history", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.NotEmpty(t, decode[[]services.TimelineEntry](t, resp))

		resp = s.call(http.MethodGet, "/api/devices/"+itoa(pda.ID)+"/history/export", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Header().Get("Content-Disposition"), "device-A-100-history.xlsx")
	})

	t.Run("Сводка", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/api/dashboard/stats", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		stats := decode[services.DashboardStats](t, resp)
		assert.EqualValues(t, 3, stats.TotalDevices)
		assert.EqualValues(t, 1, stats.ByStatus[models.DeviceStatusIssued])
	})
}

func TestDocumentPendingFlow(t *testing.T) {
	s := newTestServer(t)
	courier := s.createCourier("courier@example.com")
	device := s.createDevice("P-1", models.DeviceTypePDA)
	s.deps.Documents.Renderer = brokenRenderer{}

	resp := s.call(http.MethodPost, "/api/handovers/issue", handoverBody(t, courier.ID, "1234", device.ID))
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	result := decode[services.HandoverResult](t, resp)
	assert.Equal(t, services.OutcomeDocumentPending, result.Outcome)
	assert.NotEmpty(t, result.DocumentError)

	resp = s.call(http.MethodGet, "/api/devices/"+itoa(device.ID), nil)
	assert.Equal(t, models.DeviceStatusIssued, decode[models.Device](t, resp).Status, "передача зафиксирована")

	resp = s.call(http.MethodGet, "/api/handovers?pending=true", nil)
	assert.Len(t, decode[[]models.HandoverBatch](t, resp), 1)

	path := "/api/handovers/" + itoa(result.Batch.ID) + "/document"
	resp = s.call(http.MethodPost, path, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	s.deps.Documents.Renderer = services.NewPDFRenderer()
	resp = s.call(http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = s.call(http.MethodGet, "/api/handovers?pending=true", nil)
	assert.Empty(t, decode[[]models.HandoverBatch](t, resp))

	resp = s.call(http.MethodPost, "/api/handovers/9999/document", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDeviceRoutes(t *testing.T) {
	s := newTestServer(t)
	device := s.createDevice("D-1", models.DeviceTypePDA)

	t.Run("Дубликат инвентарного номера", func(t *testing.T) {
		resp := s.call(http.MethodPost, "/api/devices", gin.H{"asset_tag": "D-1", "type": models.DeviceTypePDA})
		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("Флаг без заметки", func(t *testing.T) {
		resp := s.call(http.MethodPatch, "/api/devices/"+itoa(device.ID), gin.H{"is_faulty": true})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("Неизвестный фильтр", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/api/devices?status=MISSING", nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code)

		resp = s.call(http.MethodGet, "/api/devices?type=TABLET", nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("Фильтр по статусу", func(t *testing.T) {
		lost := s.createDevice("D-2", models.DeviceTypeMobilePrinter)
		resp := s.call(http.MethodPatch, "/api/devices/"+itoa(lost.ID), gin.H{"status": models.DeviceStatusLost})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

		resp = s.call(http.MethodGet, "/api/devices?status=LOST", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		devices := decode[[]models.Device](t, resp)
		require.Len(t, devices, 1)
		assert.Equal(t, "D-2", devices[0].AssetTag)

		resp = s.call(http.MethodGet, "/api/devices?status=AVAILABLE", nil)
		assert.Len(t, decode[[]models.Device](t, resp), 1)
	})

	t.Run("Некорректный идентификатор", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/api/devices/abc", nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code)

		resp = s.call(http.MethodGet, "/api/devices/9999", nil)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("Пользовательские признаки", func(t *testing.T) {
		resp := s.call(http.MethodPost, "/api/flags", gin.H{"name": "cracked screen"})
		require.Equal(t, http.StatusCreated, resp.Code)
		flag := decode[models.FlagDefinition](t, resp)

		resp = s.call(http.MethodPut, "/api/devices/"+itoa(device.ID)+"/flags", gin.H{
			"flags": []gin.H{{"flag_id": flag.ID, "value": true, "note": "left corner"}},
		})
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		values := decode[[]models.FlagValue](t, resp)
		require.Len(t, values, 1)
		assert.Equal(t, "left corner", values[0].Note)

		resp = s.call(http.MethodPut, "/api/devices/"+itoa(device.ID)+"/flags", gin.H{
			"flags": []gin.H{{"flag_id": 9999, "value": true}},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

		resp = s.call(http.MethodGet, "/api/flags", nil)
		assert.Len(t, decode[[]models.FlagDefinition](t, resp), 1)
	})

	t.Run("Выгрузка инвентаря", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/api/devices/export?type=PDA", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, xlsxContentType, resp.Header().Get("Content-Type"))

		f, err := excelize.OpenReader(bytes.NewReader(resp.Body.Bytes()))
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows("Devices")
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})
}

func TestPersonRoutes(t *testing.T) {
	s := newTestServer(t)
	courier := s.createCourier("courier@example.com")

	t.Run("Список курьеров", func(t *testing.T) {
		resp := s.call(http.MethodGet, "/api/persons?role=COURIER", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Len(t, decode[[]models.Person](t, resp), 1)

		resp = s.call(http.MethodGet, "/api/persons?role=OWNER", nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("Некорректный PIN", func(t *testing.T) {
		resp := s.call(http.MethodPatch, "/api/persons/"+itoa(courier.ID), gin.H{"pin": "12"})
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("Деактивированный курьер", func(t *testing.T) {
		device := s.createDevice("E-1", models.DeviceTypePDA)
		resp := s.call(http.MethodPatch, "/api/persons/"+itoa(courier.ID), gin.H{"active": false})
		require.Equal(t, http.StatusOK, resp.Code)

		resp = s.call(http.MethodPost, "/api/handovers/issue", handoverBody(t, courier.ID, "1234", device.ID))
		require.Equal(t, http.StatusUnauthorized, resp.Code)
		assert.Equal(t, string(services.KindCourierInvalid), decodeError(t, resp).Kind)
	})
}

func TestCorsConfig(t *testing.T) {
	all := corsConfig(config.CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true})
	assert.True(t, all.AllowAllOrigins)
	assert.False(t, all.AllowCredentials)
	assert.Empty(t, all.AllowOrigins)

	listed := corsConfig(config.CORSConfig{AllowedOrigins: []string{"https://ops.example.com"}, AllowCredentials: true})
	assert.False(t, listed.AllowAllOrigins)
	assert.True(t, listed.AllowCredentials)
	assert.Equal(t, []string{"https://ops.example.com"}, listed.AllowOrigins)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
