package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DocumentRetryScheduler по расписанию перегенерирует акты передач, оставшиеся без документа
type DocumentRetryScheduler struct {
	documents *DocumentService
	cron      *cron.Cron
	spec      string
	limit     int
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewDocumentRetryScheduler создает планировщик. spec в формате cron или "@every 15m".
func NewDocumentRetryScheduler(documents *DocumentService, spec string, limit int, logger *zap.Logger) *DocumentRetryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentRetryScheduler{
		documents: documents,
		cron:      cron.New(),
		spec:      spec,
		limit:     limit,
		logger:    logger,
	}
}

// Start регистрирует задачу и запускает планировщик
func (s *DocumentRetryScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("неверное расписание повторной генерации актов %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("планировщик повторной генерации актов запущен", zap.String("schedule", s.spec))
	return nil
}

// Stop останавливает планировщик и дожидается текущего прохода
func (s *DocumentRetryScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("планировщик повторной генерации актов остановлен")
}

// RunOnce выполняет один проход. Пересекающиеся проходы пропускаются.
func (s *DocumentRetryScheduler) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug("предыдущий проход повторной генерации еще выполняется")
		return 0
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	started := time.Now()
	succeeded, err := s.documents.RetryPending(ctx, s.limit)
	if err != nil {
		s.logger.Error("ошибка повторной генерации актов", zap.Error(err))
		return 0
	}

	if succeeded > 0 {
		s.logger.Info("акты передач сформированы повторно",
			zap.Int("count", succeeded), zap.Duration("took", time.Since(started)))
	}
	return succeeded
}
