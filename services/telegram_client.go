package services

import (
	"context"
	"fmt"
	"html"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier отправляет оперативные оповещения (например, о несформированном акте)
type Notifier interface {
	DocumentPending(ctx context.Context, batchID uint, courierName string, attempts int, cause error)
}

// telegramSender часть BotAPI, которую использует уведомитель
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// telegramSendTimeout предел на отправку одного оповещения
const telegramSendTimeout = 10 * time.Second

// TelegramNotifier шлет оповещения в служебный чат Telegram.
// Отправка идет в фоне, чтобы медленный API не задерживал ответ на передачу.
type TelegramNotifier struct {
	bot     telegramSender
	chatID  int64
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewTelegramNotifier авторизует бота по токену
func NewTelegramNotifier(token, chatID string, logger *zap.Logger) (*TelegramNotifier, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("неверный chat ID: %s", chatID)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: telegramSendTimeout})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram бота: %w", err)
	}
	bot.Debug = false

	log.Printf("✅ Telegram бот авторизован: %s", bot.Self.UserName)

	return &TelegramNotifier{bot: bot, chatID: id, logger: logger, timeout: telegramSendTimeout}, nil
}

// DocumentPending сообщает, что передача зафиксирована, но акт не сформирован
func (tn *TelegramNotifier) DocumentPending(ctx context.Context, batchID uint, courierName string, attempts int, cause error) {
	text := fmt.Sprintf("⚠️ <b>Акт передачи #%d не сформирован</b>\nКурьер: %s\nПопыток: %d\nОшибка: <code>%s</code>",
		batchID, html.EscapeString(courierName), attempts, html.EscapeString(errText(cause)))

	msg := tgbotapi.NewMessage(tn.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	// отправка переживает запрос, отмена его контекста ее не прерывает
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tn.timeout)
	tn.wg.Add(1)
	go func() {
		defer tn.wg.Done()
		defer cancel()
		if err := tn.send(sendCtx, msg); err != nil {
			tn.logger.Warn("не удалось отправить оповещение в Telegram",
				zap.Uint("batch_id", batchID), zap.Error(err))
		}
	}()
}

func (tn *TelegramNotifier) send(ctx context.Context, msg tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := tn.bot.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait дожидается фоновых отправок, вызывается при остановке сервера
func (tn *TelegramNotifier) Wait() {
	tn.wg.Wait()
}

// LogNotifier пишет оповещения только в лог, используется без настроенного Telegram
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создает уведомитель поверх логгера
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// DocumentPending пишет предупреждение в лог
func (ln *LogNotifier) DocumentPending(ctx context.Context, batchID uint, courierName string, attempts int, cause error) {
	ln.logger.Warn("акт передачи не сформирован",
		zap.Uint("batch_id", batchID),
		zap.String("courier", courierName),
		zap.Int("attempts", attempts),
		zap.Error(cause))
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
