package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level 告警级别。
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Notification 封装告警上下文。
type Notification struct {
	Level   Level
	Title   string
	Message string
	CycleID string
	Time    time.Time
	Fields  map[string]string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false: %s", result.Description)
		}
	}

	n.logger.Info().Str("level", string(note.Level)).
		Str("title", note.Title).
		Str("cycle_id", note.CycleID).
		Msg("notification sent (telegram)")
	return nil
}

// LogNotifier 把告警写入日志，未配置 Telegram 时作为默认通道。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify 按级别输出日志。
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	lvl := zerolog.WarnLevel
	switch note.Level {
	case LevelInfo:
		lvl = zerolog.InfoLevel
	case LevelCritical:
		lvl = zerolog.ErrorLevel
	}
	event := n.logger.WithLevel(lvl)
	for _, key := range sortedKeys(note.Fields) {
		event = event.Str(key, note.Fields[key])
	}
	event.Str("title", note.Title).Str("cycle_id", note.CycleID).Msg(note.Message)
	return nil
}

// Multi 依次投递到所有通道，单个通道失败不影响其余通道。
type Multi []Notifier

// Notify 实现 Notifier。
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher 以 fire-and-forget 方式投递告警，调用方不会被阻塞。
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewDispatcher 包装 notifier。notifier 为 nil 时 Dispatch 为空操作。
func NewDispatcher(notifier Notifier, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{notifier: notifier, timeout: timeout, logger: logger.With().Str("component", "alert_dispatch").Logger()}
}

// Dispatch 异步投递，返回的 channel 在投递完成后关闭。
func (d *Dispatcher) Dispatch(note Notification) <-chan struct{} {
	done := make(chan struct{})
	if d == nil || d.notifier == nil {
		close(done)
		return done
	}
	if note.Time.IsZero() {
		note.Time = time.Now().UTC()
	}
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, note); err != nil {
			d.logger.Warn().Err(err).Str("title", note.Title).Msg("notification delivery failed")
		}
	}()
	return done
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[datafeed %s] %s\n", strings.ToUpper(string(note.Level)), note.Title))
	if !note.Time.IsZero() {
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Time.UTC().Format(time.RFC3339)))
	}
	if note.CycleID != "" {
		builder.WriteString(fmt.Sprintf("Cycle: %s\n", note.CycleID))
	}
	for _, key := range sortedKeys(note.Fields) {
		builder.WriteString(fmt.Sprintf("%s: %s\n", key, note.Fields[key]))
	}
	if note.Message != "" {
		builder.WriteString(note.Message)
	}
	return builder.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
