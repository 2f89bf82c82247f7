package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind 区分告警类型。
type Kind string

const (
	KindSlabShift Kind = "slab_shift"
	KindAward     Kind = "award"
)

// SlabShift describes a fuel price that moved into a different surcharge slab.
type SlabShift struct {
	Region          string
	Currency        string
	PreviousPrice   decimal.Decimal
	FuelPrice       decimal.Decimal
	PreviousSlabID  *int64
	SlabID          *int64
	PreviousPercent decimal.NullDecimal
	Percent         decimal.NullDecimal
}

// Award describes a committed bid award.
type Award struct {
	BidID       string
	BidName     string
	ResponseID  string
	CarrierID   string
	CarrierName string
	Rate        decimal.Decimal
	RateType    string
	Currency    string
	Total       decimal.NullDecimal
	AwardedBy   string
}

// Notification 封装告警上下文。
type Notification struct {
	Kind          Kind
	At            time.Time
	Channels      []string
	SlabShift     *SlabShift
	Award         *Award
	AdditionalMsg string
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
	text, err := RenderMessage(note)
	if err != nil {
		return err
	}
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("kind", string(note.Kind)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes notifications to the log. It stands in when no channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered message.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	text, err := RenderMessage(note)
	if err != nil {
		return err
	}
	n.logger.Info().Str("kind", string(note.Kind)).Str("message", text).Msg("notification")
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) (string, error) {
	switch note.Kind {
	case KindSlabShift:
		if note.SlabShift == nil {
			return "", errors.New("slab shift notification without details")
		}
		return renderSlabShift(note, *note.SlabShift), nil
	case KindAward:
		if note.Award == nil {
			return "", errors.New("award notification without details")
		}
		return renderAward(note, *note.Award), nil
	default:
		return "", fmt.Errorf("unknown notification kind %q", note.Kind)
	}
}

func renderSlabShift(note Notification, s SlabShift) string {
	builder := strings.Builder{}
	builder.WriteString("[Fuel Surcharge Slab Shift]\n")
	builder.WriteString(fmt.Sprintf("Date: %s\n", note.At.UTC().Format("2006-01-02")))
	builder.WriteString(fmt.Sprintf("Region: %s (%s)\n", s.Region, s.Currency))
	builder.WriteString(fmt.Sprintf("Fuel price: %s -> %s\n", s.PreviousPrice.StringFixed(2), s.FuelPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Slab: %s -> %s\n", slabLabel(s.PreviousSlabID), slabLabel(s.SlabID)))
	builder.WriteString(fmt.Sprintf("Surcharge: %s -> %s\n", percentLabel(s.PreviousPercent), percentLabel(s.Percent)))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func renderAward(note Notification, a Award) string {
	builder := strings.Builder{}
	builder.WriteString("[Bid Awarded]\n")
	name := a.BidName
	if name == "" {
		name = a.BidID
	}
	builder.WriteString(fmt.Sprintf("Bid: %s (%s)\n", name, a.BidID))
	carrier := a.CarrierName
	if carrier == "" {
		carrier = a.CarrierID
	}
	builder.WriteString(fmt.Sprintf("Carrier: %s\n", carrier))
	builder.WriteString(fmt.Sprintf("Rate: %s %s %s\n", a.Rate.StringFixed(2), a.Currency, a.RateType))
	if a.Total.Valid {
		builder.WriteString(fmt.Sprintf("Priced total: %s %s\n", a.Total.Decimal.StringFixed(2), a.Currency))
	}
	if a.AwardedBy != "" {
		builder.WriteString(fmt.Sprintf("Awarded by: %s at %s UTC\n", a.AwardedBy, note.At.UTC().Format(time.RFC3339)))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func slabLabel(id *int64) string {
	if id == nil {
		return "none"
	}
	return fmt.Sprintf("#%d", *id)
}

func percentLabel(p decimal.NullDecimal) string {
	if !p.Valid {
		return "n/a"
	}
	return p.Decimal.StringFixed(2) + "%"
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
