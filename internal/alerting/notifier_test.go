package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func slabShiftNote() Notification {
	prev, next := int64(3), int64(4)
	return Notification{
		Kind:     KindSlabShift,
		At:       time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Channels: []string{"telegram"},
		SlabShift: &SlabShift{
			Region:          "All India",
			Currency:        "INR",
			PreviousPrice:   decimal.RequireFromString("89.40"),
			FuelPrice:       decimal.RequireFromString("91.05"),
			PreviousSlabID:  &prev,
			SlabID:          &next,
			PreviousPercent: decimal.NewNullDecimal(decimal.NewFromInt(4)),
			Percent:         decimal.NewNullDecimal(decimal.NewFromInt(6)),
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), slabShiftNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "91.05") || !strings.Contains(received["text"], "#3 -> #4") {
		t.Fatalf("text 应包含价格与档位: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), slabShiftNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), slabShiftNote()); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("非 2xx 响应应报错, got %v", err)
	}
}

func TestRenderMessage(t *testing.T) {
	shift := slabShiftNote()
	shift.SlabShift.PreviousSlabID = nil
	shift.SlabShift.PreviousPercent = decimal.NullDecimal{}
	text, err := RenderMessage(shift)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(text, "Slab: none -> #4") || !strings.Contains(text, "Surcharge: n/a -> 6.00%") {
		t.Fatalf("unexpected slab shift text: %q", text)
	}

	award := Notification{
		Kind: KindAward,
		At:   time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC),
		Award: &Award{
			BidID:     "B1",
			BidName:   "Q3 north corridor",
			CarrierID: "C1",
			Rate:      decimal.NewFromInt(25000),
			RateType:  "per_load",
			Currency:  "INR",
			Total:     decimal.NewNullDecimal(decimal.NewFromInt(26500)),
			AwardedBy: "manager",
		},
	}
	text, err = RenderMessage(award)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"Q3 north corridor (B1)", "Carrier: C1", "25000.00 INR per_load", "Priced total: 26500.00 INR"} {
		if !strings.Contains(text, want) {
			t.Fatalf("award text should contain %q: %q", want, text)
		}
	}

	if _, err := RenderMessage(Notification{Kind: KindAward}); err == nil {
		t.Fatal("award without details should fail")
	}
	if _, err := RenderMessage(Notification{Kind: "other"}); err == nil {
		t.Fatal("unknown kind should fail")
	}
}

type recordingNotifier struct {
	notes []Notification
	err   error
}

func (r *recordingNotifier) Notify(ctx context.Context, note Notification) error {
	r.notes = append(r.notes, note)
	return r.err
}

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: boom}

	err := Multi{failing, nil, ok, NewLogNotifier(testLogger())}.Notify(context.Background(), slabShiftNote())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.notes) != 1 {
		t.Fatal("a failing notifier must not stop the others")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
