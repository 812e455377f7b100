package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"MarketTicker/internal/collector"
	"MarketTicker/internal/config"
	"MarketTicker/internal/interval"
	"MarketTicker/internal/model"
	"MarketTicker/internal/ticker"

	"github.com/guregu/null/v6"
)

func newTestNotifier(srv *httptest.Server) *TelegramNotifier {
	tn := NewTelegramNotifier("TOKEN", "42", "")
	tn.BaseURL = srv.URL
	tn.Client = srv.Client()
	return tn
}

func TestSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	if err := newTestNotifier(srv).Send("hello"); err != nil {
		t.Fatal(err)
	}
	if got["chat_id"] != "42" || got["text"] != "hello" || got["parse_mode"] != "HTML" {
		t.Errorf("unexpected payload %v", got)
	}
}

func TestSendPhoto(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendPhoto" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.FormValue("chat_id") != "42" || r.FormValue("caption") != "<b>BTC</b>" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		f, _, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("photo part: %v", err)
			return
		}
		defer f.Close()
		img, _ := io.ReadAll(f)
		if string(img) != "PNG" {
			t.Errorf("unexpected image %q", img)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	if err := newTestNotifier(srv).SendPhoto("<b>BTC</b>", []byte("PNG")); err != nil {
		t.Fatal(err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWritePhotoForm_PropagatesWriteErrors(t *testing.T) {
	_, err := writePhotoForm(failingWriter{}, "42", "<b>BTC</b>", []byte("PNG"))
	if err == nil || !strings.Contains(err.Error(), "write field chat_id") {
		t.Fatalf("expected the chat_id field error, got %v", err)
	}
}

func TestSendWithRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	if err := newTestNotifier(srv).SendWithRetry(context.Background(), "hi", 2); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestSendWithRetry_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newTestNotifier(srv).SendWithRetry(context.Background(), "hi", 0)
	if err == nil || !strings.Contains(err.Error(), "retries exhausted") {
		t.Fatalf("expected exhausted error, got %v", err)
	}
}

func TestStartPolling(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var replies []string
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if polls.Add(1) == 1 {
				w.Write([]byte(`{"ok":true,"result":[{"update_id":7,"message":{"text":" /next "}}]}`))
				return
			}
			if r.URL.Query().Get("offset") != "8" {
				t.Errorf("expected offset 8, got %s", r.URL.Query().Get("offset"))
			}
			cancel()
			w.Write([]byte(`{"ok":true,"result":[]}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var p map[string]string
			json.NewDecoder(r.Body).Decode(&p)
			replies = append(replies, p["text"])
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	var commands []string
	newTestNotifier(srv).StartPolling(ctx, func(cmd string) string {
		commands = append(commands, cmd)
		return "ok: " + cmd
	})
	if len(commands) != 1 || commands[0] != "/next" {
		t.Errorf("expected trimmed /next command, got %v", commands)
	}
	if len(replies) != 1 || replies[0] != "ok: /next" {
		t.Errorf("expected reply to be sent, got %v", replies)
	}
}

func TestFormatTick(t *testing.T) {
	iv, _ := interval.Lookup("1h")
	s := ticker.Settings{Symbol: "BTC", Type: config.Crypto, Interval: iv, Currency: "USD"}
	end := time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)
	bars := collector.GenerateBars(end, time.Hour, 10, 100)
	msg := FormatTick(s, model.NewTickerResponse(bars, null.Float{}, end))

	for _, want := range []string{"<b>BTC</b>", "USD", "Change:", "Range:", "2024-03-06 15:00 UTC"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatList(t *testing.T) {
	iv, _ := interval.Lookup("5m")
	list := []ticker.Settings{
		{Symbol: "AAPL", Type: config.Equity, Interval: iv, WaitTime: 5 * time.Minute},
		{Symbol: "BTC", Type: config.Crypto, Interval: iv, WaitTime: time.Minute},
	}
	msg := FormatList(list, 1)
	if !strings.Contains(msg, "▶ 1. BTC") || !strings.Contains(msg, "  0. AAPL") {
		t.Errorf("unexpected list:\n%s", msg)
	}
}
