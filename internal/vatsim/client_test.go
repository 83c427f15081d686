package vatsim

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestVatsimClient(server *httptest.Server) *Client {
	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf))
	c.baseURL = server.URL
	return c
}

func TestFetchEvent_ParsesEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/events/view/42" {
			t.Errorf("パス = %s, want /api/v2/events/view/42", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{
			"id": 42,
			"name": "Cross The Pond",
			"link": "https://example.test/events/42",
			"banner": "https://example.test/banner.png",
			"start_time": "2026-03-14T22:00:00Z",
			"end_time": "2026-03-15T01:00:00Z",
			"short_description": "大西洋横断",
			"description": "詳細"
		}}`))
	}))
	defer server.Close()

	c := newTestVatsimClient(server)
	event, err := c.FetchEvent(context.Background(), 42)
	if err != nil {
		t.Fatalf("FetchEvent がエラーを返した: %v", err)
	}
	if event == nil {
		t.Fatal("イベントが返るべき")
	}
	if event.Name != "Cross The Pond" {
		t.Errorf("Name = %q", event.Name)
	}
	want := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	if !event.StartTime.Equal(want) {
		t.Errorf("StartTime = %v, want %v", event.StartTime, want)
	}
	if event.EndTime.Sub(event.StartTime) != 3*time.Hour {
		t.Errorf("所要時間 = %v, want 3h", event.EndTime.Sub(event.StartTime))
	}
}

func TestFetchEvent_NotFoundReturnsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestVatsimClient(server)
	event, err := c.FetchEvent(context.Background(), 999)
	if err != nil {
		t.Fatalf("存在しないイベントはエラーにならないべき: %v", err)
	}
	if event != nil {
		t.Error("存在しないイベントは nil が返るべき")
	}
}

func TestResolveIdentity_ReturnsCID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/members/discord/chat-1" {
			t.Errorf("パス = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 1234567, "user_id": "chat-1"}`))
	}))
	defer server.Close()

	c := newTestVatsimClient(server)
	cid, err := c.ResolveIdentity(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("ResolveIdentity がエラーを返した: %v", err)
	}
	if cid != 1234567 {
		t.Errorf("CID = %d, want 1234567", cid)
	}
}

func TestResolveIdentity_UnlinkedReturnsZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestVatsimClient(server)
	cid, err := c.ResolveIdentity(context.Background(), "chat-unknown")
	if err != nil {
		t.Fatalf("未紐付けはエラーにならないべき: %v", err)
	}
	if cid != 0 {
		t.Errorf("CID = %d, want 0", cid)
	}
}

func TestGetMemberStats_FiltersNumericFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/members/1234567/stats" {
			t.Errorf("パス = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 1234567, "callsign": "RJTT_TWR", "s1": 12.5, "s2": 30.2, "s3": 0.4}`))
	}))
	defer server.Close()

	c := newTestVatsimClient(server)
	stats, err := c.GetMemberStats(context.Background(), 1234567)
	if err != nil {
		t.Fatalf("GetMemberStats がエラーを返した: %v", err)
	}
	if stats["s2"] != 30.2 {
		t.Errorf("s2 = %v, want 30.2", stats["s2"])
	}
	if _, ok := stats["callsign"]; ok {
		t.Error("文字列フィールドは実績に含めないべき")
	}
}
