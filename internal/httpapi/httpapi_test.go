package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lessonbook/lessonbook/internal/httpapi"
	"github.com/lessonbook/lessonbook/internal/schedule"
	"github.com/lessonbook/lessonbook/internal/voice"
)

const refDate = "2026-03-02" // a Monday

func roster() []schedule.Student {
	return []schedule.Student{
		{ID: "s-garcia", FirstName: "Leo", LastName: "Garcia", Slots: []schedule.WeeklySlot{
			{Weekday: time.Monday, TimeOfDay: "15:00", DurationMin: 30, RateCents: 4000},
		}},
		{ID: "s-chen", FirstName: "Leo", LastName: "Chen", Slots: []schedule.WeeklySlot{
			{Weekday: time.Wednesday, TimeOfDay: "16:00", DurationMin: 45, RateCents: 5000},
		}},
		{ID: "s-kim", FirstName: "Ava", LastName: "Kim", Slots: []schedule.WeeklySlot{
			{Weekday: time.Monday, TimeOfDay: "18:00", DurationMin: 30, RateCents: 4000},
		}},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *schedule.MemStore) {
	t.Helper()
	store := schedule.NewMemStore(roster()...)
	pipeline := voice.NewPipeline(store)
	api := httpapi.NewServer(pipeline)

	mux := http.NewServeMux()
	api.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url, body string) (*http.Response, voice.Result) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var res voice.Result
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusInternalServerError {
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, res
}

func TestCommandMarksAttendance(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t)

	resp, res := postJSON(t, srv.URL+"/v1/command",
		`{"transcript": "Mark Ava Kim's lesson today as attended", "reference_date": "`+refDate+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if res.Status != voice.StatusSuccess {
		t.Fatalf("result = %+v, want success", res)
	}

	lesson, err := store.LessonForStudentOnDate(context.Background(), "s-kim", refDate)
	if err != nil || lesson == nil {
		t.Fatalf("lesson lookup: %v, %v", lesson, err)
	}
	if !lesson.Attended {
		t.Error("lesson not marked attended")
	}
}

func TestCommandRejectsBadRequests(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"transcript": `},
		{"missing transcript", `{"reference_date": "2026-03-02"}`},
		{"bad reference date", `{"transcript": "x", "reference_date": "03/02/2026"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp, _ := postJSON(t, srv.URL+"/v1/command", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestClarificationRoundTrip(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t)

	// Two Leos; the bare first name is ambiguous.
	resp, res := postJSON(t, srv.URL+"/v1/command",
		`{"transcript": "Mark Leo as attended on Wednesday", "reference_date": "`+refDate+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if res.Status != voice.StatusNeedsClarification {
		t.Fatalf("result = %+v, want needs_clarification", res)
	}
	if res.PendingToken == "" || len(res.Options) < 2 {
		t.Fatalf("result = %+v, want token and options", res)
	}

	var chenOption string
	for _, opt := range res.Options {
		if opt.ID == "s-chen" {
			chenOption = opt.ID
		}
	}
	if chenOption == "" {
		t.Fatalf("options %+v do not include s-chen", res.Options)
	}

	_, res2 := postJSON(t, srv.URL+"/v1/resume",
		`{"token": "`+res.PendingToken+`", "option_id": "`+chenOption+`"}`)
	if res2.Status != voice.StatusSuccess {
		t.Fatalf("resume result = %+v, want success", res2)
	}

	lesson, _ := store.LessonForStudentOnDate(context.Background(), "s-chen", "2026-03-04")
	if lesson == nil || !lesson.Attended {
		t.Errorf("lesson = %+v, want attended", lesson)
	}
}

func TestConfirmDecline(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t)

	// Ambiguous amount phrasing parses below the gate.
	_, res := postJSON(t, srv.URL+"/v1/command",
		`{"transcript": "Ava Kim is now $100", "reference_date": "`+refDate+`"}`)
	if res.Status != voice.StatusNeedsClarification && res.Status != voice.StatusNeedsConfirmation {
		t.Fatalf("result = %+v, want a pending state", res)
	}
	if res.PendingToken == "" {
		t.Fatal("no pending token")
	}

	_, res2 := postJSON(t, srv.URL+"/v1/cancel", `{"token": "`+res.PendingToken+`"}`)
	if res2.Status != voice.StatusSuccess {
		t.Fatalf("cancel result = %+v, want success", res2)
	}

	lessons, _ := store.LessonsInRange(context.Background(), "2026-01-01", "2026-12-31")
	for _, l := range lessons {
		if l.StudentID == "s-kim" && l.AmountCents == 10000 {
			t.Errorf("canceled command still mutated: %+v", l)
		}
	}
}

func TestResumeUnknownToken(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, res := postJSON(t, srv.URL+"/v1/resume", `{"token": "nope", "option_id": "s-kim"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if res.Status != voice.StatusError {
		t.Errorf("result = %+v, want error status", res)
	}
}

func TestConfirmRequiresToken(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/v1/confirm", `{"accept": true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamCommandCycle(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	send := func(msg map[string]any) map[string]any {
		t.Helper()
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		var out map[string]any
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read: %v", err)
		}
		return out
	}

	out := send(map[string]any{
		"type":           "command",
		"transcript":     "Mark Ava Kim's lesson today as attended",
		"reference_date": refDate,
	})
	if out["status"] != string(voice.StatusSuccess) {
		t.Fatalf("stream result = %+v, want success", out)
	}

	lesson, _ := store.LessonForStudentOnDate(context.Background(), "s-kim", refDate)
	if lesson == nil || !lesson.Attended {
		t.Errorf("lesson = %+v, want attended", lesson)
	}

	// Malformed messages answer with an error and keep the stream open.
	out = send(map[string]any{"type": "resume"})
	if out["status"] != string(voice.StatusError) {
		t.Errorf("stream result = %+v, want error status", out)
	}
}
