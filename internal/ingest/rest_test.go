package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

func testRESTServer(buffer int) (*RESTServer, chan model.Sample) {
	out := make(chan model.Sample, buffer)
	cfg := config.NewStaticManager(config.DefaultConfig())
	return &RESTServer{cfg: cfg, out: out, logger: nil}, out
}

func postSamples(t *testing.T, s *RESTServer, body string) (*httptest.ResponseRecorder, map[string]int) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/samples", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleSamples(rec, req)
	var counts map[string]int
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &counts)
	}
	return rec, counts
}

func TestRESTSingleSample(t *testing.T) {
	s, out := testRESTServer(4)
	rec, counts := postSamples(t, s, `{"subject_id":"subj-1","heart_rate":72,"spo2":98,"activity":50,"recovery":80}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d", rec.Code)
	}
	if counts["accepted"] != 1 || counts["failed"] != 0 {
		t.Fatalf("counts = %v", counts)
	}
	sample := <-out
	if sample.SubjectID != "subj-1" || sample.HeartRate != 72 {
		t.Fatalf("sample = %+v", sample)
	}
	if sample.Timestamp.IsZero() {
		t.Fatal("timestamp not defaulted")
	}
}

func TestRESTArrayMixedValidity(t *testing.T) {
	s, out := testRESTServer(4)
	body := `[
		{"subject_id":"subj-1","heart_rate":72,"spo2":98},
		{"heart_rate":90,"spo2":95},
		{"subject_id":"subj-2","heart_rate":80,"spo2":97}
	]`
	_, counts := postSamples(t, s, body)
	if counts["accepted"] != 2 || counts["failed"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	if len(out) != 2 {
		t.Fatalf("queued = %d, want 2", len(out))
	}
}

func TestRESTMalformedBody(t *testing.T) {
	s, _ := testRESTServer(1)
	rec, _ := postSamples(t, s, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	rec, _ = postSamples(t, s, "   ")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body: code = %d", rec.Code)
	}
}

func TestBackoffSleepHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if BackoffSleep(ctx, time.Minute) {
		t.Fatal("cancelled context must abort the backoff")
	}
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan model.Sample, 1)
	sample := model.Sample{SubjectID: "subj-1", Timestamp: time.Now()}
	if !SendNonBlocking(context.Background(), out, sample, nil) {
		t.Fatal("first send should succeed")
	}
	if SendNonBlocking(context.Background(), out, sample, nil) {
		t.Fatal("second send should drop, channel full")
	}
}
