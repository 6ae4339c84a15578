package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wknotifier/internal/eventbus"
	"wknotifier/internal/poll"
	"wknotifier/internal/runtime/supervisor"
	"wknotifier/internal/schedule"
	"wknotifier/internal/storage"
	logx "wknotifier/pkg/logx"
)

func testSources() Sources {
	return Sources{
		Loop: func() poll.Snapshot {
			return poll.Snapshot{State: "sleeping", Cycles: 3, Notified: schedule.NotificationState{Lessons: 1, Reviews: 2}}
		},
		Goroutines: func() supervisor.Counters { return supervisor.Counters{Active: 2, Started: 4} },
		LastSaved: func(context.Context) (storage.Snapshot, bool, error) {
			return storage.Snapshot{CycleID: "c1", State: schedule.NotificationState{Lessons: 1, Reviews: 2}}, true, nil
		},
	}
}

func get(t *testing.T, url string, hdr map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestStatusReport(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	s := New(Config{}, testSources(), "v1.2.3", logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracked := make(chan struct{})
	go func() {
		defer close(tracked)
		s.Track(ctx, bus)
	}()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// Track subscribes asynchronously; publish until the event shows up.
	deadline := time.Now().Add(2 * time.Second)
	var rep Report
	for {
		bus.Publish(eventbus.Event{Kind: eventbus.KindNotified, CycleID: "c1"})
		resp, body := get(t, ts.URL+"/status", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d body=%s", resp.StatusCode, body)
		}
		rep = Report{}
		if err := json.Unmarshal([]byte(body), &rep); err != nil {
			t.Fatalf("decode: %v\n%s", err, body)
		}
		if len(rep.Events) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if rep.Version != "v1.2.3" {
		t.Fatalf("version=%q", rep.Version)
	}
	if rep.Loop == nil || rep.Loop.State != "sleeping" || rep.Loop.Notified.Reviews != 2 {
		t.Fatalf("loop=%+v", rep.Loop)
	}
	if rep.Goroutines == nil || rep.Goroutines.Active != 2 {
		t.Fatalf("goroutines=%+v", rep.Goroutines)
	}
	if rep.LastSaved == nil || rep.LastSaved.CycleID != "c1" || rep.LastSaved.State.Reviews != 2 {
		t.Fatalf("last_saved=%+v", rep.LastSaved)
	}
	if len(rep.Events) == 0 || rep.Events[0].Kind != eventbus.KindNotified {
		t.Fatalf("events=%+v", rep.Events)
	}

	cancel()
	select {
	case <-tracked:
	case <-time.After(2 * time.Second):
		t.Fatalf("Track did not return after cancel")
	}
}

func TestHealthAndProfiler(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(New(Config{}, Sources{}, "", logx.Nop()).Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", resp.StatusCode, body)
	}
	resp, _ = get(t, ts.URL+"/debug/pprof/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof index: %d", resp.StatusCode)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(New(Config{Token: "s3cret"}, Sources{}, "", logx.Nop()).Handler())
	defer ts.Close()

	tests := []struct {
		name string
		path string
		hdr  map[string]string
		want int
	}{
		{"none", "/healthz", nil, http.StatusUnauthorized},
		{"bearer", "/healthz", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"bad bearer", "/healthz", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"query", "/healthz?token=s3cret", nil, http.StatusOK},
		{"bad query", "/healthz?token=nope", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		resp, _ := get(t, ts.URL+tt.path, tt.hdr)
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: status=%d want %d", tt.name, resp.StatusCode, tt.want)
		}
	}
}

func TestRunRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "0.0.0.0:0"}, Sources{}, "", logx.Nop())
	err := s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "insecure") {
		t.Fatalf("err=%v", err)
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	t.Parallel()

	s := New(Config{Addr: "127.0.0.1:0"}, Sources{}, "", logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, body := get(t, "http://"+s.Addr()+"/healthz", nil)
	if resp.StatusCode != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"127.0.0.1:7391": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":7391":          false,
		"0.0.0.0:7391":   false,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v want %v", addr, got, want)
		}
	}
}
