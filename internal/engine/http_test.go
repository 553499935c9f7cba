package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ent0n29/navi/internal/processor"
)

func collectEvents(t *testing.T, fn processor.ProcessFunc, req processor.Request) []processor.Event {
	t.Helper()
	var out []processor.Event
	err := fn(context.Background(), req, func(ev processor.Event) error {
		out = append(out, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	return out
}

func TestHTTPEngineStreamsNDJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"kind":"thought","text":"Step 1/2: open the page"}`)
		fmt.Fprintln(w, `{"kind":"thought","text":"✅ Completed step 1: open the page"}`)
		fmt.Fprintln(w, `{"kind":"final_result","result":"Done.","has_failed_steps":false}`)
	}))
	defer ts.Close()

	events := collectEvents(t, NewHTTPEngine(ts.URL).Process, processor.Request{TaskID: "t1", Command: "open the page"})
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].Kind != processor.KindThought || !strings.HasPrefix(events[0].Text, "Step 1/2") {
		t.Fatalf("events[0] = %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Kind != processor.KindFinalResult || last.Result != "Done." {
		t.Fatalf("last event = %+v", last)
	}
}

func TestHTTPEngineParsesSSEDataLines(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"kind":"thought","text":"Step 1/1: click"}`)
		fmt.Fprintln(w)
		fmt.Fprintln(w, `data: {"kind":"final_result","result":"ok"}`)
	}))
	defer ts.Close()

	events := collectEvents(t, NewHTTPEngine(ts.URL).Process, processor.Request{TaskID: "t1", Command: "click"})
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[1].Result != "ok" {
		t.Fatalf("events[1] = %+v", events[1])
	}
}

func TestHTTPEngineRetriesRetryableStatus(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, `{"kind":"final_result","result":"ok"}`)
	}))
	defer ts.Close()

	events := collectEvents(t, NewHTTPEngine(ts.URL).Process, processor.Request{TaskID: "t1", Command: "go"})
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if len(events) != 1 || events[0].Result != "ok" {
		t.Fatalf("events = %+v", events)
	}
}

func TestHTTPEngineDoesNotRetryClientError(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad command", http.StatusBadRequest)
	}))
	defer ts.Close()

	err := NewHTTPEngine(ts.URL).Process(context.Background(), processor.Request{TaskID: "t1", Command: "go"}, func(processor.Event) error {
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("error = %v, want status 400", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestHTTPEngineSurfacesStreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"kind":"thought","text":"Step 1/1: open"}`)
		fmt.Fprintln(w, `{"kind":"error","code":"browser_crashed","text":"tab closed"}`)
	}))
	defer ts.Close()

	var events []processor.Event
	err := NewHTTPEngine(ts.URL).Process(context.Background(), processor.Request{TaskID: "t1", Command: "open"}, func(ev processor.Event) error {
		events = append(events, ev)
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "browser_crashed") {
		t.Fatalf("error = %v, want engine error", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want the pre-error thought only", len(events))
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(Config{Mode: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
	if _, err := New(Config{Mode: "http"}); err == nil {
		t.Fatalf("expected error for http mode without url")
	}
	if fn, err := New(Config{Mode: "mock"}); err != nil || fn == nil {
		t.Fatalf("mock mode: fn=%v err=%v", fn, err)
	}
}
