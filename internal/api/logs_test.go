package api

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/urumi/internal/model"
)

func createRecord(t *testing.T, env *testEnv, status string) string {
	t.Helper()
	id := model.NewStoreID()
	st := &model.Store{
		ID: id, Name: "Demo", Type: "woocommerce", Status: model.StatusProvisioning,
		URL: "http://" + id + ".localtest.me", CreatedAt: time.Now().UTC(),
	}
	if err := env.store.CreateStore(context.Background(), st); err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if status != model.StatusProvisioning {
		if err := env.store.UpdateStoreStatus(context.Background(), id, status); err != nil {
			t.Fatalf("UpdateStoreStatus: %v", err)
		}
	}
	return id
}

func TestStreamLogsNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/stores/urumi-00000/logs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamLogsFinishedStore(t *testing.T) {
	env := newTestEnv(t)
	id := createRecord(t, env, model.StatusReady)

	resp, err := http.Get(env.ts.URL + "/stores/" + id + "/logs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("body = %q, want empty stream", body)
	}
}

func TestStreamLogsLive(t *testing.T) {
	env := newTestEnv(t)
	id := createRecord(t, env, model.StatusProvisioning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/stores/"+id+"/logs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	// Headers are flushed after subscribing, so publishing now is observed.
	env.broker.Publish(id, "Release \"x\" does not exist. Installing it now.")
	env.broker.Publish(id, "line one\nline two")
	env.broker.Close(id)

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	got := strings.Join(lines, "\n")
	want := strings.Join([]string{
		`data: Release "x" does not exist. Installing it now.`,
		"",
		"data: line one",
		"data: line two",
		"",
		"event: done",
		"data: stream complete",
		"",
	}, "\n")
	if got != want {
		t.Errorf("stream =\n%s\nwant\n%s", got, want)
	}
}

func TestStreamLogsEndsWhenStoreDeleted(t *testing.T) {
	env := newTestEnv(t)
	id := createRecord(t, env, model.StatusProvisioning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/stores/"+id+"/logs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	del := doDelete(t, env, "/stores/"+id)
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", del.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(body), "event: done") {
		t.Errorf("stream = %q, want done event", body)
	}
}

func TestStreamLogsWithoutBroker(t *testing.T) {
	env := newTestEnv(t)
	env.srv.broker = nil
	id := createRecord(t, env, model.StatusProvisioning)

	resp, err := http.Get(env.ts.URL + "/stores/" + id + "/logs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || len(body) != 0 {
		t.Errorf("status %d body %q, want 200 and empty", resp.StatusCode, body)
	}
}
