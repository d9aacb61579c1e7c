package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/ingest"
	"conveyor/internal/jobs"
	"conveyor/internal/queue"
	"conveyor/internal/store"
	"conveyor/internal/testsupport"
)

// fakeConverterServer accepts every submit and reports immediate completion.
func fakeConverterServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "ext-1"})
	})
	mux.HandleFunc("/v1/jobs/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "completed", "progress": 1})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// rejectingConverterServer refuses every submit with an unprocessable-entity
// response, which the client classifies as a permanent validation failure.
func rejectingConverterServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported container", http.StatusUnprocessableEntity)
	}))
	t.Cleanup(server.Close)
	return server
}

func newDaemon(t *testing.T, tune func(*config.Config)) (*daemon.Daemon, *config.Config, *store.Store, *queue.Queue) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Converter.BaseURL = fakeConverterServer(t).URL
	if tune != nil {
		tune(cfg)
	}
	database := testsupport.MustOpenDB(t, cfg)
	d, err := daemon.New(cfg, database, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, cfg, store.New(database), queue.New(database)
}

func TestLockPreventsSecondInstance(t *testing.T) {
	first, cfg, _, _ := newDaemon(t, nil)
	ctx := context.Background()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	database := testsupport.MustOpenDB(t, cfg)
	second, err := daemon.New(cfg, database, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second instance to fail on the lock")
	}
}

func TestPipelineProcessesEnqueuedJob(t *testing.T) {
	d, _, st, q := newDaemon(t, func(cfg *config.Config) {
		cfg.Queue.ReceiveIdleWait = 1
	})
	ctx := context.Background()

	listener := ingest.New(st, q, nil)
	jobID, created, err := listener.Enqueue(ctx, "media/input.mov", "media/output.mp4")
	if err != nil || !created {
		t.Fatalf("Enqueue: created=%v err=%v", created, err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for {
		rec, err := st.Get(ctx, jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Status == jobs.StatusSucceeded {
			break
		}
		if rec.Status == jobs.StatusFailed {
			t.Fatalf("job failed: %+v", rec.LastError)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job not finished, status %s", rec.Status)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestPipelineDeadLettersRejectedSubmission(t *testing.T) {
	d, _, st, q := newDaemon(t, func(cfg *config.Config) {
		cfg.Converter.BaseURL = rejectingConverterServer(t).URL
		cfg.Queue.ReceiveIdleWait = 1
	})
	ctx := context.Background()

	listener := ingest.New(st, q, nil)
	jobID, _, err := listener.Enqueue(ctx, "media/broken.mov", "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for {
		rec, err := st.Get(ctx, jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Status == jobs.StatusFailed {
			if rec.LastError == nil || rec.LastError.Kind != jobs.KindValidation {
				t.Fatalf("unexpected last error: %+v", rec.LastError)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job not failed, status %s", rec.Status)
		}
		time.Sleep(25 * time.Millisecond)
	}

	// The triggering message lands in the dead-letter queue alongside the
	// FAILED record.
	deadline = time.Now().Add(5 * time.Second)
	for {
		letters, err := q.DeadLetters(ctx, 0)
		if err != nil {
			t.Fatalf("DeadLetters: %v", err)
		}
		if len(letters) == 1 && letters[0].JobID == jobID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected dead letter for %s, got %+v", jobID, letters)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestStatusAndJobEndpoints(t *testing.T) {
	d, _, st, q := newDaemon(t, nil)
	ctx := context.Background()

	listener := ingest.New(st, q, nil)
	jobID, _, err := listener.Enqueue(ctx, "media/input.mov", "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	base := "http://" + d.APIAddr()

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.Jobs.Total != 1 {
		t.Fatalf("unexpected status payload: %+v", status)
	}

	jobResp, err := http.Get(base + "/api/jobs/" + jobID)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer jobResp.Body.Close()
	if jobResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected job status code %d", jobResp.StatusCode)
	}
	var view daemon.JobView
	if err := json.NewDecoder(jobResp.Body).Decode(&view); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if view.JobID != jobID || view.InputRef != "media/input.mov" {
		t.Fatalf("unexpected job view: %+v", view)
	}

	missing, err := http.Get(base + "/api/jobs/nope")
	if err != nil {
		t.Fatalf("GET missing job: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", missing.StatusCode)
	}

	letters, err := http.Get(base + "/api/deadletters")
	if err != nil {
		t.Fatalf("GET deadletters: %v", err)
	}
	defer letters.Body.Close()
	if letters.StatusCode != http.StatusOK {
		t.Fatalf("unexpected deadletters status code %d", letters.StatusCode)
	}
}

func TestAPIBearerToken(t *testing.T) {
	d, _, _, _ := newDaemon(t, func(cfg *config.Config) {
		cfg.API.Token = "secret"
	})
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	base := "http://" + d.APIAddr()

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", authed.StatusCode)
	}
}

func TestJobsEndpointFiltersByStatus(t *testing.T) {
	d, _, st, q := newDaemon(t, nil)
	ctx := context.Background()

	listener := ingest.New(st, q, nil)
	if _, _, err := listener.Enqueue(ctx, "media/a.mov", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, _, err := listener.Enqueue(ctx, "media/b.mov", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := st.Cancel(ctx, jobs.DeriveID("media/b.mov"), "operator request"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	base := "http://" + d.APIAddr()
	resp, err := http.Get(base + "/api/jobs?status=failed")
	if err != nil {
		t.Fatalf("GET jobs: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Jobs []daemon.JobView `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(payload.Jobs) != 1 || payload.Jobs[0].Status != jobs.StatusFailed {
		t.Fatalf("unexpected filtered jobs: %+v", payload.Jobs)
	}

	bad, err := http.Get(base + "/api/jobs?status=bogus")
	if err != nil {
		t.Fatalf("GET bogus status: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", bad.StatusCode)
	}
}
