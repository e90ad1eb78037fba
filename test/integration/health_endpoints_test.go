package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestHealthEndpoints(t *testing.T) {
	env := newGateEnv(t, defaultTuning())

	resp, body := env.doJSON(t, http.MethodGet, "/health/live", nil, "")
	if resp.StatusCode != http.StatusOK || !body.Success {
		t.Fatalf("live: status=%d success=%v", resp.StatusCode, body.Success)
	}
	var live map[string]string
	if err := json.Unmarshal(body.Data, &live); err != nil {
		t.Fatalf("decode live: %v", err)
	}
	if live["status"] != "ok" {
		t.Fatalf("expected status=ok, got %+v", live)
	}

	resp, body = env.doJSON(t, http.MethodGet, "/health/ready", nil, "")
	if resp.StatusCode != http.StatusOK || !body.Success {
		t.Fatalf("ready: status=%d success=%v", resp.StatusCode, body.Success)
	}
}

func TestReadyReportsDeadRedis(t *testing.T) {
	env := newGateEnv(t, defaultTuning())
	env.redis.Close()

	resp, body := env.doJSON(t, http.MethodGet, "/health/ready", nil, "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with dead redis, got %d", resp.StatusCode)
	}
	if env.errorCode(body) != "DEPENDENCY_UNREADY" {
		t.Fatalf("expected DEPENDENCY_UNREADY, got %q", env.errorCode(body))
	}
}
