package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
)

func badLogin(username string) string {
	return fmt.Sprintf(`{"username":%q,"password":"definitely-wrong"}`, username)
}

func TestCaptchaEscalationOverHTTP(t *testing.T) {
	env := newGateEnv(t, guardTuning{loginMax: 50, captchaThreshold: 2, lockoutMax: 10})

	for i := 0; i < 2; i++ {
		resp, body := env.doJSON(t, http.MethodPost, "/api/v1/auth/login", nil, badLogin("member"))
		if resp.StatusCode != http.StatusUnauthorized || env.errorCode(body) != "INVALID_CREDENTIALS" {
			t.Fatalf("attempt %d: expected 401 INVALID_CREDENTIALS, got %d %s", i+1, resp.StatusCode, env.errorCode(body))
		}
	}

	// Threshold reached: even the correct password is refused until the
	// challenge is solved.
	resp, body := env.doJSON(t, http.MethodPost, "/api/v1/auth/login", nil,
		fmt.Sprintf(`{"username":"member","password":%q}`, integrationPassword))
	if resp.StatusCode != http.StatusForbidden || env.errorCode(body) != "CAPTCHA_REQUIRED" {
		t.Fatalf("expected 403 CAPTCHA_REQUIRED, got %d %s", resp.StatusCode, env.errorCode(body))
	}

	resp, body = env.doJSON(t, http.MethodGet, "/api/v1/auth/captcha", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("captcha: expected 200, got %d", resp.StatusCode)
	}
	var challenge struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body.Data, &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.Challenge == "" {
		t.Fatal("expected a challenge code")
	}

	resp, body = env.doJSON(t, http.MethodPost, "/api/v1/auth/login", nil,
		fmt.Sprintf(`{"username":"member","password":%q,"captcha_code":%q}`, integrationPassword, challenge.Challenge))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login with captcha: expected 200, got %d %s", resp.StatusCode, env.errorCode(body))
	}

	// A wrong solution on a fresh challenge is rejected and the code is spent.
	// The defense state was reset by the success above, so re-arm it first.
	for i := 0; i < 2; i++ {
		env.doJSON(t, http.MethodPost, "/api/v1/auth/login", nil, badLogin("member"))
	}
	resp, body = env.doJSON(t, http.MethodGet, "/api/v1/auth/captcha", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second captcha: expected 200, got %d", resp.StatusCode)
	}
	resp, body = env.doJSON(t, http.MethodPost, "/api/v1/auth/login", nil,
		fmt.Sprintf(`{"username":"member","password":%q,"captcha_code":"000000"}`, integrationPassword))
	if resp.StatusCode != http.StatusForbidden || env.errorCode(body) != "CAPTCHA_INVALID" {
		t.Fatalf("expected 403 CAPTCHA_INVALID, got %d %s", resp.StatusCode, env.errorCode(body))
	}
}

func TestLockoutOverHTTP(t *testing.T) {
	env := newGateEnv(t, guardTuning{loginMax: 50, captchaThreshold: 10, lockoutMax: 2})

	// The arming attempt still reads as bad credentials.
	for i := 0; i < 2; i++ {
		resp, body := env.doJSON(t, http.MethodPost, "/api/v1/auth/login", nil, badLogin("member"))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d %s", i+1, resp.StatusCode, env.errorCode(body))
		}
	}

	resp, body := env.doJSON(t, http.MethodPost, "/api/v1/auth/login", nil,
		fmt.Sprintf(`{"username":"member","password":%q}`, integrationPassword))
	if resp.StatusCode != http.StatusForbidden || env.errorCode(body) != "ACCOUNT_LOCKED" {
		t.Fatalf("expected 403 ACCOUNT_LOCKED, got %d %s", resp.StatusCode, env.errorCode(body))
	}

	// The lock binds the identity, not the caller: other accounts still work.
	if csrf := env.login(t, "admin", integrationPassword); csrf == "" {
		t.Fatal("expected admin login to succeed")
	}
}

func TestLoginRateLimitOverHTTP(t *testing.T) {
	env := newGateEnv(t, guardTuning{loginMax: 2, captchaThreshold: 10, lockoutMax: 10})

	for i := 0; i < 2; i++ {
		env.doJSON(t, http.MethodPost, "/api/v1/auth/login", nil, badLogin("member"))
	}

	resp, body := env.doJSON(t, http.MethodPost, "/api/v1/auth/login", nil, badLogin("member"))
	if resp.StatusCode != http.StatusTooManyRequests || env.errorCode(body) != "RATE_LIMITED" {
		t.Fatalf("expected 429 RATE_LIMITED, got %d %s", resp.StatusCode, env.errorCode(body))
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}
