package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sustainage/admission-gate/internal/clock"
	"github.com/sustainage/admission-gate/internal/domain"
	"github.com/sustainage/admission-gate/internal/http/handler"
	"github.com/sustainage/admission-gate/internal/http/router"
	"github.com/sustainage/admission-gate/internal/repository"
	"github.com/sustainage/admission-gate/internal/security"
	"github.com/sustainage/admission-gate/internal/service"
)

// The integration fixture runs the real router over HTTP with the
// redis-backed stores, the combination a multi-replica deployment uses.
type gateEnv struct {
	baseURL  string
	client   *http.Client
	redis    *miniredis.Miniredis
	licenses *service.LicenseService
	users    repository.UserRepository
}

type guardTuning struct {
	loginMax         int
	captchaThreshold int
	lockoutMax       int
}

func defaultTuning() guardTuning {
	return guardTuning{loginMax: 50, captchaThreshold: 3, lockoutMax: 5}
}

const integrationPassword = "integration-pass"

func newGateEnv(t *testing.T, tuning guardTuning) *gateEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	server := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	clk := clock.System()
	users := repository.NewUserRepository(db)
	sessions := service.NewSessionService(repository.NewSessionRepository(db), "integration-pepper", 30*time.Minute, clk)
	trail := service.NewAuditTrail(repository.NewAuditRepository(db), clk)
	codec := security.NewTokenCodec("sustainage-gate", "0123456789abcdef0123456789abcdef", clk)
	licenses := service.NewLicenseService(codec, repository.NewLicenseRepository(db), clk)
	licenses.UseDenialCache(service.NewRedisDenialCache(redisClient, "itest_denial"), 30*time.Second)
	limiter := service.NewRedisRateLimiter(redisClient, "itest_rl", clk)
	guard := service.NewLoginGuard(
		limiter,
		service.NewLockoutService(repository.NewLockoutRepository(db), clk, tuning.lockoutMax, 5*time.Minute),
		service.NewRedisChallengeStore(redisClient, "itest_challenge"),
		service.NewAuthenticator(users),
		service.GuardConfig{
			LoginMax: tuning.loginMax, LoginWindow: 10 * time.Minute,
			CaptchaThreshold: tuning.captchaThreshold, CaptchaTTL: 3 * time.Minute,
			CaptchaDigits: 6, EscalationTTL: 5 * time.Minute,
		},
	)
	approvals := service.NewApprovalService(repository.NewApprovalRepository(db), trail, clk, 2*time.Minute)

	hash, err := service.HashPassword(integrationPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	for _, u := range []*domain.User{
		{Username: "admin", PasswordHash: hash, CompanyID: 1, IsActive: true, IsAdmin: true},
		{Username: "member", PasswordHash: hash, CompanyID: 1, IsActive: true},
	} {
		if err := users.Create(context.Background(), u); err != nil {
			t.Fatalf("seed %s: %v", u.Username, err)
		}
	}

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(guard, sessions, trail, false),
		LicenseHandler:     handler.NewLicenseHandler(licenses, trail),
		AdminHandler:       handler.NewAdminHandler(users, sessions, approvals, trail, clk),
		Licenses:           licenses,
		Sessions:           sessions,
		Users:              users,
		RateLimiter:        limiter,
		Bypass:             service.NewBypassList(nil),
		APIRateLimitMax:    1000,
		APIRateLimitWindow: time.Minute,
		ReadyChecks: map[string]router.ReadyCheck{
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &gateEnv{
		baseURL:  srv.URL,
		client:   &http.Client{Jar: jar, Timeout: 5 * time.Second},
		redis:    server,
		licenses: licenses,
		users:    users,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *gateEnv) doJSON(t *testing.T, method, path string, headers map[string]string, body string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, e.baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s envelope: %v", method, path, err)
	}
	return resp, env
}

func (e *gateEnv) errorCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

// login authenticates through the real endpoint; the client jar keeps the
// session and csrf cookies. The csrf value is returned for the header.
func (e *gateEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	resp, env := e.doJSON(t, http.MethodPost, "/api/v1/auth/login", nil,
		fmt.Sprintf(`{"username":%q,"password":%q}`, username, password))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d code=%s", resp.StatusCode, e.errorCode(env))
	}
	for _, c := range resp.Cookies() {
		if c.Name == "csrf_token" {
			return c.Value
		}
	}
	t.Fatal("expected csrf cookie on login")
	return ""
}
