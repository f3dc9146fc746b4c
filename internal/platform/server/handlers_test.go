package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"vault-gateway/internal/bootstrap"
	"vault-gateway/internal/notify"
	"vault-gateway/internal/platform/config"
	"vault-gateway/internal/security/audit"
	vaultpkg "vault-gateway/internal/vault"
	"vault-gateway/internal/vault/approval"
	"vault-gateway/internal/vault/store"
)

// newTestRouter 建立完整依賴的測試路由
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if err := config.Load(&config.Config{
		App:    config.AppConfig{Name: "vault-gateway", Version: "test", Debug: true},
		Server: config.ServerConfig{Host: "127.0.0.1", Port: "0", Timeout: 5},
		Vault:  config.VaultConfig{Dir: t.TempDir(), AutoSave: true, AuditEnabled: true},
		Log:    config.LogConfig{RotationTimeHours: 24, MaxAgeDays: 7, MaxSizeMB: 100},
	}); err != nil {
		t.Fatalf("failed to load test config: %v", err)
	}

	auditLog := audit.NewLog(100, true)
	approvals := approval.NewController(auditLog)

	dir := t.TempDir()
	s, err := store.New(store.Options{Dir: dir, AutoSave: true}, approvals, auditLog)
	if err != nil {
		t.Fatal(err)
	}

	channel, err := notify.NewChannel(notify.Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(channel.Close)

	tokens, err := bootstrap.NewManager(dir, bootstrap.Config{}, auditLog)
	if err != nil {
		t.Fatal(err)
	}

	return Router(&Dependencies{
		Vault:   vaultpkg.New(s, approvals, auditLog),
		Channel: channel,
		Tokens:  tokens,
	})
}

// doJSON 發送 JSON 請求
func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// TestSecretLifecycle 完整生命週期：新增 → 未核准讀取 403 → 授予核准 → 讀取 → 刪除
func TestSecretLifecycle(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/secrets", gin.H{"key": "API_KEY", "value": "abc123"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// 未核准讀取被拒
	w = doJSON(t, r, http.MethodGet, "/api/v1/secrets/API_KEY", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("get without approval: expected 403, got %d", w.Code)
	}

	// 本地授予核准
	w = doJSON(t, r, http.MethodPost, "/api/v1/approval/grant", gin.H{"duration": 60})
	if w.Code != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/secrets/API_KEY", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var getResp struct {
		Data struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &getResp); err != nil {
		t.Fatal(err)
	}
	if getResp.Data.Value != "abc123" {
		t.Errorf("value mismatch: %q", getResp.Data.Value)
	}

	// 列表包含鍵名
	w = doJSON(t, r, http.MethodGet, "/api/v1/secrets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/v1/secrets/API_KEY", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/secrets/API_KEY/metadata", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("metadata after delete: expected 404, got %d", w.Code)
	}
}

func TestValidationErrors(t *testing.T) {
	r := newTestRouter(t)

	testCases := []struct {
		name string
		body gin.H
		want int
	}{
		{"Missing value", gin.H{"key": "KEY"}, http.StatusBadRequest},
		{"Path traversal key", gin.H{"key": "../etc/passwd", "value": "v"}, http.StatusBadRequest},
		{"Illegal chars", gin.H{"key": "bad key!", "value": "v"}, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/v1/secrets", tc.body)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}

	// 重複新增 → 409
	if w := doJSON(t, r, http.MethodPost, "/api/v1/secrets", gin.H{"key": "DUP", "value": "v"}); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/v1/secrets", gin.H{"key": "DUP", "value": "v"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate: expected 409, got %d", w.Code)
	}
}

func TestApprovalStatusAndLock(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/approval/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	var status struct {
		Approved bool `json:"approved"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Approved {
		t.Error("vault should boot locked")
	}

	if w := doJSON(t, r, http.MethodPost, "/api/v1/approval/grant", gin.H{"duration": 60}); w.Code != http.StatusOK {
		t.Fatalf("grant failed: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/api/v1/vault/lock", nil); w.Code != http.StatusOK {
		t.Fatalf("lock failed: %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/approval/status", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Approved {
		t.Error("vault should be locked after lock endpoint")
	}
}

// TestBootstrapValidate 啟動 token 驗證成功後解鎖保險庫並輪換 token
func TestBootstrapValidate(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/bootstrap/startup-token", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d", w.Code)
	}
	var gen struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &gen); err != nil {
		t.Fatal(err)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/bootstrap/validate", gin.H{"token": gen.Token})
	if w.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result struct {
		Valid          bool   `json:"valid"`
		Kind           string `json:"kind"`
		RotatedToken   string `json:"rotatedToken"`
		UnlockDuration int    `json:"unlockDuration"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.Kind != "startup" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.RotatedToken == "" || result.RotatedToken == gen.Token {
		t.Error("startup token was not rotated")
	}
	if result.UnlockDuration <= 0 {
		t.Error("expected unlock duration")
	}

	// 驗證成功後保險庫已解鎖
	var status struct {
		Approved bool `json:"approved"`
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/approval/status", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if !status.Approved {
		t.Error("vault should be unlocked after startup token validation")
	}

	// 無效 token → 401
	w = doJSON(t, r, http.MethodPost, "/api/v1/bootstrap/validate", gin.H{"token": "bogus"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bogus token: expected 401, got %d", w.Code)
	}
}

// TestBootstrapValidateKind 指定種類時只匹配該種類的憑證
func TestBootstrapValidateKind(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/bootstrap/startup-token", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d", w.Code)
	}
	var gen struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &gen); err != nil {
		t.Fatal(err)
	}

	// 種類不符 → 401，且 token 未被消耗
	w = doJSON(t, r, http.MethodPost, "/api/v1/bootstrap/validate", gin.H{"token": gen.Token, "kind": "pairing"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("kind mismatch: expected 401, got %d", w.Code)
	}

	// 未知種類 → 400
	w = doJSON(t, r, http.MethodPost, "/api/v1/bootstrap/validate", gin.H{"token": gen.Token, "kind": "bogus"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind: expected 400, got %d", w.Code)
	}

	// 種類相符 → 驗證成功
	w = doJSON(t, r, http.MethodPost, "/api/v1/bootstrap/validate", gin.H{"token": gen.Token, "kind": "startup"})
	if w.Code != http.StatusOK {
		t.Fatalf("matching kind: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result struct {
		Valid bool   `json:"valid"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.Kind != "startup" {
		t.Errorf("unexpected result: %+v", result)
	}
}

// TestAuditLogSinceFilter 審計查詢的 since 參數過濾掉更早的條目
func TestAuditLogSinceFilter(t *testing.T) {
	r := newTestRouter(t)

	if w := doJSON(t, r, http.MethodPost, "/api/v1/secrets", gin.H{"key": "AUDITED", "value": "v"}); w.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	w := doJSON(t, r, http.MethodGet, "/api/v1/vault/audit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count == 0 {
		t.Fatal("expected audit entries after adding a secret")
	}

	// 未來的 since 過濾掉所有既有條目
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	w = doJSON(t, r, http.MethodGet, "/api/v1/vault/audit?since="+future, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("audit with since: expected 200, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 0 {
		t.Errorf("expected 0 entries with future since, got %d", resp.Count)
	}

	// 無法解析的 since → 400
	if w := doJSON(t, r, http.MethodGet, "/api/v1/vault/audit?since=not-a-time", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad since: expected 400, got %d", w.Code)
	}
}

func TestApproverRespondAccepted(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/approver/respond", gin.H{"type": "heartbeat"})
	if w.Code != http.StatusAccepted {
		t.Errorf("respond: expected 202, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/approver/respond", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body: expected 400, got %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	if w := doJSON(t, r, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/metrics", nil); w.Code != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", w.Code)
	}
}
