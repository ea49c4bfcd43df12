package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/database"
	"github.com/chatgate/chatgate/internal/keystore"
	"github.com/chatgate/chatgate/internal/settings"
)

const testToken = "mgmt-secret"

func newTestAPI(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbCfg := database.DefaultConfig()
	dbCfg.Path = ":memory:"
	db, err := database.New(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{
		AdminListenAddr:   ":0",
		ManagementToken:   testToken,
		DefaultDailyLimit: 100,
	}
	return NewServer(cfg, db, db, zap.NewNop())
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestManagementTokenRequired(t *testing.T) {
	s := newTestAPI(t)

	for _, token := range []string{"", "wrong-token"} {
		rec := doJSON(t, s, http.MethodGet, "/manage/keys", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := doJSON(t, s, http.MethodGet, "/manage/keys", testToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestManagementTokenUnconfiguredRejectsAll(t *testing.T) {
	s := newTestAPI(t)
	s.config.ManagementToken = ""
	rec := doJSON(t, s, http.MethodGet, "/manage/keys", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKeyLifecycle(t *testing.T) {
	s := newTestAPI(t)

	limit := 25
	rec := doJSON(t, s, http.MethodPost, "/manage/keys", testToken, map[string]any{
		"daily_limit": limit,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created keystore.Key
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.Key, keystore.KeyPrefix))
	assert.Equal(t, 25, created.DailyLimit)
	assert.Equal(t, 0, created.UsageCount)
	assert.NotEmpty(t, created.UsageDate)

	rec = doJSON(t, s, http.MethodGet, "/manage/keys/"+created.Key, testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPatch, "/manage/keys/"+created.Key, testToken, map[string]any{
		"daily_limit":    50,
		"selected_model": "mc-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated keystore.Key
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, 50, updated.DailyLimit)
	assert.Equal(t, "mc-1", updated.SelectedModelID)

	rec = doJSON(t, s, http.MethodDelete, "/manage/keys/"+created.Key, testToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/manage/keys/"+created.Key, testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfileLifecycle(t *testing.T) {
	s := newTestAPI(t)

	rec := doJSON(t, s, http.MethodPost, "/manage/profiles", testToken, settings.Profile{
		Name:   "eu-fast",
		APIURL: "https://eu.example/v1",
		APIKey: "sk-eu",
		Speed:  settings.SpeedFast,
		Active: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p settings.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.NotEmpty(t, p.ID)

	p.Active = false
	rec = doJSON(t, s, http.MethodPut, "/manage/profiles/"+p.ID, testToken, p)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/manage/profiles/"+p.ID, testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got settings.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Active)

	rec = doJSON(t, s, http.MethodDelete, "/manage/profiles/"+p.ID, testToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, s, http.MethodGet, "/manage/profiles/"+p.ID, testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModelConfigLifecycle(t *testing.T) {
	s := newTestAPI(t)

	rec := doJSON(t, s, http.MethodPost, "/manage/models", testToken, settings.ModelConfig{
		Name:         "tutor",
		SystemPrompt: "Answer as a patient tutor.",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m settings.ModelConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.NotEmpty(t, m.ID)

	rec = doJSON(t, s, http.MethodDelete, "/manage/models/"+m.ID, testToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSettingsUpdate(t *testing.T) {
	s := newTestAPI(t)

	in := settings.Settings{
		APIURL:       "https://api.example.com/v1",
		APIKey:       "sk-upstream",
		ModelDisplay: "Public-Model",
		ModelActual:  "vendor-model-4",
	}
	rec := doJSON(t, s, http.MethodPut, "/manage/settings", testToken, in)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/manage/settings", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got settings.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, in, got)
}
