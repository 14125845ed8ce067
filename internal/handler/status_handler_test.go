package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/api"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/auth"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/domain"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/kvstore"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/realtime"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/tracker"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
)

type stubAPI struct{}

func (stubAPI) SendVerificationCode(context.Context, string) error { return nil }
func (stubAPI) VerifyCode(context.Context, string, string) (*api.VerifyResult, error) {
	return nil, api.ErrUnauthorized
}
func (stubAPI) GetProfile(context.Context) (*domain.User, error)  { return nil, api.ErrUnauthorized }
func (stubAPI) UpdateProfile(context.Context, *domain.User) error { return nil }
func (stubAPI) CheckAdminStatus(context.Context) (*domain.AdminProfile, error) {
	return nil, nil
}
func (stubAPI) CheckCourierStatus(context.Context) (*domain.CourierProfile, error) {
	return nil, nil
}
func (stubAPI) SetCourierOnline(context.Context, bool) error          { return nil }
func (stubAPI) UpsertDevice(context.Context, *api.DeviceUpsert) error { return nil }
func (stubAPI) ValidateToken(context.Context) error                   { return nil }
func (stubAPI) SetToken(string)                                       {}
func (stubAPI) ClearToken()                                           {}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	session := auth.NewManager(nil, stubAPI{}, nil, kvstore.NewMemory(), log)
	t.Cleanup(session.Close)
	channel := realtime.NewChannel(&realtime.Config{URL: "ws://localhost/ws"}, realtime.NewWebSocketTransport(), nil, session, log)
	tr := tracker.New(tracker.Config{}, nil, nil, nil, log)

	r := gin.New()
	NewStatusHandler(session, channel, tr, "test").RegisterRoutes(r)
	return r
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Status  string `json:"status"`
			Version string `json:"version"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "ok", body.Data.Status)
	assert.Equal(t, "test", body.Data.Version)
}

func TestStatus_AnonymousIdle(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Auth struct {
				LoggedIn bool `json:"loggedIn"`
			} `json:"auth"`
			Channel struct {
				State string `json:"state"`
			} `json:"channel"`
			Tracker struct {
				Running bool   `json:"running"`
				Mode    string `json:"mode"`
			} `json:"tracker"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Data.Auth.LoggedIn)
	assert.Equal(t, "disconnected", body.Data.Channel.State)
	assert.False(t, body.Data.Tracker.Running)
	assert.Equal(t, "stopped", body.Data.Tracker.Mode)
}
