package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/api"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/domain"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/kvstore"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/push"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
)

type fakeAPI struct {
	mu sync.Mutex

	sendErr     error
	verifyRes   *api.VerifyResult
	verifyErr   error
	profile     *domain.User
	profileErr  error
	admin       *domain.AdminProfile
	adminErr    error
	courier     *domain.CourierProfile
	courierErr  error
	validateErr error
	upsertErr   error
	updateErr   error
	onlineErr   error

	token       string
	sentPhone   string
	verified    [][2]string
	upserts     []api.DeviceUpsert
	onlineCalls []bool
	validations int
}

func (f *fakeAPI) SendVerificationCode(_ context.Context, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentPhone = phone
	return nil
}

func (f *fakeAPI) VerifyCode(_ context.Context, phone, code string) (*api.VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, [2]string{phone, code})
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyRes, nil
}

func (f *fakeAPI) GetProfile(_ context.Context) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	u := *f.profile
	return &u, nil
}

func (f *fakeAPI) UpdateProfile(_ context.Context, _ *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateErr
}

func (f *fakeAPI) CheckAdminStatus(_ context.Context) (*domain.AdminProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admin, f.adminErr
}

func (f *fakeAPI) CheckCourierStatus(_ context.Context) (*domain.CourierProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.courier, f.courierErr
}

func (f *fakeAPI) SetCourierOnline(_ context.Context, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onlineCalls = append(f.onlineCalls, online)
	return f.onlineErr
}

func (f *fakeAPI) UpsertDevice(_ context.Context, dev *api.DeviceUpsert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, *dev)
	return nil
}

func (f *fakeAPI) ValidateToken(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validations++
	return f.validateErr
}

func (f *fakeAPI) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeAPI) ClearToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
}

func (f *fakeAPI) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeAPI) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

type fakeProvider struct {
	mu sync.Mutex

	permission push.PermissionStatus
	requestRes bool
	requestErr error
	installID  string
	subID      string
	loginErr   error
	logoutErr  error

	requests int
	logins   []string
	logouts  int
	tags     map[string]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{permission: push.PermissionUndetermined, tags: map[string]string{}}
}

func (f *fakeProvider) RequestPermission(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.requestErr != nil {
		return false, f.requestErr
	}
	if f.requestRes {
		f.permission = push.PermissionGranted
	} else {
		f.permission = push.PermissionDenied
	}
	return f.requestRes, nil
}

func (f *fakeProvider) GetPermissionStatus(_ context.Context) (push.PermissionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission, nil
}

func (f *fakeProvider) GetInstallID(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installID, nil
}

func (f *fakeProvider) GetSubscriptionID(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subID, nil
}

func (f *fakeProvider) Login(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return f.loginErr
	}
	f.logins = append(f.logins, userID)
	return nil
}

func (f *fakeProvider) Logout(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return f.logoutErr
}

func (f *fakeProvider) AddTag(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[key] = value
	return nil
}

func (f *fakeProvider) AddAlias(_ context.Context, _, _ string) error { return nil }

func (f *fakeProvider) OnPermissionChange(fn func(bool)) func()         { return func() {} }
func (f *fakeProvider) OnStateChange(fn func(push.AccountState)) func() { return func() {} }

func newTestManager(t *testing.T, apiClient *fakeAPI, provider push.Provider, store kvstore.Store) *Manager {
	t.Helper()
	if store == nil {
		store = kvstore.NewMemory()
	}
	m := NewManager(&Config{Platform: "android", AppVersion: "1.0.0-test"}, apiClient, provider, store, logger.NewNop())
	t.Cleanup(m.Close)
	return m
}

func testUser() *domain.User {
	return &domain.User{ID: "u-1", Phone: "+79990001122", FirstName: "Ivan"}
}

func TestVerifyCode_Success(t *testing.T) {
	a := &fakeAPI{
		verifyRes: &api.VerifyResult{Token: "tok-1", User: testUser()},
		profile:   &domain.User{Phone: "+79990001122", FirstName: "Ivan", LastName: "Petrov"},
	}
	p := newFakeProvider()
	p.installID = "os-install"
	p.subID = "os-sub"
	store := kvstore.NewMemory()
	m := newTestManager(t, a, p, store)

	require.NoError(t, m.SendVerificationCode(context.Background(), "+79990001122"))
	require.NoError(t, m.VerifyCode(context.Background(), "1234"))

	assert.True(t, m.IsLoggedIn())
	assert.Equal(t, "tok-1", m.Token())
	assert.Equal(t, "tok-1", a.currentToken())
	assert.Equal(t, []string{"u-1"}, p.logins)

	// enrichment merged the full profile, identity fields preserved
	s := m.Session()
	assert.Equal(t, "u-1", s.User.ID)
	assert.Equal(t, "Petrov", s.User.LastName)

	// persisted for the next cold start
	tok, ok := store.GetString(kvstore.KeyToken)
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok)
	raw, ok := store.GetString(kvstore.KeyUserJSON)
	require.True(t, ok)
	var persisted domain.User
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, "u-1", persisted.ID)

	// push identifiers reached the server
	require.GreaterOrEqual(t, a.upsertCount(), 1)
	assert.Equal(t, "os-install", a.upserts[0].OneSignalID)
}

func TestVerifyCode_WithoutPendingPhone(t *testing.T) {
	m := newTestManager(t, &fakeAPI{}, newFakeProvider(), nil)
	err := m.VerifyCode(context.Background(), "1234")
	assert.ErrorIs(t, err, ErrNoPendingPhone)
}

func TestVerifyCode_Rejected(t *testing.T) {
	a := &fakeAPI{verifyErr: &api.ServerRejected{Code: "invalid_code", Message: "wrong code"}}
	m := newTestManager(t, a, newFakeProvider(), nil)

	require.NoError(t, m.SendVerificationCode(context.Background(), "+79990001122"))
	err := m.VerifyCode(context.Background(), "0000")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.False(t, m.IsLoggedIn())
	assert.Empty(t, a.currentToken())
}

func TestVerifyCode_PartialEnrichmentKeepsLogin(t *testing.T) {
	a := &fakeAPI{
		verifyRes:  &api.VerifyResult{Token: "tok-1", User: testUser()},
		profileErr: &api.TransportError{Err: errors.New("timeout")},
		adminErr:   &api.TransportError{Err: errors.New("timeout")},
		courier:    &domain.CourierProfile{ID: "c-1", Name: "Ivan", IsOnline: false},
	}
	m := newTestManager(t, a, newFakeProvider(), nil)

	require.NoError(t, m.SendVerificationCode(context.Background(), "+79990001122"))
	require.NoError(t, m.VerifyCode(context.Background(), "1234"))

	assert.True(t, m.IsLoggedIn())
	require.NotNil(t, m.CourierProfile())
	assert.Equal(t, "c-1", m.CourierProfile().ID)
	assert.Nil(t, m.AdminProfile())
}

func TestLoadAuthState_Rehydrates(t *testing.T) {
	store := kvstore.NewMemory()
	userJSON, _ := json.Marshal(testUser())
	store.SetString(kvstore.KeyToken, "tok-stored")
	store.SetString(kvstore.KeyUserJSON, string(userJSON))
	courierJSON, _ := json.Marshal(&domain.CourierProfile{ID: "c-1", Name: "Ivan"})
	store.SetString(kvstore.KeyCourierProfileJSON, string(courierJSON))

	a := &fakeAPI{
		profile: testUser(),
		courier: &domain.CourierProfile{ID: "c-1", Name: "Ivan"},
	}
	m := newTestManager(t, a, newFakeProvider(), store)

	require.NoError(t, m.LoadAuthState(context.Background()))
	assert.True(t, m.IsLoggedIn())
	assert.Equal(t, "tok-stored", m.Token())
	assert.Equal(t, "tok-stored", a.currentToken())
	require.NotNil(t, m.CourierProfile())
}

func TestLoadAuthState_NothingPersisted(t *testing.T) {
	m := newTestManager(t, &fakeAPI{}, newFakeProvider(), nil)
	require.NoError(t, m.LoadAuthState(context.Background()))
	assert.False(t, m.IsLoggedIn())
}

func TestRevalidate_TransportErrorKeepsSession(t *testing.T) {
	store := kvstore.NewMemory()
	userJSON, _ := json.Marshal(testUser())
	store.SetString(kvstore.KeyToken, "tok-stored")
	store.SetString(kvstore.KeyUserJSON, string(userJSON))

	a := &fakeAPI{
		profile:     testUser(),
		validateErr: &api.TransportError{Err: errors.New("connection refused")},
	}
	m := newTestManager(t, a, newFakeProvider(), store)
	require.NoError(t, m.LoadAuthState(context.Background()))

	err := m.Revalidate(context.Background())
	require.Error(t, err)
	assert.True(t, m.IsLoggedIn(), "network failure must not log the user out")
	_, ok := store.GetString(kvstore.KeyToken)
	assert.True(t, ok)
}

func TestRevalidate_UnauthorizedClearsSession(t *testing.T) {
	store := kvstore.NewMemory()
	userJSON, _ := json.Marshal(testUser())
	store.SetString(kvstore.KeyToken, "tok-stored")
	store.SetString(kvstore.KeyUserJSON, string(userJSON))

	a := &fakeAPI{profile: testUser(), validateErr: api.ErrUnauthorized}
	m := newTestManager(t, a, newFakeProvider(), store)
	require.NoError(t, m.LoadAuthState(context.Background()))

	err := m.Revalidate(context.Background())
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.False(t, m.IsLoggedIn())
	_, ok := store.GetString(kvstore.KeyToken)
	assert.False(t, ok)
	assert.Empty(t, a.currentToken())
}

func TestLogout_AlwaysClears(t *testing.T) {
	a := &fakeAPI{
		verifyRes: &api.VerifyResult{Token: "tok-1", User: testUser()},
		profile:   testUser(),
		courier:   &domain.CourierProfile{ID: "c-1", Name: "Ivan", IsOnline: true},
		onlineErr: errors.New("server down"),
	}
	p := newFakeProvider()
	p.logoutErr = &push.ProviderError{Op: "logout", Err: errors.New("sdk broke")}
	store := kvstore.NewMemory()
	m := newTestManager(t, a, p, store)

	require.NoError(t, m.SendVerificationCode(context.Background(), "+79990001122"))
	require.NoError(t, m.VerifyCode(context.Background(), "1234"))
	require.True(t, m.IsLoggedIn())

	m.Logout(context.Background())

	// both remote calls failed, local teardown still completed
	assert.False(t, m.IsLoggedIn())
	assert.Empty(t, m.Token())
	assert.Nil(t, m.CourierProfile())
	assert.Empty(t, a.currentToken())
	assert.Equal(t, []bool{false}, a.onlineCalls)
	for _, key := range []string{kvstore.KeyToken, kvstore.KeyUserJSON, kvstore.KeyCourierProfileJSON} {
		assert.False(t, store.Contains(key), key)
	}
	// device id survives logout
	assert.True(t, store.Contains(kvstore.KeyDeviceID))
}

func TestRequestNotificationPermission_Sticky(t *testing.T) {
	p := newFakeProvider()
	p.requestRes = true
	store := kvstore.NewMemory()
	m := newTestManager(t, &fakeAPI{}, p, store)

	granted, err := m.RequestNotificationPermission(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 1, p.requests)

	// second call answers from the sticky flag without prompting again
	granted, err = m.RequestNotificationPermission(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 1, p.requests)

	flag, ok := store.GetBool(kvstore.KeyNotifPermission)
	require.True(t, ok)
	assert.True(t, flag)
}

func TestForceRequestNotificationPermission_RepromptsAfterDenial(t *testing.T) {
	p := newFakeProvider()
	p.requestRes = false
	m := newTestManager(t, &fakeAPI{}, p, nil)

	granted, err := m.RequestNotificationPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 1, p.requests)

	p.requestRes = true
	granted, err = m.ForceRequestNotificationPermission(context.Background())
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, 2, p.requests)
}

func TestPermissionFlag_SurvivesRestart(t *testing.T) {
	store := kvstore.NewMemory()
	p := newFakeProvider()
	p.requestRes = false

	m := newTestManager(t, &fakeAPI{}, p, store)
	_, err := m.RequestNotificationPermission(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, p.requests)

	// new manager over the same store: flag restored, no second prompt
	m2 := newTestManager(t, &fakeAPI{}, p, store)
	granted, err := m2.RequestNotificationPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 1, p.requests)
}

func TestSyncOneSignalIDWithServer_NoopWithoutUser(t *testing.T) {
	a := &fakeAPI{}
	m := newTestManager(t, a, newFakeProvider(), nil)
	require.NoError(t, m.SyncOneSignalIDWithServer(context.Background()))
	assert.Zero(t, a.upsertCount())
}

func TestSyncOneSignalIDWithServer_Debounces(t *testing.T) {
	a := &fakeAPI{
		verifyRes: &api.VerifyResult{Token: "tok-1", User: testUser()},
		profile:   testUser(),
	}
	p := newFakeProvider()
	p.installID = "os-install"
	p.subID = "os-sub"
	m := newTestManager(t, a, p, nil)

	require.NoError(t, m.SendVerificationCode(context.Background(), "+79990001122"))
	require.NoError(t, m.VerifyCode(context.Background(), "1234"))

	before := a.upsertCount()
	require.NoError(t, m.SyncOneSignalIDWithServer(context.Background()))
	require.NoError(t, m.SyncOneSignalIDWithServer(context.Background()))
	assert.Equal(t, before, a.upsertCount(), "identical payloads inside the window collapse")
}

func TestDeviceID_StableAcrossRestarts(t *testing.T) {
	store := kvstore.NewMemory()
	m1 := newTestManager(t, &fakeAPI{}, newFakeProvider(), store)
	id := m1.DeviceID()
	require.NotEmpty(t, id)

	m2 := newTestManager(t, &fakeAPI{}, newFakeProvider(), store)
	assert.Equal(t, id, m2.DeviceID())
}

func TestOnChange_PublishesSnapshots(t *testing.T) {
	a := &fakeAPI{
		verifyRes: &api.VerifyResult{Token: "tok-1", User: testUser()},
		profile:   testUser(),
	}
	m := newTestManager(t, a, newFakeProvider(), nil)

	var mu sync.Mutex
	var snaps []Snapshot
	m.OnChange(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	require.NoError(t, m.SendVerificationCode(context.Background(), "+79990001122"))
	require.NoError(t, m.VerifyCode(context.Background(), "1234"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.True(t, last.IsLoggedIn)
	assert.Equal(t, "u-1", last.UserID)
}

func TestUpdateProfile(t *testing.T) {
	a := &fakeAPI{
		verifyRes: &api.VerifyResult{Token: "tok-1", User: testUser()},
		profile:   testUser(),
	}
	m := newTestManager(t, a, newFakeProvider(), nil)
	require.NoError(t, m.SendVerificationCode(context.Background(), "+79990001122"))
	require.NoError(t, m.VerifyCode(context.Background(), "1234"))

	require.NoError(t, m.UpdateProfile(context.Background(), &domain.User{FirstName: "Petr", Email: "p@example.com"}))
	s := m.Session()
	assert.Equal(t, "u-1", s.User.ID, "identity preserved through profile update")
	assert.Equal(t, "Petr", s.User.FirstName)

	m.Logout(context.Background())
	assert.ErrorIs(t, m.UpdateProfile(context.Background(), &domain.User{}), ErrNotLoggedIn)
}

func TestRevalidate_NotLoggedInIsNoop(t *testing.T) {
	a := &fakeAPI{validateErr: api.ErrUnauthorized}
	m := newTestManager(t, a, newFakeProvider(), nil)
	require.NoError(t, m.Revalidate(context.Background()))
	assert.Zero(t, a.validations)
}

func TestTokenExpiry(t *testing.T) {
	_, ok := tokenExpiry("not-a-jwt")
	assert.False(t, ok)

	// header {"alg":"none"} . claims {"exp": 1700000000} . empty sig
	tok := "eyJhbGciOiJub25lIn0.eyJleHAiOjE3MDAwMDAwMDB9."
	exp, ok := tokenExpiry(tok)
	require.True(t, ok)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), exp.UTC())
}
