// Package auth owns the authenticated session: who the current user is,
// their admin/courier overlays, and the push-identity sync lifecycle.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/api"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/domain"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/kvstore"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/push"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
)

var (
	ErrInvalidCode    = errors.New("invalid verification code")
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrNoPendingPhone = errors.New("no verification code was requested")
)

// APIClient is the REST surface the manager needs
type APIClient interface {
	SendVerificationCode(ctx context.Context, phone string) error
	VerifyCode(ctx context.Context, phone, code string) (*api.VerifyResult, error)
	GetProfile(ctx context.Context) (*domain.User, error)
	UpdateProfile(ctx context.Context, user *domain.User) error
	CheckAdminStatus(ctx context.Context) (*domain.AdminProfile, error)
	CheckCourierStatus(ctx context.Context) (*domain.CourierProfile, error)
	SetCourierOnline(ctx context.Context, online bool) error
	UpsertDevice(ctx context.Context, dev *api.DeviceUpsert) error
	ValidateToken(ctx context.Context) error
	SetToken(token string)
	ClearToken()
}

// OSPermissions confirms OS-level runtime permissions before the
// provider-level request (Android 13+ notification permission). Nil means
// no OS gate applies.
type OSPermissions interface {
	EnsureNotificationPermission(ctx context.Context) (bool, error)
}

// Clock abstracts wall-clock reads for the sync debounce
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds manager configuration
type Config struct {
	// RevalidateTimeout bounds the advisory token check (default 10s)
	RevalidateTimeout time.Duration
	// SyncDebounce suppresses identical push-identity upserts fired close
	// together (default 2s)
	SyncDebounce time.Duration
	Platform     string
	AppVersion   string
	// OSPerms gates the provider permission prompt; may be nil
	OSPerms OSPermissions
	// Clock may be overridden in tests; nil means wall clock
	Clock Clock
}

// Snapshot is a coherent read-only view published after each state change
type Snapshot struct {
	IsLoggedIn bool
	UserID     string
	Phone      string
	IsAdmin    bool
	IsCourier  bool
	Push       domain.PushIdentity
}

// Manager is the single writer of the session. Everything else reads
// through accessors; no other component mutates auth state.
type Manager struct {
	cfg      *Config
	api      APIClient
	provider push.Provider
	store    kvstore.Store
	log      *logger.Logger
	clock    Clock

	mu           sync.RWMutex
	session      domain.Session
	pendingPhone string
	admin        *domain.AdminProfile
	courier      *domain.CourierProfile
	pushID       domain.PushIdentity
	deviceID     string
	lastSync     time.Time
	lastUpsert   api.DeviceUpsert
	onChange     []func(Snapshot)

	cancelWatches []func()
}

// NewManager creates the session manager, restoring the device id and the
// sticky permission flag, and wiring provider event callbacks.
func NewManager(cfg *Config, apiClient APIClient, provider push.Provider, store kvstore.Store, log *logger.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.RevalidateTimeout <= 0 {
		cfg.RevalidateTimeout = 10 * time.Second
	}
	if cfg.SyncDebounce <= 0 {
		cfg.SyncDebounce = 2 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}

	m := &Manager{
		cfg:      cfg,
		api:      apiClient,
		provider: provider,
		store:    store,
		log:      log,
		clock:    clock,
	}

	if id, ok := store.GetString(kvstore.KeyDeviceID); ok && id != "" {
		m.deviceID = id
	} else {
		m.deviceID = uuid.NewString()
		store.SetString(kvstore.KeyDeviceID, m.deviceID)
	}

	if requested, ok := store.GetBool(kvstore.KeyNotifPermission); ok {
		m.pushID.PermissionRequested = requested
	}

	// Identifier delivery may race between polling and callbacks; both
	// paths converge through applyAccountState/applyPermission.
	if provider != nil {
		cancelState := provider.OnStateChange(func(st push.AccountState) {
			m.applyAccountState(st)
			m.bestEffort("push identity sync", func() error {
				return m.SyncOneSignalIDWithServer(context.Background())
			})
		})
		cancelPerm := provider.OnPermissionChange(func(granted bool) {
			m.applyPermission(granted)
			m.bestEffort("notification status sync", func() error {
				return m.SyncNotificationStatus(context.Background())
			})
		})
		m.cancelWatches = append(m.cancelWatches, cancelState, cancelPerm)
	}

	return m
}

// Close deregisters provider callbacks
func (m *Manager) Close() {
	for _, cancel := range m.cancelWatches {
		cancel()
	}
	m.cancelWatches = nil
}

// Token implements the realtime channel's token source
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Token
}

// IsLoggedIn reports whether a session is active
func (m *Manager) IsLoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.IsLoggedIn()
}

// Session returns a copy of the current session
func (m *Manager) Session() domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.session
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// AdminProfile returns the admin overlay, nil when absent
func (m *Manager) AdminProfile() *domain.AdminProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.admin == nil {
		return nil
	}
	a := *m.admin
	return &a
}

// CourierProfile returns the courier overlay, nil when absent
func (m *Manager) CourierProfile() *domain.CourierProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.courier == nil {
		return nil
	}
	c := *m.courier
	return &c
}

// PushIdentity returns the current push identity
func (m *Manager) PushIdentity() domain.PushIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pushID
}

// DeviceID returns the stable per-install device identifier
func (m *Manager) DeviceID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deviceID
}

// OnChange registers a listener invoked after each coherent state change
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		IsLoggedIn: m.session.IsLoggedIn(),
		IsAdmin:    m.admin != nil,
		IsCourier:  m.courier != nil,
		Push:       m.pushID,
	}
	if m.session.User != nil {
		snap.UserID = m.session.User.ID
		snap.Phone = m.session.User.Phone
	}
	return snap
}

// notify publishes the current snapshot to listeners outside the lock
func (m *Manager) notify() {
	m.mu.RLock()
	snap := m.snapshotLocked()
	listeners := make([]func(Snapshot), len(m.onChange))
	copy(listeners, m.onChange)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// bestEffort runs fn, logging instead of propagating its error. Used for
// every call that must never block or fail the primary operation.
func (m *Manager) bestEffort(op string, fn func() error) {
	if err := fn(); err != nil {
		m.log.Warn("best-effort operation failed", zap.String("op", op), zap.Error(err))
	}
}

// SendVerificationCode asks the server to text a one-time code. The
// session is never mutated on failure; the phone is held as the pending
// identity for VerifyCode.
func (m *Manager) SendVerificationCode(ctx context.Context, phone string) error {
	if err := m.api.SendVerificationCode(ctx, phone); err != nil {
		return err
	}
	m.mu.Lock()
	m.pendingPhone = phone
	m.mu.Unlock()
	return nil
}

// VerifyCode exchanges the pending phone plus code for a session. On
// success the session is persisted and the enrichment fan-out runs:
// profile fetch, admin resolution, courier resolution and push-identity
// sync proceed concurrently and independently; any of them may fail
// without reverting the login.
func (m *Manager) VerifyCode(ctx context.Context, code string) error {
	m.mu.RLock()
	phone := m.pendingPhone
	m.mu.RUnlock()
	if phone == "" {
		return ErrNoPendingPhone
	}

	res, err := m.api.VerifyCode(ctx, phone, code)
	if err != nil {
		if api.IsRejected(err) {
			return errors.Join(ErrInvalidCode, err)
		}
		return err
	}

	m.mu.Lock()
	m.session = domain.Session{Token: res.Token, User: res.User}
	if m.session.User.Phone == "" {
		m.session.User.Phone = phone
	}
	m.pendingPhone = ""
	userID := m.session.User.ID
	m.persistSessionLocked()
	m.mu.Unlock()

	m.api.SetToken(res.Token)
	m.notify()

	if m.provider != nil {
		m.bestEffort("push provider login", func() error {
			return m.provider.Login(ctx, userID)
		})
	}

	m.enrich(ctx)

	m.mu.Lock()
	m.persistSessionLocked()
	m.mu.Unlock()
	m.notify()
	return nil
}

// LoadAuthState rehydrates the session at cold start. A stored token+user
// marks the session logged in immediately (optimistic), then the same
// enrichment fan-out runs plus an advisory token check that only an
// explicit unauthorized response may act on.
func (m *Manager) LoadAuthState(ctx context.Context) error {
	token, okT := m.store.GetString(kvstore.KeyToken)
	userJSON, okU := m.store.GetString(kvstore.KeyUserJSON)
	if !okT || !okU || token == "" {
		m.log.Debug("no persisted session")
		return nil
	}

	var user domain.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		m.log.Warn("discarding unreadable persisted user", zap.Error(err))
		return nil
	}

	m.mu.Lock()
	m.session = domain.Session{Token: token, User: &user}
	if cp, ok := m.store.GetString(kvstore.KeyCourierProfileJSON); ok {
		var courier domain.CourierProfile
		if err := json.Unmarshal([]byte(cp), &courier); err == nil {
			m.courier = &courier
		}
	}
	m.mu.Unlock()

	m.api.SetToken(token)
	m.notify()

	if exp, ok := tokenExpiry(token); ok && exp.Before(m.clock.Now()) {
		m.log.Info("persisted token past its stated expiry, revalidating", zap.Time("exp", exp))
	}

	m.enrich(ctx)

	// advisory only: transport failures never clear the session
	go func() {
		if err := m.Revalidate(context.Background()); err != nil && !errors.Is(err, api.ErrUnauthorized) {
			m.log.Warn("background token check inconclusive", zap.Error(err))
		}
	}()

	return nil
}

// enrich runs the four independent post-login updates concurrently
func (m *Manager) enrich(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		m.bestEffort("profile fetch", func() error { return m.fetchProfile(ctx) })
	}()
	go func() {
		defer wg.Done()
		m.bestEffort("admin status check", func() error { return m.resolveAdmin(ctx) })
	}()
	go func() {
		defer wg.Done()
		m.bestEffort("courier status check", func() error { return m.resolveCourier(ctx) })
	}()
	go func() {
		defer wg.Done()
		m.bestEffort("push identity sync", func() error { return m.syncPushIdentity(ctx) })
	}()

	wg.Wait()
}

func (m *Manager) fetchProfile(ctx context.Context) error {
	profile, err := m.api.GetProfile(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.session.User != nil {
		// identity fields stay authoritative from the login response
		profile.ID = m.session.User.ID
		if profile.Phone == "" {
			profile.Phone = m.session.User.Phone
		}
		m.session.User = profile
		m.persistSessionLocked()
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Manager) resolveAdmin(ctx context.Context) error {
	admin, err := m.api.CheckAdminStatus(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.admin = admin
	m.store.SetBool(kvstore.KeyEmployeeDashboard, admin != nil)
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Manager) resolveCourier(ctx context.Context) error {
	courier, err := m.api.CheckCourierStatus(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.courier = courier
	if courier != nil {
		if data, err := json.Marshal(courier); err == nil {
			m.store.SetString(kvstore.KeyCourierProfileJSON, string(data))
		}
		if m.session.User != nil {
			m.session.User.UserType = domain.UserTypeCourier
		}
	} else {
		m.store.Delete(kvstore.KeyCourierProfileJSON)
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// syncPushIdentity polls the provider for identifiers and pushes them to
// the server. The state-change callback covers identifiers that arrive
// later; both paths converge idempotently.
func (m *Manager) syncPushIdentity(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	installID, err := m.provider.GetInstallID(ctx)
	if err != nil {
		return err
	}
	subID, err := m.provider.GetSubscriptionID(ctx)
	if err != nil {
		return err
	}
	m.applyAccountState(push.AccountState{InstallID: installID, SubscriptionID: subID})
	return m.SyncOneSignalIDWithServer(ctx)
}

// applyAccountState merges provider identifiers; empty values never
// overwrite known ones.
func (m *Manager) applyAccountState(st push.AccountState) {
	m.mu.Lock()
	if st.InstallID != "" {
		m.pushID.ProviderInstallID = st.InstallID
	}
	if st.SubscriptionID != "" {
		m.pushID.SubscriptionID = st.SubscriptionID
	}
	m.mu.Unlock()
}

func (m *Manager) applyPermission(granted bool) {
	m.mu.Lock()
	m.pushID.PermissionGranted = granted
	m.mu.Unlock()
}

// persistSessionLocked writes token and user to the store. Caller holds mu.
func (m *Manager) persistSessionLocked() {
	if !m.session.IsLoggedIn() {
		return
	}
	m.store.SetString(kvstore.KeyToken, m.session.Token)
	if data, err := json.Marshal(m.session.User); err == nil {
		m.store.SetString(kvstore.KeyUserJSON, string(data))
	}
}

// Logout clears the session. Provider logout and courier set-offline are
// best-effort; the local teardown happens unconditionally.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.RLock()
	courier := m.courier
	m.mu.RUnlock()

	if m.provider != nil {
		m.bestEffort("push provider logout", func() error {
			return m.provider.Logout(ctx)
		})
	}
	if courier != nil && courier.IsOnline {
		m.bestEffort("courier set offline", func() error {
			return m.api.SetCourierOnline(ctx, false)
		})
	}

	m.mu.Lock()
	m.session = domain.Session{}
	m.admin = nil
	m.courier = nil
	m.pendingPhone = ""
	m.store.Delete(kvstore.KeyToken)
	m.store.Delete(kvstore.KeyUserJSON)
	m.store.Delete(kvstore.KeyCourierProfileJSON)
	m.store.Delete(kvstore.KeyEmployeeDashboard)
	m.mu.Unlock()

	m.api.ClearToken()
	m.notify()
}

// Revalidate checks the token against the server. Advisory: only an
// explicit unauthorized response clears the session; transport failures
// are logged and the session is retained.
func (m *Manager) Revalidate(ctx context.Context) error {
	if !m.IsLoggedIn() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.RevalidateTimeout)
	defer cancel()

	err := m.api.ValidateToken(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, api.ErrUnauthorized):
		m.log.Info("token explicitly rejected, clearing session")
		m.clearLocalSession()
		return err
	default:
		// offline or flaky network: keep the session
		m.log.Warn("token revalidation inconclusive, keeping session", zap.Error(err))
		return err
	}
}

// clearLocalSession removes local auth state without any remote calls
func (m *Manager) clearLocalSession() {
	m.mu.Lock()
	m.session = domain.Session{}
	m.admin = nil
	m.courier = nil
	m.store.Delete(kvstore.KeyToken)
	m.store.Delete(kvstore.KeyUserJSON)
	m.store.Delete(kvstore.KeyCourierProfileJSON)
	m.store.Delete(kvstore.KeyEmployeeDashboard)
	m.mu.Unlock()

	m.api.ClearToken()
	m.notify()
}

// UpdateProfile pushes profile changes and, on success, folds them into
// the session. Rejections and transport errors propagate to the caller.
func (m *Manager) UpdateProfile(ctx context.Context, user *domain.User) error {
	if !m.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	if err := m.api.UpdateProfile(ctx, user); err != nil {
		return err
	}

	m.mu.Lock()
	if m.session.User != nil {
		user.ID = m.session.User.ID
		if user.Phone == "" {
			user.Phone = m.session.User.Phone
		}
		m.session.User = user
		m.persistSessionLocked()
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

// RequestNotificationPermission drives the permission prompt once per
// install: after the first request the cached result is returned. The
// requested flag is monotonic; only the forced variant resets it.
func (m *Manager) RequestNotificationPermission(ctx context.Context) (bool, error) {
	m.mu.RLock()
	requested := m.pushID.PermissionRequested
	granted := m.pushID.PermissionGranted
	m.mu.RUnlock()

	if requested {
		return granted, nil
	}
	return m.requestPermission(ctx)
}

// ForceRequestNotificationPermission always re-invokes the provider,
// resetting the sticky flag first.
func (m *Manager) ForceRequestNotificationPermission(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.pushID.PermissionRequested = false
	m.store.SetBool(kvstore.KeyNotifPermission, false)
	m.mu.Unlock()

	return m.requestPermission(ctx)
}

func (m *Manager) requestPermission(ctx context.Context) (bool, error) {
	// OS runtime permission gates the provider prompt (Android 13+)
	if m.cfg.OSPerms != nil {
		ok, err := m.cfg.OSPerms.EnsureNotificationPermission(ctx)
		if err != nil || !ok {
			m.markPermissionRequested(false)
			return false, err
		}
	}

	if m.provider == nil {
		m.markPermissionRequested(false)
		return false, nil
	}

	granted, err := m.provider.RequestPermission(ctx)
	if err != nil {
		// the prompt was shown (or attempted); the flag stays sticky
		m.markPermissionRequested(false)
		m.log.Warn("provider permission request failed", zap.Error(err))
		return false, nil
	}

	m.markPermissionRequested(granted)
	m.bestEffort("notification status sync", func() error {
		return m.SyncNotificationStatus(ctx)
	})
	return granted, nil
}

func (m *Manager) markPermissionRequested(granted bool) {
	m.mu.Lock()
	m.pushID.PermissionRequested = true
	m.pushID.PermissionGranted = granted
	m.store.SetBool(kvstore.KeyNotifPermission, true)
	m.mu.Unlock()
	m.notify()
}

// SyncOneSignalIDWithServer upserts device/push metadata for the current
// user. It is a silent no-op while the user is absent or both provider
// identifiers are still unknown, and debounces identical payloads fired
// close together.
func (m *Manager) SyncOneSignalIDWithServer(ctx context.Context) error {
	m.mu.Lock()
	if !m.session.IsLoggedIn() || !m.pushID.HasIdentifiers() {
		m.mu.Unlock()
		return nil
	}

	upsert := api.DeviceUpsert{
		DeviceID:       m.deviceID,
		OneSignalID:    m.pushID.ProviderInstallID,
		SubscriptionID: m.pushID.SubscriptionID,
		PushEnabled:    m.pushID.PermissionGranted,
		Platform:       m.cfg.Platform,
		AppVersion:     m.cfg.AppVersion,
	}
	now := m.clock.Now()
	if upsert == m.lastUpsert && now.Sub(m.lastSync) < m.cfg.SyncDebounce {
		m.mu.Unlock()
		return nil
	}
	m.lastUpsert = upsert
	m.lastSync = now
	m.mu.Unlock()

	return m.api.UpsertDevice(ctx, &upsert)
}

// SyncNotificationStatus refreshes the permission flag from the provider
// and propagates it as a subscriber tag plus a device upsert. No-op
// without a user, never returns an error for an absent provider.
func (m *Manager) SyncNotificationStatus(ctx context.Context) error {
	if m.provider == nil || !m.IsLoggedIn() {
		return nil
	}

	status, err := m.provider.GetPermissionStatus(ctx)
	if err != nil {
		return err
	}
	m.applyPermission(status == push.PermissionGranted)

	m.bestEffort("notifications tag", func() error {
		if status == push.PermissionGranted {
			return m.provider.AddTag(ctx, "notifications_enabled", "true")
		}
		return m.provider.AddTag(ctx, "notifications_enabled", "false")
	})

	return m.SyncOneSignalIDWithServer(ctx)
}

// tokenExpiry reads the exp claim without verifying the signature; the
// token is otherwise treated as opaque.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
