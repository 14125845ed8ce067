package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
	"go.uber.org/zap"
)

// OneSignalConfig holds OneSignal REST settings
type OneSignalConfig struct {
	AppID   string
	BaseURL string
	Timeout time.Duration
	// DeviceID is the stable local device identifier used as the
	// subscription's external device reference.
	DeviceID string
}

// OneSignal implements Provider against the OneSignal REST API. The
// install/subscription identifiers are created lazily on first use and
// then cached; OnStateChange fires whenever they change.
type OneSignal struct {
	cfg  *OneSignalConfig
	http *http.Client
	log  *logger.Logger

	mu          sync.Mutex
	state       AccountState
	permission  PermissionStatus
	nextWatchID int
	permWatch   map[int]func(granted bool)
	stateWatch  map[int]func(state AccountState)
}

// NewOneSignal creates the OneSignal-backed provider
func NewOneSignal(cfg *OneSignalConfig, log *logger.Logger) *OneSignal {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.onesignal.com"
	}
	return &OneSignal{
		cfg:        cfg,
		http:       &http.Client{Timeout: timeout},
		log:        log,
		permission: PermissionUndetermined,
		permWatch:  make(map[int]func(bool)),
		stateWatch: make(map[int]func(AccountState)),
	}
}

func (o *OneSignal) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("onesignal returned %d: %s", resp.StatusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// ensureRegistered creates the OneSignal user+subscription on first use
func (o *OneSignal) ensureRegistered(ctx context.Context) (AccountState, error) {
	o.mu.Lock()
	if o.state.InstallID != "" && o.state.SubscriptionID != "" {
		st := o.state
		o.mu.Unlock()
		return st, nil
	}
	o.mu.Unlock()

	var res struct {
		Identity struct {
			OneSignalID string `json:"onesignal_id"`
		} `json:"identity"`
		Subscriptions []struct {
			ID string `json:"id"`
		} `json:"subscriptions"`
	}
	body := map[string]any{
		"subscriptions": []map[string]string{{
			"type":  "AndroidPush",
			"token": o.cfg.DeviceID,
		}},
	}
	path := fmt.Sprintf("/apps/%s/users", o.cfg.AppID)
	if err := o.post(ctx, path, body, &res); err != nil {
		return AccountState{}, &ProviderError{Op: "register", Err: err}
	}

	st := AccountState{InstallID: res.Identity.OneSignalID}
	if len(res.Subscriptions) > 0 {
		st.SubscriptionID = res.Subscriptions[0].ID
	}
	o.setState(st)
	return st, nil
}

// setState stores identifiers and notifies watchers on change
func (o *OneSignal) setState(st AccountState) {
	o.mu.Lock()
	changed := st != o.state
	if changed {
		o.state = st
	}
	var watchers []func(AccountState)
	if changed {
		for _, fn := range o.stateWatch {
			watchers = append(watchers, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range watchers {
		fn(st)
	}
}

func (o *OneSignal) RequestPermission(ctx context.Context) (bool, error) {
	// The agent has no OS prompt; provider-level permission is the
	// subscription being registered and enabled.
	if _, err := o.ensureRegistered(ctx); err != nil {
		o.setPermission(PermissionDenied)
		return false, err
	}
	o.setPermission(PermissionGranted)
	return true, nil
}

func (o *OneSignal) setPermission(p PermissionStatus) {
	o.mu.Lock()
	changed := p != o.permission
	o.permission = p
	var watchers []func(bool)
	if changed {
		for _, fn := range o.permWatch {
			watchers = append(watchers, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range watchers {
		fn(p == PermissionGranted)
	}
}

func (o *OneSignal) GetPermissionStatus(ctx context.Context) (PermissionStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.permission, nil
}

func (o *OneSignal) GetInstallID(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.InstallID, nil
}

func (o *OneSignal) GetSubscriptionID(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.SubscriptionID, nil
}

func (o *OneSignal) Login(ctx context.Context, userID string) error {
	st, err := o.ensureRegistered(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/apps/%s/users/by/onesignal_id/%s/identity", o.cfg.AppID, st.InstallID)
	body := map[string]any{"identity": map[string]string{"external_id": userID}}
	if err := o.post(ctx, path, body, nil); err != nil {
		return &ProviderError{Op: "login", Err: err}
	}
	o.log.Debug("push provider login", zap.String("user_id", userID))
	return nil
}

func (o *OneSignal) Logout(ctx context.Context) error {
	o.mu.Lock()
	st := o.state
	o.mu.Unlock()
	if st.InstallID == "" {
		return nil
	}
	path := fmt.Sprintf("/apps/%s/users/by/onesignal_id/%s/identity", o.cfg.AppID, st.InstallID)
	body := map[string]any{"identity": map[string]string{"external_id": ""}}
	if err := o.post(ctx, path, body, nil); err != nil {
		return &ProviderError{Op: "logout", Err: err}
	}
	return nil
}

func (o *OneSignal) AddTag(ctx context.Context, key, value string) error {
	st, err := o.ensureRegistered(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/apps/%s/users/by/onesignal_id/%s", o.cfg.AppID, st.InstallID)
	body := map[string]any{"properties": map[string]any{"tags": map[string]string{key: value}}}
	if err := o.post(ctx, path, body, nil); err != nil {
		return &ProviderError{Op: "add_tag", Err: err}
	}
	return nil
}

func (o *OneSignal) AddAlias(ctx context.Context, label, id string) error {
	st, err := o.ensureRegistered(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/apps/%s/users/by/onesignal_id/%s/identity", o.cfg.AppID, st.InstallID)
	body := map[string]any{"identity": map[string]string{label: id}}
	if err := o.post(ctx, path, body, nil); err != nil {
		return &ProviderError{Op: "add_alias", Err: err}
	}
	return nil
}

func (o *OneSignal) OnPermissionChange(fn func(granted bool)) (cancel func()) {
	o.mu.Lock()
	id := o.nextWatchID
	o.nextWatchID++
	o.permWatch[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.permWatch, id)
		o.mu.Unlock()
	}
}

func (o *OneSignal) OnStateChange(fn func(state AccountState)) (cancel func()) {
	o.mu.Lock()
	id := o.nextWatchID
	o.nextWatchID++
	o.stateWatch[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.stateWatch, id)
		o.mu.Unlock()
	}
}
