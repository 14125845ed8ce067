// Package push defines the push-provider capability consumed by the
// session manager, plus a OneSignal-backed implementation.
package push

import (
	"context"
	"fmt"
)

// PermissionStatus is the OS/provider-level notification permission state
type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionUndetermined PermissionStatus = "undetermined"
)

// ProviderError wraps a push-SDK failure. Session operations always catch
// and log it; it never propagates to their callers.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("push provider %s: %v", e.Op, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// AccountState carries the provider-side identifiers for this install.
// Either field may be empty until the provider has produced it.
type AccountState struct {
	InstallID      string
	SubscriptionID string
}

// Provider is the push-provider SDK capability.
//
// Identifier delivery is racy by nature: values may arrive via polling
// (GetInstallID/GetSubscriptionID) or via the OnStateChange callback,
// whichever fires first. Consumers must converge idempotently.
type Provider interface {
	// RequestPermission drives the provider-level permission prompt and
	// reports the resulting grant.
	RequestPermission(ctx context.Context) (bool, error)
	// GetPermissionStatus returns the current permission state.
	GetPermissionStatus(ctx context.Context) (PermissionStatus, error)

	// GetInstallID returns the provider installation id, "" if unknown yet.
	GetInstallID(ctx context.Context) (string, error)
	// GetSubscriptionID returns the channel subscription id, "" if unknown yet.
	GetSubscriptionID(ctx context.Context) (string, error)

	// Login binds the provider identity to an external user id.
	Login(ctx context.Context, userID string) error
	// Logout unbinds the provider identity.
	Logout(ctx context.Context) error

	// AddTag attaches key/value metadata to the subscriber.
	AddTag(ctx context.Context, key, value string) error
	// AddAlias attaches an alternate id (e.g. the backend user id).
	AddAlias(ctx context.Context, label, id string) error

	// OnPermissionChange registers a callback for permission flips.
	// The returned func deregisters it.
	OnPermissionChange(fn func(granted bool)) (cancel func())
	// OnStateChange registers a callback for identifier changes.
	OnStateChange(fn func(state AccountState)) (cancel func())
}
