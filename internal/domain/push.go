package domain

// PushIdentity links this installation to the external push provider.
//
// PermissionRequested is monotonic: once the OS prompt has been shown it
// stays true for the life of the install, unless a forced re-request
// explicitly resets it.
type PushIdentity struct {
	// ProviderInstallID is the provider-side installation identifier
	// (the "OneSignal ID").
	ProviderInstallID string `json:"providerInstallId,omitempty"`
	// SubscriptionID is the per-channel subscription identifier.
	SubscriptionID string `json:"subscriptionId,omitempty"`

	PermissionGranted   bool `json:"permissionGranted"`
	PermissionRequested bool `json:"permissionRequested"`
}

// HasIdentifiers reports whether the provider has produced at least one id
func (p *PushIdentity) HasIdentifiers() bool {
	return p.ProviderInstallID != "" || p.SubscriptionID != ""
}
