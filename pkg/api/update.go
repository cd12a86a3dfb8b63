// Package api defines the wire types shared between the update daemon
// and its clients.
package api

// StateKind identifies which variant of the update state union is active.
type StateKind string

// Update lifecycle states. Exactly one is active at any time.
const (
	StateUninitialized        StateKind = "uninitialized"
	StateDisabled             StateKind = "disabled"
	StateIdle                 StateKind = "idle"
	StateCheckingForUpdates   StateKind = "checking-for-updates"
	StateAvailableForDownload StateKind = "available-for-download"
	StateDownloading          StateKind = "downloading"
	StateDownloaded           StateKind = "downloaded"
	StateUpdating             StateKind = "updating"
	StateReady                StateKind = "ready"
)

// DisablementReason explains why the update subsystem is disabled for
// the lifetime of the process.
type DisablementReason string

const (
	DisabledByEnvironment  DisablementReason = "disabled-by-environment"
	DisabledMissingConfig  DisablementReason = "missing-configuration"
	DisabledManually       DisablementReason = "manually-disabled"
	DisabledInvalidConfig  DisablementReason = "invalid-configuration"
	DisabledRunningAsAdmin DisablementReason = "running-as-admin"
	DisabledNotBuilt       DisablementReason = "not-built"
)

// UpdateKind distinguishes how updates are delivered on this install.
type UpdateKind string

const (
	// UpdateKindArchive is a self-contained package swap, no installer run.
	UpdateKindArchive UpdateKind = "archive"
	// UpdateKindSetup is an installer binary that must be executed and
	// signals readiness through a platform primitive.
	UpdateKindSetup UpdateKind = "setup"
)

// UpdateDescriptor is the normalized, feed-agnostic description of an
// available update.
type UpdateDescriptor struct {
	// Version is the raw release tag, possibly with a leading "v".
	Version string `json:"version"`
	// ProductVersion is the tag with a single leading "v" stripped.
	ProductVersion string `json:"productVersion"`
	// Timestamp is the release publish time in epoch milliseconds, 0 if unknown.
	Timestamp int64 `json:"timestamp,omitempty"`
	// URL is the artifact download location. Empty means no actionable update.
	URL string `json:"url,omitempty"`
	// SupplementalURL names an optional companion artifact shipped
	// alongside the update. Only the vendor feed populates it.
	SupplementalURL string `json:"supplementalUrl,omitempty"`
	// SHA256Hash is the hex content digest with any algorithm prefix stripped.
	SHA256Hash string `json:"sha256hash,omitempty"`
	// SupportsFastUpdate is only populated by the vendor feed.
	SupportsFastUpdate bool `json:"supportsFastUpdate,omitempty"`
}

// Actionable reports whether the descriptor names a concrete artifact
// that can be downloaded and applied.
func (u *UpdateDescriptor) Actionable() bool {
	return u != nil && u.URL != "" && u.Version != ""
}

// UpdateState is the tagged union describing the machine's current
// position in the update lifecycle. Fields other than State are only
// meaningful for the variants noted on each.
type UpdateState struct {
	State StateKind `json:"state"`

	// Kind is set on Idle.
	Kind UpdateKind `json:"updateKind,omitempty"`
	// Reason is set on Disabled.
	Reason DisablementReason `json:"reason,omitempty"`
	// Explicit is set on CheckingForUpdates.
	Explicit bool `json:"explicit,omitempty"`
	// Update is set on AvailableForDownload, Downloaded, Updating and Ready.
	Update *UpdateDescriptor `json:"update,omitempty"`
	// Message carries a user-facing note, set on Idle after a failed
	// explicit check.
	Message string `json:"message,omitempty"`
}
