// Package update owns the update lifecycle state machine. All mutation
// goes through the single Machine instance; clients observe state
// through Subscribe and never transition it directly.
package update

import (
	"context"
	"fmt"
	"sync"

	"github.com/siid-ide/update-agent/internal/config"
	"github.com/siid-ide/update-agent/internal/driver"
	"github.com/siid-ide/update-agent/internal/feed"
	"github.com/siid-ide/update-agent/internal/logging"
	"github.com/siid-ide/update-agent/internal/telemetry"
	"github.com/siid-ide/update-agent/pkg/api"
)

var log = logging.L("update")

// Telemetry event names for the failure sites.
const (
	eventCheckError    = "update:error"
	eventDownloadError = "update:downloadError"
	eventApplyError    = "update:applyError"
	eventInstallError  = "update:installError"
)

// Scheduler triggers background checks per the configured policy mode.
// The machine hands it the check callback once it reaches Idle.
type Scheduler interface {
	Schedule(mode string, check func()) error
}

// Listener receives every state change, starting with the state current
// at subscription time.
type Listener func(api.UpdateState)

// Options wires a Machine's collaborators. Config and Driver are
// required; everything else has a workable default.
type Options struct {
	Config  *config.Config
	Driver  driver.Driver
	Feed    *feed.Client // overrides feed construction, mainly for tests
	Report  *telemetry.Reporter
	Sched   Scheduler
	// CurrentVersion is the product version this process ships with.
	CurrentVersion string
	// DevBuild marks an unpackaged development build, which never updates.
	DevBuild bool
	// Elevated overrides the platform elevation probe.
	Elevated func() bool
	// Shutdown asks the product to exit cleanly before the final
	// install hand-off. A returned error is a veto and aborts the
	// install. Nil means no shutdown participants.
	Shutdown func(ctx context.Context) error
}

// Machine is the authoritative update state machine. Transitions are
// serialized by its mutex; calls that do not match the current state
// tag are silent no-ops.
type Machine struct {
	mu    sync.Mutex
	opts  Options
	cfg   *config.Config
	feed  *feed.Client
	state api.UpdateState

	// avail is the staged artifact for the update the state refers to.
	avail *driver.Available

	listeners map[int]Listener
	nextID    int
}

func NewMachine(opts Options) *Machine {
	if opts.Report == nil {
		opts.Report = telemetry.NewReporter()
	}
	if opts.Elevated == nil {
		opts.Elevated = driver.IsElevated
	}

	return &Machine{
		opts:      opts,
		cfg:       opts.Config,
		state:     api.UpdateState{State: api.StateUninitialized},
		listeners: make(map[int]Listener),
	}
}

// State returns the current state.
func (m *Machine) State() api.UpdateState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a listener and replays the current state to it
// before returning, so no subscriber ever observes an undefined state.
// The returned function removes the listener.
func (m *Machine) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	current := m.state
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// transition atomically swaps to next if the current tag is from.
// Listeners run without the lock held so they may call back into the
// machine.
func (m *Machine) transition(from api.StateKind, next api.UpdateState) bool {
	m.mu.Lock()
	if m.state.State != from {
		m.mu.Unlock()
		return false
	}
	m.state = next
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	log.Debug("state change", "state", next.State)

	for _, fn := range fns {
		fn(next)
	}
	return true
}

// Initialize runs the one-shot disablement evaluation and, if updates
// are enabled, moves to Idle and arms the configured check schedule.
// Calling it more than once is a no-op.
func (m *Machine) Initialize() {
	m.mu.Lock()
	if m.state.State != api.StateUninitialized {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if reason, disabled := m.disablement(); disabled {
		log.Info("updates disabled", "reason", reason)
		m.transition(api.StateUninitialized, api.UpdateState{
			State:  api.StateDisabled,
			Reason: reason,
		})
		return
	}

	kind := m.opts.Driver.Kind()
	m.transition(api.StateUninitialized, api.UpdateState{
		State: api.StateIdle,
		Kind:  kind,
	})

	log.Info("update machine initialized",
		"kind", kind,
		"platform", m.opts.Driver.Platform(),
		"quality", m.cfg.Quality,
		"mode", m.cfg.Mode)

	if m.opts.Sched != nil {
		err := m.opts.Sched.Schedule(m.cfg.Mode, func() {
			m.CheckForUpdates(context.Background(), false)
		})
		if err != nil {
			log.Error("could not arm check schedule", "error", err)
		}
	}
}

// disablement evaluates the disable conditions in their fixed order.
func (m *Machine) disablement() (api.DisablementReason, bool) {
	if m.opts.DevBuild {
		return api.DisabledNotBuilt, true
	}

	if config.UpdatesDisabledByEnvironment() {
		return api.DisabledByEnvironment, true
	}

	if m.cfg.UpdateURL == "" || m.cfg.Commit == "" {
		return api.DisabledMissingConfig, true
	}

	if m.cfg.Mode == config.ModeNone || m.cfg.Quality == "" {
		return api.DisabledManually, true
	}

	m.mu.Lock()
	client := m.feed
	m.mu.Unlock()

	if client == nil {
		client = m.opts.Feed
		if client == nil {
			var err error
			client, err = feed.NewClient(feed.Options{
				BaseURL:      m.cfg.UpdateURL,
				GitHub:       m.cfg.GitHubFeed,
				QueryVariant: m.cfg.QueryVariant,
			})
			if err != nil {
				log.Error("feed URL rejected", "error", err)
				return api.DisabledInvalidConfig, true
			}
		}

		m.mu.Lock()
		m.feed = client
		m.mu.Unlock()
	}

	if m.cfg.Target == config.TargetUser && m.opts.Elevated() {
		return api.DisabledRunningAsAdmin, true
	}

	return "", false
}

// CheckForUpdates queries the feed for a newer release. No-op unless
// the machine is Idle; in particular a check issued while one is
// already in flight is rejected rather than cancelling it. All
// failures are absorbed here: explicit checks surface a message,
// background checks fail silently and retry on the next interval.
func (m *Machine) CheckForUpdates(ctx context.Context, explicit bool) {
	ok := m.transition(api.StateIdle, api.UpdateState{
		State:    api.StateCheckingForUpdates,
		Explicit: explicit,
	})
	if !ok {
		return
	}

	m.mu.Lock()
	client := m.feed
	m.mu.Unlock()

	update, err := client.Latest(ctx,
		m.opts.Driver.Platform(), m.cfg.Quality, m.cfg.Commit,
		feed.ProductMeta{
			Target:         m.cfg.Target,
			CurrentVersion: m.opts.CurrentVersion,
			RequireNewer:   m.cfg.RequireNewer,
		})
	if err != nil {
		m.onCheckFailure(explicit, err)
		return
	}

	if update == nil {
		log.Debug("no update available", "explicit", explicit)
		m.backToIdle(messageIf(explicit, "There are currently no updates available."))
		return
	}

	if !update.Actionable() {
		log.Debug("update not actionable", "version", update.Version)
		m.backToIdle(messageIf(explicit, "There are currently no updates available."))
		return
	}

	log.Info("update available",
		"version", update.Version,
		"productVersion", update.ProductVersion,
		"explicit", explicit)

	if m.opts.Driver.Kind() == api.UpdateKindSetup {
		m.downloadForSetup(ctx, explicit, update)
		return
	}

	m.transition(api.StateCheckingForUpdates, api.UpdateState{
		State:  api.StateAvailableForDownload,
		Update: update,
	})
}

// downloadForSetup runs the automatic download the setup platform does
// during the check itself.
func (m *Machine) downloadForSetup(ctx context.Context, explicit bool, update *api.UpdateDescriptor) {
	ok := m.transition(api.StateCheckingForUpdates, api.UpdateState{
		State:  api.StateDownloading,
		Update: update,
	})
	if !ok {
		return
	}

	avail, err := m.opts.Driver.Download(ctx, update)
	if err != nil {
		m.opts.Report.RecordError(eventDownloadError, err)
		log.Error("download failed", "version", update.Version, "error", err)
		m.backToIdle(messageIf(explicit, "The update could not be downloaded."))
		return
	}

	m.mu.Lock()
	m.avail = avail
	m.mu.Unlock()

	if !m.transition(api.StateDownloading, api.UpdateState{
		State:  api.StateDownloaded,
		Update: update,
	}) {
		return
	}

	if m.cfg.FastUpdate && update.SupportsFastUpdate {
		m.ApplyUpdate(ctx)
	}
}

// DownloadUpdate performs the user-initiated download on archive
// platforms. No-op unless an update is available for download.
func (m *Machine) DownloadUpdate(ctx context.Context) {
	m.mu.Lock()
	current := m.state
	m.mu.Unlock()

	if current.State != api.StateAvailableForDownload {
		return
	}

	update := current.Update

	ok := m.transition(api.StateAvailableForDownload, api.UpdateState{
		State:  api.StateDownloading,
		Update: update,
	})
	if !ok {
		return
	}

	avail, err := m.opts.Driver.Download(ctx, update)
	if err != nil {
		m.opts.Report.RecordError(eventDownloadError, err)
		log.Error("download failed", "version", update.Version, "error", err)
		m.backToIdle("The update could not be downloaded.")
		return
	}

	m.mu.Lock()
	m.avail = avail
	m.mu.Unlock()

	// Archive downloads are staged the moment they verify.
	m.transition(api.StateDownloading, api.UpdateState{
		State:  api.StateReady,
		Update: update,
	})
}

// ApplyUpdate stages the downloaded update for install. No-op unless a
// download has completed.
func (m *Machine) ApplyUpdate(ctx context.Context) {
	m.mu.Lock()
	current := m.state
	avail := m.avail
	m.mu.Unlock()

	if current.State != api.StateDownloaded {
		return
	}

	update := current.Update

	ok := m.transition(api.StateDownloaded, api.UpdateState{
		State:  api.StateUpdating,
		Update: update,
	})
	if !ok {
		return
	}

	if err := m.opts.Driver.Apply(ctx, avail); err != nil {
		m.opts.Report.RecordError(eventApplyError, err)
		log.Error("apply failed", "version", update.ProductVersion, "error", err)
		m.backToIdle("The update could not be applied.")
		return
	}

	m.transition(api.StateUpdating, api.UpdateState{
		State:  api.StateReady,
		Update: update,
	})
}

// QuitAndInstall negotiates a clean product shutdown and hands off to
// the platform installer. No-op unless an update is Ready. A shutdown
// veto aborts the install and leaves the update Ready for later.
func (m *Machine) QuitAndInstall(ctx context.Context) {
	m.mu.Lock()
	current := m.state
	avail := m.avail
	m.mu.Unlock()

	if current.State != api.StateReady {
		return
	}

	if m.opts.Shutdown != nil {
		if err := m.opts.Shutdown(ctx); err != nil {
			log.Info("shutdown vetoed, install deferred", "error", err)
			return
		}
	}

	if err := m.opts.Driver.QuitAndInstall(ctx, avail); err != nil {
		m.opts.Report.RecordError(eventInstallError, err)
		log.Error("install hand-off failed", "error", err)
		m.backToIdle("The update could not be installed.")
		return
	}

	log.Info("install hand-off complete", "version", current.Update.ProductVersion)
}

// ApplySpecificUpdate sideloads a pre-downloaded package, bypassing the
// feed. Intended for manual and test installs. No-op unless Idle.
func (m *Machine) ApplySpecificUpdate(ctx context.Context, packagePath string) {
	m.mu.Lock()
	current := m.state
	m.mu.Unlock()

	if current.State != api.StateIdle {
		return
	}

	avail, err := m.opts.Driver.Sideload(packagePath)
	if err != nil {
		m.opts.Report.RecordError(eventApplyError, err)
		log.Error("sideload failed", "path", packagePath, "error", err)
		m.backToIdle("The package could not be staged.")
		return
	}

	update := &api.UpdateDescriptor{
		Version:        avail.Version,
		ProductVersion: avail.Version,
		URL:            packagePath,
	}

	ok := m.transition(api.StateIdle, api.UpdateState{
		State:  api.StateDownloading,
		Update: update,
	})
	if !ok {
		return
	}

	m.mu.Lock()
	m.avail = avail
	m.mu.Unlock()

	m.transition(api.StateDownloading, api.UpdateState{
		State:  api.StateDownloaded,
		Update: update,
	})

	m.ApplyUpdate(ctx)
}

// IsLatestVersion re-queries the feed without touching the state
// machine. It returns nil when the answer is ambiguous: uninitialized
// or disabled machine, request failure, or parse failure.
func (m *Machine) IsLatestVersion(ctx context.Context) *bool {
	m.mu.Lock()
	client := m.feed
	m.mu.Unlock()

	if client == nil {
		return nil
	}

	update, err := client.Latest(ctx,
		m.opts.Driver.Platform(), m.cfg.Quality, m.cfg.Commit,
		feed.ProductMeta{
			Target:         m.cfg.Target,
			CurrentVersion: m.opts.CurrentVersion,
			RequireNewer:   m.cfg.RequireNewer,
		})
	if err != nil {
		log.Debug("latest-version query failed", "error", err)
		return nil
	}

	latest := update == nil
	return &latest
}

// onCheckFailure absorbs a feed failure: hashed telemetry, log, back to
// Idle. The raw message only reaches the user when the check was
// explicit.
func (m *Machine) onCheckFailure(explicit bool, err error) {
	m.opts.Report.RecordError(eventCheckError, err)
	log.Error("update check failed", "explicit", explicit, "error", err)
	m.backToIdle(messageIf(explicit, fmt.Sprintf("Checking for updates failed: %v", err)))
}

// backToIdle returns to Idle from whatever non-terminal state the
// current cycle reached, discarding any staged artifact reference.
func (m *Machine) backToIdle(message string) {
	m.mu.Lock()
	if m.state.State == api.StateDisabled || m.state.State == api.StateUninitialized {
		m.mu.Unlock()
		return
	}
	m.avail = nil
	m.state = api.UpdateState{
		State:   api.StateIdle,
		Kind:    m.opts.Driver.Kind(),
		Message: message,
	}
	next := m.state
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	log.Debug("state change", "state", next.State)

	for _, fn := range fns {
		fn(next)
	}
}

func messageIf(explicit bool, message string) string {
	if !explicit {
		return ""
	}
	return message
}
