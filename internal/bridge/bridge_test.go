package bridge

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/siid-ide/update-agent/internal/update"
	"github.com/siid-ide/update-agent/pkg/api"
)

// fakeMachine records calls and supports state replay like the real
// machine.
type fakeMachine struct {
	mu        sync.Mutex
	state     api.UpdateState
	listeners map[int]update.Listener
	nextID    int

	checks    []bool
	downloads int
	applies   int
	installs  int
	sideloads []string
	latest    *bool
}

func newFakeMachine(state api.UpdateState) *fakeMachine {
	return &fakeMachine{
		state:     state,
		listeners: map[int]update.Listener{},
	}
}

func (m *fakeMachine) State() api.UpdateState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *fakeMachine) Subscribe(fn update.Listener) func() {
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

func (m *fakeMachine) setState(state api.UpdateState) {
	m.mu.Lock()
	m.state = state
	fns := make([]update.Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (m *fakeMachine) CheckForUpdates(_ context.Context, explicit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, explicit)
}

func (m *fakeMachine) DownloadUpdate(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads++
}

func (m *fakeMachine) ApplyUpdate(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applies++
}

func (m *fakeMachine) QuitAndInstall(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installs++
}

func (m *fakeMachine) ApplySpecificUpdate(_ context.Context, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sideloads = append(m.sideloads, path)
}

func (m *fakeMachine) IsLatestVersion(context.Context) *bool {
	return m.latest
}

func startBridge(t *testing.T, machine Machine) *Client {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "bridge.sock")
	listener, err := Listen(socketPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	server := NewServer(machine, listener)
	go func() { _ = server.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})

	return NewClient(socketPath)
}

func TestStateRoundTrip(t *testing.T) {
	machine := newFakeMachine(api.UpdateState{
		State: api.StateIdle,
		Kind:  api.UpdateKindArchive,
	})
	client := startBridge(t, machine)

	state, err := client.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.State != api.StateIdle || state.Kind != api.UpdateKindArchive {
		t.Fatalf("state %+v", state)
	}
}

// waitUntil polls cond until it holds or the deadline passes. The
// check endpoint dispatches asynchronously, so tests observe its
// effect on the machine with a little patience.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestCheckForwardsExplicitFlag(t *testing.T) {
	machine := newFakeMachine(api.UpdateState{State: api.StateIdle})
	client := startBridge(t, machine)

	if _, err := client.Check(context.Background(), true); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if _, err := client.Check(context.Background(), false); err != nil {
		t.Fatalf("Check: %v", err)
	}

	waitUntil(t, func() bool {
		machine.mu.Lock()
		defer machine.mu.Unlock()
		return len(machine.checks) == 2
	})

	machine.mu.Lock()
	defer machine.mu.Unlock()
	explicit, implicit := 0, 0
	for _, e := range machine.checks {
		if e {
			explicit++
		} else {
			implicit++
		}
	}
	if explicit != 1 || implicit != 1 {
		t.Fatalf("recorded checks %v", machine.checks)
	}
}

// blockingCheckMachine parks inside CheckForUpdates until released and
// records whether its context was canceled on the way out.
type blockingCheckMachine struct {
	*fakeMachine
	entered chan struct{}
	release chan struct{}
	done    chan struct{}
	ctxErr  error
}

func (m *blockingCheckMachine) CheckForUpdates(ctx context.Context, explicit bool) {
	close(m.entered)
	<-m.release
	m.ctxErr = ctx.Err()
	close(m.done)
}

func TestCheckSurvivesClientDisconnect(t *testing.T) {
	machine := &blockingCheckMachine{
		fakeMachine: newFakeMachine(api.UpdateState{State: api.StateIdle}),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	client := startBridge(t, machine)

	// The request completes while the check cycle is still running.
	if _, err := client.Check(context.Background(), false); err != nil {
		t.Fatalf("Check: %v", err)
	}

	select {
	case <-machine.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("check cycle never started")
	}

	// The request context is dead by now. Let the cycle finish and
	// confirm it never saw a cancellation.
	close(machine.release)
	select {
	case <-machine.done:
	case <-time.After(5 * time.Second):
		t.Fatal("check cycle never finished")
	}

	if machine.ctxErr != nil {
		t.Fatalf("check cycle canceled mid-flight: %v", machine.ctxErr)
	}
}

func TestOfferStateKeepsNewest(t *testing.T) {
	events := make(chan api.UpdateState, 2)

	for _, state := range []api.StateKind{
		api.StateCheckingForUpdates,
		api.StateDownloading,
		api.StateDownloaded,
		api.StateReady,
	} {
		offerState(events, api.UpdateState{State: state})
	}

	var last api.UpdateState
	for {
		select {
		case state := <-events:
			last = state
			continue
		default:
		}
		break
	}
	if last.State != api.StateReady {
		t.Fatalf("slow subscriber left with %q, want the newest state", last.State)
	}
}

func TestMutatingOperationsReachTheMachine(t *testing.T) {
	machine := newFakeMachine(api.UpdateState{State: api.StateIdle})
	client := startBridge(t, machine)
	ctx := context.Background()

	if _, err := client.Download(ctx); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if _, err := client.Apply(ctx); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := client.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := client.Sideload(ctx, "/tmp/pkg.tar.gz"); err != nil {
		t.Fatalf("Sideload: %v", err)
	}

	machine.mu.Lock()
	defer machine.mu.Unlock()
	if machine.downloads != 1 || machine.applies != 1 || machine.installs != 1 {
		t.Fatalf("calls: %d downloads, %d applies, %d installs",
			machine.downloads, machine.applies, machine.installs)
	}
	if len(machine.sideloads) != 1 || machine.sideloads[0] != "/tmp/pkg.tar.gz" {
		t.Fatalf("sideloads %v", machine.sideloads)
	}
}

func TestSideloadRequiresPath(t *testing.T) {
	machine := newFakeMachine(api.UpdateState{State: api.StateIdle})
	client := startBridge(t, machine)

	if _, err := client.Sideload(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty sideload path")
	}
	machine.mu.Lock()
	defer machine.mu.Unlock()
	if len(machine.sideloads) != 0 {
		t.Fatalf("invalid sideload reached the machine: %v", machine.sideloads)
	}
}

func TestLatestCarriesAmbiguity(t *testing.T) {
	machine := newFakeMachine(api.UpdateState{State: api.StateIdle})
	client := startBridge(t, machine)

	latest, err := client.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != nil {
		t.Fatalf("latest = %v, want nil when the machine cannot answer", *latest)
	}

	yes := true
	machine.latest = &yes
	latest, err = client.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || !*latest {
		t.Fatalf("latest = %v, want true", latest)
	}
}

func TestLateSubscriberReceivesCurrentState(t *testing.T) {
	machine := newFakeMachine(api.UpdateState{
		State: api.StateAvailableForDownload,
		Update: &api.UpdateDescriptor{
			Version:        "v2025.1.0",
			ProductVersion: "2025.1.0",
			URL:            "https://x/siid.tar.gz",
		},
	})
	client := startBridge(t, machine)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := client.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case state := <-events:
		if state.State != api.StateAvailableForDownload {
			t.Fatalf("first event %q, want the state current at connect time", state.State)
		}
		if state.Update == nil || state.Update.ProductVersion != "2025.1.0" {
			t.Fatalf("first event descriptor %+v", state.Update)
		}
	case <-ctx.Done():
		t.Fatal("no replayed state before timeout")
	}
}

func TestSubscriberObservesTransitions(t *testing.T) {
	machine := newFakeMachine(api.UpdateState{State: api.StateIdle})
	client := startBridge(t, machine)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := client.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Drain the replayed state first.
	select {
	case <-events:
	case <-ctx.Done():
		t.Fatal("no replayed state")
	}

	machine.setState(api.UpdateState{State: api.StateCheckingForUpdates, Explicit: true})

	select {
	case state := <-events:
		if state.State != api.StateCheckingForUpdates || !state.Explicit {
			t.Fatalf("event %+v", state)
		}
	case <-ctx.Done():
		t.Fatal("transition never reached the subscriber")
	}
}
