package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suitableit/smm-panel-backend/internal/db/models"
	"github.com/suitableit/smm-panel-backend/internal/db/repositories"
	"github.com/suitableit/smm-panel-backend/internal/events"
	"github.com/suitableit/smm-panel-backend/internal/upstream"
)

// --- fakes ---

type fakeCatalog struct {
	mu       gosync.Mutex
	services []upstream.Service
	balance  decimal.Decimal

	servicesErr error
	balanceErr  error
	probeErr    error

	probeCalls  int
	fetchCalls  int
	blockChan   chan struct{} // when set, FetchServices blocks until closed
}

func (f *fakeCatalog) FetchServices(ctx context.Context, p *models.Provider) ([]upstream.Service, error) {
	f.mu.Lock()
	f.fetchCalls++
	block := f.blockChan
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, upstream.NewError(upstream.KindTimeout, "Provider request timed out", ctx.Err())
		}
	}
	if f.servicesErr != nil {
		return nil, f.servicesErr
	}
	return f.services, nil
}

func (f *fakeCatalog) FetchBalance(ctx context.Context, p *models.Provider) (decimal.Decimal, error) {
	if f.balanceErr != nil {
		return decimal.Zero, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeCatalog) Probe(ctx context.Context, p *models.Provider) error {
	f.mu.Lock()
	f.probeCalls++
	f.mu.Unlock()
	return f.probeErr
}

type fakeStore struct {
	mu        gosync.Mutex
	providers map[int64]*models.Provider
	services  map[int64][]models.ProviderService
	lastSync  map[int64]time.Time
	balances  map[int64]decimal.Decimal

	updates []repositories.UpstreamUpdate
}

func newFakeStore(providers ...*models.Provider) *fakeStore {
	s := &fakeStore{
		providers: make(map[int64]*models.Provider),
		services:  make(map[int64][]models.ProviderService),
		lastSync:  make(map[int64]time.Time),
		balances:  make(map[int64]decimal.Decimal),
	}
	for _, p := range providers {
		s.providers[p.ID] = p
	}
	return s
}

func (s *fakeStore) GetByID(_ context.Context, id int64) (*models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providers[id], nil
}

func (s *fakeStore) ListActive(_ context.Context) ([]models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Provider
	for _, p := range s.providers {
		if p.Status == models.ProviderStatusActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) ListNonTrashed(_ context.Context) ([]models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Provider
	for _, p := range s.providers {
		if p.Status != models.ProviderStatusTrash {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) TouchLastSync(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync[id] = at
	return nil
}

func (s *fakeStore) UpdateBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[id] = balance
	return nil
}

func (s *fakeStore) ListByProvider(_ context.Context, providerID int64) ([]models.ProviderService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.services[providerID], nil
}

func (s *fakeStore) UpdateFromUpstream(_ context.Context, providerID int64, u repositories.UpstreamUpdate) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, svc := range s.services[providerID] {
		if svc.UpstreamServiceID == u.UpstreamServiceID {
			s.updates = append(s.updates, u)
			return !svc.Rate.Equal(u.Rate), svc.Status != u.Status, nil
		}
	}
	return false, false, repositories.ErrServiceNotImported
}

type fakeRunStore struct {
	mu        gosync.Mutex
	created   int
	completed []models.SyncRunStatus
}

func (r *fakeRunStore) Create(_ context.Context, run *models.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
	run.ID = uuid.New()
	return nil
}

func (r *fakeRunStore) Complete(_ context.Context, _ uuid.UUID, status models.SyncRunStatus, _, _, _ int, _ *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, status)
	return nil
}

// --- helpers ---

func activeProvider(id int64, name string) *models.Provider {
	return &models.Provider{
		ID:             id,
		Name:           name,
		APIURL:         "https://provider.example.com/api/v2",
		APIKey:         "key",
		Status:         models.ProviderStatusActive,
		TimeoutSeconds: 5,
	}
}

func newOrchestrator(store *fakeStore, catalog *fakeCatalog, runs *fakeRunStore) (*Orchestrator, *Prober) {
	prober := NewProber(catalog, store, time.Second)
	queue := events.NewQueue(time.Minute)
	return NewOrchestrator(store, store, runs, catalog, prober, queue, 5*time.Second, 10*time.Second, 0), prober
}

// --- SyncProvider ---

func TestSyncProvider_NotFound(t *testing.T) {
	store := newFakeStore()
	o, _ := newOrchestrator(store, &fakeCatalog{}, &fakeRunStore{})

	_, err := o.SyncProvider(context.Background(), 99, nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindValidation, upstream.KindOf(err))
}

func TestSyncProvider_TrashRejected(t *testing.T) {
	p := activeProvider(1, "a")
	now := time.Now()
	p.Status = models.ProviderStatusTrash
	p.DeletedAt = &now

	store := newFakeStore(p)
	o, _ := newOrchestrator(store, &fakeCatalog{}, &fakeRunStore{})

	_, err := o.SyncProvider(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindValidation, upstream.KindOf(err))
}

func TestSyncProvider_DisconnectedFailsFast(t *testing.T) {
	p := activeProvider(1, "a")
	store := newFakeStore(p)
	catalog := &fakeCatalog{}
	o, prober := newOrchestrator(store, catalog, &fakeRunStore{})

	prober.setState(1, StateDisconnected)

	_, err := o.SyncProvider(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindConnection, upstream.KindOf(err))
	assert.Contains(t, err.Error(), "Provider is not connected")

	// Fail-fast means no upstream traffic at all.
	assert.Equal(t, 0, catalog.probeCalls)
	assert.Equal(t, 0, catalog.fetchCalls)
}

func TestSyncProvider_UnknownStateProbesFirst(t *testing.T) {
	p := activeProvider(1, "a")
	store := newFakeStore(p)
	store.services[1] = []models.ProviderService{
		{UpstreamServiceID: "100", Rate: decimal.NewFromFloat(1.0), Status: "active"},
	}
	catalog := &fakeCatalog{
		services: []upstream.Service{
			{ID: "100", Rate: "1.50", Min: 10, Max: 100, Status: "active"},
		},
	}
	runs := &fakeRunStore{}
	o, prober := newOrchestrator(store, catalog, runs)

	result, err := o.SyncProvider(context.Background(), 1, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, catalog.probeCalls, "unknown state should trigger a probe")
	assert.Equal(t, StateConnected, prober.State(1))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.PriceChanges)
	assert.Equal(t, 0, result.StatusChange)
}

func TestSyncProvider_UpdatesOnlyImportedServices(t *testing.T) {
	p := activeProvider(1, "a")
	store := newFakeStore(p)
	store.services[1] = []models.ProviderService{
		{UpstreamServiceID: "100", Rate: decimal.NewFromFloat(1.0), Status: "active"},
	}
	catalog := &fakeCatalog{
		services: []upstream.Service{
			{ID: "100", Rate: "1.00", Min: 10, Max: 100, Status: "inactive"},
			{ID: "200", Rate: "9.99", Min: 1, Max: 10, Status: "active"},
			{ID: "300", Rate: "0.10", Min: 1, Max: 10, Status: "active"},
		},
	}
	o, prober := newOrchestrator(store, catalog, &fakeRunStore{})
	prober.setState(1, StateConnected)

	result, err := o.SyncProvider(context.Background(), 1, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Updated, "only the imported service is updated")
	assert.Equal(t, 1, result.StatusChange)
	require.Len(t, store.updates, 1)
	assert.Equal(t, "100", store.updates[0].UpstreamServiceID)
}

func TestSyncProvider_AppliesProfitMargin(t *testing.T) {
	p := activeProvider(1, "a")
	store := newFakeStore(p)
	store.services[1] = []models.ProviderService{
		{UpstreamServiceID: "100", Rate: decimal.NewFromFloat(1.0), Status: "active"},
	}
	catalog := &fakeCatalog{
		services: []upstream.Service{
			{ID: "100", Rate: "1.50", Min: 10, Max: 100, Status: "active"},
		},
	}
	o, prober := newOrchestrator(store, catalog, &fakeRunStore{})
	prober.setState(1, StateConnected)

	margin := 20.0
	result, err := o.SyncProvider(context.Background(), 1, &margin)
	require.NoError(t, err)

	assert.Equal(t, 1, result.PriceChanges)
	require.Len(t, store.updates, 1)
	assert.True(t, store.updates[0].Rate.Equal(decimal.RequireFromString("1.8")),
		"stored rate carries the 20%% markup, got %s", store.updates[0].Rate)
}

func TestSyncProvider_ConfigCapsProviderTimeout(t *testing.T) {
	p := activeProvider(1, "a")
	p.TimeoutSeconds = 60

	store := newFakeStore(p)
	store.services[1] = []models.ProviderService{
		{UpstreamServiceID: "100", Rate: decimal.NewFromFloat(1.0), Status: "active"},
	}

	block := make(chan struct{})
	defer close(block)
	catalog := &fakeCatalog{blockChan: block}

	prober := NewProber(catalog, store, time.Second)
	queue := events.NewQueue(time.Minute)
	o := NewOrchestrator(store, store, &fakeRunStore{}, catalog, prober, queue, 50*time.Millisecond, 10*time.Second, 0)
	prober.setState(1, StateConnected)

	start := time.Now()
	_, err := o.SyncProvider(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindTimeout, upstream.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second,
		"the configured cap applies even when the provider row allows 60s")
}

func TestSyncProvider_FailureDoesNotTouchLastSync(t *testing.T) {
	p := activeProvider(1, "a")
	store := newFakeStore(p)
	catalog := &fakeCatalog{
		servicesErr: upstream.NewError(upstream.KindTimeout, "Provider request timed out", nil),
	}
	runs := &fakeRunStore{}
	o, prober := newOrchestrator(store, catalog, runs)
	prober.setState(1, StateConnected)

	_, err := o.SyncProvider(context.Background(), 1, nil)
	require.Error(t, err)
	assert.Equal(t, upstream.KindTimeout, upstream.KindOf(err))

	_, touched := store.lastSync[1]
	assert.False(t, touched, "failed sync must not update last sync time")

	require.Len(t, runs.completed, 1)
	assert.Equal(t, models.SyncRunFailed, runs.completed[0])
}

func TestSyncProvider_SuccessTouchesLastSyncAndRecordsRun(t *testing.T) {
	p := activeProvider(1, "a")
	store := newFakeStore(p)
	store.services[1] = []models.ProviderService{
		{UpstreamServiceID: "100", Rate: decimal.NewFromFloat(1.0), Status: "active"},
	}
	catalog := &fakeCatalog{
		services: []upstream.Service{{ID: "100", Rate: "1.00", Min: 1, Max: 10, Status: "active"}},
	}
	runs := &fakeRunStore{}
	o, prober := newOrchestrator(store, catalog, runs)
	prober.setState(1, StateConnected)

	_, err := o.SyncProvider(context.Background(), 1, nil)
	require.NoError(t, err)

	_, touched := store.lastSync[1]
	assert.True(t, touched)
	assert.Equal(t, 1, runs.created)
	require.Len(t, runs.completed, 1)
	assert.Equal(t, models.SyncRunSuccess, runs.completed[0])
}

// --- SyncAll ---

func TestSyncAll_RejectsConcurrentRun(t *testing.T) {
	p := activeProvider(1, "a")
	store := newFakeStore(p)
	store.services[1] = []models.ProviderService{
		{UpstreamServiceID: "100", Rate: decimal.NewFromFloat(1.0), Status: "active"},
	}

	block := make(chan struct{})
	catalog := &fakeCatalog{
		blockChan: block,
		services:  []upstream.Service{{ID: "100", Rate: "1.00", Min: 1, Max: 10, Status: "active"}},
	}
	o, prober := newOrchestrator(store, catalog, &fakeRunStore{})
	prober.setState(1, StateConnected)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, _ = o.SyncAll(context.Background(), nil)
		close(done)
	}()

	<-started
	// Give the bulk run a moment to take the busy flag.
	require.Eventually(t, func() bool {
		_, err := o.SyncAll(context.Background(), nil)
		return errors.Is(err, ErrSyncInProgress)
	}, time.Second, 10*time.Millisecond)

	close(block)
	<-done

	// Once the first run finishes, a new bulk sync is accepted again.
	summary, err := o.SyncAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProvidersProcessed)
}

func TestSyncAll_ContinuesPastFailures(t *testing.T) {
	good := activeProvider(1, "good")
	bad := activeProvider(2, "bad")
	store := newFakeStore(good, bad)
	store.services[1] = []models.ProviderService{
		{UpstreamServiceID: "100", Rate: decimal.NewFromFloat(1.0), Status: "active"},
	}
	catalog := &fakeCatalog{
		services: []upstream.Service{{ID: "100", Rate: "2.00", Min: 1, Max: 10, Status: "active"}},
	}
	o, prober := newOrchestrator(store, catalog, &fakeRunStore{})
	prober.setState(1, StateConnected)
	prober.setState(2, StateDisconnected)

	summary, err := o.SyncAll(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.ProvidersProcessed)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, 1, summary.Totals.Failed)
	assert.Equal(t, 1, summary.Totals.Updated)
	assert.Equal(t, 1, summary.Totals.PriceChanges)

	for _, r := range summary.Results {
		if r.ProviderID == 2 {
			assert.False(t, r.Success)
			assert.Equal(t, "Provider is not connected", r.Error)
		}
	}
}

// --- Prober ---

func TestProberTestAllReplacesStates(t *testing.T) {
	a := activeProvider(1, "a")
	b := activeProvider(2, "b")
	b.Status = models.ProviderStatusInactive
	trashed := activeProvider(3, "c")
	now := time.Now()
	trashed.Status = models.ProviderStatusTrash
	trashed.DeletedAt = &now
	store := newFakeStore(a, b, trashed)
	catalog := &fakeCatalog{}
	prober := NewProber(catalog, store, time.Second)

	// Stale entry for a provider that no longer exists.
	prober.setState(99, StateConnected)

	results, err := prober.TestAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 2, "inactive providers are probed, trashed ones are not")
	for _, r := range results {
		assert.True(t, r.Connected)
	}

	assert.Equal(t, StateConnected, prober.State(1))
	assert.Equal(t, StateConnected, prober.State(2), "inactive providers keep a probed state")
	assert.Equal(t, StateUnknown, prober.State(3))
	assert.Equal(t, StateUnknown, prober.State(99), "bulk test replaces the whole map")
}

func TestProberTestRecordsDisconnected(t *testing.T) {
	p := activeProvider(1, "a")
	catalog := &fakeCatalog{
		probeErr: upstream.NewError(upstream.KindConnection, "Unable to connect to provider", nil),
	}
	prober := NewProber(catalog, newFakeStore(p), time.Second)

	connected, err := prober.Test(context.Background(), p)
	require.Error(t, err)
	assert.False(t, connected)
	assert.Equal(t, StateDisconnected, prober.State(1))
}

// --- BalanceRefresher ---

func TestBalanceRefresh_TargetedUpdate(t *testing.T) {
	p := activeProvider(1, "a")
	store := newFakeStore(p)
	catalog := &fakeCatalog{balance: decimal.NewFromFloat(77.25)}
	queue := events.NewQueue(time.Minute)
	refresher := NewBalanceRefresher(store, catalog, queue)

	balance, err := refresher.Refresh(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "77.25", balance.String())
	assert.Equal(t, "77.25", store.balances[1].String())

	notifications := queue.List()
	require.Len(t, notifications, 1)
	assert.Equal(t, events.KindBalanceUpdated, notifications[0].Kind)
}

func TestBalanceRefreshAll_ContinuesPastFailures(t *testing.T) {
	a := activeProvider(1, "a")
	b := activeProvider(2, "b")
	store := newFakeStore(a, b)

	catalog := &fakeCatalog{balance: decimal.NewFromFloat(10)}
	queue := events.NewQueue(time.Minute)
	refresher := NewBalanceRefresher(store, catalog, queue)

	refresher.RefreshAll(context.Background())

	assert.Len(t, store.balances, 2)
}

func TestBalanceRefresh_InactiveRejected(t *testing.T) {
	p := activeProvider(1, "a")
	p.Status = models.ProviderStatusInactive

	store := newFakeStore(p)
	catalog := &fakeCatalog{balance: decimal.NewFromFloat(10)}
	refresher := NewBalanceRefresher(store, catalog, events.NewQueue(time.Minute))

	_, err := refresher.Refresh(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, upstream.KindValidation, upstream.KindOf(err))
	assert.Contains(t, err.Error(), "Provider is not active")
	assert.Empty(t, store.balances, "no balance write for an inactive provider")
}

func TestBalanceRefresh_TrashRejected(t *testing.T) {
	p := activeProvider(1, "a")
	now := time.Now()
	p.Status = models.ProviderStatusTrash
	p.DeletedAt = &now

	store := newFakeStore(p)
	refresher := NewBalanceRefresher(store, &fakeCatalog{}, events.NewQueue(time.Minute))

	_, err := refresher.Refresh(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, upstream.KindValidation, upstream.KindOf(err))
}
