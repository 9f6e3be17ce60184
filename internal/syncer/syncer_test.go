package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/household-ledger/internal/engine"
	"github.com/household-ledger/internal/models"
	"github.com/household-ledger/internal/provider"
	"github.com/household-ledger/internal/types"
	"github.com/household-ledger/internal/vault"
)

// --- mocks ---

type mockConnectionStore struct {
	connections map[string]*models.Connection
	deactivated []string
	reactivated []string
	lastSync    map[string]types.SyncJobStatus
	tokens      map[string]string
	cleared     []string
	mappings    map[string]map[string]string
}

func newMockConnectionStore() *mockConnectionStore {
	return &mockConnectionStore{
		connections: make(map[string]*models.Connection),
		lastSync:    make(map[string]types.SyncJobStatus),
		tokens:      make(map[string]string),
		mappings:    make(map[string]map[string]string),
	}
}

func (m *mockConnectionStore) GetByID(ctx context.Context, householdID, connectionID string) (*models.Connection, error) {
	conn, ok := m.connections[connectionID]
	if !ok || conn.HouseholdID != householdID {
		return nil, nil
	}
	return conn, nil
}

func (m *mockConnectionStore) ListActive(ctx context.Context, householdID string) ([]*models.Connection, error) {
	var conns []*models.Connection
	for _, conn := range m.connections {
		if conn.HouseholdID == householdID && conn.Active {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

func (m *mockConnectionStore) Deactivate(ctx context.Context, connectionID string) error {
	m.deactivated = append(m.deactivated, connectionID)
	if conn, ok := m.connections[connectionID]; ok {
		conn.Active = false
	}
	return nil
}

func (m *mockConnectionStore) Reactivate(ctx context.Context, connectionID string) error {
	m.reactivated = append(m.reactivated, connectionID)
	if conn, ok := m.connections[connectionID]; ok {
		conn.Active = true
	}
	return nil
}

func (m *mockConnectionStore) UpdateLastSync(ctx context.Context, connectionID string, status types.SyncJobStatus, at time.Time) error {
	m.lastSync[connectionID] = status
	if conn, ok := m.connections[connectionID]; ok {
		conn.LastSyncAt = &at
	}
	return nil
}

func (m *mockConnectionStore) UpdateSyncStatus(ctx context.Context, connectionID string, status types.SyncJobStatus) error {
	m.lastSync[connectionID] = status
	return nil
}

func (m *mockConnectionStore) SetLongLivedToken(ctx context.Context, connectionID string, encryptedToken string) error {
	m.tokens[connectionID] = encryptedToken
	return nil
}

func (m *mockConnectionStore) ClearLongLivedToken(ctx context.Context, connectionID string) error {
	m.cleared = append(m.cleared, connectionID)
	if conn, ok := m.connections[connectionID]; ok {
		conn.EncryptedToken = nil
	}
	return nil
}

func (m *mockConnectionStore) SetAccountMapping(ctx context.Context, connectionID string, mapping map[string]string) error {
	m.mappings[connectionID] = mapping
	return nil
}

type mockJobStore struct {
	nextID    int
	created   []string
	completed map[string]types.SyncJobStatus
	found     map[string]int
	added     map[string]int
	messages  map[string]string
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{
		completed: make(map[string]types.SyncJobStatus),
		found:     make(map[string]int),
		added:     make(map[string]int),
		messages:  make(map[string]string),
	}
}

func (m *mockJobStore) Create(ctx context.Context, connectionID string) (*models.SyncJob, error) {
	m.nextID++
	id := fmt.Sprintf("job-%d", m.nextID)
	m.created = append(m.created, id)
	return &models.SyncJob{
		ID:           id,
		ConnectionID: connectionID,
		Status:       types.JobRunning,
		StartedAt:    time.Now().UTC(),
	}, nil
}

func (m *mockJobStore) Complete(ctx context.Context, jobID string, status types.SyncJobStatus, found, added int, errorMessage *string) error {
	if _, done := m.completed[jobID]; done {
		return fmt.Errorf("sync job not running: %s", jobID)
	}
	m.completed[jobID] = status
	m.found[jobID] = found
	m.added[jobID] = added
	if errorMessage != nil {
		m.messages[jobID] = *errorMessage
	}
	return nil
}

type mockAccountStore struct {
	byID       map[string]*models.Account
	byExternal map[string]*models.Account
	created    []*models.Account
	nextID     int
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{
		byID:       make(map[string]*models.Account),
		byExternal: make(map[string]*models.Account),
	}
}

func (m *mockAccountStore) GetByID(ctx context.Context, householdID, accountID string) (*models.Account, error) {
	account, ok := m.byID[accountID]
	if !ok || account.HouseholdID != householdID {
		return nil, nil
	}
	return account, nil
}

func (m *mockAccountStore) GetByExternalID(ctx context.Context, householdID, externalID string) (*models.Account, error) {
	account, ok := m.byExternal[householdID+"/"+externalID]
	if !ok {
		return nil, nil
	}
	return account, nil
}

func (m *mockAccountStore) Create(ctx context.Context, account *models.Account) error {
	m.nextID++
	account.ID = fmt.Sprintf("account-%d", m.nextID)
	m.byID[account.ID] = account
	if account.ExternalID != nil {
		m.byExternal[account.HouseholdID+"/"+*account.ExternalID] = account
	}
	m.created = append(m.created, account)
	return nil
}

type mockCategoryStore struct {
	byName  map[string]*models.Category
	created []*models.Category
	nextID  int
}

func newMockCategoryStore() *mockCategoryStore {
	return &mockCategoryStore{byName: make(map[string]*models.Category)}
}

func (m *mockCategoryStore) FindByName(ctx context.Context, householdID, name string) (*models.Category, error) {
	return m.byName[name], nil
}

func (m *mockCategoryStore) Create(ctx context.Context, cat *models.Category) error {
	m.nextID++
	cat.ID = fmt.Sprintf("category-%d", m.nextID)
	m.byName[cat.Name] = cat
	m.created = append(m.created, cat)
	return nil
}

type mockRuleStore struct {
	rules []*models.CategoryRule
}

func (m *mockRuleStore) ListActive(ctx context.Context, householdID string) ([]*models.CategoryRule, error) {
	return m.rules, nil
}

type mockTransactionStore struct {
	existing map[string]bool
	created  []*models.Transaction
	failOn   map[string]bool
}

func newMockTransactionStore() *mockTransactionStore {
	return &mockTransactionStore{
		existing: make(map[string]bool),
		failOn:   make(map[string]bool),
	}
}

func (m *mockTransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	if tx.ExternalID != nil && m.failOn[*tx.ExternalID] {
		return fmt.Errorf("simulated persist failure")
	}
	m.created = append(m.created, tx)
	if tx.ExternalID != nil {
		m.existing[*tx.ExternalID] = true
	}
	return nil
}

func (m *mockTransactionStore) ExistingExternalIDs(ctx context.Context, householdID string, externalIDs []string) (map[string]bool, error) {
	result := make(map[string]bool)
	for _, id := range externalIDs {
		if m.existing[id] {
			result[id] = true
		}
	}
	return result, nil
}

type fakeAdapter struct {
	tag      string
	result   *ScrapeOutcome
	requests []*provider.ScrapeRequest
}

// ScrapeOutcome scripts a fake adapter's behavior for one test
type ScrapeOutcome struct {
	Result *provider.ScrapeResult
	Err    error
	Panic  string
}

func (f *fakeAdapter) Tag() string             { return f.tag }
func (f *fakeAdapter) RequiresTwoFactor() bool { return false }

func (f *fakeAdapter) Scrape(ctx context.Context, req *provider.ScrapeRequest) (*provider.ScrapeResult, error) {
	f.requests = append(f.requests, req)
	if f.result.Panic != "" {
		panic(f.result.Panic)
	}
	return f.result.Result, f.result.Err
}

// --- fixture ---

const (
	testHousehold  = "household-1"
	testConnection = "conn-1"
	testProvider   = "fakebank"
)

var testKey = make([]byte, vault.KeySize)

type fixture struct {
	service      *Service
	adapter      *fakeAdapter
	connections  *mockConnectionStore
	jobs         *mockJobStore
	accounts     *mockAccountStore
	categories   *mockCategoryStore
	rules        *mockRuleStore
	transactions *mockTransactionStore
	vault        *vault.Vault
}

func newFixture(t *testing.T, outcome *ScrapeOutcome) *fixture {
	t.Helper()

	v, err := vault.New(testKey)
	require.NoError(t, err)

	adapter := &fakeAdapter{tag: testProvider, result: outcome}
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(adapter))

	f := &fixture{
		adapter:      adapter,
		connections:  newMockConnectionStore(),
		jobs:         newMockJobStore(),
		accounts:     newMockAccountStore(),
		categories:   newMockCategoryStore(),
		rules:        &mockRuleStore{},
		transactions: newMockTransactionStore(),
		vault:        v,
	}

	f.service, err = NewService(&ServiceConfig{
		Connections:  f.connections,
		Jobs:         f.jobs,
		Accounts:     f.accounts,
		Categories:   f.categories,
		Rules:        f.rules,
		Transactions: f.transactions,
		Vault:        v,
		Registry:     registry,
		Engine:       engine.NewEngine(nil, nil),
	})
	require.NoError(t, err)

	f.addConnection(t, testConnection)
	return f
}

func (f *fixture) addConnection(t *testing.T, id string) *models.Connection {
	t.Helper()

	encrypted, err := f.vault.EncryptJSON(&provider.Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)

	conn := &models.Connection{
		ID:                   id,
		HouseholdID:          testHousehold,
		ProviderTag:          testProvider,
		EncryptedCredentials: encrypted,
		Active:               true,
	}
	f.connections.connections[id] = conn
	return conn
}

func scrapeWith(transactions ...provider.RawTransaction) *ScrapeOutcome {
	return &ScrapeOutcome{
		Result: &provider.ScrapeResult{
			Success: true,
			Accounts: []provider.AccountScrape{
				{AccountID: "ext-acc-1", AccountName: "Checking", Transactions: transactions},
			},
		},
	}
}

func rawTx(id string, amount string) provider.RawTransaction {
	return provider.RawTransaction{
		ProviderTxID: id,
		Date:         time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Description:  "purchase " + id,
		Amount:       decimal.RequireFromString(amount),
	}
}

// --- tests ---

func TestSyncConnectionImportsNewTransactions(t *testing.T) {
	f := newFixture(t, scrapeWith(
		rawTx("t1", "-10.00"),
		rawTx("t2", "-20.00"),
		rawTx("t3", "-30.00"),
		rawTx("t4", "-40.00"),
		rawTx("t5", "500.00"),
	))
	// Two of the five were imported by an earlier sync
	f.transactions.existing[ExternalTxID("ext-acc-1", "t1")] = true
	f.transactions.existing[ExternalTxID("ext-acc-1", "t2")] = true

	result, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	assert.Equal(t, types.JobSuccess, result.Status)
	assert.Equal(t, 5, result.TransactionsFound)
	assert.Equal(t, 3, result.TransactionsNew)
	assert.Len(t, f.transactions.created, 3)

	assert.Equal(t, types.JobSuccess, f.jobs.completed[result.JobID])
	assert.Equal(t, types.JobSuccess, f.connections.lastSync[testConnection])

	// The income row keeps a positive absolute amount and income direction
	var income *models.Transaction
	for _, tx := range f.transactions.created {
		if tx.Direction == types.DirectionIncome {
			income = tx
		}
	}
	require.NotNil(t, income)
	assert.Equal(t, "500.00", income.Amount.StringFixed(2))
}

func TestSyncConnectionIsIdempotent(t *testing.T) {
	f := newFixture(t, scrapeWith(rawTx("t1", "-10.00"), rawTx("t2", "-20.00")))

	first, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)
	assert.Equal(t, 2, first.TransactionsNew)

	second, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)
	assert.Equal(t, 2, second.TransactionsFound)
	assert.Equal(t, 0, second.TransactionsNew)
	assert.Len(t, f.transactions.created, 2)
}

func TestSyncConnectionAutoProvisionsAccount(t *testing.T) {
	f := newFixture(t, scrapeWith(rawTx("t1", "-10.00")))

	_, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	require.Len(t, f.accounts.created, 1)
	account := f.accounts.created[0]
	assert.Equal(t, "Checking", account.Name)
	require.NotNil(t, account.ExternalID)
	assert.Equal(t, "ext-acc-1", *account.ExternalID)

	// The new account is recorded in the connection's mapping
	assert.Equal(t, account.ID, f.connections.mappings[testConnection]["ext-acc-1"])

	// A second sync reuses it instead of provisioning another
	_, err = f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)
	assert.Len(t, f.accounts.created, 1)
}

func TestSyncConnectionStaleMappingFallsBack(t *testing.T) {
	f := newFixture(t, scrapeWith(rawTx("t1", "-10.00")))
	f.connections.connections[testConnection].AccountMapping = map[string]string{
		"ext-acc-1": "deleted-account",
	}

	result, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	assert.Equal(t, types.JobSuccess, result.Status)
	require.Len(t, f.accounts.created, 1)
	assert.NotEqual(t, "deleted-account", f.transactions.created[0].AccountID)
}

func TestSyncConnectionAuthFailureDeactivates(t *testing.T) {
	f := newFixture(t, &ScrapeOutcome{
		Result: &provider.ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorAuth,
			ErrorMessage: "invalid credentials",
		},
	})

	result, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	assert.Equal(t, types.JobError, result.Status)
	assert.True(t, result.AuthRequired)
	assert.Contains(t, f.connections.deactivated, testConnection)
	assert.Equal(t, types.JobError, f.jobs.completed[result.JobID])
	assert.Equal(t, "invalid credentials", f.jobs.messages[result.JobID])
}

func TestSyncConnectionAuthFailureByMessage(t *testing.T) {
	// The adapter mistyped the failure but the message is unambiguous
	f := newFixture(t, &ScrapeOutcome{
		Result: &provider.ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorTransient,
			ErrorMessage: "upstream said: session expired, please re-authenticate",
		},
	})

	result, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	assert.True(t, result.AuthRequired)
	assert.Contains(t, f.connections.deactivated, testConnection)
}

func TestSyncConnectionTransientFailureKeepsConnectionActive(t *testing.T) {
	f := newFixture(t, &ScrapeOutcome{
		Result: &provider.ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorTransient,
			ErrorMessage: "provider returned status 503",
		},
	})

	result, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	assert.Equal(t, types.JobError, result.Status)
	assert.False(t, result.AuthRequired)
	assert.Empty(t, f.connections.deactivated)
	assert.True(t, f.connections.connections[testConnection].Active)
}

func TestSyncConnectionFailureKeepsFetchWindowAnchored(t *testing.T) {
	f := newFixture(t, &ScrapeOutcome{
		Result: &provider.ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorTransient,
			ErrorMessage: "provider returned status 503",
		},
	})
	lastSuccess := time.Now().UTC().Add(-30 * 24 * time.Hour)
	f.connections.connections[testConnection].LastSyncAt = &lastSuccess

	// Two failed attempts in a row
	for i := 0; i < 2; i++ {
		result, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
		require.NoError(t, err)
		assert.Equal(t, types.JobError, result.Status)
	}

	// Every fetch starts behind the last successful sync; the failures
	// did not shrink the window
	require.Len(t, f.adapter.requests, 2)
	for _, req := range f.adapter.requests {
		assert.WithinDuration(t, lastSuccess.Add(-resyncOverlap), req.StartDate, time.Second)
	}
	require.NotNil(t, f.connections.connections[testConnection].LastSyncAt)
	assert.Equal(t, lastSuccess, *f.connections.connections[testConnection].LastSyncAt)
	assert.Equal(t, types.JobError, f.connections.lastSync[testConnection])
}

func TestSyncConnectionSuccessAdvancesFetchWindow(t *testing.T) {
	f := newFixture(t, scrapeWith(rawTx("t1", "-10.00")))
	lastSuccess := time.Now().UTC().Add(-30 * 24 * time.Hour)
	f.connections.connections[testConnection].LastSyncAt = &lastSuccess

	_, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	_, err = f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	// The second fetch starts behind the first sync's completion, not
	// behind the month-old anchor
	require.Len(t, f.adapter.requests, 2)
	assert.WithinDuration(t, time.Now().UTC().Add(-resyncOverlap), f.adapter.requests[1].StartDate, time.Minute)
}

func TestSyncConnectionAuthFailureClearsToken(t *testing.T) {
	f := newFixture(t, &ScrapeOutcome{
		Result: &provider.ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorAuth,
			ErrorMessage: "invalid credentials",
		},
	})
	encrypted, err := f.vault.EncryptString("long-lived-1")
	require.NoError(t, err)
	f.connections.connections[testConnection].EncryptedToken = &encrypted

	result, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	// The rejected token is dropped along with the deactivation, so a
	// manual retry cannot resend it
	assert.True(t, result.AuthRequired)
	assert.Equal(t, []string{testConnection}, f.connections.cleared)
	assert.Nil(t, f.connections.connections[testConnection].EncryptedToken)
}

func TestSyncConnectionTransientFailureKeepsToken(t *testing.T) {
	f := newFixture(t, &ScrapeOutcome{
		Result: &provider.ScrapeResult{
			Success:      false,
			ErrorType:    types.ScrapeErrorTransient,
			ErrorMessage: "provider returned status 503",
		},
	})
	encrypted, err := f.vault.EncryptString("long-lived-1")
	require.NoError(t, err)
	f.connections.connections[testConnection].EncryptedToken = &encrypted

	_, err = f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	assert.Empty(t, f.connections.cleared)
	require.NotNil(t, f.connections.connections[testConnection].EncryptedToken)
}

func TestSyncConnectionAdapterPanicMarksJobError(t *testing.T) {
	f := newFixture(t, &ScrapeOutcome{Panic: "adapter blew up"})

	assert.Panics(t, func() {
		_, _ = f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	})

	// The job did not stay running
	require.Len(t, f.jobs.created, 1)
	jobID := f.jobs.created[0]
	assert.Equal(t, types.JobError, f.jobs.completed[jobID])
	assert.Contains(t, f.jobs.messages[jobID], "panicked")
}

func TestSyncConnectionUnknownConnection(t *testing.T) {
	f := newFixture(t, scrapeWith())

	_, err := f.service.SyncConnection(context.Background(), testHousehold, "missing")
	require.Error(t, err)
	assert.Empty(t, f.jobs.created)
}

func TestSyncConnectionCrossHouseholdHidden(t *testing.T) {
	f := newFixture(t, scrapeWith())

	_, err := f.service.SyncConnection(context.Background(), "other-household", testConnection)
	require.Error(t, err)
	assert.Empty(t, f.jobs.created)
}

func TestSyncConnectionSkipsFailedRows(t *testing.T) {
	f := newFixture(t, scrapeWith(rawTx("t1", "-10.00"), rawTx("t2", "-20.00")))
	f.transactions.failOn[ExternalTxID("ext-acc-1", "t1")] = true

	result, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	// The bad row is skipped, the rest of the import continues
	assert.Equal(t, types.JobSuccess, result.Status)
	assert.Equal(t, 2, result.TransactionsFound)
	assert.Equal(t, 1, result.TransactionsNew)
}

func TestSyncConnectionProviderLabelWins(t *testing.T) {
	tx := rawTx("t1", "-10.00")
	tx.CategoryLabel = "Groceries"
	f := newFixture(t, scrapeWith(tx))

	_, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	require.Len(t, f.transactions.created, 1)
	created := f.transactions.created[0]
	require.NotNil(t, created.CategoryID)
	require.NotNil(t, created.Source)
	assert.Equal(t, types.SourceProvider, *created.Source)
	assert.Equal(t, 0.9, created.Confidence)
	assert.False(t, created.NeedsReview)

	// The label was materialized as a household category
	require.Len(t, f.categories.created, 1)
	assert.Equal(t, "Groceries", f.categories.created[0].Name)
}

func TestSyncConnectionUnmatchedNeedsReview(t *testing.T) {
	f := newFixture(t, scrapeWith(rawTx("t1", "-10.00")))

	_, err := f.service.SyncConnection(context.Background(), testHousehold, testConnection)
	require.NoError(t, err)

	require.Len(t, f.transactions.created, 1)
	created := f.transactions.created[0]
	assert.Nil(t, created.CategoryID)
	require.NotNil(t, created.Source)
	assert.Equal(t, types.SourceFallback, *created.Source)
	assert.True(t, created.NeedsReview)
}

func TestSyncAllIsolatesFailures(t *testing.T) {
	outcomes := map[string]*ScrapeOutcome{
		"conn-ok":    scrapeWith(rawTx("t1", "-10.00")),
		"conn-auth":  {Result: &provider.ScrapeResult{Success: false, ErrorType: types.ScrapeErrorAuth, ErrorMessage: "invalid credentials"}},
		"conn-panic": {Panic: "boom"},
	}

	f := newFixture(t, scrapeWith())
	delete(f.connections.connections, testConnection)

	registry := provider.NewRegistry()
	for id, outcome := range outcomes {
		tag := "bank-" + id
		require.NoError(t, registry.Register(&fakeAdapter{tag: tag, result: outcome}))

		encrypted, err := f.vault.EncryptJSON(&provider.Credentials{Username: "alice", Password: "secret"})
		require.NoError(t, err)
		f.connections.connections[id] = &models.Connection{
			ID:                   id,
			HouseholdID:          testHousehold,
			ProviderTag:          tag,
			EncryptedCredentials: encrypted,
			Active:               true,
		}
	}

	service, err := NewService(&ServiceConfig{
		Connections:  f.connections,
		Jobs:         f.jobs,
		Accounts:     f.accounts,
		Categories:   f.categories,
		Rules:        f.rules,
		Transactions: f.transactions,
		Vault:        f.vault,
		Registry:     registry,
		Engine:       engine.NewEngine(nil, nil),
	})
	require.NoError(t, err)

	result, err := service.SyncAll(context.Background(), testHousehold)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, result.Results, 3)

	// The successful connection imported despite its siblings failing
	assert.Len(t, f.transactions.created, 1)
	// Only the auth failure deactivated its connection
	assert.Equal(t, []string{"conn-auth"}, f.connections.deactivated)
}

func TestCompleteTwoFactorStoresToken(t *testing.T) {
	f := newFixture(t, scrapeWith())

	registry := provider.NewRegistry()
	tfa := &fakeTwoFactorAdapter{
		fakeAdapter: fakeAdapter{tag: testProvider, result: scrapeWith()},
		token:       "long-lived-1",
	}
	require.NoError(t, registry.Register(tfa))

	service, err := NewService(&ServiceConfig{
		Connections:  f.connections,
		Jobs:         f.jobs,
		Accounts:     f.accounts,
		Categories:   f.categories,
		Rules:        f.rules,
		Transactions: f.transactions,
		Vault:        f.vault,
		Registry:     registry,
		Engine:       engine.NewEngine(nil, nil),
	})
	require.NoError(t, err)

	f.connections.connections[testConnection].Active = false

	result, err := service.CompleteConnectionTwoFactor(context.Background(), testHousehold, testConnection, "123456", "session-1")
	require.NoError(t, err)
	require.True(t, result.Success)

	// The token is stored encrypted and decrypts back to what the provider issued
	encrypted := f.connections.tokens[testConnection]
	require.NotEmpty(t, encrypted)
	assert.NotEqual(t, "long-lived-1", encrypted)
	decrypted, err := f.vault.DecryptString(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "long-lived-1", decrypted)

	// Completing re-authentication reactivates the connection
	assert.Contains(t, f.connections.reactivated, testConnection)
}

type fakeTwoFactorAdapter struct {
	fakeAdapter
	token string
}

func (f *fakeTwoFactorAdapter) RequiresTwoFactor() bool { return true }

func (f *fakeTwoFactorAdapter) InitTwoFactor(ctx context.Context, creds *provider.Credentials) (*provider.TwoFactorInit, error) {
	return &provider.TwoFactorInit{Success: true, SessionID: "session-1"}, nil
}

func (f *fakeTwoFactorAdapter) CompleteTwoFactor(ctx context.Context, creds *provider.Credentials, code, sessionID string) (*provider.TwoFactorResult, error) {
	return &provider.TwoFactorResult{Success: true, LongLivedToken: f.token}, nil
}

func TestIsAuthFailureClassification(t *testing.T) {
	tests := []struct {
		name      string
		errorType types.ScrapeErrorType
		message   string
		expected  bool
	}{
		{"typed auth", types.ScrapeErrorAuth, "anything", true},
		{"login failed message", types.ScrapeErrorTransient, "Login Failed for user", true},
		{"token expired message", types.ScrapeErrorTransient, "token expired", true},
		{"plain timeout", types.ScrapeErrorTransient, "request timed out", false},
		{"status code", types.ScrapeErrorTransient, "provider returned status 503", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isAuthFailure(tt.errorType, tt.message))
		})
	}
}
