// Package testsupport provides in-memory collaborators for service tests.
package testsupport

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidshare/backend/internal/db"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/repositories"
)

var errRawSQL = errors.New("memdb: raw SQL not supported")

// Failure points understood by MemDB.Fail.
const (
	FailAccountCreate    = "accounts.create"
	FailCredentialUpsert = "credentials.upsert"
	FailCredentialRotate = "credentials.rotate"
	FailVideoCreate      = "videos.create"
	FailAccountFind      = "accounts.find"
)

type memState struct {
	accounts    map[string]models.Account
	credentials map[string]models.RefreshCredential
	videos      map[string]models.Video
}

func newMemState() *memState {
	return &memState{
		accounts:    make(map[string]models.Account),
		credentials: make(map[string]models.RefreshCredential),
		videos:      make(map[string]models.Video),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.credentials {
		c.credentials[k] = v
	}
	for k, v := range s.videos {
		c.videos[k] = v
	}
	return c
}

// MemDB is a db.Pool whose transactions run serially against a snapshot of
// committed state. Rollback discards the snapshot. After AllowOverlap,
// transactions run concurrently and the unique email index is enforced
// across them at insert time.
type MemDB struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	state    *memState
	failures map[string]error

	overlap       bool
	pendingEmails map[string]*memTx
	onLookup      func()

	slots     chan struct{}
	acquired  int
	released  int
	commitErr error
}

// NewMemDB returns an empty store. maxConns <= 0 means unlimited.
func NewMemDB(maxConns int) *MemDB {
	m := &MemDB{state: newMemState(), failures: make(map[string]error), pendingEmails: make(map[string]*memTx)}
	if maxConns > 0 {
		m.slots = make(chan struct{}, maxConns)
	}
	return m
}

// Fail makes the named operation return err until cleared with a nil err.
func (m *MemDB) Fail(point string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, point)
		return
	}
	m.failures[point] = err
}

// AllowOverlap lets transactions run concurrently. Each still reads its own
// snapshot; commit replays its writes onto the latest committed state. An
// account insert whose email is committed or held by another open transaction
// fails with repositories.ErrConflict, as a unique index would once the
// holder commits. Call before any transaction begins.
func (m *MemDB) AllowOverlap() {
	m.mu.Lock()
	m.overlap = true
	m.mu.Unlock()
}

// OnAccountLookup runs fn after every email lookup made inside a transaction.
func (m *MemDB) OnAccountLookup(fn func()) {
	m.mu.Lock()
	m.onLookup = fn
	m.mu.Unlock()
}

// FailCommit makes every commit return err.
func (m *MemDB) FailCommit(err error) {
	m.mu.Lock()
	m.commitErr = err
	m.mu.Unlock()
}

// Handles reports how many connections were acquired and released.
func (m *MemDB) Handles() (acquired, released int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.acquired, m.released
}

// CredentialCount reports how many refresh credentials belong to accountID.
func (m *MemDB) CredentialCount(accountID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.state.credentials[accountID]; ok {
		return 1
	}
	return 0
}

// AccountCount reports the number of committed accounts.
func (m *MemDB) AccountCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.accounts)
}

// VideoCount reports the number of committed videos.
func (m *MemDB) VideoCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state.videos)
}

// SetRole changes an account's privilege outside any transaction.
func (m *MemDB) SetRole(accountID string, role models.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.state.accounts[accountID]; ok {
		account.Role = role
		m.state.accounts[accountID] = account
	}
}

// Exec is not supported; MemDB is driven through Bind.
func (m *MemDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errRawSQL
}

// Query is not supported; MemDB is driven through Bind.
func (m *MemDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errRawSQL
}

// QueryRow is not supported; MemDB is driven through Bind.
func (m *MemDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

// Acquire checks out a connection slot, blocking until ctx is done when the
// configured maximum is reached.
func (m *MemDB) Acquire(ctx context.Context) (db.Conn, error) {
	if m.slots != nil {
		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	m.acquired++
	m.mu.Unlock()
	return &memConn{db: m}, nil
}

// Close is a no-op.
func (m *MemDB) Close() {}

// Ping always succeeds; the store has no connection to lose.
func (m *MemDB) Ping(context.Context) error { return nil }

// Bind returns stores operating on committed state for the pool itself, or on
// the transaction snapshot for a Tx obtained from this MemDB.
func (m *MemDB) Bind(q db.Querier) repositories.Stores {
	var tx *memTx
	switch v := q.(type) {
	case *memTx:
		tx = v
	case *MemDB:
		if v != m {
			panic("testsupport: querier belongs to another MemDB")
		}
	default:
		panic("testsupport: unsupported querier")
	}
	s := &memStores{db: m, tx: tx}
	return repositories.Stores{
		Accounts:    memAccounts{s},
		Credentials: memCredentials{s},
		Videos:      memVideos{s},
	}
}

type memConn struct {
	db       *MemDB
	released bool
}

func (c *memConn) Begin(context.Context) (db.Tx, error) {
	c.db.mu.RLock()
	overlap := c.db.overlap
	c.db.mu.RUnlock()
	if !overlap {
		c.db.txMu.Lock()
	}
	c.db.mu.RLock()
	snapshot := c.db.state.clone()
	c.db.mu.RUnlock()
	return &memTx{db: c.db, state: snapshot, overlap: overlap}, nil
}

func (c *memConn) Release() {
	if c.released {
		panic("testsupport: connection released twice")
	}
	c.released = true
	c.db.mu.Lock()
	c.db.released++
	c.db.mu.Unlock()
	if c.db.slots != nil {
		<-c.db.slots
	}
}

type memTx struct {
	db      *MemDB
	state   *memState
	done    bool
	overlap bool
	// writes replays this transaction's statements at commit in overlap mode.
	writes []func(*memState) error
}

func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errRawSQL
}

func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errRawSQL
}

func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	if !t.overlap {
		defer t.db.txMu.Unlock()
	}

	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	defer t.releaseEmails()
	if t.db.commitErr != nil {
		return t.db.commitErr
	}
	if !t.overlap {
		t.db.state = t.state
		return nil
	}
	next := t.db.state.clone()
	for _, write := range t.writes {
		if err := write(next); err != nil {
			return err
		}
	}
	t.db.state = next
	return nil
}

// releaseEmails drops the transaction's email reservations. mu must be held.
func (t *memTx) releaseEmails() {
	for email, holder := range t.db.pendingEmails {
		if holder == t {
			delete(t.db.pendingEmails, email)
		}
	}
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	if !t.overlap {
		t.db.txMu.Unlock()
		return nil
	}
	t.db.mu.Lock()
	t.releaseEmails()
	t.db.mu.Unlock()
	return nil
}

type errRow struct{}

func (errRow) Scan(...any) error { return errRawSQL }

type memStores struct {
	db *MemDB
	tx *memTx
}

func (s *memStores) read(fn func(*memState) error) error {
	if s.tx != nil {
		return fn(s.tx.state)
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return fn(s.db.state)
}

// write outside a transaction behaves like an autocommitted statement and is
// serialised with open transactions.
func (s *memStores) write(fn func(*memState) error) error {
	if s.tx != nil {
		if err := fn(s.tx.state); err != nil {
			return err
		}
		if s.tx.overlap {
			s.tx.writes = append(s.tx.writes, fn)
		}
		return nil
	}
	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	next := s.db.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	s.db.state = next
	return nil
}

// reserveEmail claims email in the unique index for an overlapping
// transaction.
func (s *memStores) reserveEmail(email string) error {
	if s.tx == nil || !s.tx.overlap {
		return nil
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, account := range s.db.state.accounts {
		if account.Email == email {
			return repositories.ErrConflict
		}
	}
	if holder, ok := s.db.pendingEmails[email]; ok && holder != s.tx {
		return repositories.ErrConflict
	}
	s.db.pendingEmails[email] = s.tx
	return nil
}

func (s *memStores) lookedUp() {
	if s.tx == nil {
		return
	}
	s.db.mu.RLock()
	fn := s.db.onLookup
	s.db.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (s *memStores) failure(point string) error {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.failures[point]
}

type memAccounts struct{ s *memStores }

func (r memAccounts) Create(_ context.Context, account models.Account) error {
	if err := r.s.failure(FailAccountCreate); err != nil {
		return err
	}
	if account.Role == "" {
		account.Role = models.RoleStandard
	}
	if err := r.s.reserveEmail(account.Email); err != nil {
		return err
	}
	return r.s.write(func(st *memState) error {
		for _, existing := range st.accounts {
			if existing.Email == account.Email {
				return repositories.ErrConflict
			}
		}
		if _, ok := st.accounts[account.ID]; ok {
			return repositories.ErrConflict
		}
		st.accounts[account.ID] = account
		return nil
	})
}

func (r memAccounts) FindByEmail(_ context.Context, email string) (models.Account, error) {
	if err := r.s.failure(FailAccountFind); err != nil {
		return models.Account{}, err
	}
	var found models.Account
	err := r.s.read(func(st *memState) error {
		for _, account := range st.accounts {
			if account.Email == email {
				found = account
				return nil
			}
		}
		return repositories.ErrNotFound
	})
	r.s.lookedUp()
	return found, err
}

func (r memAccounts) FindByID(_ context.Context, id string) (models.Account, error) {
	if err := r.s.failure(FailAccountFind); err != nil {
		return models.Account{}, err
	}
	var found models.Account
	err := r.s.read(func(st *memState) error {
		account, ok := st.accounts[id]
		if !ok {
			return repositories.ErrNotFound
		}
		found = account
		return nil
	})
	return found, err
}

func (r memAccounts) List(context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := r.s.read(func(st *memState) error {
		for _, account := range st.accounts {
			accounts = append(accounts, account)
		}
		return nil
	})
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, err
}

type memCredentials struct{ s *memStores }

func (r memCredentials) Upsert(_ context.Context, credential models.RefreshCredential) error {
	if err := r.s.failure(FailCredentialUpsert); err != nil {
		return err
	}
	return r.s.write(func(st *memState) error {
		if _, ok := st.accounts[credential.AccountID]; !ok {
			return repositories.ErrNotFound
		}
		if err := tokenTaken(st, credential); err != nil {
			return err
		}
		if existing, ok := st.credentials[credential.AccountID]; ok {
			credential.CreatedAt = existing.CreatedAt
		} else {
			credential.CreatedAt = credential.UpdatedAt
		}
		st.credentials[credential.AccountID] = credential
		return nil
	})
}

func (r memCredentials) FindByToken(_ context.Context, token string) (models.RefreshCredential, error) {
	var found models.RefreshCredential
	err := r.s.read(func(st *memState) error {
		for _, credential := range st.credentials {
			if credential.Token == token {
				found = credential
				return nil
			}
		}
		return repositories.ErrNotFound
	})
	return found, err
}

func (r memCredentials) Rotate(_ context.Context, previousToken string, next models.RefreshCredential) error {
	if err := r.s.failure(FailCredentialRotate); err != nil {
		return err
	}
	return r.s.write(func(st *memState) error {
		existing, ok := st.credentials[next.AccountID]
		if !ok || existing.Token != previousToken {
			return repositories.ErrNotFound
		}
		if err := tokenTaken(st, next); err != nil {
			return err
		}
		next.CreatedAt = existing.CreatedAt
		st.credentials[next.AccountID] = next
		return nil
	})
}

func (r memCredentials) Delete(_ context.Context, accountID string) error {
	return r.s.write(func(st *memState) error {
		if _, ok := st.credentials[accountID]; !ok {
			return repositories.ErrNotFound
		}
		delete(st.credentials, accountID)
		return nil
	})
}

func tokenTaken(st *memState, credential models.RefreshCredential) error {
	for accountID, other := range st.credentials {
		if accountID != credential.AccountID && other.Token == credential.Token {
			return repositories.ErrConflict
		}
	}
	return nil
}

type memVideos struct{ s *memStores }

func (r memVideos) Create(_ context.Context, video models.Video) error {
	if err := r.s.failure(FailVideoCreate); err != nil {
		return err
	}
	return r.s.write(func(st *memState) error {
		if _, ok := st.accounts[video.OwnerID]; !ok {
			return repositories.ErrNotFound
		}
		if _, ok := st.videos[video.ID]; ok {
			return repositories.ErrConflict
		}
		video.DownloadCount = 0
		st.videos[video.ID] = video
		return nil
	})
}

func (r memVideos) FindByID(_ context.Context, id string) (models.Video, error) {
	var found models.Video
	err := r.s.read(func(st *memState) error {
		video, ok := st.videos[id]
		if !ok {
			return repositories.ErrNotFound
		}
		found = video
		return nil
	})
	return found, err
}

func (r memVideos) ListByOwner(_ context.Context, ownerID string) ([]models.Video, error) {
	var videos []models.Video
	err := r.s.read(func(st *memState) error {
		for _, video := range st.videos {
			if video.OwnerID == ownerID {
				videos = append(videos, video)
			}
		}
		return nil
	})
	sort.Slice(videos, func(i, j int) bool { return videos[i].CreatedAt.After(videos[j].CreatedAt) })
	return videos, err
}

func (r memVideos) IncrementDownloads(_ context.Context, id string) (int64, error) {
	var count int64
	err := r.s.write(func(st *memState) error {
		video, ok := st.videos[id]
		if !ok {
			return repositories.ErrNotFound
		}
		video.DownloadCount++
		st.videos[id] = video
		count = video.DownloadCount
		return nil
	})
	return count, err
}

var _ db.Pool = (*MemDB)(nil)
