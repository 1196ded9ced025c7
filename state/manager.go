package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"tierlend/core/types"
	"tierlend/crypto"
	"tierlend/native/creditscore"
	"tierlend/native/lending"
	"tierlend/storage"
)

// Key prefixes. Every record is JSON under a namespaced key so the ledger
// stays inspectable with plain storage tooling.
const (
	prefixAccount    = "acct/"
	prefixCollateral = "lend/col/"
	prefixLoan       = "lend/loan/"
	prefixLender     = "lend/lender/"
	prefixLiqStatus  = "lend/liq/"
	keyPool          = "lend/pool"
	keyFees          = "lend/fees"
	keyLoanIndex     = "lend/loans"
	keyLenderIndex   = "lend/lenders"
	prefixProfile    = "cs/profile/"
	prefixAdminScore = "cs/admin/"
	prefixNullifier  = "cs/null/"
	prefixRole       = "perm/role/"
	prefixEvent      = "evt/"
	keyEventSeq      = "evt/seq"
)

var errNoTransaction = errors.New("state: no transaction in progress")

// Manager is the durable ledger every module engine runs against. All writes
// land in an overlay until Commit, so a failed entry point rolls back whole,
// matching the one-transaction-at-a-time execution model.
type Manager struct {
	txMu    sync.Mutex
	mu      sync.Mutex
	db      storage.Database
	overlay map[string][]byte
	deletes map[string]struct{}
	open    bool
}

// NewManager wraps the database. Callers bracket every mutating entry point
// with Begin/Commit (or Abort).
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens the write overlay. Reads see overlay writes immediately.
func (m *Manager) Begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay = make(map[string][]byte)
	m.deletes = make(map[string]struct{})
	m.open = true
}

// Commit flushes the overlay to durable storage.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return errNoTransaction
	}
	for key := range m.deletes {
		if err := m.db.Delete([]byte(key)); err != nil {
			return err
		}
	}
	for key, value := range m.overlay {
		if err := m.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	m.overlay = nil
	m.deletes = nil
	m.open = false
	return nil
}

// Abort discards the overlay, leaving durable state untouched.
func (m *Manager) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay = nil
	m.deletes = nil
	m.open = false
}

// WithTransaction runs fn inside a Begin/Commit bracket, aborting on error.
// Transactions are serialized; concurrent callers queue on the bracket.
func (m *Manager) WithTransaction(fn func() error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.Begin()
	if err := fn(); err != nil {
		m.Abort()
		return err
	}
	return m.Commit()
}

func (m *Manager) get(key string, out interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		if _, gone := m.deletes[key]; gone {
			return false, nil
		}
		if raw, ok := m.overlay[key]; ok {
			return true, json.Unmarshal(raw, out)
		}
	}
	raw, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, out)
}

func (m *Manager) put(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		delete(m.deletes, key)
		m.overlay[key] = raw
		return nil
	}
	return m.db.Put([]byte(key), raw)
}

func (m *Manager) delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		delete(m.overlay, key)
		m.deletes[key] = struct{}{}
		return nil
	}
	err := m.db.Delete([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	return err
}

// --- address index sets ---

func (m *Manager) indexAdd(key string, addr crypto.Address) error {
	var entries []string
	if _, err := m.get(key, &entries); err != nil {
		return err
	}
	encoded := addr.String()
	for _, entry := range entries {
		if entry == encoded {
			return nil
		}
	}
	return m.put(key, append(entries, encoded))
}

func (m *Manager) indexRemove(key string, addr crypto.Address) error {
	var entries []string
	if _, err := m.get(key, &entries); err != nil {
		return err
	}
	encoded := addr.String()
	filtered := entries[:0]
	for _, entry := range entries {
		if entry != encoded {
			filtered = append(filtered, entry)
		}
	}
	return m.put(key, filtered)
}

func (m *Manager) indexList(key string) ([]crypto.Address, error) {
	var entries []string
	if _, err := m.get(key, &entries); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(entries))
	for _, entry := range entries {
		addr, err := crypto.DecodeAddress(entry)
		if err != nil {
			return nil, fmt.Errorf("state: corrupt index entry %q: %w", entry, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// --- accounts ---

func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	account := new(types.Account)
	ok, err := m.get(prefixAccount+addr.String(), account)
	if err != nil || !ok {
		return nil, err
	}
	return account, nil
}

func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	return m.put(prefixAccount+addr.String(), account)
}

// --- lending ledger ---

func (m *Manager) GetCollateral(addr crypto.Address) (*lending.CollateralPosition, error) {
	position := new(lending.CollateralPosition)
	ok, err := m.get(prefixCollateral+addr.String(), position)
	if err != nil || !ok {
		return nil, err
	}
	return position, nil
}

func (m *Manager) PutCollateral(position *lending.CollateralPosition) error {
	return m.put(prefixCollateral+position.Address.String(), position)
}

func (m *Manager) GetLoan(addr crypto.Address) (*lending.Loan, error) {
	loan := new(lending.Loan)
	ok, err := m.get(prefixLoan+addr.String(), loan)
	if err != nil || !ok {
		return nil, err
	}
	return loan, nil
}

func (m *Manager) PutLoan(loan *lending.Loan) error {
	if err := m.put(prefixLoan+loan.Borrower.String(), loan); err != nil {
		return err
	}
	return m.indexAdd(keyLoanIndex, loan.Borrower)
}

func (m *Manager) LoanAddresses() ([]crypto.Address, error) {
	return m.indexList(keyLoanIndex)
}

func (m *Manager) GetLender(addr crypto.Address) (*lending.LenderPosition, error) {
	position := new(lending.LenderPosition)
	ok, err := m.get(prefixLender+addr.String(), position)
	if err != nil || !ok {
		return nil, err
	}
	return position, nil
}

func (m *Manager) PutLender(position *lending.LenderPosition) error {
	if err := m.put(prefixLender+position.Address.String(), position); err != nil {
		return err
	}
	return m.indexAdd(keyLenderIndex, position.Address)
}

func (m *Manager) DeleteLender(addr crypto.Address) error {
	if err := m.delete(prefixLender + addr.String()); err != nil {
		return err
	}
	return m.indexRemove(keyLenderIndex, addr)
}

func (m *Manager) LenderAddresses() ([]crypto.Address, error) {
	return m.indexList(keyLenderIndex)
}

func (m *Manager) GetLiquidation(addr crypto.Address) (*lending.LiquidationStatus, error) {
	status := new(lending.LiquidationStatus)
	ok, err := m.get(prefixLiqStatus+addr.String(), status)
	if err != nil || !ok {
		return nil, err
	}
	return status, nil
}

func (m *Manager) PutLiquidation(addr crypto.Address, status *lending.LiquidationStatus) error {
	return m.put(prefixLiqStatus+addr.String(), status)
}

func (m *Manager) GetPool() (*lending.Pool, error) {
	pool := new(lending.Pool)
	ok, err := m.get(keyPool, pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &lending.Pool{}, nil
	}
	return pool, nil
}

func (m *Manager) PutPool(pool *lending.Pool) error {
	return m.put(keyPool, pool)
}

func (m *Manager) GetFees() (*lending.FeeAccrual, error) {
	fees := new(lending.FeeAccrual)
	ok, err := m.get(keyFees, fees)
	if err != nil || !ok {
		return nil, err
	}
	return fees, nil
}

func (m *Manager) PutFees(fees *lending.FeeAccrual) error {
	return m.put(keyFees, fees)
}

// --- credit score ledger ---

func (m *Manager) GetProfile(addr crypto.Address) (*creditscore.Profile, error) {
	profile := new(creditscore.Profile)
	ok, err := m.get(prefixProfile+addr.String(), profile)
	if err != nil || !ok {
		return nil, err
	}
	return profile, nil
}

func (m *Manager) PutProfile(profile *creditscore.Profile) error {
	return m.put(prefixProfile+profile.Address.String(), profile)
}

type adminScoreRecord struct {
	Score uint64 `json:"score"`
}

func (m *Manager) GetAdminScore(addr crypto.Address) (uint64, bool, error) {
	record := new(adminScoreRecord)
	ok, err := m.get(prefixAdminScore+addr.String(), record)
	if err != nil || !ok {
		return 0, false, err
	}
	return record.Score, true, nil
}

func (m *Manager) PutAdminScore(addr crypto.Address, score uint64) error {
	return m.put(prefixAdminScore+addr.String(), &adminScoreRecord{Score: score})
}

func (m *Manager) HasNullifier(nullifier [32]byte) (bool, error) {
	var used bool
	ok, err := m.get(prefixNullifier+hex.EncodeToString(nullifier[:]), &used)
	if err != nil {
		return false, err
	}
	return ok && used, nil
}

func (m *Manager) PutNullifier(nullifier [32]byte) error {
	return m.put(prefixNullifier+hex.EncodeToString(nullifier[:]), true)
}

// --- role registry ---

func (m *Manager) GetRoleMembers(role string) ([]crypto.Address, error) {
	return m.indexList(prefixRole + role)
}

func (m *Manager) PutRoleMembers(role string, members []crypto.Address) error {
	encoded := make([]string, 0, len(members))
	for _, member := range members {
		encoded = append(encoded, member.String())
	}
	return m.put(prefixRole+role, encoded)
}

// --- event log ---

// AppendEvent adds an event to the append-only log and returns its sequence
// number.
func (m *Manager) AppendEvent(evt *types.Event) (uint64, error) {
	var seq uint64
	if _, err := m.get(keyEventSeq, &seq); err != nil {
		return 0, err
	}
	seq++
	if err := m.put(prefixEvent+strconv.FormatUint(seq, 10), evt); err != nil {
		return 0, err
	}
	if err := m.put(keyEventSeq, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// Events returns up to limit events starting at the given sequence number.
func (m *Manager) Events(from uint64, limit int) ([]*types.Event, error) {
	var seq uint64
	if _, err := m.get(keyEventSeq, &seq); err != nil {
		return nil, err
	}
	if from == 0 {
		from = 1
	}
	out := make([]*types.Event, 0, limit)
	for i := from; i <= seq && len(out) < limit; i++ {
		evt := new(types.Event)
		ok, err := m.get(prefixEvent+strconv.FormatUint(i, 10), evt)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, evt)
		}
	}
	return out, nil
}
