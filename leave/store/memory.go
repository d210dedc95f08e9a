// Package store provides an in-memory leave.TxStore for tests and
// development. Transactions are serialized: WithTx holds the store lock for
// the whole function and restores a snapshot on error, so the all-or-nothing
// contract holds exactly as it does for the SQL store.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/atlashr/leave-engine/leave"
)

// Memory implements leave.TxStore over process-local maps.
type Memory struct {
	mu           sync.Mutex
	leaveTypes   map[string]leave.Type
	applications map[string]leave.Application
	balances     map[leave.BalanceKey]leave.Balance
	history      []leave.HistoryEntry
}

func NewMemory() *Memory {
	return &Memory{
		leaveTypes:   make(map[string]leave.Type),
		applications: make(map[string]leave.Application),
		balances:     make(map[leave.BalanceKey]leave.Balance),
	}
}

var _ leave.TxStore = (*Memory)(nil)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx serializes transactions behind the store lock. A snapshot taken on
// entry is restored if fn fails, so partial writes never become visible.
func (m *Memory) WithTx(_ context.Context, fn func(leave.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	leaveTypes   map[string]leave.Type
	applications map[string]leave.Application
	balances     map[leave.BalanceKey]leave.Balance
	historyLen   int
}

func (m *Memory) snapshot() snapshotState {
	s := snapshotState{
		leaveTypes:   make(map[string]leave.Type, len(m.leaveTypes)),
		applications: make(map[string]leave.Application, len(m.applications)),
		balances:     make(map[leave.BalanceKey]leave.Balance, len(m.balances)),
		historyLen:   len(m.history),
	}
	for k, v := range m.leaveTypes {
		s.leaveTypes[k] = v
	}
	for k, v := range m.applications {
		s.applications[k] = v
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	return s
}

func (m *Memory) restore(s snapshotState) {
	m.leaveTypes = s.leaveTypes
	m.applications = s.applications
	m.balances = s.balances
	m.history = m.history[:s.historyLen]
}

// txView exposes the unlocked operations to the transaction function while
// the outer lock is held.
type txView struct{ m *Memory }

func (t *txView) GetLeaveType(_ context.Context, id string) (*leave.Type, error) {
	return t.m.getLeaveType(id)
}
func (t *txView) ListLeaveTypes(_ context.Context) ([]leave.Type, error) {
	return t.m.listLeaveTypes(), nil
}
func (t *txView) SaveLeaveType(_ context.Context, typ *leave.Type) error {
	return t.m.saveLeaveType(typ)
}
func (t *txView) CreateApplication(_ context.Context, app *leave.Application) error {
	return t.m.createApplication(app)
}
func (t *txView) GetApplication(_ context.Context, id string) (*leave.Application, error) {
	return t.m.getApplication(id)
}
func (t *txView) SaveApplication(_ context.Context, app *leave.Application) error {
	return t.m.saveApplication(app)
}
func (t *txView) ListApplicationsByUser(_ context.Context, userID string) ([]leave.Application, error) {
	return t.m.listApplicationsByUser(userID), nil
}
func (t *txView) ListApplicationsByStatus(_ context.Context, status leave.Status) ([]leave.Application, error) {
	return t.m.listApplicationsByStatus(status), nil
}
func (t *txView) GetBalance(_ context.Context, key leave.BalanceKey) (*leave.Balance, error) {
	return t.m.getBalance(key), nil
}
func (t *txView) CreateBalance(_ context.Context, b *leave.Balance) error {
	return t.m.createBalance(b)
}
func (t *txView) SaveBalance(_ context.Context, b *leave.Balance) error {
	return t.m.saveBalance(b)
}
func (t *txView) AppendHistory(_ context.Context, entry leave.HistoryEntry) error {
	t.m.history = append(t.m.history, entry)
	return nil
}
func (t *txView) HistoryByApplication(_ context.Context, applicationID string) ([]leave.HistoryEntry, error) {
	return t.m.historyByApplication(applicationID), nil
}

// =============================================================================
// DIRECT (NON-TRANSACTIONAL) ACCESS
// =============================================================================

func (m *Memory) GetLeaveType(_ context.Context, id string) (*leave.Type, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLeaveType(id)
}

func (m *Memory) ListLeaveTypes(_ context.Context) ([]leave.Type, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLeaveTypes(), nil
}

func (m *Memory) SaveLeaveType(_ context.Context, typ *leave.Type) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLeaveType(typ)
}

func (m *Memory) CreateApplication(_ context.Context, app *leave.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createApplication(app)
}

func (m *Memory) GetApplication(_ context.Context, id string) (*leave.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getApplication(id)
}

func (m *Memory) SaveApplication(_ context.Context, app *leave.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveApplication(app)
}

func (m *Memory) ListApplicationsByUser(_ context.Context, userID string) ([]leave.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listApplicationsByUser(userID), nil
}

func (m *Memory) ListApplicationsByStatus(_ context.Context, status leave.Status) ([]leave.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listApplicationsByStatus(status), nil
}

func (m *Memory) GetBalance(_ context.Context, key leave.BalanceKey) (*leave.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getBalance(key), nil
}

func (m *Memory) CreateBalance(_ context.Context, b *leave.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBalance(b)
}

func (m *Memory) SaveBalance(_ context.Context, b *leave.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBalance(b)
}

func (m *Memory) AppendHistory(_ context.Context, entry leave.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, entry)
	return nil
}

func (m *Memory) HistoryByApplication(_ context.Context, applicationID string) ([]leave.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyByApplication(applicationID), nil
}

// =============================================================================
// INTERNALS (caller holds m.mu)
// =============================================================================

func (m *Memory) getLeaveType(id string) (*leave.Type, error) {
	typ, ok := m.leaveTypes[id]
	if !ok {
		return nil, leave.ErrLeaveTypeNotFound
	}
	return &typ, nil
}

func (m *Memory) listLeaveTypes() []leave.Type {
	out := make([]leave.Type, 0, len(m.leaveTypes))
	for _, typ := range m.leaveTypes {
		out = append(out, typ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Memory) saveLeaveType(typ *leave.Type) error {
	if typ.ID == "" {
		return errors.New("leave type id required")
	}
	m.leaveTypes[typ.ID] = *typ
	return nil
}

func (m *Memory) createApplication(app *leave.Application) error {
	if _, exists := m.applications[app.ID]; exists {
		return errors.New("application id already exists")
	}
	m.applications[app.ID] = *app
	return nil
}

func (m *Memory) getApplication(id string) (*leave.Application, error) {
	app, ok := m.applications[id]
	if !ok {
		return nil, leave.ErrApplicationNotFound
	}
	return &app, nil
}

func (m *Memory) saveApplication(app *leave.Application) error {
	cur, ok := m.applications[app.ID]
	if !ok {
		return leave.ErrApplicationNotFound
	}
	if cur.Version != app.Version {
		return leave.ErrVersionConflict
	}
	app.Version++
	m.applications[app.ID] = *app
	return nil
}

func (m *Memory) listApplicationsByUser(userID string) []leave.Application {
	var out []leave.Application
	for _, app := range m.applications {
		if app.UserID == userID {
			out = append(out, app)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) listApplicationsByStatus(status leave.Status) []leave.Application {
	var out []leave.Application
	for _, app := range m.applications {
		if app.Status == status {
			out = append(out, app)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) getBalance(key leave.BalanceKey) *leave.Balance {
	b, ok := m.balances[key]
	if !ok {
		return nil
	}
	return &b
}

func (m *Memory) createBalance(b *leave.Balance) error {
	if _, exists := m.balances[b.Key()]; exists {
		// Concurrent lazy creation lost the race; the retry re-reads.
		return leave.ErrVersionConflict
	}
	m.balances[b.Key()] = *b
	return nil
}

func (m *Memory) saveBalance(b *leave.Balance) error {
	cur, ok := m.balances[b.Key()]
	if !ok {
		return leave.ErrVersionConflict
	}
	if cur.Version != b.Version {
		return leave.ErrVersionConflict
	}
	b.Version++
	m.balances[b.Key()] = *b
	return nil
}

func (m *Memory) historyByApplication(applicationID string) []leave.HistoryEntry {
	var out []leave.HistoryEntry
	for _, e := range m.history {
		if e.ApplicationID == applicationID {
			out = append(out, e)
		}
	}
	return out
}
