// Package rollback holds each transaction's reverse-chained undo list and
// walks it on abort (spec §4.6). It generalizes the teacher's
// TransactionManager — a map[txnID]*Transaction of closures run in order
// on Commit — by inverting the direction: brtkv's undo records are
// appended during the forward operation (in parallel with WAL writes) and
// walked newest-to-oldest on Abort instead of replayed on Commit, because
// the BRT's forward effects are already durable in the WAL/tree by the
// time a transaction decides to commit.
package rollback

import (
	"fmt"
	"sync"

	"github.com/coreframe/brtkv/internal/node"
)

// Txn is one transaction's undo list. Records are appended oldest-first;
// Abort walks them from the end (newest) backward.
type Txn struct {
	ID      node.TxnID
	Parent  node.TxnID // 0 for a root transaction
	Records []Record
}

// Manager tracks the live (uncommitted, unaborted) transactions for one
// open database.
type Manager struct {
	mu    sync.Mutex
	txns  map[node.TxnID]*Txn
	nextID node.TxnID
}

// NewManager returns an empty transaction manager.
func NewManager() *Manager {
	return &Manager{txns: make(map[node.TxnID]*Txn)}
}

// Begin starts a new transaction, nested under parent (0 for a root
// transaction), and returns its id.
func (m *Manager) Begin(parent node.TxnID) node.TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.txns[id] = &Txn{ID: id, Parent: parent}
	return id
}

// Append adds an undo record to txn's list. Called by the engine
// immediately after (or alongside) logging the matching forward WAL
// record, so the undo list and the WAL stay in step.
func (m *Manager) Append(txn node.TxnID, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[txn]
	if !ok {
		return fmt.Errorf("rollback: unknown transaction %d", txn)
	}
	t.Records = append(t.Records, r)
	return nil
}

// Commit finalizes txn. A root transaction's undo records are discarded; a
// nested transaction's records are spliced onto its parent's list so a
// later abort of the parent also undoes the child's effects (spec §4.6).
func (m *Manager) Commit(txn node.TxnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[txn]
	if !ok {
		return fmt.Errorf("rollback: unknown transaction %d", txn)
	}
	delete(m.txns, txn)

	if t.Parent == 0 {
		return nil
	}
	parent, ok := m.txns[t.Parent]
	if !ok {
		return fmt.Errorf("rollback: commit of %d references missing parent %d", txn, t.Parent)
	}
	parent.Records = append(parent.Records, t.Records...)
	return nil
}

// Abort walks txn's undo list newest-to-oldest, dispatching each record to
// inv, then discards the transaction.
func (m *Manager) Abort(txn node.TxnID, inv Inverter) error {
	m.mu.Lock()
	t, ok := m.txns[txn]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("rollback: unknown transaction %d", txn)
	}
	records := t.Records
	delete(m.txns, txn)
	m.mu.Unlock()

	for i := len(records) - 1; i >= 0; i-- {
		if err := records[i].undo(inv); err != nil {
			return fmt.Errorf("rollback: undo of %s failed: %w", records[i].Kind, err)
		}
	}
	return nil
}

// Active reports whether txn is still open (not yet committed or aborted).
func (m *Manager) Active(txn node.TxnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.txns[txn]
	return ok
}
