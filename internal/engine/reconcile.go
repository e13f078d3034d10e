package engine

import (
	"context"

	"equityjournal/internal/database"
	"equityjournal/internal/models"
)

// ReconcileReport counts what a reconciliation changed among derived entries.
type ReconcileReport struct {
	OwnerID string `json:"owner_id"`
	Kept    int    `json:"kept"`
	Removed int    `json:"removed"`
	Added   int    `json:"added"`
}

// Reconcile rebuilds the owner's derived ledger entries from the transaction history.
// Deposits, withdrawals and initial deposits are never touched.
func (e *Engine) Reconcile(ctx context.Context, ownerID string) (ReconcileReport, error) {
	if err := requireOwner(ownerID); err != nil {
		return ReconcileReport{}, err
	}
	var rep ReconcileReport
	err := e.store.Update(ctx, ownerID, func(tx database.Tx) error {
		if err := e.ensureLedger(ctx, tx, ownerID); err != nil {
			return err
		}
		var err error
		rep, err = e.reconcile(ctx, tx, ownerID)
		return err
	})
	return rep, err
}

func sameEntry(a, b models.LedgerEntry) bool {
	return a.Kind == b.Kind &&
		a.Amount.Equal(b.Amount) &&
		a.EntryDate.Equal(b.EntryDate) &&
		a.Note == b.Note &&
		a.Reference != nil && b.Reference != nil && *a.Reference == *b.Reference
}

func (e *Engine) reconcile(ctx context.Context, tx database.Tx, ownerID string) (ReconcileReport, error) {
	rep := ReconcileReport{OwnerID: ownerID}
	entries, err := tx.ListLedgerEntries(ctx, ownerID)
	if err != nil {
		return rep, err
	}
	txns, err := tx.ListOwnerTransactions(ctx, ownerID)
	if err != nil {
		return rep, err
	}
	symbols, err := symbolsByHolding(ctx, tx, ownerID)
	if err != nil {
		return rep, err
	}

	desired := make(map[int64]models.LedgerEntry, len(txns))
	for _, t := range txns {
		if d, ok := derivedEntry(ownerID, t, symbols[t.HoldingID]); ok {
			desired[t.ID] = d
		}
	}

	kept := map[int64]bool{}
	var stale []int64
	for _, en := range entries {
		if !en.Kind.Derived() {
			continue
		}
		if en.Reference != nil && !kept[*en.Reference] {
			if want, ok := desired[*en.Reference]; ok && sameEntry(en, want) {
				kept[*en.Reference] = true
				continue
			}
		}
		stale = append(stale, en.ID)
	}
	if err := tx.DeleteLedgerEntries(ctx, stale); err != nil {
		return rep, err
	}

	for _, t := range txns {
		want, ok := desired[t.ID]
		if !ok || kept[t.ID] {
			continue
		}
		if err := tx.InsertLedgerEntry(ctx, &want); err != nil {
			return rep, err
		}
		rep.Added++
	}
	rep.Kept, rep.Removed = len(kept), len(stale)
	if rep.Removed > 0 || rep.Added > 0 {
		e.log.Debugf("reconciled %s: kept %d, removed %d, added %d", ownerID, rep.Kept, rep.Removed, rep.Added)
	}
	return rep, e.topUp(ctx, tx, ownerID, txns)
}
