// Package ledger owns the dense per-stage ordering of cards. Every mutation
// reads the column inside the caller's transaction, splices in memory and
// writes back positions 0..n-1, so density holds by construction rather than
// by arithmetic on neighboring rows.
package ledger

import (
	"errors"

	"github.com/blatr/idealista-notify-bot/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrIncompleteSet rejects bulk reorders whose id set is not exactly the
// column's current membership — partial lists must not silently truncate.
var ErrIncompleteSet = errors.New("Reorder set does not match column membership")

// LockBoard serializes board writers for the rest of the transaction through
// a transaction-scoped advisory lock. Any mutation that reads card state
// before touching a column must take the lock before that read: a plain read
// does not block on a concurrent writer, and row locks alone cannot order two
// inserts into an empty column. No-op on sqlite (tests), which serializes
// writes globally anyway.
func LockBoard(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext('listings_board'))").Error
}

// lockStage takes FOR UPDATE on the column's rows so no other transaction
// repositions them underneath us.
func lockStage(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// OrderedIDs returns the column's listing ids in position order, locked for
// the remainder of the transaction.
func OrderedIDs(tx *gorm.DB, stage domain.Stage) ([]uint, error) {
	if err := LockBoard(tx); err != nil {
		return nil, err
	}
	var ids []uint
	err := lockStage(tx).Model(&domain.Listing{}).
		Where("stage = ?", stage).
		Order("position ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// InsertAt splices id into the column at index (clamped to [0, n]) and
// rewrites the column dense. If id already sits in the column this is a pure
// reposition: it is lifted out before clamping, so the clamp bound is the
// column length without the mover. Returns the position actually used.
func InsertAt(tx *gorm.DB, stage domain.Stage, id uint, index int) (int, error) {
	ids, err := OrderedIDs(tx, stage)
	if err != nil {
		return 0, err
	}
	ids = removeID(ids, id)
	index = clamp(index, len(ids))
	return index, rewrite(tx, stage, splice(ids, id, index))
}

// Remove lifts id out of the column and compacts the remaining positions.
// A card that is not in the column is a no-op.
func Remove(tx *gorm.DB, stage domain.Stage, id uint) error {
	ids, err := OrderedIDs(tx, stage)
	if err != nil {
		return err
	}
	trimmed := removeID(ids, id)
	if len(trimmed) == len(ids) {
		return nil
	}
	return rewrite(tx, stage, trimmed)
}

// Move relocates id to stage `to` at index. Cross-stage compacts the source
// column first; same-stage is a single reposition handled by InsertAt.
func Move(tx *gorm.DB, id uint, from, to domain.Stage, index int) (int, error) {
	if from != to {
		if err := Remove(tx, from, id); err != nil {
			return 0, err
		}
	}
	return InsertAt(tx, to, id, index)
}

// ReorderBulk replaces the whole column's ordering with orderedIDs. The id
// set must match the current membership exactly.
func ReorderBulk(tx *gorm.DB, stage domain.Stage, orderedIDs []uint) error {
	current, err := OrderedIDs(tx, stage)
	if err != nil {
		return err
	}
	if !sameMembers(current, orderedIDs) {
		return ErrIncompleteSet
	}
	return rewrite(tx, stage, orderedIDs)
}

// Counts returns per-stage card counts, with zero entries for empty stages.
// Derived on demand, never stored.
func Counts(db *gorm.DB) (map[domain.Stage]int64, error) {
	type row struct {
		Stage domain.Stage
		N     int64
	}
	var rows []row
	if err := db.Model(&domain.Listing{}).
		Select("stage, COUNT(*) AS n").
		Group("stage").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.Stage]int64, len(domain.Stages))
	for _, s := range domain.Stages {
		counts[s] = 0
	}
	for _, r := range rows {
		counts[r.Stage] = r.N
	}
	return counts, nil
}

// rewrite persists stage+position = index for every id, in order.
func rewrite(tx *gorm.DB, stage domain.Stage, ids []uint) error {
	for i, id := range ids {
		err := tx.Model(&domain.Listing{}).Where("id = ?", id).
			Updates(map[string]interface{}{"stage": stage, "position": i}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func clamp(index, n int) int {
	if index < 0 {
		return 0
	}
	if index > n {
		return n
	}
	return index
}

func splice(ids []uint, id uint, index int) []uint {
	out := make([]uint, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	return append(out, ids[index:]...)
}

func removeID(ids []uint, id uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func sameMembers(a, b []uint) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[uint]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}
