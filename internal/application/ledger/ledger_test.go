package ledger

import (
	"fmt"
	"testing"

	"github.com/blatr/idealista-notify-bot/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupLedgerTest(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Listing{}))
	return db
}

var cardSeq int

// addCard appends a card to the end of a stage column directly.
func addCard(t *testing.T, db *gorm.DB, stage domain.Stage) *domain.Listing {
	cardSeq++
	var n int64
	require.NoError(t, db.Model(&domain.Listing{}).Where("stage = ?", stage).Count(&n).Error)
	l := &domain.Listing{
		Fingerprint: fmt.Sprintf("fp-%d", cardSeq),
		Title:       fmt.Sprintf("Card %d", cardSeq),
		Stage:       stage,
		Position:    int(n),
	}
	require.NoError(t, db.Create(l).Error)
	return l
}

// assertDense checks the 0..n-1 position invariant for a stage.
func assertDense(t *testing.T, db *gorm.DB, stage domain.Stage) {
	t.Helper()
	var listings []domain.Listing
	require.NoError(t, db.Where("stage = ?", stage).Order("position ASC").Find(&listings).Error)
	for i, l := range listings {
		assert.Equal(t, i, l.Position, "stage %s card %d", stage, l.ID)
	}
}

func positionOf(t *testing.T, db *gorm.DB, id uint) (domain.Stage, int) {
	t.Helper()
	var l domain.Listing
	require.NoError(t, db.First(&l, id).Error)
	return l.Stage, l.Position
}

// TestLockBoard_PostgresTakesAdvisoryLock builds the statement on a dry-run
// postgres session (no server involved) and checks the advisory lock goes out
// before anything else a caller might run.
func TestLockBoard_PostgresTakesAdvisoryLock(t *testing.T) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  "host=localhost user=piso dbname=piso",
		PreferSimpleProtocol: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)

	var stmts []string
	require.NoError(t, db.Callback().Raw().After("gorm:raw").Register("record_sql", func(d *gorm.DB) {
		stmts = append(stmts, d.Statement.SQL.String())
	}))

	require.NoError(t, LockBoard(db))
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "pg_advisory_xact_lock")
}

func TestLockBoard_NoopOffPostgres(t *testing.T) {
	db := setupLedgerTest(t)
	require.NoError(t, LockBoard(db))
}

func TestInsertAt_EmptyColumn(t *testing.T) {
	db := setupLedgerTest(t)
	l := addCard(t, db, domain.StageContacted)

	err := db.Transaction(func(tx *gorm.DB) error {
		pos, err := InsertAt(tx, domain.StageNew, l.ID, 0)
		assert.Equal(t, 0, pos)
		return err
	})
	require.NoError(t, err)

	stage, pos := positionOf(t, db, l.ID)
	assert.Equal(t, domain.StageNew, stage)
	assert.Equal(t, 0, pos)
}

func TestInsertAt_ClampsIndex(t *testing.T) {
	db := setupLedgerTest(t)
	a := addCard(t, db, domain.StageNew)
	b := addCard(t, db, domain.StageNew)
	mover := addCard(t, db, domain.StageContacted)

	err := db.Transaction(func(tx *gorm.DB) error {
		pos, err := InsertAt(tx, domain.StageNew, mover.ID, 99)
		assert.Equal(t, 2, pos)
		return err
	})
	require.NoError(t, err)
	assertDense(t, db, domain.StageNew)

	_, posA := positionOf(t, db, a.ID)
	_, posB := positionOf(t, db, b.ID)
	_, posM := positionOf(t, db, mover.ID)
	assert.Equal(t, 0, posA)
	assert.Equal(t, 1, posB)
	assert.Equal(t, 2, posM)

	other := addCard(t, db, domain.StageContacted)
	err = db.Transaction(func(tx *gorm.DB) error {
		pos, err := InsertAt(tx, domain.StageNew, other.ID, -5)
		assert.Equal(t, 0, pos)
		return err
	})
	require.NoError(t, err)
	assertDense(t, db, domain.StageNew)
}

func TestRemove_CompactsColumn(t *testing.T) {
	db := setupLedgerTest(t)
	a := addCard(t, db, domain.StageViewing)
	b := addCard(t, db, domain.StageViewing)
	c := addCard(t, db, domain.StageViewing)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return Remove(tx, domain.StageViewing, b.ID)
	}))

	_, posA := positionOf(t, db, a.ID)
	_, posC := positionOf(t, db, c.ID)
	assert.Equal(t, 0, posA)
	assert.Equal(t, 1, posC)
}

func TestRemove_AbsentCardIsNoop(t *testing.T) {
	db := setupLedgerTest(t)
	addCard(t, db, domain.StageViewing)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return Remove(tx, domain.StageViewing, 9999)
	}))
	assertDense(t, db, domain.StageViewing)
}

func TestMove_SameStageReposition(t *testing.T) {
	db := setupLedgerTest(t)
	a := addCard(t, db, domain.StageNew)
	b := addCard(t, db, domain.StageNew)
	c := addCard(t, db, domain.StageNew)

	// drag the bottom card to the top
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		pos, err := Move(tx, c.ID, domain.StageNew, domain.StageNew, 0)
		assert.Equal(t, 0, pos)
		return err
	}))
	assertDense(t, db, domain.StageNew)
	_, posC := positionOf(t, db, c.ID)
	assert.Equal(t, 0, posC)

	// same-stage clamp excludes the mover: 3 cards, max index is 2
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		pos, err := Move(tx, c.ID, domain.StageNew, domain.StageNew, 50)
		assert.Equal(t, 2, pos)
		return err
	}))
	assertDense(t, db, domain.StageNew)
	_, posA := positionOf(t, db, a.ID)
	_, posB := positionOf(t, db, b.ID)
	assert.Equal(t, 0, posA)
	assert.Equal(t, 1, posB)
}

func TestMove_CrossStage(t *testing.T) {
	db := setupLedgerTest(t)
	a := addCard(t, db, domain.StageNew)
	b := addCard(t, db, domain.StageNew)
	x := addCard(t, db, domain.StageContacted)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		pos, err := Move(tx, a.ID, domain.StageNew, domain.StageContacted, 1)
		assert.Equal(t, 1, pos)
		return err
	}))

	assertDense(t, db, domain.StageNew)
	assertDense(t, db, domain.StageContacted)

	_, posB := positionOf(t, db, b.ID)
	assert.Equal(t, 0, posB)
	stageA, posA := positionOf(t, db, a.ID)
	assert.Equal(t, domain.StageContacted, stageA)
	assert.Equal(t, 1, posA)
	_, posX := positionOf(t, db, x.ID)
	assert.Equal(t, 0, posX)
}

func TestReorderBulk_Permutation(t *testing.T) {
	db := setupLedgerTest(t)
	a := addCard(t, db, domain.StageViewing)
	b := addCard(t, db, domain.StageViewing)
	c := addCard(t, db, domain.StageViewing)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ReorderBulk(tx, domain.StageViewing, []uint{c.ID, a.ID, b.ID})
	}))

	_, posC := positionOf(t, db, c.ID)
	_, posA := positionOf(t, db, a.ID)
	_, posB := positionOf(t, db, b.ID)
	assert.Equal(t, 0, posC)
	assert.Equal(t, 1, posA)
	assert.Equal(t, 2, posB)
}

func TestReorderBulk_RejectsWrongMembership(t *testing.T) {
	db := setupLedgerTest(t)
	a := addCard(t, db, domain.StageViewing)
	b := addCard(t, db, domain.StageViewing)
	foreign := addCard(t, db, domain.StageNew)

	// missing member
	err := db.Transaction(func(tx *gorm.DB) error {
		return ReorderBulk(tx, domain.StageViewing, []uint{a.ID})
	})
	assert.ErrorIs(t, err, ErrIncompleteSet)

	// member from another column
	err = db.Transaction(func(tx *gorm.DB) error {
		return ReorderBulk(tx, domain.StageViewing, []uint{a.ID, foreign.ID})
	})
	assert.ErrorIs(t, err, ErrIncompleteSet)

	// duplicate id padding the length
	err = db.Transaction(func(tx *gorm.DB) error {
		return ReorderBulk(tx, domain.StageViewing, []uint{a.ID, a.ID})
	})
	assert.ErrorIs(t, err, ErrIncompleteSet)

	// original order untouched after rejections
	_, posA := positionOf(t, db, a.ID)
	_, posB := positionOf(t, db, b.ID)
	assert.Equal(t, 0, posA)
	assert.Equal(t, 1, posB)
}

func TestCounts(t *testing.T) {
	db := setupLedgerTest(t)
	addCard(t, db, domain.StageNew)
	addCard(t, db, domain.StageNew)
	addCard(t, db, domain.StageApplied)

	counts, err := Counts(db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.StageNew])
	assert.Equal(t, int64(1), counts[domain.StageApplied])
	assert.Equal(t, int64(0), counts[domain.StageRejected])
	assert.Len(t, counts, len(domain.Stages))
}

// TestDensityAfterMixedOps runs a fixed op sequence across stages and checks
// the invariant on every column afterwards.
func TestDensityAfterMixedOps(t *testing.T) {
	db := setupLedgerTest(t)
	var cards []*domain.Listing
	for i := 0; i < 6; i++ {
		cards = append(cards, addCard(t, db, domain.StageNew))
	}

	ops := []func(tx *gorm.DB) error{
		func(tx *gorm.DB) error { _, err := Move(tx, cards[0].ID, domain.StageNew, domain.StageContacted, 0); return err },
		func(tx *gorm.DB) error { _, err := Move(tx, cards[3].ID, domain.StageNew, domain.StageContacted, 7); return err },
		func(tx *gorm.DB) error { _, err := Move(tx, cards[1].ID, domain.StageNew, domain.StageNew, 2); return err },
		func(tx *gorm.DB) error { return Remove(tx, domain.StageNew, cards[5].ID) },
		func(tx *gorm.DB) error { _, err := Move(tx, cards[0].ID, domain.StageContacted, domain.StageViewing, 0); return err },
		func(tx *gorm.DB) error { _, err := InsertAt(tx, domain.StageNew, cards[5].ID, 1); return err },
		func(tx *gorm.DB) error { _, err := Move(tx, cards[2].ID, domain.StageNew, domain.StageNew, 0); return err },
	}
	for i, op := range ops {
		require.NoError(t, db.Transaction(op), "op %d", i)
	}

	for _, stage := range domain.Stages {
		assertDense(t, db, stage)
	}
}
