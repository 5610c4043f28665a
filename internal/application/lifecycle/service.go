// Package lifecycle orchestrates the board: ingest with fingerprint
// deduplication, stage transitions, column ordering and the events emitted
// on the way. Every mutation runs in a single transaction; notifications go
// out only after commit.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blatr/idealista-notify-bot/internal/application/dedup"
	"github.com/blatr/idealista-notify-bot/internal/application/ledger"
	"github.com/blatr/idealista-notify-bot/internal/application/notify"
	"github.com/blatr/idealista-notify-bot/internal/application/workflow"
	"github.com/blatr/idealista-notify-bot/internal/domain"
)

type Service struct {
	DB   *gorm.DB
	Flow workflow.Table
	// Notifier receives committed events; nil disables outbound delivery.
	Notifier notify.Dispatcher
}

// IngestOutcome says what an ingest did with the raw ad.
type IngestOutcome string

const (
	OutcomeCreated   IngestOutcome = "created"
	OutcomeDuplicate IngestOutcome = "duplicate"
	OutcomeRefreshed IngestOutcome = "refreshed"
	OutcomeRestored  IngestOutcome = "restored"
)

// MoveResult is the committed placement, returned so clients can reconcile
// optimistic UI state against what the board actually did.
type MoveResult struct {
	ID       uint         `json:"id"`
	Stage    domain.Stage `json:"stage"`
	Position int          `json:"position"`
}

// BoardView is the whole board grouped by stage, plus per-stage counts.
type BoardView struct {
	Columns map[domain.Stage][]domain.Listing `json:"columns"`
	Counts  map[domain.Stage]int64            `json:"counts"`
}

// UpdateInput carries the user-editable card fields. Stage and position are
// deliberately absent: they move only through ApplyMove and ReorderColumn.
type UpdateInput struct {
	Title       *string  `json:"title"`
	Price       *string  `json:"price"`
	PriceValue  *float64 `json:"price_value"`
	Rooms       *string  `json:"rooms"`
	Size        *string  `json:"size"`
	Floor       *string  `json:"floor"`
	Description *string  `json:"description"`
	Thumbnail   *string  `json:"thumbnail"`
	Notes       *string  `json:"notes"`
	Priority    *int     `json:"priority"`
}

// Ingest runs insert-if-absent on the ad's fingerprint. A first sighting
// lands at the top of new and emits NewListing; a known fingerprint either
// bumps last_seen_at (unchanged ad) or refreshes the card in place and emits
// ListingChanged, never touching stage or position. An archived fingerprint
// that reappears is restored to the top of new.
func (s *Service) Ingest(ctx context.Context, raw domain.RawListing) (*domain.Listing, IngestOutcome, error) {
	fingerprint := dedup.Fingerprint(raw)
	snap := dedup.Snapshot(raw)
	attrs, _ := json.Marshal(snap)
	source := raw.Source
	if source == "" {
		source = domain.SourceScraper
	}

	var listing domain.Listing
	var outcome IngestOutcome
	var pending []domain.TransitionEvent

	err := s.withConflictRetry(ctx, func(tx *gorm.DB) error {
		pending = pending[:0]
		now := time.Now()

		candidate := domain.Listing{
			Fingerprint: fingerprint,
			Stage:       domain.StageNew,
			Position:    0,
			Title:       snap.Title,
			Price:       snap.Price,
			PriceValue:  snap.PriceValue,
			Rooms:       snap.Rooms,
			Size:        snap.Size,
			Floor:       snap.Floor,
			Description: snap.Description,
			Thumbnail:   snap.Thumbnail,
			SourceURL:   dedup.CanonicalURL(raw.URL),
			Address:     strings.TrimSpace(raw.Address),
			Source:      source,
			Attributes:  datatypes.JSON(attrs),
			FirstSeenAt: now,
			LastSeenAt:  now,
		}

		// Insert-if-absent: the unique fingerprint index decides the race
		// between parallel scrape batches, not application code.
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).Create(&candidate)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected > 0 {
			pos, err := ledger.InsertAt(tx, domain.StageNew, candidate.ID, 0)
			if err != nil {
				return err
			}
			candidate.Position = pos
			listing = candidate
			outcome = OutcomeCreated
			ev, err := recordEvent(tx, &listing, domain.EventNewListing, nil)
			if err != nil {
				return err
			}
			pending = append(pending, ev)
			return nil
		}

		// Fingerprint already tracked, possibly by an archived card.
		var existing domain.Listing
		if err := tx.Unscoped().Where("fingerprint = ?", fingerprint).First(&existing).Error; err != nil {
			return err
		}

		if existing.DeletedAt.Valid {
			return s.restore(tx, &existing, snap, attrs, now, &listing, &outcome, &pending)
		}

		var prev domain.ListingAttributes
		if err := json.Unmarshal(existing.Attributes, &prev); err != nil {
			log.Error().Err(err).Uint("listing_id", existing.ID).
				Msg("Stored attribute snapshot is undecodable, refreshing the card")
		}

		if prev == snap {
			if err := tx.Model(&existing).Update("last_seen_at", now).Error; err != nil {
				return err
			}
			existing.LastSeenAt = now
			listing = existing
			outcome = OutcomeDuplicate
			return nil
		}

		// The ad changed since we last saw it: refresh the card where it
		// sits on the board.
		updates := map[string]interface{}{
			"title":        snap.Title,
			"price":        snap.Price,
			"price_value":  snap.PriceValue,
			"rooms":        snap.Rooms,
			"size":         snap.Size,
			"floor":        snap.Floor,
			"description":  snap.Description,
			"thumbnail":    snap.Thumbnail,
			"attributes":   datatypes.JSON(attrs),
			"last_seen_at": now,
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&existing, existing.ID).Error; err != nil {
			return err
		}
		listing = existing
		outcome = OutcomeRefreshed

		extra := map[string]interface{}{}
		if prev.Price != snap.Price {
			extra["previous_price"] = prev.Price
		}
		ev, err := recordEvent(tx, &listing, domain.EventListingChanged, extra)
		if err != nil {
			return err
		}
		pending = append(pending, ev)
		return nil
	})
	if err != nil {
		return nil, "", s.translate(err)
	}

	s.dispatch(ctx, pending)
	return &listing, outcome, nil
}

// restore brings an archived card back to the top of new after its ad
// reappeared at the source.
func (s *Service) restore(tx *gorm.DB, existing *domain.Listing, snap domain.ListingAttributes, attrs []byte, now time.Time, listing *domain.Listing, outcome *IngestOutcome, pending *[]domain.TransitionEvent) error {
	updates := map[string]interface{}{
		"deleted_at":   nil,
		"stage":        domain.StageNew,
		"title":        snap.Title,
		"price":        snap.Price,
		"price_value":  snap.PriceValue,
		"rooms":        snap.Rooms,
		"size":         snap.Size,
		"floor":        snap.Floor,
		"description":  snap.Description,
		"thumbnail":    snap.Thumbnail,
		"attributes":   datatypes.JSON(attrs),
		"last_seen_at": now,
	}
	if err := tx.Unscoped().Model(&domain.Listing{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return err
	}
	if _, err := ledger.InsertAt(tx, domain.StageNew, existing.ID, 0); err != nil {
		return err
	}
	if err := tx.First(existing, existing.ID).Error; err != nil {
		return err
	}
	*listing = *existing
	*outcome = OutcomeRestored
	ev, err := recordEvent(tx, existing, domain.EventNewListing, nil)
	if err != nil {
		return err
	}
	*pending = append(*pending, ev)
	return nil
}

// CreateManual adds a hand-entered card. Unlike scraper ingest, hitting an
// already-tracked fingerprint is surfaced as an error so the user learns
// the ad is on the board.
func (s *Service) CreateManual(ctx context.Context, raw domain.RawListing, notes string, priority int) (*domain.Listing, error) {
	if raw.Source == "" {
		raw.Source = domain.SourceManual
	}
	listing, outcome, err := s.Ingest(ctx, raw)
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeDuplicate || outcome == OutcomeRefreshed {
		return listing, ErrDuplicateFingerprint
	}
	if notes != "" || priority != 0 {
		return s.Update(ctx, listing.ID, UpdateInput{Notes: &notes, Priority: &priority})
	}
	return listing, nil
}

// ApplyMove places a card at (stage, index). A same-stage move is a pure
// reorder and always legal; a cross-stage move must follow the transition
// table. The returned placement is the committed one, index included, after
// clamping.
func (s *Service) ApplyMove(ctx context.Context, id uint, to domain.Stage, index int) (*MoveResult, error) {
	if !to.IsValid() {
		return nil, ErrInvalidStage
	}

	var result MoveResult
	var pending []domain.TransitionEvent

	err := s.withConflictRetry(ctx, func(tx *gorm.DB) error {
		pending = pending[:0]

		// Serialize with other board writers before the read: the edge
		// check must see the committed stage, not an earlier snapshot.
		if err := ledger.LockBoard(tx); err != nil {
			return err
		}

		var l domain.Listing
		if err := tx.First(&l, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		from := l.Stage
		if from != to {
			if from.IsTerminal() {
				return ErrTerminalStage
			}
			if !s.Flow.Allowed(from, to) {
				return ErrIllegalTransition
			}
		}

		pos, err := ledger.Move(tx, l.ID, from, to, index)
		if err != nil {
			return err
		}
		result = MoveResult{ID: l.ID, Stage: to, Position: pos}

		if from == to {
			return nil
		}
		kind := workflow.EventKindFor(to)
		if kind == "" {
			return nil
		}
		l.Stage = to
		l.Position = pos
		ev, err := recordEvent(tx, &l, kind, map[string]interface{}{
			"from_stage": string(from),
			"to_stage":   string(to),
		})
		if err != nil {
			return err
		}
		pending = append(pending, ev)
		return nil
	})
	if err != nil {
		return nil, s.translate(err)
	}

	s.dispatch(ctx, pending)
	return &result, nil
}

// ReorderColumn rewrites one column to the given permutation of its cards
// and returns the committed column. The id set must match the column's
// membership exactly.
func (s *Service) ReorderColumn(ctx context.Context, stage domain.Stage, ids []uint) ([]domain.Listing, error) {
	if !stage.IsValid() {
		return nil, ErrInvalidStage
	}
	err := s.withConflictRetry(ctx, func(tx *gorm.DB) error {
		return ledger.ReorderBulk(tx, stage, ids)
	})
	if err != nil {
		return nil, s.translate(err)
	}
	return s.Column(ctx, stage)
}

// Board returns every live card grouped by stage, columns in position order.
func (s *Service) Board(ctx context.Context) (*BoardView, error) {
	var listings []domain.Listing
	if err := s.DB.WithContext(ctx).Order("stage ASC, position ASC").Find(&listings).Error; err != nil {
		return nil, s.translate(err)
	}
	view := &BoardView{
		Columns: make(map[domain.Stage][]domain.Listing, len(domain.Stages)),
		Counts:  make(map[domain.Stage]int64, len(domain.Stages)),
	}
	for _, st := range domain.Stages {
		view.Columns[st] = []domain.Listing{}
	}
	for _, l := range listings {
		view.Columns[l.Stage] = append(view.Columns[l.Stage], l)
	}
	counts, err := ledger.Counts(s.DB.WithContext(ctx))
	if err != nil {
		return nil, s.translate(err)
	}
	view.Counts = counts
	return view, nil
}

// Column returns one stage's cards in position order.
func (s *Service) Column(ctx context.Context, stage domain.Stage) ([]domain.Listing, error) {
	if !stage.IsValid() {
		return nil, ErrInvalidStage
	}
	var listings []domain.Listing
	if err := s.DB.WithContext(ctx).
		Where("stage = ?", stage).
		Order("position ASC").
		Find(&listings).Error; err != nil {
		return nil, s.translate(err)
	}
	return listings, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*domain.Listing, error) {
	var l domain.Listing
	if err := s.DB.WithContext(ctx).First(&l, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.translate(err)
	}
	return &l, nil
}

// Events returns a card's event history, newest first.
func (s *Service) Events(ctx context.Context, listingID uint) ([]domain.TransitionEvent, error) {
	if _, err := s.Get(ctx, listingID); err != nil {
		return nil, err
	}
	var events []domain.TransitionEvent
	if err := s.DB.WithContext(ctx).
		Where("listing_id = ?", listingID).
		Order("created_at DESC").
		Find(&events).Error; err != nil {
		return nil, s.translate(err)
	}
	return events, nil
}

// Update edits the card's user-facing fields in place.
func (s *Service) Update(ctx context.Context, id uint, in UpdateInput) (*domain.Listing, error) {
	updates := map[string]interface{}{}
	if in.Title != nil {
		updates["title"] = strings.TrimSpace(*in.Title)
	}
	if in.Price != nil {
		updates["price"] = *in.Price
	}
	if in.PriceValue != nil {
		updates["price_value"] = *in.PriceValue
	}
	if in.Rooms != nil {
		updates["rooms"] = *in.Rooms
	}
	if in.Size != nil {
		updates["size"] = *in.Size
	}
	if in.Floor != nil {
		updates["floor"] = *in.Floor
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.Thumbnail != nil {
		updates["thumbnail"] = *in.Thumbnail
	}
	if in.Notes != nil {
		updates["notes"] = *in.Notes
	}
	if in.Priority != nil {
		p := *in.Priority
		if p < 0 {
			p = 0
		}
		if p > 10 {
			p = 10
		}
		updates["priority"] = p
	}

	var l domain.Listing
	err := s.withConflictRetry(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&l, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&l).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&l, id).Error
	})
	if err != nil {
		return nil, s.translate(err)
	}
	return &l, nil
}

// Archive soft-deletes the card and compacts the column it left. The row and
// its events stay queryable; a later ingest of the same fingerprint restores
// the card instead of duplicating it.
func (s *Service) Archive(ctx context.Context, id uint) error {
	err := s.withConflictRetry(ctx, func(tx *gorm.DB) error {
		// Lock before the read so the compaction targets the column the
		// card actually sits in.
		if err := ledger.LockBoard(tx); err != nil {
			return err
		}

		var l domain.Listing
		if err := tx.First(&l, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		// Compact before the soft delete; afterwards the row is invisible
		// to the ledger and the column would keep a hole.
		if err := ledger.Remove(tx, l.Stage, l.ID); err != nil {
			return err
		}
		return tx.Delete(&l).Error
	})
	return s.translate(err)
}

// recordEvent writes the event row inside the caller's transaction so it
// commits or rolls back with the mutation it describes.
func recordEvent(tx *gorm.DB, l *domain.Listing, kind domain.EventKind, extra map[string]interface{}) (domain.TransitionEvent, error) {
	payload := map[string]interface{}{
		"listing_id": l.ID,
		"title":      l.Title,
		"price":      l.Price,
		"rooms":      l.Rooms,
		"size":       l.Size,
		"floor":      l.Floor,
		"url":        l.SourceURL,
		"thumbnail":  l.Thumbnail,
		"stage":      string(l.Stage),
	}
	for k, v := range extra {
		payload[k] = v
	}
	payloadBytes, _ := json.Marshal(payload)

	event := domain.TransitionEvent{
		ListingID: l.ID,
		Kind:      kind,
		Payload:   datatypes.JSON(payloadBytes),
	}
	if err := tx.Create(&event).Error; err != nil {
		return domain.TransitionEvent{}, err
	}
	return event, nil
}

// dispatch hands committed events to the notifier. Failures are logged and
// swallowed: the mutation is already committed and a missed notification
// must not look like a failed move.
func (s *Service) dispatch(ctx context.Context, events []domain.TransitionEvent) {
	if s.Notifier == nil {
		return
	}
	for _, ev := range events {
		if err := s.Notifier.Dispatch(ctx, ev); err != nil {
			log.Error().Err(err).
				Str("event_id", ev.EventID.String()).
				Str("kind", string(ev.Kind)).
				Msg("Event dispatch failed")
			continue
		}
		now := time.Now()
		if err := s.DB.WithContext(ctx).Model(&domain.TransitionEvent{}).
			Where("event_id = ?", ev.EventID).
			Update("dispatched_at", now).Error; err != nil {
			log.Warn().Err(err).
				Str("event_id", ev.EventID.String()).
				Msg("Could not mark event dispatched")
		}
	}
}

// withConflictRetry runs fn in a transaction and retries once with fresh
// state when a concurrent writer won the race. The second conflict becomes
// ErrTransactionConflict for the caller to retry.
func (s *Service) withConflictRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.DB.WithContext(ctx).Transaction(fn)
	if err == nil || !isConflict(err) {
		return err
	}
	log.Warn().Err(err).Msg("Transaction conflict, retrying with fresh state")
	if err = s.DB.WithContext(ctx).Transaction(fn); err != nil && isConflict(err) {
		return ErrTransactionConflict
	}
	return err
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "serialization failure") ||
		strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func isUnavailable(err error) bool {
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "database is closed")
}

// translate maps storage-level failures onto the service error taxonomy;
// sentinels pass through untouched.
func (s *Service) translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidStage),
		errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrTerminalStage),
		errors.Is(err, ErrIncompleteSet),
		errors.Is(err, ErrDuplicateFingerprint),
		errors.Is(err, ErrTransactionConflict):
		return err
	case isConflict(err):
		return ErrTransactionConflict
	case isUnavailable(err):
		return ErrStorageUnavailable
	default:
		return err
	}
}
