package board

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/blatr/idealista-notify-bot/internal/application/lifecycle"
	"github.com/blatr/idealista-notify-bot/internal/domain"
	"github.com/blatr/idealista-notify-bot/internal/pkg/response"
)

type Handlers struct {
	Service *lifecycle.Service
}

// GET /api/v1/board — every column in position order, plus counts
func (h *Handlers) GetBoard(c *fiber.Ctx) error {
	board, err := h.Service.Board(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Board fetched successfully", board, nil)
}

// GET /api/v1/board/:stage — one column in position order
func (h *Handlers) GetColumn(c *fiber.Ctx) error {
	column, err := h.Service.Column(c.Context(), domain.Stage(c.Params("stage")))
	if err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Column fetched successfully", column, nil)
}

// POST /api/v1/board/:stage/reorder — body { card_ids: [...] }
func (h *Handlers) ReorderColumn(c *fiber.Ctx) error {
	var body struct {
		CardIDs []uint `json:"card_ids"`
	}
	if err := c.BodyParser(&body); err != nil || len(body.CardIDs) == 0 {
		return response.Error(c, "card_ids is required", 400, nil)
	}
	column, err := h.Service.ReorderColumn(c.Context(), domain.Stage(c.Params("stage")), body.CardIDs)
	if err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Column reordered successfully", column, nil)
}

// POST /api/v1/listings — hand-entered card
func (h *Handlers) CreateListing(c *fiber.Ctx) error {
	var body struct {
		domain.RawListing
		Notes    string `json:"notes"`
		Priority int    `json:"priority"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", 400, nil)
	}
	if strings.TrimSpace(body.Title) == "" {
		return response.Error(c, "title is required", 400, nil)
	}

	listing, err := h.Service.CreateManual(c.Context(), body.RawListing, body.Notes, body.Priority)
	if err != nil {
		if errors.Is(err, lifecycle.ErrDuplicateFingerprint) && listing != nil {
			return response.Error(c, err.Error(), 409, fiber.Map{"listing_id": listing.ID})
		}
		return fail(c, err)
	}
	return response.SuccessCreated(c, "Listing created successfully", listing, nil)
}

// GET /api/v1/listings/:id
func (h *Handlers) GetListing(c *fiber.Ctx) error {
	id, err := listingID(c)
	if err != nil {
		return response.Error(c, err.Error(), 400, nil)
	}
	listing, err := h.Service.Get(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Listing fetched successfully", listing, nil)
}

// GET /api/v1/listings/:id/events — lifecycle history, newest first
func (h *Handlers) GetListingEvents(c *fiber.Ctx) error {
	id, err := listingID(c)
	if err != nil {
		return response.Error(c, err.Error(), 400, nil)
	}
	events, err := h.Service.Events(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Events fetched successfully", events, nil)
}

// PATCH /api/v1/listings/:id — edit card fields, never stage or position
func (h *Handlers) UpdateListing(c *fiber.Ctx) error {
	id, err := listingID(c)
	if err != nil {
		return response.Error(c, err.Error(), 400, nil)
	}
	var body lifecycle.UpdateInput
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", 400, nil)
	}
	if body == (lifecycle.UpdateInput{}) {
		return response.Error(c, "No valid changes provided", 400, nil)
	}
	listing, err := h.Service.Update(c.Context(), id, body)
	if err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Listing updated successfully", listing, nil)
}

// PATCH /api/v1/listings/:id/move — body { stage, position }
func (h *Handlers) MoveListing(c *fiber.Ctx) error {
	id, err := listingID(c)
	if err != nil {
		return response.Error(c, err.Error(), 400, nil)
	}
	var body struct {
		Stage    string `json:"stage"`
		Position *int   `json:"position"`
	}
	if err := c.BodyParser(&body); err != nil || body.Stage == "" || body.Position == nil {
		return response.Error(c, "stage and position are required", 400, nil)
	}

	result, err := h.Service.ApplyMove(c.Context(), id, domain.Stage(body.Stage), *body.Position)
	if err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Listing moved successfully", result, nil)
}

// DELETE /api/v1/listings/:id — archive, keeping history for re-ingest
func (h *Handlers) ArchiveListing(c *fiber.Ctx) error {
	id, err := listingID(c)
	if err != nil {
		return response.Error(c, err.Error(), 400, nil)
	}
	if err := h.Service.Archive(c.Context(), id); err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Listing archived successfully", fiber.Map{"id": id}, nil)
}

// --- helpers ---

func listingID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("Invalid listing id")
	}
	return uint(id), nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return 404
	case errors.Is(err, lifecycle.ErrInvalidStage),
		errors.Is(err, lifecycle.ErrIncompleteSet):
		return 400
	case errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, lifecycle.ErrTerminalStage):
		return 422
	case errors.Is(err, lifecycle.ErrDuplicateFingerprint),
		errors.Is(err, lifecycle.ErrTransactionConflict):
		return 409
	case errors.Is(err, lifecycle.ErrStorageUnavailable):
		return 503
	default:
		return 500
	}
}

func fail(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code == 500 {
		return response.Error(c, "Internal Server Error", 500, nil)
	}
	return response.Error(c, err.Error(), code, nil)
}
