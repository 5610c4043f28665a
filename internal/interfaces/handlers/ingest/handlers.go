// Package ingest exposes the webhook used by scrapers that cannot reach the
// message queue. The payload is the same raw-listing contract the queue
// consumer validates, so a scraper can switch transports without changes.
package ingest

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/blatr/idealista-notify-bot/internal/application/lifecycle"
	"github.com/blatr/idealista-notify-bot/internal/contracts"
	"github.com/blatr/idealista-notify-bot/internal/domain"
	"github.com/blatr/idealista-notify-bot/internal/pkg/response"
)

type Handlers struct {
	Service *lifecycle.Service
}

// HandleIngest processes POST /api/v1/ingest
func (h *Handlers) HandleIngest(c *fiber.Ctx) error {
	body := c.Body()
	if err := contracts.ValidateEvent(contracts.RawListingType, contracts.RawListingVersion, body); err != nil {
		return response.Error(c, "Payload does not match the raw-listing contract", fiber.StatusBadRequest,
			map[string]interface{}{"violation": err.Error()})
	}

	var raw domain.RawListing
	if err := json.Unmarshal(body, &raw); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if raw.Source == "" {
		raw.Source = domain.SourceWebhook
	}

	listing, outcome, err := h.Service.Ingest(c.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrTransactionConflict):
			return response.Error(c, err.Error(), fiber.StatusConflict, nil)
		case errors.Is(err, lifecycle.ErrStorageUnavailable):
			return response.Error(c, err.Error(), fiber.StatusServiceUnavailable, nil)
		default:
			return response.Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
		}
	}

	metadata := map[string]interface{}{"outcome": outcome}
	switch outcome {
	case lifecycle.OutcomeCreated, lifecycle.OutcomeRestored:
		return response.SuccessCreated(c, "Listing ingested", listing, metadata)
	case lifecycle.OutcomeRefreshed:
		return response.Success(c, "Listing refreshed", listing, metadata)
	default:
		return response.Success(c, "Listing already tracked", listing, metadata)
	}
}
