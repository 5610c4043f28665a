package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/blatr/idealista-notify-bot/internal/domain"
)

const telegramAPI = "https://api.telegram.org"

// TelegramClient delivers events as formatted messages to a single chat via
// the Bot API. An empty token or chat id turns the client into a no-op so
// local setups run without credentials.
type TelegramClient struct {
	Token  string
	ChatID string
	// BaseURL overrides the Bot API host, used by tests.
	BaseURL string
	Client  *http.Client
}

type eventPayload struct {
	ListingID     uint   `json:"listing_id"`
	Title         string `json:"title"`
	Price         string `json:"price"`
	PreviousPrice string `json:"previous_price"`
	Rooms         string `json:"rooms"`
	Size          string `json:"size"`
	Floor         string `json:"floor"`
	URL           string `json:"url"`
	Thumbnail     string `json:"thumbnail"`
	Stage         string `json:"stage"`
	FromStage     string `json:"from_stage"`
	ToStage       string `json:"to_stage"`
}

func (t *TelegramClient) Dispatch(ctx context.Context, event domain.TransitionEvent) error {
	if t.Token == "" || t.ChatID == "" {
		return nil
	}

	var payload eventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("telegram: decode event payload: %w", err)
	}
	text := messageText(event.Kind, payload)

	if payload.Thumbnail != "" {
		err := t.call(ctx, "sendPhoto", map[string]interface{}{
			"chat_id":    t.ChatID,
			"photo":      payload.Thumbnail,
			"caption":    text,
			"parse_mode": "Markdown",
		})
		if err == nil {
			return nil
		}
		// Thumbnail URLs from scrapes go stale; fall back to plain text.
	}

	return t.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
}

func (t *TelegramClient) call(ctx context.Context, method string, body map[string]interface{}) error {
	if t.Client == nil {
		t.Client = &http.Client{Timeout: 15 * time.Second}
	}
	base := t.BaseURL
	if base == "" {
		base = telegramAPI
	}

	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/bot%s/%s", base, t.Token, method), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram: %s returned %d: %s", method, resp.StatusCode, string(b))
	}
	return nil
}

func messageText(kind domain.EventKind, p eventPayload) string {
	var b strings.Builder

	switch kind {
	case domain.EventNewListing:
		b.WriteString("🆕 Nuevo anuncio\n\n")
	case domain.EventListingChanged:
		b.WriteString("✏️ Anuncio actualizado\n\n")
	case domain.EventFollowUpNeeded:
		b.WriteString("📞 Toca llamar\n\n")
	case domain.EventDecided:
		if p.ToStage == string(domain.StageAccepted) {
			b.WriteString("✅ Aceptado\n\n")
		} else {
			b.WriteString("❌ Descartado\n\n")
		}
	}

	fmt.Fprintf(&b, "🏠 *%s*\n\n", p.Title)
	if p.PreviousPrice != "" && p.PreviousPrice != p.Price {
		fmt.Fprintf(&b, "💰 *%s* (antes %s)\n", p.Price, p.PreviousPrice)
	} else {
		fmt.Fprintf(&b, "💰 *%s*\n", p.Price)
	}
	fmt.Fprintf(&b, "🛏 %s\n", p.Rooms)
	fmt.Fprintf(&b, "📐 %s\n", p.Size)
	fmt.Fprintf(&b, "🏢 %s\n", p.Floor)
	if p.URL != "" {
		fmt.Fprintf(&b, "\n[Ver anuncio](%s)", p.URL)
	}
	return b.String()
}
