package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/blatr/idealista-notify-bot/internal/domain"
)

func telegramEvent(kind domain.EventKind, payload map[string]interface{}) domain.TransitionEvent {
	body, _ := json.Marshal(payload)
	return domain.TransitionEvent{
		EventID:   uuid.New(),
		ListingID: 1,
		Kind:      kind,
		Payload:   datatypes.JSON(body),
	}
}

func TestTelegramClient_SendsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &TelegramClient{Token: "token123", ChatID: "42", BaseURL: server.URL}
	event := telegramEvent(domain.EventNewListing, map[string]interface{}{
		"title": "Piso en Malasaña",
		"price": "1.400 €/mes",
		"rooms": "2 hab.",
		"size":  "70 m²",
		"floor": "Planta 3ª",
		"url":   "https://www.idealista.com/inmueble/1/",
	})

	require.NoError(t, client.Dispatch(context.Background(), event))

	assert.Equal(t, "/bottoken123/sendMessage", gotPath)
	assert.Equal(t, "42", gotBody["chat_id"])
	assert.Equal(t, "Markdown", gotBody["parse_mode"])
	text, _ := gotBody["text"].(string)
	assert.Contains(t, text, "🆕 Nuevo anuncio")
	assert.Contains(t, text, "*Piso en Malasaña*")
	assert.Contains(t, text, "[Ver anuncio](https://www.idealista.com/inmueble/1/)")
}

func TestTelegramClient_PhotoWithCaptionFallsBackToText(t *testing.T) {
	var calls []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/sendPhoto") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &TelegramClient{Token: "t", ChatID: "42", BaseURL: server.URL}
	event := telegramEvent(domain.EventNewListing, map[string]interface{}{
		"title":     "Piso",
		"thumbnail": "https://img.example.com/stale.jpg",
	})

	require.NoError(t, client.Dispatch(context.Background(), event))
	assert.Equal(t, []string{"/bott/sendPhoto", "/bott/sendMessage"}, calls)
}

func TestTelegramClient_DisabledWithoutCredentials(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	client := &TelegramClient{BaseURL: server.URL}
	event := telegramEvent(domain.EventNewListing, map[string]interface{}{"title": "Piso"})

	require.NoError(t, client.Dispatch(context.Background(), event))
	assert.Zero(t, calls)
}

func TestTelegramClient_SurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer server.Close()

	client := &TelegramClient{Token: "bad", ChatID: "42", BaseURL: server.URL}
	event := telegramEvent(domain.EventDecided, map[string]interface{}{"title": "Piso"})

	err := client.Dispatch(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestMessageText_Formats(t *testing.T) {
	text := messageText(domain.EventListingChanged, eventPayload{
		Title:         "Piso en Chamberí",
		Price:         "1.100 €/mes",
		PreviousPrice: "1.200 €/mes",
		Rooms:         "3 hab.",
		Size:          "90 m²",
		Floor:         "Planta 2ª",
		URL:           "https://example.com/1",
	})

	assert.Contains(t, text, "✏️ Anuncio actualizado")
	assert.Contains(t, text, "🏠 *Piso en Chamberí*")
	assert.Contains(t, text, "💰 *1.100 €/mes* (antes 1.200 €/mes)")
	assert.Contains(t, text, "🛏 3 hab.")
	assert.Contains(t, text, "[Ver anuncio](https://example.com/1)")

	rejected := messageText(domain.EventDecided, eventPayload{
		Title:   "Piso",
		ToStage: string(domain.StageRejected),
	})
	assert.Contains(t, rejected, "❌ Descartado")

	accepted := messageText(domain.EventDecided, eventPayload{
		Title:   "Piso",
		ToStage: string(domain.StageAccepted),
	})
	assert.Contains(t, accepted, "✅ Aceptado")
}
