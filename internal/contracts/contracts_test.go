package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEvent_AcceptsWellFormedListing(t *testing.T) {
	body := []byte(`{
		"source_id": "105880721",
		"url": "https://www.idealista.com/inmueble/105880721/",
		"title": "Piso en Calle Mayor",
		"address": "Calle Mayor 10, Madrid",
		"price": "1.200 €/mes",
		"price_value": 1200,
		"rooms": "3 hab.",
		"size": "90 m²",
		"floor": "Planta 2ª",
		"latitude": 40.4167,
		"longitude": -3.7037,
		"source": "scraper"
	}`)

	assert.NoError(t, ValidateEvent(RawListingType, RawListingVersion, body))
}

func TestValidateEvent_TitleIsMandatory(t *testing.T) {
	body := []byte(`{"url": "https://example.com/1", "price": "900 €/mes"}`)

	err := ValidateEvent(RawListingType, RawListingVersion, body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")
}

func TestValidateEvent_RejectsOutOfRangeCoordinates(t *testing.T) {
	body := []byte(`{"title": "Piso", "latitude": 990.5}`)

	assert.Error(t, ValidateEvent(RawListingType, RawListingVersion, body))
}

func TestValidateEvent_RejectsUnknownFields(t *testing.T) {
	body := []byte(`{"title": "Piso", "stage": "accepted"}`)

	assert.Error(t, ValidateEvent(RawListingType, RawListingVersion, body))
}

func TestValidateEvent_RejectsUnknownSource(t *testing.T) {
	body := []byte(`{"title": "Piso", "source": "carrier-pigeon"}`)

	assert.Error(t, ValidateEvent(RawListingType, RawListingVersion, body))
}

func TestValidateEvent_UnknownContract(t *testing.T) {
	err := ValidateEvent("RawListing", "9.9.9", []byte(`{"title": "Piso"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema registered")

	err = ValidateEvent("SomethingElse", RawListingVersion, []byte(`{}`))
	assert.Error(t, err)
}

func TestValidateEvent_RejectsMalformedJSON(t *testing.T) {
	err := ValidateEvent(RawListingType, RawListingVersion, []byte(`{"title": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}
