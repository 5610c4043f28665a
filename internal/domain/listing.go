package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Stage is the Kanban column a listing sits in.
type Stage string

const (
	StageNew       Stage = "new"
	StageContacted Stage = "contacted"
	StageViewing   Stage = "viewing"
	StageApplied   Stage = "applied"
	StageAccepted  Stage = "accepted"
	StageRejected  Stage = "rejected"
)

// Stages lists every stage in board column order.
var Stages = []Stage{StageNew, StageContacted, StageViewing, StageApplied, StageAccepted, StageRejected}

// IsValid checks if a stage is recognized.
func (s Stage) IsValid() bool {
	for _, v := range Stages {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the stage has no outgoing transitions.
func (s Stage) IsTerminal() bool {
	return s == StageAccepted || s == StageRejected
}

func (s Stage) String() string {
	return string(s)
}

// Card sources.
const (
	SourceScraper = "scraper"
	SourceManual  = "manual"
	SourceWebhook = "webhook"
)

// Listing is one tracked apartment advertisement (a card on the board).
// Position is the dense 0-based rank within the stage column; it is the only
// ordering axis — Priority is a display flag and never affects order.
type Listing struct {
	ID          uint           `gorm:"column:id;primaryKey" json:"id"`
	Fingerprint string         `gorm:"column:fingerprint;type:varchar(64);not null;uniqueIndex" json:"fingerprint"`
	Stage       Stage          `gorm:"column:stage;type:varchar(20);not null;default:'new';index:idx_listings_stage_position,priority:1" json:"stage"`
	Position    int            `gorm:"column:position;not null;default:0;index:idx_listings_stage_position,priority:2" json:"position"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	Price       string         `gorm:"column:price" json:"price"`
	PriceValue  float64        `gorm:"column:price_value" json:"price_value"`
	Rooms       string         `gorm:"column:rooms" json:"rooms"`
	Size        string         `gorm:"column:size" json:"size"`
	Floor       string         `gorm:"column:floor" json:"floor"`
	Description string         `gorm:"column:description;type:text" json:"description"`
	Thumbnail   string         `gorm:"column:thumbnail" json:"thumbnail"`
	SourceURL   string         `gorm:"column:source_url" json:"source_url"`
	Address     string         `gorm:"column:address" json:"address"`
	Notes       string         `gorm:"column:notes;type:text" json:"notes"`
	Priority    int            `gorm:"column:priority;not null;default:0" json:"priority"`
	Source      string         `gorm:"column:source;type:varchar(20);not null;default:'scraper'" json:"source"`
	Attributes  datatypes.JSON `gorm:"column:attributes;type:jsonb" json:"attributes"`
	FirstSeenAt time.Time      `gorm:"column:first_seen_at" json:"first_seen_at"`
	LastSeenAt  time.Time      `gorm:"column:last_seen_at" json:"last_seen_at"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Listing) TableName() string {
	return "listings"
}

// RawListing is a scraped or manually submitted ad before dedup. The JSON
// shape matches the raw-listing contract schema consumed on the queue and
// the ingest webhook.
type RawListing struct {
	SourceID    string  `json:"source_id"`
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Address     string  `json:"address"`
	Price       string  `json:"price"`
	PriceValue  float64 `json:"price_value"`
	Rooms       string  `json:"rooms"`
	Size        string  `json:"size"`
	Floor       string  `json:"floor"`
	Description string  `json:"description"`
	Thumbnail   string  `json:"thumbnail"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Source      string  `json:"source"`
}

// ListingAttributes is the comparable snapshot kept in the attributes column.
// A re-scrape matching an existing fingerprint is an exact duplicate only
// when every field here is unchanged; otherwise the card is refreshed.
type ListingAttributes struct {
	Title       string  `json:"title"`
	Price       string  `json:"price"`
	PriceValue  float64 `json:"price_value"`
	Rooms       string  `json:"rooms"`
	Size        string  `json:"size"`
	Floor       string  `json:"floor"`
	Description string  `json:"description"`
	Thumbnail   string  `json:"thumbnail"`
}
