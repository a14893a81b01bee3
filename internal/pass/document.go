package pass

import (
	"encoding/json"
	"time"

	"github.com/amineprimesmr/myfidpass/internal/loyalty"
	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

// Snapshot is everything the builder needs to render one card.
type Snapshot struct {
	Account   loyalty.Account
	Tenant    tenant.Tenant
	AuthToken string
}

// Identity describes the pass type served by this deployment.
type Identity struct {
	PassTypeID    string
	TeamID        string
	Organization  string
	WebServiceURL string
}

// Document is the pass.json payload of a store card.
type Document struct {
	FormatVersion       int       `json:"formatVersion"`
	PassTypeIdentifier  string    `json:"passTypeIdentifier"`
	SerialNumber        string    `json:"serialNumber"`
	TeamIdentifier      string    `json:"teamIdentifier,omitempty"`
	OrganizationName    string    `json:"organizationName"`
	Description         string    `json:"description"`
	LogoText            string    `json:"logoText,omitempty"`
	BackgroundColor     string    `json:"backgroundColor,omitempty"`
	ForegroundColor     string    `json:"foregroundColor,omitempty"`
	LabelColor          string    `json:"labelColor,omitempty"`
	WebServiceURL       string    `json:"webServiceURL,omitempty"`
	AuthenticationToken string    `json:"authenticationToken,omitempty"`
	RelevantDate        string    `json:"relevantDate,omitempty"`
	Barcodes            []Barcode `json:"barcodes"`
	StoreCard           Fields    `json:"storeCard"`
}

// Barcode is rendered on the front of the card.
type Barcode struct {
	Format          string `json:"format"`
	Message         string `json:"message"`
	MessageEncoding string `json:"messageEncoding"`
	AltText         string `json:"altText,omitempty"`
}

// Fields groups the store card field sections.
type Fields struct {
	PrimaryFields   []Field `json:"primaryFields"`
	SecondaryFields []Field `json:"secondaryFields,omitempty"`
	BackFields      []Field `json:"backFields,omitempty"`
}

// Field is one label/value pair. ChangeMessage makes the device show a
// notification when the value changes.
type Field struct {
	Key           string `json:"key"`
	Label         string `json:"label,omitempty"`
	Value         string `json:"value"`
	ChangeMessage string `json:"changeMessage,omitempty"`
}

// Render builds the pass.json document for a snapshot.
func Render(id Identity, snap Snapshot) Document {
	t := snap.Tenant
	a := snap.Account
	locale := t.Style.Locale
	palette := ParsePreset(t.Style.Preset).Palette()

	doc := Document{
		FormatVersion:       1,
		PassTypeIdentifier:  id.PassTypeID,
		SerialNumber:        a.Serial,
		TeamIdentifier:      id.TeamID,
		OrganizationName:    firstNonEmpty(t.Name, id.Organization),
		Description:         t.Name + " loyalty card",
		LogoText:            t.Name,
		BackgroundColor:     styleColor(t.Style.BackgroundColor, palette.Background),
		ForegroundColor:     styleColor(t.Style.ForegroundColor, palette.Foreground),
		LabelColor:          styleColor(t.Style.LabelColor, palette.Label),
		WebServiceURL:       id.WebServiceURL,
		AuthenticationToken: snap.AuthToken,
		Barcodes: []Barcode{{
			Format:          "PKBarcodeFormatQR",
			Message:         a.Serial,
			MessageEncoding: "iso-8859-1",
		}},
	}
	if doc.WebServiceURL == "" {
		doc.AuthenticationToken = ""
	}

	balance := Field{Key: "balance"}
	if t.Program == tenant.ProgramStamps {
		balance.Label = label(locale, "Stamps")
		balance.Value = FormatStamps(a.Balance, int64(t.StampGoal))
	} else {
		balance.Label = label(locale, "Points")
		balance.Value = FormatPoints(locale, a.Balance)
	}
	balance.ChangeMessage = "%@"

	doc.StoreCard.PrimaryFields = []Field{balance}
	doc.StoreCard.SecondaryFields = []Field{{Key: "member", Label: label(locale, "Member"), Value: a.Name}}
	if t.Style.BackText != "" {
		doc.StoreCard.BackFields = []Field{{Key: "info", Label: label(locale, "Information"), Value: t.Style.BackText}}
	}
	return doc
}

// Marshal encodes the document the way it is stored in the archive.
func (d Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

func styleColor(custom, fallback string) string {
	if c, ok := rgb(custom); ok {
		return c
	}
	c, _ := rgb(fallback)
	return c
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func lastModified(a loyalty.Account) time.Time {
	if a.LastActivityAt.IsZero() {
		return a.CreatedAt
	}
	return a.LastActivityAt
}
