package tenant

import "time"

const (
	ProgramPoints = "points"
	ProgramStamps = "stamps"
)

// Tenant owns loyalty accounts and supplies the style used to render their passes.
type Tenant struct {
	ID         string
	Name       string
	Program    string
	StampGoal  int
	Style      Style
	APIKeyHash []byte
	CreatedAt  time.Time
}

// Style carries the branding inputs consumed by the pass builder.
type Style struct {
	Preset          string
	BackgroundColor string
	ForegroundColor string
	LabelColor      string
	BackText        string
	Locale          string
}

// CreateInput captures the data needed to onboard a tenant.
type CreateInput struct {
	ID        string
	Name      string
	Program   string
	StampGoal int
	Style     Style
}
