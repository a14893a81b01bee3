package pass

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/amineprimesmr/myfidpass/internal/loyalty"
	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

var testIdentity = Identity{
	PassTypeID:    "pass.com.myfidpass.loyalty",
	TeamID:        "ABCDE12345",
	Organization:  "MyFidPass",
	WebServiceURL: "https://passes.example.com",
}

func pointsSnapshot() Snapshot {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return Snapshot{
		Account: loyalty.Account{
			Serial:         "8a1f5c2e-0000-4000-8000-000000000001",
			TenantID:       "tenant-1",
			Name:           "Ada Lovelace",
			Balance:        1250,
			LastActivityAt: at,
			CreatedAt:      at,
		},
		Tenant: tenant.Tenant{
			ID:      "tenant-1",
			Name:    "Cafe Lumen",
			Program: tenant.ProgramPoints,
			Style:   tenant.Style{Preset: "cafe", BackText: "Show this card at the counter.", Locale: "en"},
		},
		AuthToken: "0123456789abcdef0123456789abcdef",
	}
}

func goldenFixture(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden.json"),
	)
}

func TestRenderPointsGolden(t *testing.T) {
	doc, err := Render(testIdentity, pointsSnapshot()).Marshal()
	require.NoError(t, err)
	goldenFixture(t).Assert(t, "points_pass", doc)
}

func TestRenderStampsGolden(t *testing.T) {
	id := testIdentity
	id.TeamID = ""
	id.WebServiceURL = ""

	snap := Snapshot{
		Account: loyalty.Account{Serial: "8a1f5c2e-0000-4000-8000-000000000002", Name: "Jeanne", Balance: 3},
		Tenant: tenant.Tenant{
			ID:        "tenant-2",
			Name:      "Boulangerie Marie",
			Program:   tenant.ProgramStamps,
			StampGoal: 10,
			Style:     tenant.Style{Preset: "not-a-preset", BackgroundColor: "#112233", Locale: "fr"},
		},
		AuthToken: "ignored-without-web-service",
	}
	doc, err := Render(id, snap).Marshal()
	require.NoError(t, err)
	goldenFixture(t).Assert(t, "stamps_pass", doc)
}

func TestParsePresetIsTotal(t *testing.T) {
	require.Equal(t, PresetCafe, ParsePreset("Cafe"))
	require.Equal(t, PresetRetail, ParsePreset(" retail "))
	require.Equal(t, PresetClassic, ParsePreset(""))
	require.Equal(t, PresetClassic, ParsePreset("restaurant"))
	require.Equal(t, "classic", Preset(99).String())
	require.Equal(t, PresetClassic.Palette(), Preset(99).Palette())
}

func TestFormatStampsClampsToGoal(t *testing.T) {
	require.Equal(t, "10 / 10", FormatStamps(14, 10))
	require.Equal(t, "0 / 8", FormatStamps(0, 8))
}

type failingSigner struct{}

func (failingSigner) Sign(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("hsm offline")
}

type staticSigner []byte

func (s staticSigner) Sign(context.Context, []byte) ([]byte, error) { return s, nil }

func TestArchiveBuilderWritesManifest(t *testing.T) {
	builder := NewArchiveBuilder(testIdentity, staticSigner("sig"))
	data, err := builder.Build(context.Background(), pointsSnapshot())
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = body
	}
	for _, name := range []string{"pass.json", "manifest.json", "signature", "icon.png", "icon@2x.png", "logo.png"} {
		require.Contains(t, files, name)
	}
	require.Equal(t, []byte("sig"), files["signature"])

	var manifest map[string]string
	require.NoError(t, json.Unmarshal(files["manifest.json"], &manifest))
	require.NotContains(t, manifest, "manifest.json")
	require.NotContains(t, manifest, "signature")
	for name, digest := range manifest {
		sum := sha1.Sum(files[name])
		require.Equal(t, hex.EncodeToString(sum[:]), digest, name)
	}

	var doc Document
	require.NoError(t, json.Unmarshal(files["pass.json"], &doc))
	require.Equal(t, "1,250", doc.StoreCard.PrimaryFields[0].Value)
}

func TestArchiveBuilderMarksFailures(t *testing.T) {
	ctx := context.Background()

	_, err := NewArchiveBuilder(testIdentity, failingSigner{}).Build(ctx, pointsSnapshot())
	require.True(t, errors.Is(err, ErrBuildFailed))
	require.Contains(t, err.Error(), "hsm offline")

	snap := pointsSnapshot()
	snap.Tenant.Program = tenant.ProgramStamps
	_, err = NewArchiveBuilder(testIdentity, nil).Build(ctx, snap)
	require.True(t, errors.Is(err, ErrBuildFailed))

	// NoopSigner leaves the signature out.
	data, err := NewArchiveBuilder(testIdentity, nil).Build(ctx, pointsSnapshot())
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		require.NotEqual(t, "signature", f.Name)
	}
}
