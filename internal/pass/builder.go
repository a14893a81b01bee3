package pass

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/amineprimesmr/myfidpass/internal/tenant"
)

// ErrBuildFailed marks every error returned by a Builder.
var ErrBuildFailed = errors.New("pass build failed")

// ContentType is the media type of a pass archive.
const ContentType = "application/vnd.apple.pkpass"

// Builder produces a signed pass archive for a snapshot.
type Builder interface {
	Build(ctx context.Context, snap Snapshot) ([]byte, error)
}

// Signer produces the detached signature over manifest.json.
type Signer interface {
	Sign(ctx context.Context, manifest []byte) ([]byte, error)
}

// NoopSigner leaves archives unsigned. Wallets reject unsigned passes, so it
// is only useful in development and tests.
type NoopSigner struct{}

// Sign returns no signature.
func (NoopSigner) Sign(context.Context, []byte) ([]byte, error) { return nil, nil }

// ArchiveBuilder writes pass.json, generated images, manifest.json and the
// signature into a zip archive.
type ArchiveBuilder struct {
	identity Identity
	signer   Signer
}

// NewArchiveBuilder constructs an ArchiveBuilder. A nil signer means NoopSigner.
func NewArchiveBuilder(id Identity, signer Signer) *ArchiveBuilder {
	if signer == nil {
		signer = NoopSigner{}
	}
	return &ArchiveBuilder{identity: id, signer: signer}
}

// Build renders and packages the pass.
func (b *ArchiveBuilder) Build(ctx context.Context, snap Snapshot) ([]byte, error) {
	if snap.Account.Serial == "" {
		return nil, errors.Mark(errors.New("snapshot has no serial"), ErrBuildFailed)
	}
	if snap.Tenant.Program == tenant.ProgramStamps && snap.Tenant.StampGoal <= 0 {
		return nil, errors.Mark(errors.Newf("tenant %s has a stamp program without a goal", snap.Tenant.ID), ErrBuildFailed)
	}

	doc, err := Render(b.identity, snap).Marshal()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "encode pass.json"), ErrBuildFailed)
	}

	palette := ParsePreset(snap.Tenant.Style.Preset).Palette()
	files := map[string][]byte{"pass.json": doc}
	for name, img := range defaultImages(snap.Tenant.Style.BackgroundColor, palette.Background) {
		files[name] = img
	}

	manifest, err := buildManifest(files)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "encode manifest.json"), ErrBuildFailed)
	}
	files["manifest.json"] = manifest

	signature, err := b.signer.Sign(ctx, manifest)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "sign pass %s", snap.Account.Serial), ErrBuildFailed)
	}
	if len(signature) > 0 {
		files["signature"] = signature
	}

	archive, err := writeArchive(files, lastModified(snap.Account))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "write archive"), ErrBuildFailed)
	}
	return archive, nil
}

func buildManifest(files map[string][]byte) ([]byte, error) {
	manifest := make(map[string]string, len(files))
	for name, data := range files {
		sum := sha1.Sum(data)
		manifest[name] = hex.EncodeToString(sum[:])
	}
	return json.Marshal(manifest)
}

func writeArchive(files map[string][]byte, modified time.Time) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(files[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
