package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// fixtureExtension is the suffix of recorded raw session files.
const fixtureExtension = ".raw.zst"

// FixtureProvider serves recorded raw sessions from a directory, one
// zstd-compressed CBOR file per session key. It stands in for the live
// upstream service in deployments that replay captured data, and in
// tests.
type FixtureProvider struct {
	dir string
}

// NewFixtureProvider returns a provider reading from dir.
func NewFixtureProvider(dir string) *FixtureProvider {
	return &FixtureProvider{dir: dir}
}

func (p *FixtureProvider) path(key SessionKey) string {
	return filepath.Join(p.dir, key.String()+fixtureExtension)
}

// Fetch implements Provider.
func (p *FixtureProvider) Fetch(ctx context.Context, key SessionKey, progress ProgressFunc) (*RawSession, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if progress != nil {
		progress(0, "Reading recorded telemetry")
	}

	f, err := os.Open(p.path(key))
	if err != nil {
		return nil, fmt.Errorf("no recorded telemetry for %s: %w", key, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open fixture for %s: %w", key, err)
	}
	defer zr.Close()

	var raw RawSession
	if err := cbor.NewDecoder(zr).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fixture for %s: %w", key, err)
	}
	raw.Key = key

	if progress != nil {
		progress(30, "Recorded telemetry read")
	}
	return &raw, nil
}

// WriteFixture records a raw session into dir in the format Fetch reads.
func WriteFixture(dir string, raw *RawSession) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create fixture dir: %w", err)
	}
	path := filepath.Join(dir, raw.Key.String()+fixtureExtension)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create fixture: %w", err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("open fixture writer: %w", err)
	}
	if err := cbor.NewEncoder(zw).Encode(raw); err != nil {
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

var _ Provider = (*FixtureProvider)(nil)
