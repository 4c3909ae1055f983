// Package replaylog stores processed sessions on disk so repeat loads
// skip the pipeline.
//
// Each session becomes one zstd-compressed CBOR archive named
// {year}_{round}_{type}_v{version}.replay.zst. The version is the
// pipeline version: bumping it after a semantics change invalidates
// every existing archive without touching the files.
package replaylog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/gridline-data/apex.replay/internal/monitoring"
	"github.com/gridline-data/apex.replay/internal/telemetry"
)

// PipelineVersion tags archives with the pipeline semantics that
// produced them. Bump on any change to frame content or ordering.
const PipelineVersion = 1

const archiveExtension = ".replay.zst"

// ErrCacheMiss is returned by Load when no archive exists for the key
// at the current pipeline version.
var ErrCacheMiss = errors.New("replay cache miss")

// Archive is the on-disk payload.
type Archive struct {
	Version       int                       `cbor:"version"`
	Metadata      telemetry.Metadata        `cbor:"metadata"`
	Frames        []telemetry.Frame         `cbor:"frames,omitempty"`
	TrackStatuses []telemetry.TrackStatus   `cbor:"track_statuses,omitempty"`
	Qualifying    *telemetry.QualifyingData `cbor:"qualifying,omitempty"`
}

// Store reads and writes session archives under one directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key telemetry.SessionKey) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_v%d%s", key, PipelineVersion, archiveExtension))
}

// Save writes one processed session. The write goes through a temp file
// and rename so readers never see a partial archive.
func (s *Store) Save(key telemetry.SessionKey, res *telemetry.Result) error {
	a := Archive{
		Version:       PipelineVersion,
		Metadata:      res.Metadata,
		Frames:        res.Frames,
		TrackStatuses: res.TrackStatuses,
		Qualifying:    res.Qualifying,
	}

	path := s.path(key)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("open archive writer: %w", err)
	}
	if err := cbor.NewEncoder(zw).Encode(&a); err != nil {
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode archive for %s: %w", key, err)
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
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	monitoring.Tagf("CACHE", "saved %s (%d frames)", key, len(res.Frames))
	return nil
}

// Load reads one session. Returns ErrCacheMiss when no archive exists
// at the current pipeline version.
func (s *Store) Load(key telemetry.SessionKey) (*telemetry.Result, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrCacheMiss)
		}
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open archive for %s: %w", key, err)
	}
	defer zr.Close()

	var a Archive
	if err := cbor.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode archive for %s: %w", key, err)
	}
	if a.Version != PipelineVersion {
		return nil, fmt.Errorf("%s: archive version %d: %w", key, a.Version, ErrCacheMiss)
	}

	return &telemetry.Result{
		Frames:        a.Frames,
		Metadata:      a.Metadata,
		TrackStatuses: a.TrackStatuses,
		Qualifying:    a.Qualifying,
	}, nil
}

// Size returns the archive size in bytes, or 0 when absent.
func (s *Store) Size(key telemetry.SessionKey) int64 {
	fi, err := os.Stat(s.path(key))
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Delete removes one archive. Missing archives are not an error.
func (s *Store) Delete(key telemetry.SessionKey) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteID removes the archive for a session id string.
func (s *Store) DeleteID(id string) error {
	key, err := telemetry.ParseSessionKey(id)
	if err != nil {
		return err
	}
	return s.Delete(key)
}

// Clear removes every archive, including ones from older pipeline
// versions.
func (s *Store) Clear() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveExtension) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	monitoring.Tagf("CACHE", "cleared %d archives", removed)
	return removed, nil
}

// Stats summarises the on-disk cache.
type Stats struct {
	Archives   int   `json:"archives"`
	TotalBytes int64 `json:"total_bytes"`
}

// Stats walks the cache directory.
func (s *Store) Stats() (Stats, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveExtension) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		st.Archives++
		st.TotalBytes += fi.Size()
	}
	return st, nil
}
