// Package cachesync keeps the on-disk dataset snapshot current. It
// compares a remote version marker to the locally stored one and, when
// they differ, downloads the archive and extracts it into a temporary
// directory that is only promoted after every required file checks out
// non-empty. A reachable snapshot is never left half-written.
package cachesync

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/theoremus-urban-solutions/departure-board/schedule"
)

var (
	// ErrNoCache means no usable snapshot exists and the network is
	// unavailable; the refresh cycle has no static data to offer.
	ErrNoCache = errors.New("cachesync: no usable dataset and network unavailable")
	// ErrExtraction means the downloaded archive was corrupt or
	// incomplete. The previous snapshot, if any, is untouched.
	ErrExtraction = errors.New("cachesync: archive extraction incomplete")
)

// DownloadError reports a non-2xx response while fetching.
type DownloadError struct {
	Status int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("cachesync: download failed with status %d", e.Status)
}

// Fetcher retrieves a URL's body. The default implementation is
// HTTPFetcher; tests inject their own.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Config points the syncer at its endpoints and cache location.
type Config struct {
	VersionURL string
	ArchiveURL string
	CacheDir   string
}

// Syncer manages the dataset snapshot under CacheDir: the extracted
// tables live in <cache>/dataset, the version marker in <cache>/version.
type Syncer struct {
	cfg   Config
	fetch Fetcher
	log   zerolog.Logger
}

func New(cfg Config, fetch Fetcher, logger zerolog.Logger) *Syncer {
	return &Syncer{cfg: cfg, fetch: fetch, log: logger}
}

// DatasetDir is where the current snapshot's tables live.
func (s *Syncer) DatasetDir() string {
	return filepath.Join(s.cfg.CacheDir, "dataset")
}

func (s *Syncer) versionFile() string {
	return filepath.Join(s.cfg.CacheDir, "version")
}

// Ensure guarantees a valid snapshot on disk and returns its
// directory. updated reports that a new snapshot was extracted, so
// in-memory indices built from the old one must be rebuilt.
func (s *Syncer) Ensure(ctx context.Context) (dir string, updated bool, err error) {
	dir = s.DatasetDir()
	valid := s.validSnapshot(dir)

	remote, err := s.fetch.Get(ctx, s.cfg.VersionURL)
	if err != nil {
		if valid {
			// Stale but usable; the next cycle retries the check.
			s.log.Warn().Err(err).Msg("version check failed, using existing snapshot")
			return dir, false, nil
		}
		return "", false, fmt.Errorf("%w: version check: %s", ErrNoCache, err)
	}

	local, _ := os.ReadFile(s.versionFile())
	if valid && bytes.Equal(local, remote) {
		return dir, false, nil
	}

	s.log.Info().
		Str("local", string(local)).
		Str("remote", string(remote)).
		Bool("snapshot_valid", valid).
		Msg("refreshing dataset snapshot")
	if err := s.refresh(ctx, remote); err != nil {
		return "", false, err
	}
	return dir, true, nil
}

// validSnapshot checks that every required table exists non-empty,
// which guards against partial extraction from a prior crash.
func (s *Syncer) validSnapshot(dir string) bool {
	for _, name := range schedule.RequiredFiles {
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil || fi.Size() == 0 {
			return false
		}
	}
	return true
}

func (s *Syncer) refresh(ctx context.Context, marker []byte) error {
	archive, err := s.fetch.Get(ctx, s.cfg.ArchiveURL)
	if err != nil {
		return fmt.Errorf("cachesync: fetch archive: %w", err)
	}
	if err := os.MkdirAll(s.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("cachesync: create cache dir: %w", err)
	}

	tmp, err := os.MkdirTemp(s.cfg.CacheDir, "dataset.tmp-")
	if err != nil {
		return fmt.Errorf("cachesync: create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := extractArchive(archive, tmp); err != nil {
		return err
	}
	if !s.validSnapshot(tmp) {
		return ErrExtraction
	}

	// Promote: the old snapshot is moved aside first so a crash
	// between the renames still leaves the staging dir intact rather
	// than a half-valid dataset directory.
	dir := s.DatasetDir()
	old := dir + ".old"
	_ = os.RemoveAll(old)
	if _, err := os.Stat(dir); err == nil {
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("cachesync: retire old snapshot: %w", err)
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("cachesync: promote snapshot: %w", err)
	}
	_ = os.RemoveAll(old)

	if err := os.WriteFile(s.versionFile(), marker, 0o644); err != nil {
		return fmt.Errorf("cachesync: persist version marker: %w", err)
	}
	s.log.Info().Str("version", string(marker)).Msg("dataset snapshot promoted")
	return nil
}

// extractArchive unpacks the zip flat into dst. Nested entry paths are
// flattened to their base name; entries outside the required table set
// are ignored.
func extractArchive(data []byte, dst string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrExtraction, err)
	}
	required := map[string]bool{}
	for _, name := range schedule.RequiredFiles {
		required[name] = true
	}
	for _, f := range zr.File {
		base := path.Base(f.Name)
		if !required[base] {
			continue
		}
		if err := extractFile(f, filepath.Join(dst, base)); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrExtraction, base, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, dst string) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
