// Package pgbin locates installed PostgreSQL builds on disk. Every build
// lives under <root>/versions/<version> with its tools in bin/, and the
// <root>/current symlink marks the active build.
package pgbin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/mod/semver"
)

var ErrUnknownVersion = errors.New("version is not installed")

const (
	versionsDirName  = "versions"
	downloadsDirName = "downloads"
	currentLinkName  = "current"
)

type RegistryOptions struct {
	Logger *zap.Logger

	// RootDir is the pgforge home, typically ~/.pgforge.
	RootDir string
}

type Registry struct {
	logger  *zap.Logger
	rootDir string
}

func NewRegistry(opts *RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		logger:  logger,
		rootDir: opts.RootDir,
	}
}

func (r *Registry) RootDir() string      { return r.rootDir }
func (r *Registry) VersionsDir() string  { return filepath.Join(r.rootDir, versionsDirName) }
func (r *Registry) DownloadsDir() string { return filepath.Join(r.rootDir, downloadsDirName) }

// InstallDir returns where a version's build is (or would be) installed.
func (r *Registry) InstallDir(version string) string {
	return filepath.Join(r.VersionsDir(), version)
}

// Resolve maps a version identifier to its executable directory. An empty
// identifier resolves through the current symlink. A version with no
// installed build is ErrUnknownVersion, which callers treat as fatal.
func (r *Registry) Resolve(version string) (string, error) {
	if version == "" || version == currentLinkName {
		current, err := r.Current()
		if err != nil {
			return "", err
		}
		version = current
	}

	binDir := filepath.Join(r.InstallDir(version), "bin")
	if _, err := os.Stat(binDir); err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}

	r.logger.Debug("resolved version", zap.String("version", version), zap.String("binDir", binDir))
	return binDir, nil
}

// List returns the installed versions, newest first.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.VersionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(err, "failed to read versions directory")
	}

	var versions []string
	for _, entry := range entries {
		if entry.IsDir() {
			versions = append(versions, entry.Name())
		}
	}

	sortDescending(versions)

	return versions, nil
}

// Current returns the version the current symlink points at.
func (r *Registry) Current() (string, error) {
	target, err := os.Readlink(filepath.Join(r.rootDir, currentLinkName))
	if err != nil {
		return "", fmt.Errorf("%w: no current version selected", ErrUnknownVersion)
	}

	return filepath.Base(target), nil
}

// Use points the current symlink at an installed version. The swap goes
// through a temporary link name plus rename so a concurrent reader never
// observes a missing link.
func (r *Registry) Use(version string) error {
	if _, err := r.Resolve(version); err != nil {
		return err
	}

	linkPath := filepath.Join(r.rootDir, currentLinkName)
	tmpPath := linkPath + ".tmp"

	_ = os.Remove(tmpPath)
	if err := os.Symlink(r.InstallDir(version), tmpPath); err != nil {
		return pkgerrors.Wrap(err, "failed to create version symlink")
	}
	if err := os.Rename(tmpPath, linkPath); err != nil {
		return pkgerrors.Wrap(err, "failed to activate version symlink")
	}

	r.logger.Info("switched current version", zap.String("version", version))
	return nil
}

// sortDescending orders raw version strings newest-first. Versions are
// prefixed with "v" so x/mod/semver can compare them.
func sortDescending(versions []string) {
	slices.SortFunc(versions, func(a, b string) int {
		return semver.Compare("v"+b, "v"+a)
	})
}
