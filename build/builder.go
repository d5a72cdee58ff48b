// Package build fetches, compiles, and installs engine source releases into
// the version registry. These are plain wrappers over the upstream build
// system; all orchestration complexity lives in the cluster packages.
package build

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/pgforge/pgforge/pgbin"
	"github.com/pgforge/pgforge/utils/cmdrunner"
	"github.com/pgforge/pgforge/utils/untar"
)

// DefaultMirrorURL is the upstream source archive mirror.
const DefaultMirrorURL = "https://ftp.postgresql.org/pub/source"

type BuilderOptions struct {
	Logger   *zap.Logger
	Runner   cmdrunner.Runner
	Registry *pgbin.Registry

	HTTPClient *http.Client
	MirrorURL  string
}

type Builder struct {
	logger     *zap.Logger
	runner     cmdrunner.Runner
	registry   *pgbin.Registry
	httpClient *http.Client
	mirrorURL  string
}

func NewBuilder(opts *BuilderOptions) *Builder {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	mirrorURL := opts.MirrorURL
	if mirrorURL == "" {
		mirrorURL = DefaultMirrorURL
	}

	return &Builder{
		logger:     logger,
		runner:     opts.Runner,
		registry:   opts.Registry,
		httpClient: httpClient,
		mirrorURL:  mirrorURL,
	}
}

// Install downloads, compiles, and installs one engine version under the
// registry root. An already-installed version is a no-op.
func (b *Builder) Install(ctx context.Context, version string) error {
	if _, err := b.registry.Resolve(version); err == nil {
		b.logger.Info("version already installed", zap.String("version", version))
		return nil
	}

	tarballPath, err := b.Download(ctx, version)
	if err != nil {
		return err
	}

	srcDir, err := b.extract(version, tarballPath)
	if err != nil {
		return err
	}

	return b.compile(ctx, version, srcDir)
}

// Download fetches the source tarball into the downloads directory, retrying
// transient failures with capped exponential backoff. An already-downloaded
// tarball is reused.
func (b *Builder) Download(ctx context.Context, version string) (string, error) {
	if err := os.MkdirAll(b.registry.DownloadsDir(), 0755); err != nil {
		return "", fmt.Errorf("failed to create downloads directory: %w", err)
	}

	tarballName := fmt.Sprintf("postgresql-%s.tar.gz", version)
	tarballPath := filepath.Join(b.registry.DownloadsDir(), tarballName)

	if _, err := os.Stat(tarballPath); err == nil {
		b.logger.Info("tarball already downloaded", zap.String("path", tarballPath))
		return tarballPath, nil
	}

	url := fmt.Sprintf("%s/v%s/%s", b.mirrorURL, version, tarballName)
	b.logger.Info("downloading source tarball", zap.String("url", url))

	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("no source release for version %s at %s", version, url))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %s fetching %s", resp.Status, url)
		}

		tmpPath := tarballPath + ".partial"
		f, err := os.Create(tmpPath)
		if err != nil {
			return backoff.Permanent(err)
		}

		if _, err := f.ReadFrom(resp.Body); err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}

		return os.Rename(tmpPath, tarballPath)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(fetch, policy); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}

	return tarballPath, nil
}

func (b *Builder) extract(version string, tarballPath string) (string, error) {
	extractDir := filepath.Join(b.registry.DownloadsDir(), "src-"+version)
	if err := os.RemoveAll(extractDir); err != nil {
		return "", fmt.Errorf("failed to clean extraction directory: %w", err)
	}
	if err := os.MkdirAll(extractDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create extraction directory: %w", err)
	}

	f, err := os.Open(tarballPath)
	if err != nil {
		return "", fmt.Errorf("failed to open tarball: %w", err)
	}
	defer f.Close()

	b.logger.Info("extracting source tarball", zap.String("dest", extractDir))
	if err := untar.Extract(f, extractDir); err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", tarballPath, err)
	}

	// tarballs unpack into a single postgresql-<version> directory
	return filepath.Join(extractDir, "postgresql-"+version), nil
}

func (b *Builder) compile(ctx context.Context, version string, srcDir string) error {
	overrides, err := ResolveOverrides(b.logger, filepath.Join(b.registry.RootDir(), "config"), version)
	if err != nil {
		return err
	}

	installDir := b.registry.InstallDir(version)

	configureArgs := append([]string{"--prefix=" + installDir}, overrides.ConfigureOptions...)
	b.logger.Info("configuring build",
		zap.String("version", version),
		zap.Strings("args", configureArgs))
	if err := b.runner.Run(ctx, srcDir, "./configure", configureArgs...); err != nil {
		return fmt.Errorf("configure for %s failed: %w", version, err)
	}

	jobsArg := fmt.Sprintf("-j%d", overrides.MakeJobs)
	b.logger.Info("compiling", zap.String("version", version), zap.String("jobs", jobsArg))
	if err := b.runner.Run(ctx, srcDir, "make", jobsArg); err != nil {
		return fmt.Errorf("make for %s failed: %w", version, err)
	}

	if err := b.runner.Run(ctx, srcDir, "make", "install"); err != nil {
		return fmt.Errorf("make install for %s failed: %w", version, err)
	}

	b.logger.Info("installed version", zap.String("version", version), zap.String("dir", installDir))
	return nil
}
