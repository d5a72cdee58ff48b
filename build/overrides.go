package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Overrides carries per-version build customization loaded from the pgforge
// config directory.
type Overrides struct {
	ConfigureOptions []string `yaml:"configure_options"`
	MakeJobs         int      `yaml:"make_jobs"`
}

// DefaultOverrides is used when no override file matches a version.
func DefaultOverrides() *Overrides {
	return &Overrides{
		MakeJobs: 4,
	}
}

// overrideCandidates lists the configuration sources probed for a version,
// most specific first: exact version, major version, then the catch-all.
func overrideCandidates(configDir string, version string) []string {
	major, _, _ := strings.Cut(version, ".")
	return []string{
		filepath.Join(configDir, fmt.Sprintf("build-%s.yaml", version)),
		filepath.Join(configDir, fmt.Sprintf("build-%s.yaml", major)),
		filepath.Join(configDir, "build.yaml"),
	}
}

// ResolveOverrides walks the ordered candidate list and loads the first file
// that exists, logging which source won. Absent files fall through; a file
// that exists but fails to parse is an error.
func ResolveOverrides(logger *zap.Logger, configDir string, version string) (*Overrides, error) {
	for _, candidate := range overrideCandidates(configDir, version) {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read build overrides %s: %w", candidate, err)
		}

		overrides := DefaultOverrides()
		if err := yaml.Unmarshal(data, overrides); err != nil {
			return nil, fmt.Errorf("failed to parse build overrides %s: %w", candidate, err)
		}
		if overrides.MakeJobs <= 0 {
			overrides.MakeJobs = DefaultOverrides().MakeJobs
		}

		logger.Info("using build overrides",
			zap.String("source", candidate),
			zap.String("version", version))
		return overrides, nil
	}

	logger.Debug("no build overrides found, using defaults", zap.String("version", version))
	return DefaultOverrides(), nil
}
