package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeOverride(t *testing.T, dir string, name string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestResolveOverridesMostSpecificWins(t *testing.T) {
	dir := t.TempDir()
	writeOverride(t, dir, "build-16.3.yaml", "configure_options: [--with-openssl]\nmake_jobs: 8\n")
	writeOverride(t, dir, "build-16.yaml", "configure_options: [--with-zlib]\n")
	writeOverride(t, dir, "build.yaml", "make_jobs: 2\n")

	overrides, err := ResolveOverrides(zap.NewNop(), dir, "16.3")
	require.NoError(t, err)
	require.Equal(t, []string{"--with-openssl"}, overrides.ConfigureOptions)
	require.Equal(t, 8, overrides.MakeJobs)
}

func TestResolveOverridesFallsThroughToMajor(t *testing.T) {
	dir := t.TempDir()
	writeOverride(t, dir, "build-16.yaml", "configure_options: [--with-zlib]\n")
	writeOverride(t, dir, "build.yaml", "configure_options: [--without-readline]\n")

	overrides, err := ResolveOverrides(zap.NewNop(), dir, "16.3")
	require.NoError(t, err)
	require.Equal(t, []string{"--with-zlib"}, overrides.ConfigureOptions)
}

func TestResolveOverridesCatchAll(t *testing.T) {
	dir := t.TempDir()
	writeOverride(t, dir, "build.yaml", "make_jobs: 1\n")

	overrides, err := ResolveOverrides(zap.NewNop(), dir, "15.7")
	require.NoError(t, err)
	require.Equal(t, 1, overrides.MakeJobs)
}

func TestResolveOverridesDefaults(t *testing.T) {
	overrides, err := ResolveOverrides(zap.NewNop(), t.TempDir(), "16.3")
	require.NoError(t, err)
	require.Equal(t, DefaultOverrides(), overrides)
}

func TestResolveOverridesParseError(t *testing.T) {
	dir := t.TempDir()
	writeOverride(t, dir, "build.yaml", "configure_options: [unclosed\n")

	_, err := ResolveOverrides(zap.NewNop(), dir, "16.3")
	require.Error(t, err)
}

func TestResolveOverridesZeroJobsUsesDefault(t *testing.T) {
	dir := t.TempDir()
	writeOverride(t, dir, "build.yaml", "configure_options: [--with-zlib]\n")

	overrides, err := ResolveOverrides(zap.NewNop(), dir, "16.3")
	require.NoError(t, err)
	require.Equal(t, DefaultOverrides().MakeJobs, overrides.MakeJobs)
}
