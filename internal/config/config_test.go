package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: Load should return defaults when no configuration exists.
func Test_Load_Defaults_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "sfs", cfg.FSName)
	require.Equal(t, DefaultRingBufferSize, cfg.RingBufferSize)
	require.Equal(t, uint32(DefaultRootMode), cfg.RootMode)
	require.Empty(t, cfg.Backing)
	require.Empty(t, cfg.WebAddr)
	require.False(t, cfg.Debug)
}

// Expectation: Load should read values from a given configuration file.
func Test_Load_File_Success(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")

	content := "webaddr: \":8000\"\nring-buffer-size: 50\ndebug: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":8000", cfg.WebAddr)
	require.Equal(t, 50, cfg.RingBufferSize)
	require.True(t, cfg.Debug)
}

// Expectation: Load should let environment variables override file values.
func Test_Load_Environment_Success(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")

	require.NoError(t, os.WriteFile(path, []byte("webaddr: \":8000\"\n"), 0o644))
	t.Setenv("SFS_WEBADDR", ":9000")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.WebAddr)
}

// Expectation: Environment variables should apply without any
// configuration file present, including for keys that carry no default.
func Test_Load_EnvironmentOnly_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	backing := t.TempDir()
	t.Setenv("SFS_BACKING", backing)
	t.Setenv("SFS_WEBADDR", ":9000")
	t.Setenv("SFS_DEBUG", "true")
	t.Setenv("SFS_ALLOW_OTHER", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, backing, cfg.Backing)
	require.Equal(t, ":9000", cfg.WebAddr)
	require.True(t, cfg.Debug)
	require.True(t, cfg.AllowOther)
}

// Expectation: Load should fail on an unreadable configuration file.
func Test_Load_BadFile_Error(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")

	require.NoError(t, os.WriteFile(path, []byte(":: not yaml ::"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

// Expectation: Validate should reject a non-positive ring-buffer size.
func Test_Config_Validate_RingBufferSize_Error(t *testing.T) {
	t.Parallel()

	cfg := &Config{RingBufferSize: 0, RootMode: 0o755}

	err := cfg.Validate()
	require.ErrorIs(t, err, errInvalidConfig)
}

// Expectation: Validate should reject a root mode with non-permission bits.
func Test_Config_Validate_RootMode_Error(t *testing.T) {
	t.Parallel()

	cfg := &Config{RingBufferSize: 10, RootMode: 0o7777}

	err := cfg.Validate()
	require.ErrorIs(t, err, errInvalidConfig)
}

// Expectation: Validate should reject a missing backing directory.
func Test_Config_Validate_BackingMissing_Error(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		RingBufferSize: 10,
		RootMode:       0o755,
		Backing:        "/nonexistent/sfs-backing",
	}

	err := cfg.Validate()
	require.ErrorIs(t, err, errInvalidConfig)
}

// Expectation: Validate should reject a backing path that is a regular file.
func Test_Config_Validate_BackingNotDir_Error(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	cfg := &Config{RingBufferSize: 10, RootMode: 0o755, Backing: path}

	err := cfg.Validate()
	require.ErrorIs(t, err, errInvalidConfig)
}

// Expectation: Validate should accept a valid backing directory.
func Test_Config_Validate_Backing_Success(t *testing.T) {
	t.Parallel()

	cfg := &Config{RingBufferSize: 10, RootMode: 0o755, Backing: t.TempDir()}

	require.NoError(t, cfg.Validate())
}
