package fsutil

import (
	"os/user"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReplaceTilde(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ReplaceTilde("~/jobs/job.hcl")
	require.NoError(t, err)
	assert.Equal(t, path.Join(usr.HomeDir, "jobs/job.hcl"), got)

	got, err = ReplaceTilde("~")
	require.NoError(t, err)
	assert.Equal(t, path.Clean(usr.HomeDir), got)

	got, err = ReplaceTilde("/tmp/job.hcl")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/job.hcl", got)

	_, err = ReplaceTilde("~no_such_user_for_sure/job.hcl")
	require.Error(t, err)
}
