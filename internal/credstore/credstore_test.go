package credstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadCredentials_ParsesUsernamePassword(t *testing.T) {
	path := writeTemp(t, "alice:hunter2\nbob:s3cret\n")
	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, Credential{Username: "alice", Password: "hunter2"}, creds[0])
	assert.Equal(t, Credential{Username: "bob", Password: "s3cret"}, creds[1])
}

func TestLoadCredentials_SkipsBlankLinesAndComments(t *testing.T) {
	path := writeTemp(t, "# fleet accounts\n\nalice:hunter2\n  \n# another comment\nbob:s3cret\n")
	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	require.Len(t, creds, 2)
}

func TestLoadCredentials_PasswordMayContainColon(t *testing.T) {
	path := writeTemp(t, "alice:pass:word:with:colons\n")
	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "alice", creds[0].Username)
	assert.Equal(t, "pass:word:with:colons", creds[0].Password)
}

func TestLoadCredentials_SkipsMalformedLines(t *testing.T) {
	path := writeTemp(t, "no-colon-here\nalice:hunter2\n")
	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "alice", creds[0].Username)
}

func TestLoadCredentials_MissingFileErrors(t *testing.T) {
	_, err := LoadCredentials(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestLoadBlacklist_MissingFileIsEmptyNotError(t *testing.T) {
	bl, err := LoadBlacklist(filepath.Join(t.TempDir(), "missing.txt"))
	require.NoError(t, err)
	assert.Empty(t, bl)
}

func TestLoadBlacklist_ParsesUsernames(t *testing.T) {
	path := writeTemp(t, "alice\n# banned\nbob\n\n")
	bl, err := LoadBlacklist(path)
	require.NoError(t, err)
	_, hasAlice := bl["alice"]
	_, hasBob := bl["bob"]
	assert.True(t, hasAlice)
	assert.True(t, hasBob)
	assert.Len(t, bl, 2)
}

func TestPartition_SplitsIntoShardsOfMaxSize(t *testing.T) {
	creds := make([]Credential, 5)
	shards := Partition(creds, 2)
	require.Len(t, shards, 3)
	assert.Len(t, shards[0], 2)
	assert.Len(t, shards[1], 2)
	assert.Len(t, shards[2], 1)
}

func TestPartition_ZeroPerShardFallsBackToOne(t *testing.T) {
	creds := make([]Credential, 2)
	shards := Partition(creds, 0)
	require.Len(t, shards, 2)
	assert.Len(t, shards[0], 1)
}
