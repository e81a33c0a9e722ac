package replconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replication.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFromFileParsesRemotes(t *testing.T) {
	path := writeConfig(t, `
autoReload = true

[remote.foo1]
url = ["ssh://remote1/${name}.git"]
replicationDelay = 5
replicationRetry = 2
threads = 3
`)

	snap, err := FromFile(path)
	require.NoError(t, err)
	require.True(t, snap.AutoReload)
	require.Len(t, snap.Remotes, 1)

	r := snap.Remotes[0]
	require.Equal(t, "foo1", r.Name)
	require.Equal(t, []string{"ssh://remote1/myproject.git"}, r.ExpandURLs("myproject"))
	require.Equal(t, 2, r.ReplicationRetry)
	require.Equal(t, 3, r.Threads)
}

func TestFromFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[remote.foo1]
url = ["ssh://remote1/${name}.git"]
`)

	snap, err := FromFile(path)
	require.NoError(t, err)
	r := snap.Remotes[0]
	require.Equal(t, 3, r.ReplicationRetry)
	require.Equal(t, 4, r.Threads)
}

func TestFromFileRejectsRemoteWithoutURL(t *testing.T) {
	path := writeConfig(t, `
[remote.foo1]
threads = 1
`)

	_, err := FromFile(path)
	require.Error(t, err)
}

// Fingerprint is stable across byte-identical re-reads and changes when
// the file content changes, per SPEC_FULL.md §4.F.
func TestFingerprintStableAcrossRereads(t *testing.T) {
	path := writeConfig(t, `
[remote.foo1]
url = ["ssh://remote1/${name}.git"]
`)

	v1, err := fingerprintFile(path)
	require.NoError(t, err)
	v2, err := fingerprintFile(path)
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	require.NoError(t, os.WriteFile(path, []byte(`
[remote.foo2]
url = ["ssh://remote2/${name}.git"]
`), 0o644))

	v3, err := fingerprintFile(path)
	require.NoError(t, err)
	require.NotEqual(t, v1, v3)
}

func TestMatchesProject(t *testing.T) {
	all := RemoteConfig{}
	require.True(t, all.MatchesProject("anything"))

	scoped := RemoteConfig{Projects: []string{"^team-a/"}}
	require.True(t, scoped.MatchesProject("team-a/repo"))
	require.False(t, scoped.MatchesProject("team-b/repo"))
}

func TestMatchesFilter(t *testing.T) {
	noAdmin := RemoteConfig{}
	require.True(t, noAdmin.MatchesFilter(FilterAll))
	require.False(t, noAdmin.MatchesFilter(FilterProjectCreation))

	withAdmin := RemoteConfig{AdminURLs: []string{"file:///tmp/repos"}}
	require.True(t, withAdmin.MatchesFilter(FilterProjectCreation))
	require.True(t, withAdmin.MatchesFilter(FilterProjectDeletion))
}
