package sqlitebans

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ban("10.0.0.1", "griefing"))
	require.NoError(t, s.Ban("::ffff:10.0.0.2", "spam"))
	assert.ErrorIs(t, s.Ban("not an ip", "x"), ErrInvalidAddress)

	assert.True(t, s.IsBanned(net.IPv4(10, 0, 0, 1)))
	assert.True(t, s.IsBanned(net.ParseIP("10.0.0.2")), "mapped addresses are stored normalized")
	assert.False(t, s.IsBanned(net.ParseIP("10.0.0.3")))

	reason, err := s.Reason("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "griefing", reason)
	require.NoError(t, s.Ban("10.0.0.1", "cheating"))
	reason, err = s.Reason("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "cheating", reason)

	bans, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"10.0.0.1": "cheating", "10.0.0.2": "spam"}, bans)

	require.NoError(t, s.Unban("10.0.0.1"))
	assert.False(t, s.IsBanned(net.ParseIP("10.0.0.1")))
	reason, err = s.Reason("10.0.0.1")
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.ErrorIs(t, s.Unban(""), ErrInvalidAddress)
}

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bans.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Ban("192.168.1.1", "test"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, s.IsBanned(net.ParseIP("192.168.1.1")))
}

func TestStoreClosedCountsAsBanned(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.True(t, s.IsBanned(net.ParseIP("10.0.0.9")))
}
