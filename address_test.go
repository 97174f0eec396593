package singleton

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAddress(t *testing.T) {
	addr, err := ResolveAddress("/run/app", "svc")
	require.NoError(t, err)
	assert.Equal(t, Address{
		Socket:   "/run/app/svc.sock",
		PIDFile:  "/run/app/svc.pid",
		LockFile: "/run/app/svc.lock",
	}, addr)

	again, err := ResolveAddress("/run/app", "svc")
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	other, err := ResolveAddress("/run/app", "other")
	require.NoError(t, err)
	assert.NotEqual(t, addr.Socket, other.Socket)
}

func TestResolveAddressDefaultDir(t *testing.T) {
	addr, err := ResolveAddress("", "svc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.TempDir(), "svc.sock"), addr.Socket)
}

func TestResolveAddressEmptyName(t *testing.T) {
	_, err := ResolveAddress("/run/app", "")
	assert.Equal(t, ErrInvalidName, errors.Cause(err))
}
