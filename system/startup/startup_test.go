package startup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderUnit(t *testing.T) {
	unit := RenderUnit(Service{
		User:    "pi",
		WorkDir: "/home/pi/sprinkler",
		Binary:  "/usr/local/bin/sprinkler",
		Args:    []string{"-data-dir", "/var/lib/sprinkler", "-host", "0.0.0.0"},
	})

	assert.Contains(t, unit, "User=pi\n")
	assert.Contains(t, unit, "WorkingDirectory=/home/pi/sprinkler\n")
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/sprinkler -data-dir /var/lib/sprinkler -host 0.0.0.0\n")
	assert.Contains(t, unit, "WantedBy=multi-user.target")
}

func TestInstallService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sprinkler.service")
	require.NoError(t, InstallService(Service{UnitPath: path, User: "pi", WorkDir: "/tmp", Binary: "/usr/local/bin/sprinkler"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ExecStart=/usr/local/bin/sprinkler\n")
}

func TestInstallService_RequiresBinary(t *testing.T) {
	assert.Error(t, InstallService(Service{UnitPath: filepath.Join(t.TempDir(), "x.service")}))
}
