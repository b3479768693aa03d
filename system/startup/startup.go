package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultUnitPath = "/etc/systemd/system/sprinkler-controller.service"

type Service struct {
	UnitPath string
	User     string
	WorkDir  string
	Binary   string
	Args     []string
}

// RenderUnit builds the systemd unit that runs the daemon at boot.
func RenderUnit(s Service) string {
	execStart := s.Binary
	if len(s.Args) > 0 {
		execStart += " " + strings.Join(s.Args, " ")
	}

	return fmt.Sprintf(`[Unit]
Description=Sprinkler controller
Wants=network-online.target
After=network-online.target

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, s.User, s.WorkDir, execStart)
}

func InstallService(s Service) error {
	if s.UnitPath == "" {
		s.UnitPath = DefaultUnitPath
	}
	if s.Binary == "" {
		return fmt.Errorf("binary path required")
	}
	if !filepath.IsAbs(s.Binary) {
		abs, err := filepath.Abs(s.Binary)
		if err != nil {
			return err
		}
		s.Binary = abs
	}
	return os.WriteFile(s.UnitPath, []byte(RenderUnit(s)), 0644)
}
