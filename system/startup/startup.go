package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
)

// Paths says where the installer puts the boot script and unit files, and
// how the controller service is launched.
type Paths struct {
	BootScript     string
	BootService    string
	MainService    string
	User           string
	WorkDir        string
	ControllerExec string
}

func DefaultPaths() Paths {
	return Paths{
		BootScript:     "/usr/local/bin/sprinkler-gpio-init.sh",
		BootService:    "/etc/systemd/system/sprinkler-gpio-init.service",
		MainService:    "/etc/systemd/system/sprinkler-controller.service",
		User:           "pi",
		WorkDir:        "/home/pi/sprinkler-controller",
		ControllerExec: "/usr/local/bin/sprinkler-controller -config-file /etc/sprinkler/config.yaml",
	}
}

// BootScript renders a script that blanks the register outputs (NOE high)
// and parks the other control lines low. The register contents are
// undefined at power-on, so NOE must be raised before anything else runs.
func BootScript(sr config.ShiftRegister) string {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# Sprinkler shift register lines at boot", "")

	write := func(label string, pin int, high bool) {
		drive := "dl"
		if high {
			drive = "dh"
		}
		lines = append(lines, fmt.Sprintf("# %s", label))
		lines = append(lines, fmt.Sprintf("pinctrl set %d op pn %s", pin, drive))
		lines = append(lines, "")
	}

	write("noe (outputs disabled)", sr.NOE, true)
	write("latch", sr.Latch, false)
	write("clock", sr.Clock, false)
	write("data", sr.Data, false)

	return strings.Join(lines, "\n") + "\n"
}

func WriteStartupScript(p Paths, sr config.ShiftRegister) error {
	return os.WriteFile(p.BootScript, []byte(BootScript(sr)), 0755)
}

func InstallStartupService(p Paths) error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Blank sprinkler shift register at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, p.BootScript)

	return os.WriteFile(p.BootService, []byte(unitContents), 0644)
}

// InstallControllerService writes the controller unit. The boot script runs
// before every start, so a restart after a fault finds the register lines
// blanked the same way a reboot would leave them.
func InstallControllerService(p Paths) error {
	gpioUnitName := filepath.Base(p.BootService)

	unit := fmt.Sprintf(`[Unit]
Description=Sprinkler controller
After=%s network-online.target
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStartPre=+/bin/bash %s
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, p.User, p.WorkDir, p.BootScript, p.ControllerExec)

	return os.WriteFile(p.MainService, []byte(unit), 0644)
}

// Install writes the boot script and both units.
func Install(p Paths, sr config.ShiftRegister) error {
	if err := WriteStartupScript(p, sr); err != nil {
		return fmt.Errorf("write boot script: %w", err)
	}
	if err := InstallStartupService(p); err != nil {
		return fmt.Errorf("write boot unit: %w", err)
	}
	if err := InstallControllerService(p); err != nil {
		return fmt.Errorf("write controller unit: %w", err)
	}
	return nil
}

func RunStartupScript(p Paths) error {
	cmd := exec.Command("/bin/bash", p.BootScript)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
