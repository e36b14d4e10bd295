// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package procexec

import (
	"os/exec"
	"time"
)

// setProcessGroup has no process group support here; cancellation kills the
// direct child only.
func setProcessGroup(cmd *exec.Cmd, _ time.Duration) {
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
