//go:build !unix

package transport

import "os/exec"

// applyUID is a no-op on non-Unix platforms.
func applyUID(cmd *exec.Cmd, uid *uint32) error {
	return nil
}
