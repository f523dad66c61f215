// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package launch

import (
	"errors"
	"os"
	"os/exec"
)

// replaceProcess runs path as a child and exits with its status. Process
// replacement is not available on this platform.
func replaceProcess(path string, argv, environ []string) error {
	cmd := exec.Command(path, argv[1:]...)
	cmd.Env = environ
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.ExitCode())
	}
	if err != nil {
		return err
	}
	os.Exit(0)
	return nil
}
