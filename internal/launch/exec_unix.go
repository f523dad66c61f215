// SPDX-License-Identifier: MPL-2.0

//go:build unix

package launch

import "golang.org/x/sys/unix"

// replaceProcess execs path in place of the current process.
func replaceProcess(path string, argv, environ []string) error {
	return unix.Exec(path, argv, environ)
}
