// SPDX-License-Identifier: MPL-2.0

package main

import "github.com/provkit/provkit/cmd/provkit"

func main() {
	cmd.Execute()
}
