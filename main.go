// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/funcbox/funcbox/cmd/funcbox"

func main() {
	cmd.Execute()
}
