// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/envscout/envscout/cmd/envscout"

func main() {
	cmd.Execute()
}
