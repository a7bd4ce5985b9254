// Command toolchest runs the tool registry and workflow engine.
package main

import "github.com/toolchest-labs/toolchest/cmd/toolchest/cmd"

func main() {
	cmd.Execute()
}
