package main

import (
	"github.com/agentpkg/tsx/pkg/cmd"
)

func main() {
	cmd.Execute()
}
