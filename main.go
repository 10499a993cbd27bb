package main

import (
	"github.com/berlinonline/fisbroker-harvester/internal/cmd"
)

func main() {
	cmd.Execute()
}
