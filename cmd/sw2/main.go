package main

import (
	"github.com/spaceworks/sw2/pkg/cli/sh"
	"github.com/spaceworks/sw2/pkg/station"
)

//go-build: CGO_ENABLED=0

func init() {
	station.SetupFlags()
}

func main() {
	sh.Main()
}
