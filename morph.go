package main

import (
	"github.com/dyet92k/morph/cmd"
	"github.com/dyet92k/morph/pkg/env"
	"github.com/dyet92k/morph/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("morph failure", "error", err)
	}
}
