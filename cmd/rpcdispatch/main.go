package main

import (
	"github.com/joho/godotenv"

	"norelock.dev/rpcdispatch/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()
	cli.Execute(version)
}
