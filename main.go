package main

import (
	"github.com/ibeckermayer/renew4me/internal/cli"
)

func main() {
	cli.Execute()
}
