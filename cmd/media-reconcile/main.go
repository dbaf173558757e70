package main

import (
	"go-media-reconcile/cmd/media-reconcile/cmd"
)

func main() {
	cmd.Execute()
}
