package main

import "github.com/pfrederiksen/sf-events/internal/cli"

func main() {
	cli.Execute()
}
