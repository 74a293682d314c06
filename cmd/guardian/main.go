package main

import "github.com/guardian-hq/guardian/cmd/guardian/cmd"

func main() {
	cmd.Execute()
}
