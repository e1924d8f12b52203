package main

import "github.com/ekmate/portal/cmd/ekmate/cmd"

func main() {
	cmd.Execute()
}
