package main

import "github.com/jcdickinson/docindex/cmd"

func main() {
	cmd.Execute()
}
