package main

import "github.com/gradflow/gradflow/cmd"

func main() {
	cmd.Execute()
}
