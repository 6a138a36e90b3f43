package main

import "pi30/cmd"

func main() {
	cmd.Execute()
}
