package main

import "remote-cache/cmd"

func main() {
	cmd.Execute()
}
