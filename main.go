package main

import "github.com/kozaktomas/face-grouper/cmd"

func main() {
	cmd.Execute()
}
