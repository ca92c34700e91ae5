package main

import "github.com/cmux/cmuxd/cmd"

func main() {
	cmd.Execute()
}
