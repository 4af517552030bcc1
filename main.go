package main

import "github.com/bidhouse/apiserver/cmd"

func main() {
	cmd.Execute()
}
