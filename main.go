package main

import "github.com/nextlevelbuilder/nanobot-gateway/cmd"

func main() {
	cmd.Execute()
}
