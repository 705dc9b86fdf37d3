package main

import "github.com/basit/fileshare-workspaces/cmd"

func main() {
	cmd.Execute()
}
