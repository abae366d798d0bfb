package main

import "github.com/oshokin/aur-wayback-updater/cmd/aur-wayback-updater/cmd"

func main() {
	cmd.Execute()
}
