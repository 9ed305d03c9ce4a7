package main

import "github.com/bryanchriswhite/StreamSnap/cmd/streamsnap/commands"

func main() {
	commands.Execute()
}
