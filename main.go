package main

import "github.com/nextlevelbuilder/tgbridge/cmd"

func main() {
	cmd.Execute()
}
