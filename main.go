package main

import "Versewell/cmd"

func main() {
	cmd.Execute()
}
