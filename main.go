package main

import (
	"musaic/cmd"
)

func main() {
	cmd.Execute()
}
