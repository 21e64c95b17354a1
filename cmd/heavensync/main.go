package main

import (
	_ "time/tzdata"

	"github.com/example/heaven-sync/cmd"
)

func main() {
	cmd.Execute()
}
