package main

import (
	"os"

	"github.com/davidroman0O/bmcmanager/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
