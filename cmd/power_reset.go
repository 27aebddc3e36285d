package cmd

import (
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

// powerResetCmd represents the power reset command
var powerResetCmd = textVerb("reset", "Hard reset the chassis", oob.Driver.PowerReset)

func init() {
	powerCmd.AddCommand(powerResetCmd)
}
