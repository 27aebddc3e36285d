package cmd

import (
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

// powerOnCmd represents the power on command
var powerOnCmd = textVerb("on", "Power on the chassis", oob.Driver.PowerOn)

func init() {
	powerCmd.AddCommand(powerOnCmd)
}
