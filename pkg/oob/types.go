package oob

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/davidroman0O/bmcmanager/pkg/rpc"
)

// Table is the tabular result of a read verb.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable creates an empty table with the given headers.
func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

// AddRow appends a row, formatting each value with fmt.Sprint.
func (t *Table) AddRow(values ...any) {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = fmt.Sprint(v)
	}
	t.Rows = append(t.Rows, row)
}

// recordsTable lays out RPC records using the keys of the first record as columns.
func recordsTable(records []rpc.Record) *Table {
	if len(records) == 0 {
		return NewTable()
	}
	t := NewTable(records[0].Keys()...)
	for _, rec := range records {
		row := make([]any, len(t.Columns))
		for i, col := range t.Columns {
			row[i] = rec.String(col)
		}
		t.AddRow(row...)
	}
	return t
}

// mapTable lays out a map as a single row with sorted columns.
func mapTable(m map[string]string) *Table {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := NewTable(keys...)
	row := make([]any, len(keys))
	for i, k := range keys {
		row[i] = m[k]
	}
	t.AddRow(row...)
	return t
}

// PowerState is a chassis power state as reported by ipmitool.
type PowerState string

const (
	PowerOn  PowerState = "on"
	PowerOff PowerState = "off"
)

// PowerOffOptions controls power-off.
type PowerOffOptions struct {
	// Force cuts power instead of requesting an ACPI shutdown.
	Force bool

	// Wait blocks until the chassis reports off.
	Wait bool

	// Timeout bounds Wait. Defaults to DefaultPowerWaitTimeout.
	Timeout time.Duration
}

// IdentifyOptions controls the chassis identify light.
type IdentifyOptions struct {
	// Seconds lights the LED for that long. Zero lights it until turned off.
	Seconds int

	// Off turns the LED off.
	Off bool
}

// AddressType selects the BMC address reported by the address verbs.
type AddressType string

const (
	AddressIPv4 AddressType = "ipv4"
	AddressMAC  AddressType = "mac"
)

// AddressOptions shapes the address read from the BMC LAN configuration.
type AddressOptions struct {
	Type AddressType

	// Domain is appended to a MAC address to form a host name.
	Domain string

	// Scheme, when set, turns the address into a URL.
	Scheme string
}

// PasswordOptions controls BMC password rotation.
type PasswordOptions struct {
	NewPassword string

	// SecretRole, when set, also stores the new password in the inventory under that role.
	SecretRole string
}

// ShellOptions controls ipmi-ssh.
type ShellOptions struct {
	// Command runs non-interactively. Empty opens an interactive shell.
	Command []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// FactoryResetOptions controls factory-reset. Confirmation is the caller's job.
type FactoryResetOptions struct {
	Wait    bool
	Timeout time.Duration
}

// StorageView selects the racadm storage report.
type StorageView string

const (
	StorageSummary     StorageView = "status"
	StoragePhysical    StorageView = "pdisks"
	StorageControllers StorageView = "controllers"
)
