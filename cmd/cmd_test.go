package cmd

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/firmware"
	"github.com/davidroman0O/bmcmanager/pkg/oob"
)

func TestCommandTree(t *testing.T) {
	paths := [][]string{
		{"server", "list"}, {"server", "info"}, {"server", "status"}, {"server", "creds"}, {"server", "ssh"},
		{"power", "status"}, {"power", "on"}, {"power", "off"}, {"power", "cycle"}, {"power", "reset"},
		{"boot", "pxe"}, {"boot", "local"}, {"identify"}, {"console"}, {"ipmitool"},
		{"ipmi", "reset"}, {"ipmi", "logs"}, {"ipmi", "logs-analysed"}, {"ipmi", "clear-logs"},
		{"ipmi", "clear-firmware-upgrade-logs"}, {"ipmi", "sensors"}, {"ipmi", "ssh"}, {"ipmi", "creds"},
		{"ipmi", "set-password"}, {"ipmi", "get-address"}, {"ipmi", "refresh-address"},
		{"check", "ipmi"}, {"check", "firmware"}, {"check", "disks"}, {"check", "ram"},
		{"firmware", "get"}, {"firmware", "refresh"}, {"firmware", "upgrade"},
		{"lenovo", "rpc"}, {"lenovo", "rpc", "list"}, {"lenovo", "disks"}, {"lenovo", "ram"},
		{"lenovo", "factory-reset"}, {"lenovo", "lock-power-switch"}, {"lenovo", "unlock-power-switch"},
		{"dell", "diagnostics"}, {"dell", "autoupdate"}, {"dell", "clear-autoupdate"}, {"dell", "upgrade"},
		{"dell", "idrac-info"}, {"dell", "flush-jobs"}, {"dell", "storage-status"},
		{"open", "web"}, {"open", "dcim"}, {"secrets", "get"}, {"secrets", "set"},
		{"config", "sample"}, {"config", "validate"},
	}

	for _, path := range paths {
		found, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], found.Name(), path)
	}
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty", input: "", want: map[string]any{}},
		{name: "object", input: `{"WEBVAR_END_RECORD": 10}`, want: map[string]any{"WEBVAR_END_RECORD": float64(10)}},
		{
			name: "comments and trailing comma",
			input: `{
				// last record
				"WEBVAR_END_RECORD": 10,
			}`,
			want: map[string]any{"WEBVAR_END_RECORD": float64(10)},
		},
		{name: "array", input: `[1, 2]`, wantErr: true},
		{name: "garbage", input: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.input)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errors.ErrInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpgradeFlagsOptions(t *testing.T) {
	opts, err := upgradeFlags{
		stages:    "7-10",
		handle:    "17",
		component: "2/1/BIOS",
		timeout:   30,
		bundle:    "/srv/firmware/lenovo_bundle.bdl",
	}.options()
	require.NoError(t, err)
	assert.Equal(t, []firmware.Stage{7, 8, 9, 10}, opts.Stages)
	assert.Equal(t, "17", opts.Handle)
	assert.Equal(t, 30*time.Minute, opts.Timeout)
	assert.Equal(t, "lenovo_bundle.bdl", opts.BundleName)
	require.NotNil(t, opts.Component)
	assert.Equal(t, "BIOS", opts.Component.Identifier)
	assert.Nil(t, opts.Bundle)

	_, err = upgradeFlags{stages: "0-3"}.options()
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = upgradeFlags{component: "bios"}.options()
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestConfirmSharesOneReader(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("y\nno\nYES\n"))
	var prompts bytes.Buffer

	assert.True(t, confirm(in, &prompts, "Factory reset node-a1?"))
	assert.False(t, confirm(in, &prompts, "Factory reset node-a2?"))
	assert.True(t, confirm(in, &prompts, "Factory reset node-a3?"))
	assert.False(t, confirm(in, &prompts, "Factory reset node-a4?"), "end of input declines")
	assert.Equal(t, 4, strings.Count(prompts.String(), "[y/N]"))
}

func TestPrintUpgrade(t *testing.T) {
	tests := []struct {
		name string
		res  *firmware.Result
		want []string
	}{
		{
			name: "failed",
			res:  &firmware.Result{Outcome: firmware.OutcomeFailed, Handle: "77"},
			want: []string{"node-a1: failed", "handle: 77"},
		},
		{
			name: "completed",
			res: &firmware.Result{
				Outcome:   firmware.OutcomeCompleted,
				Component: &firmware.Component{DevType: 2, Identifier: "BIOS", Current: "2.0.0", New: "2.1.0"},
				Anomalies: []firmware.Anomaly{{Stage: firmware.StageValidateBundle, Message: "bundle validation returned status 1"}},
			},
			want: []string{"node-a1: completed", "2/0/BIOS (2.0.0 -> 2.1.0)", "returned status 1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := newFirmwareUpgradeCommand()
			cmd.SetOut(&out)
			printUpgrade(cmd, "node-a1", tt.res)
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
			assert.NotContains(t, out.String(), "aborted")
		})
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, oob.NewTable("name"))
	assert.Equal(t, "No results\n", buf.String())

	buf.Reset()
	table := oob.NewTable("name", "ram_gb")
	table.AddRow("node-a1", 256)
	printTable(&buf, table)
	assert.Contains(t, buf.String(), "NAME")
	assert.Contains(t, buf.String(), "RAM_GB")
	assert.Contains(t, buf.String(), "node-a1")
	assert.Contains(t, buf.String(), "256")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bmcmanager.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallback_oob: base\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config-file", path))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	_, err := rootCmd.ExecuteC()
	return out.String(), err
}

func TestServerListDirect(t *testing.T) {
	out, err := execute(t, "server", "list", "10.0.0.5", "--dcim", "direct", "--oob", "lenovo")
	require.NoError(t, err)
	assert.Contains(t, out, "IDENTIFIER")
	assert.Contains(t, out, "10.0.0.5")
	assert.Contains(t, out, "lenovo")
}

func TestIPMIToolNeedsArguments(t *testing.T) {
	_, err := execute(t, "ipmitool", "10.0.0.5", "--dcim", "direct")
	assert.ErrorContains(t, err, "no ipmitool arguments")
}

func TestConfigSample(t *testing.T) {
	out, err := execute(t, "config", "sample")
	require.NoError(t, err)
	assert.Contains(t, out, "default_dcim")
}
