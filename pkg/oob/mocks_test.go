package oob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/davidroman0O/bmcmanager/pkg/credentials"
	"github.com/davidroman0O/bmcmanager/pkg/dcim"
	"github.com/davidroman0O/bmcmanager/pkg/log"
	"github.com/davidroman0O/bmcmanager/pkg/rpc"
)

type response struct {
	stdout string
	err    error
}

// mockExecutor answers commands from scripted responses. A command with several
// responses returns them in order and then repeats the last one.
type mockExecutor struct {
	responses map[string][]response
	calls     []string
	exec      []string
	started   []string
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{responses: make(map[string][]response)}
}

func (m *mockExecutor) addResponse(command, stdout string, err error) {
	m.responses[command] = append(m.responses[command], response{stdout, err})
}

func (m *mockExecutor) Run(_ context.Context, argv []string) (string, error) {
	command := strings.Join(argv, " ")
	m.calls = append(m.calls, command)

	if r, ok := m.next(command); ok {
		return r.stdout, r.err
	}
	// Try prefix match for commands with variable parts
	for cmd := range m.responses {
		if strings.HasPrefix(command, cmd) {
			r, _ := m.next(cmd)
			return r.stdout, r.err
		}
	}
	return "", fmt.Errorf("no mock response for command: %s", command)
}

func (m *mockExecutor) next(command string) (response, bool) {
	rs, ok := m.responses[command]
	if !ok || len(rs) == 0 {
		return response{}, false
	}
	r := rs[0]
	if len(rs) > 1 {
		m.responses[command] = rs[1:]
	}
	return r, true
}

func (m *mockExecutor) Exec(_ context.Context, argv []string) error {
	m.exec = append(m.exec, strings.Join(argv, " "))
	return nil
}

func (m *mockExecutor) Start(_ context.Context, argv []string) error {
	m.started = append(m.started, strings.Join(argv, " "))
	return nil
}

// mockShell answers management shell commands by exact match.
type mockShell struct {
	responses map[string]response
	calls     []string
}

func newMockShell() *mockShell {
	return &mockShell{responses: make(map[string]response)}
}

func (m *mockShell) addResponse(command, stdout string, err error) {
	m.responses[command] = response{stdout, err}
}

func (m *mockShell) Run(_ context.Context, command string) (string, error) {
	m.calls = append(m.calls, command)
	r, ok := m.responses[command]
	if !ok {
		return "", fmt.Errorf("no mock response for command: %s", command)
	}
	return r.stdout, r.err
}

func (m *mockShell) Shell(_ context.Context, _ io.Reader, stdout, _ io.Writer) error {
	m.calls = append(m.calls, "<interactive>")
	_, err := io.WriteString(stdout, "-> ")
	return err
}

type rpcCall struct {
	name   string
	params map[string]any
}

// mockRPC answers session RPC calls by name.
type mockRPC struct {
	responses map[string]rpc.Response
	errs      map[string]error
	validate  []bool
	calls     []rpcCall
}

func newMockRPC() *mockRPC {
	return &mockRPC{responses: make(map[string]rpc.Response), errs: make(map[string]error)}
}

func (m *mockRPC) add(name string, records ...rpc.Record) {
	m.responses[name] = rpc.Response{Records: records}
}

func (m *mockRPC) Call(_ context.Context, name string, params map[string]any) (rpc.Response, error) {
	m.calls = append(m.calls, rpcCall{name, params})
	if err := m.errs[name]; err != nil {
		return rpc.Response{}, err
	}
	return m.responses[name], nil
}

func (m *mockRPC) Upload(context.Context, string, string, string, io.Reader) (int, error) {
	return 200, nil
}

func (m *mockRPC) Validate(context.Context) (bool, error) {
	if len(m.validate) == 0 {
		return false, nil
	}
	ok := m.validate[0]
	if len(m.validate) > 1 {
		m.validate = m.validate[1:]
	}
	return ok, nil
}

func (m *mockRPC) names() []string {
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.name
	}
	return out
}

// fakeSource records inventory writes.
type fakeSource struct {
	dcim.Direct
	secrets bool
	fields  map[string]any
	secret  []string
}

func (f *fakeSource) SupportsSecrets() bool { return f.secrets }

func (f *fakeSource) SetSecret(_ context.Context, role string, _ *dcim.TargetRecord, name, plaintext string) error {
	f.secret = []string{role, name, plaintext}
	return nil
}

func (f *fakeSource) SetCustomFields(_ context.Context, _ *dcim.TargetRecord, fields map[string]any) (bool, error) {
	f.fields = fields
	return true, nil
}

func (f *fakeSource) URL(t *dcim.TargetRecord) (string, error) {
	return "https://netbox.example.com/dcim/devices/" + fmt.Sprint(t.ID) + "/", nil
}

type fixture struct {
	exec   *mockExecutor
	shell  *mockShell
	rpc    *mockRPC
	source *fakeSource
	clock  *clocktesting.FakeClock
	deps   Deps
}

func newFixture() *fixture {
	f := &fixture{
		exec:   newMockExecutor(),
		shell:  newMockShell(),
		rpc:    newMockRPC(),
		source: &fakeSource{secrets: true},
		clock:  clocktesting.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.deps = Deps{
		Target: &dcim.TargetRecord{
			ID:           42,
			Name:         "node-a1",
			Identifier:   "node-a1.example.com",
			Address:      "https://10.0.0.5",
			Vendor:       "Lenovo",
			AssetTag:     "srv42.example.com",
			CustomFields: map[string]any{},
			Info:         map[string]string{"name": "node-a1", "serial": "J3012345"},
		},
		Credentials: &credentials.Credentials{
			Host:      "10.0.0.5",
			Username:  "admin",
			Password:  "s3cret",
			NFSShare:  "nfs.example.com:/tsr",
			HTTPShare: "http://repo.example.com/dell/",
		},
		Source:   f.source,
		Executor: f.exec,
		Clock:    f.clock,
		RPC:      f.rpc,
		Shell:    f.shell,
		Logger:   log.NewNopLogger(),
	}
	return f
}

const ipmiPrefix = "ipmitool -I lanplus -H 10.0.0.5 -U admin -P s3cret "
