package provision

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/catletctl/pkg/engine"
	"github.com/openfroyo/catletctl/pkg/transports/ssh"
)

// fakeTransport records uploads and commands.
type fakeTransport struct {
	mu           sync.Mutex
	files        map[string]string
	commands     []string
	sudoPassword string
	failCommand  string
	healthErr    error
	disconnected bool
}

var _ ssh.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{files: map[string]string{}}
}

func (f *fakeTransport) Connect(context.Context) error { return nil }

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func (f *fakeTransport) IsConnected() bool { return !f.disconnected }

func (f *fakeTransport) HealthCheck(context.Context) error { return f.healthErr }

func (f *fakeTransport) ExecuteCommand(_ context.Context, cmd string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if f.failCommand != "" && strings.Contains(f.scriptFor(cmd), f.failCommand) {
		return "", "boom", &ssh.TransportError{Op: "execute", Err: errors.New("command exited with code 1"), ExitCode: 1}
	}
	return "ok", "", nil
}

func (f *fakeTransport) ExecuteCommandWithSudo(ctx context.Context, cmd string, password string) (string, string, error) {
	f.mu.Lock()
	f.sudoPassword = password
	f.mu.Unlock()
	return f.ExecuteCommand(ctx, "sudo "+cmd)
}

func (f *fakeTransport) Upload(_ context.Context, content io.Reader, remotePath string, _ uint32) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, content); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[remotePath] = buf.String()
	return nil
}

func (f *fakeTransport) UploadFile(context.Context, string, string, uint32) error {
	return errors.New("not supported")
}

func (f *fakeTransport) Remove(_ context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, remotePath)
	return nil
}

func (f *fakeTransport) GetConnectionInfo() ssh.ConnectionInfo {
	return ssh.ConnectionInfo{ConnectedAt: time.Now()}
}

// scriptFor returns the content of the script a "sh <path>" command runs.
func (f *fakeTransport) scriptFor(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return f.files[fields[len(fields)-1]]
}

func dialerFor(t ssh.Transport, err error) Dialer {
	return func(context.Context, *engine.ConnectionInfo) (ssh.Transport, error) {
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

func testInfo() *engine.ConnectionInfo {
	return &engine.ConnectionInfo{
		Host:     "10.0.0.5",
		Port:     22,
		Username: "catlet",
		Password: "secret",
		CatletID: "c-1",
	}
}
