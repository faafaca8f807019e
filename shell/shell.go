// Package shell drives MySQL Shell (mysqlsh) for the administrative
// operations of a cluster and for logical dumps.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/k8s"
)

// Result holds the captured output of one mysqlsh invocation.
type Result struct {
	Stdout string
	Stderr string
}

// Runner executes a command line with extra environment and optional stdin.
type Runner interface {
	Run(ctx context.Context, argv []string, env map[string]string, stdin io.Reader) (*Result, error)
}

// LocalRunner runs commands as child processes of the operator.
type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, argv []string, env map[string]string, stdin io.Reader) (*Result, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	for _, k := range sortedKeys(env) {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return &Result{Stdout: stdout.String(), Stderr: stderr.String()}, err
}

// PodRunner runs commands inside a container through the exec API.
// Environment values are exported by a wrapping shell so they never
// appear in the container's process arguments.
type PodRunner struct {
	Namespace string
	Pod       string
	Container string
}

func (r PodRunner) Run(ctx context.Context, argv []string, env map[string]string, stdin io.Reader) (*Result, error) {
	var stdout, stderr bytes.Buffer
	target := k8s.PodExec{Namespace: r.Namespace, Pod: r.Pod, Container: r.Container}
	err := target.Run(ctx, []string{"sh", "-c", wrapScript(argv, env)},
		k8s.Streams{Stdin: stdin, Stdout: &stdout, Stderr: &stderr})
	return &Result{Stdout: stdout.String(), Stderr: stderr.String()}, err
}

// wrapScript renders argv as a shell command preceded by env exports.
func wrapScript(argv []string, env map[string]string) string {
	var b strings.Builder
	for _, k := range sortedKeys(env) {
		fmt.Fprintf(&b, "export %s=%s\n", k, k8s.ShellQuote(env[k]))
	}
	b.WriteString("exec")
	for _, a := range argv {
		b.WriteString(" ")
		b.WriteString(k8s.ShellQuote(a))
	}
	return b.String()
}

// Client wraps the mysqlsh binary.
type Client struct {
	// Binary is the path to mysqlsh (default: "mysqlsh").
	Binary string
	// URI is the session target, user@host:port.
	URI string
	// Password for URI, fed through stdin.
	Password string
	// Env holds additional environment variables read by scripts.
	Env map[string]string
	Runner Runner
}

// NewClient returns a client connecting to uri with password, executing
// through runner.
func NewClient(runner Runner, uri, password string) *Client {
	return &Client{URI: uri, Password: password, Runner: runner}
}

func (c *Client) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return "mysqlsh"
}

// Args returns the command line that executes script.
func (c *Client) Args(script string) []string {
	args := []string{c.binary(), "--js", "--no-wizard", "--uri", c.URI}
	if c.Password != "" {
		args = append(args, "--passwords-from-stdin")
	}
	return append(args, "-e", script)
}

// Run executes a JavaScript snippet in a session to URI and returns stdout.
func (c *Client) Run(ctx context.Context, op, script string) (string, error) {
	var stdin io.Reader
	if c.Password != "" {
		stdin = strings.NewReader(c.Password + "\n")
	}
	res, err := c.Runner.Run(ctx, c.Args(script), c.Env, stdin)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = strings.TrimSpace(res.Stderr)
		}
		return "", fmt.Errorf("mysqlsh %s failed: %w\nstderr: %s", op, err, stderr)
	}
	return res.Stdout, nil
}

// URI formats a mysqlsh connection URI.
func URI(user, host string, port int) string {
	return url.PathEscape(user) + "@" + net.JoinHostPort(host, strconv.Itoa(port))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
