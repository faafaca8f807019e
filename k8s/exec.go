package k8s

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"
)

// PodExec addresses one container for remote command execution.
type PodExec struct {
	Namespace string
	Pod       string
	Container string
}

// Streams are attached to the remote process when non-nil.
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (p PodExec) String() string {
	return p.Namespace + "/" + p.Pod + "/" + p.Container
}

func (p PodExec) options(command []string, s Streams) *corev1.PodExecOptions {
	return &corev1.PodExecOptions{
		Container: p.Container,
		Command:   command,
		Stdin:     s.Stdin != nil,
		Stdout:    s.Stdout != nil,
		Stderr:    s.Stderr != nil,
	}
}

// Run executes command in the container and waits for it to exit. A
// non-zero exit status is reported as an error carrying the status.
func (p PodExec) Run(ctx context.Context, command []string, s Streams) error {
	c := GetClients()
	if c == nil {
		return fmt.Errorf("kubernetes clients not initialized, cannot exec in %s", p)
	}

	req := c.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(p.Namespace).
		Name(p.Pod).
		SubResource("exec").
		VersionedParams(p.options(command, s), scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.RestConfig, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("exec in %s: %w", p, err)
	}

	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  s.Stdin,
		Stdout: s.Stdout,
		Stderr: s.Stderr,
	})
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s in %s exited with status %d: %w", command[0], p, exitErr.ExitStatus(), err)
	}
	return err
}

// ShellQuote wraps s in single quotes for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
