package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes held open by
// descendants of a killed command.
const waitDelay = 5 * time.Second

// Compile-time interface satisfaction check.
var _ Driver = (*HelmDriver)(nil)

// HelmDriver deploys stores with `helm upgrade --install` into a namespace
// named after the store, and tears them down with `helm uninstall` followed
// by `kubectl delete namespace`.
type HelmDriver struct {
	helm    string
	kubectl string
	logger  *slog.Logger
}

// NewHelmDriver returns a driver invoking the given helm and kubectl binaries.
func NewHelmDriver(helmBin, kubectlBin string, logger *slog.Logger) *HelmDriver {
	if helmBin == "" {
		helmBin = "helm"
	}
	if kubectlBin == "" {
		kubectlBin = "kubectl"
	}
	return &HelmDriver{helm: helmBin, kubectl: kubectlBin, logger: logger}
}

// Apply runs helm upgrade --install and waits for the release to become ready.
func (h *HelmDriver) Apply(ctx context.Context, rel Release) (Result, error) {
	args := []string{
		"upgrade", "--install", rel.Name, rel.Chart,
		"--namespace", rel.Namespace,
		"--create-namespace",
	}
	if rel.ValuesFile != "" {
		args = append(args, "-f", rel.ValuesFile)
	}
	for _, p := range rel.Params {
		args = append(args, "--set", p.Key+"="+p.Value)
	}
	args = append(args, "--wait", "--timeout", rel.Timeout.String())

	ctx, cancel := withTimeout(ctx, rel.Timeout)
	defer cancel()

	return h.run(ctx, opApply, rel.LogWriter, h.helm, args...)
}

// Teardown uninstalls the release and deletes the namespace, both bounded by
// a single timeout.
func (h *HelmDriver) Teardown(ctx context.Context, storeID string, timeout time.Duration) (Result, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	uninstall, err := h.run(ctx, opUninstall, nil, h.helm, "uninstall", storeID, "--namespace", storeID)
	if err != nil && !releaseNotFound(err) {
		return uninstall, err
	}
	if err != nil {
		h.logger.Info("release already absent", "store_id", storeID)
	}

	ns, err := h.run(ctx, opDeleteNamespace, nil, h.kubectl,
		"delete", "namespace", storeID, "--ignore-not-found", "--wait=true",
	)
	ns.Output = uninstall.Output + ns.Output
	ns.DurationMS += uninstall.DurationMS
	return ns, err
}

func releaseNotFound(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Output), "not found")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// run executes one command, streaming combined stdout and stderr to
// logWriter line by line.
func (h *HelmDriver) run(ctx context.Context, op string, logWriter func(string), bin string, args ...string) (Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay

	out := &lineWriter{emit: logWriter}
	cmd.Stdout = out
	cmd.Stderr = out

	h.logger.Debug("running deployment command", "command", bin, "args", args)
	err := cmd.Run()
	out.flush()

	res := Result{
		Output:     out.String(),
		DurationMS: int(time.Since(start).Milliseconds()),
	}
	commandDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err == nil {
		commandsTotal.WithLabelValues(op, outcomeSuccess).Inc()
		return res, nil
	}

	name := bin + " " + args[0]
	if ctx.Err() == context.DeadlineExceeded {
		commandsTotal.WithLabelValues(op, outcomeTimeout).Inc()
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", name, ErrTimeout)
	}

	commandsTotal.WithLabelValues(op, outcomeFailure).Inc()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &CommandError{Command: name, ExitCode: res.ExitCode, Output: res.Output}
	}
	res.ExitCode = -1
	return res, fmt.Errorf("run %s: %w", name, err)
}

// lineWriter accumulates command output and emits each complete line.
type lineWriter struct {
	mu      sync.Mutex
	buf     strings.Builder
	partial []byte
	emit    func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	if w.emit == nil {
		return len(p), nil
	}

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimRight(string(w.partial[:i]), "\r"))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// flush emits a trailing line that had no newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.emit != nil && len(w.partial) > 0 {
		w.emit(string(w.partial))
		w.partial = nil
	}
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
