package hooks

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// HookType represents the type of hook
type HookType string

const (
	PostRegister HookType = "post-register"
	PostDefect   HookType = "post-defect"
	PostComplete HookType = "post-complete"
)

// Types returns every hook type.
func Types() []HookType {
	return []HookType{PostRegister, PostDefect, PostComplete}
}

// ParseType parses a hook name such as "post-register" or "post_register".
func ParseType(v string) (HookType, error) {
	t := HookType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), "_", "-"))
	for _, known := range Types() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown hook %q", v)
}

// Runner runs hooks for a project directory.
type Runner struct {
	// Dir holds .printtrack/hooks. Empty means the working directory.
	Dir string
	// Scripts are inline scripts from config, used when no hook file exists.
	Scripts map[HookType]string
	Stdout  io.Writer
	Stderr  io.Writer
}

// NewRunner creates a runner writing to the process stdout and stderr.
func NewRunner(dir string, scripts map[HookType]string) *Runner {
	return &Runner{Dir: dir, Scripts: scripts, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Path returns the file a hook is read from.
func (r *Runner) Path(hookType HookType) string {
	return filepath.Join(r.Dir, ".printtrack", "hooks", string(hookType)+".sh")
}

// Execute runs a hook if it exists and reports whether one ran.
// Priority: file-based hook > script from config
func (r *Runner) Execute(ctx context.Context, hookType HookType, env map[string]string) (bool, error) {
	hookPath := r.Path(hookType)
	if _, err := os.Stat(hookPath); err == nil {
		fmt.Fprintf(r.stderr(), "🪝 Running %s hook (file-based)...\n", hookType)
		return true, r.run(ctx, exec.CommandContext(ctx, "bash", hookPath), env)
	}

	if script := r.Scripts[hookType]; script != "" {
		fmt.Fprintf(r.stderr(), "🪝 Running %s script (from config)...\n", hookType)
		return true, r.run(ctx, exec.CommandContext(ctx, "bash", "-c", script), env)
	}

	return false, nil
}

func (r *Runner) run(ctx context.Context, cmd *exec.Cmd, env map[string]string) error {
	cmd.Dir = r.Dir
	cmd.Stdout = r.stdout()
	cmd.Stderr = r.stderr()

	cmd.Env = os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, env[k]))
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("hook cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("hook failed: %w", err)
	}
	return nil
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout == nil {
		return io.Discard
	}
	return r.Stdout
}

func (r *Runner) stderr() io.Writer {
	if r.Stderr == nil {
		return io.Discard
	}
	return r.Stderr
}
