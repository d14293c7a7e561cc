package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// shellMeta lists characters that require running Command through /bin/sh.
const shellMeta = "|&;<>*?`$\"'(){}[]~"

// BuildCommand constructs the *exec.Cmd for d without starting it.
//
// With an interpreter the script is passed as its first argument
// ("python3 main.py args..."). Without one, Command is executed directly
// unless it contains shell metacharacters or an explicit "sh -c", in which
// case it runs through /bin/sh.
func BuildCommand(d Descriptor) *exec.Cmd {
	cmdStr := strings.TrimSpace(d.Command)
	if d.Interpreter != "" {
		args := append([]string{cmdStr}, d.Args...)
		// #nosec G204
		return exec.Command(d.Interpreter, args...)
	}
	if script, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return getShellCommand(script)
	}
	if strings.ContainsAny(cmdStr, shellMeta) {
		script := cmdStr
		if len(d.Args) > 0 {
			script += " " + strings.Join(d.Args, " ")
		}
		return getShellCommand(script)
	}
	parts := strings.Fields(cmdStr)
	if len(parts) == 0 {
		return getTrueCommand()
	}
	args := append(parts[1:], d.Args...)
	// #nosec G204
	return exec.Command(parts[0], args...)
}

// parseExplicitShell detects "sh -c <script>" and returns the script with one
// pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, bool) {
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(cmdStr, p) {
			continue
		}
		after := cmdStr[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}

// Executable returns the program that will be exec'd for d, resolved the way
// the OS will resolve it: bare names through PATH, relative paths against
// WorkDir.
func Executable(d Descriptor) (string, error) {
	name := d.Interpreter
	if name == "" {
		cmdStr := strings.TrimSpace(d.Command)
		if _, ok := parseExplicitShell(cmdStr); ok || strings.ContainsAny(cmdStr, shellMeta) {
			name = shellPath
		} else if parts := strings.Fields(cmdStr); len(parts) > 0 {
			name = parts[0]
		}
	}
	if name == "" {
		return "", exec.ErrNotFound
	}
	if !strings.ContainsRune(name, os.PathSeparator) && !strings.ContainsRune(name, '/') {
		return exec.LookPath(name)
	}
	p := name
	if !filepath.IsAbs(p) && d.WorkDir != "" {
		p = filepath.Join(d.WorkDir, p)
	}
	fi, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", &os.PathError{Op: "exec", Path: p, Err: exec.ErrNotFound}
	}
	return p, nil
}
