package remote

import (
	"errors"
	"os"
	"strings"
)

// ErrTransfer marks any failure of the transfer substrate. The
// convergence workflow treats it as fatal for the host but still runs
// cleanup.
var ErrTransfer = errors.New("remote: transfer failed")

// Transport is the four-operation substrate the convergence workflow
// depends on: privileged execution, single-file push, tree mirroring
// and path existence tests. The SSH implementation lives in this
// package; tests substitute fakes.
type Transport interface {
	// Sudo runs a privileged command on the remote host and returns its
	// combined output. A non-nil error means the command did not exit
	// zero; the output is still meaningful and is returned regardless.
	Sudo(cmd string) (string, error)

	// Put pushes a single local file to the remote path with the given
	// mode and owner.
	Put(localPath, remotePath string, mode os.FileMode, owner string) error

	// Mirror transfers local directory trees to a remote working
	// directory, deleting remote-only files and honoring exclusions.
	Mirror(spec MirrorSpec) error

	// Exists reports whether the remote path exists.
	Exists(path string) (bool, error)
}

// MirrorSpec describes one directory-tree mirror operation.
type MirrorSpec struct {
	// Sources are paths relative to the local kitchen root.
	Sources []string
	// Dest is the remote working directory receiving the tree.
	Dest string
	// Excludes are patterns never transferred (and never deleted remotely).
	Excludes []string
	// Delete removes remote files absent locally.
	Delete bool
	// CopyLinks transfers symlink targets instead of the links.
	CopyLinks bool
}

// Command joins a command and its arguments into a single shell-safe
// string for Transport.Sudo.
func Command(cmd string, args ...string) string {
	return joinCommand(cmd, args)
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
