package remote

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/mquintal/kitchenctl/internal/tools"
)

// SSHTransport implements Transport over an SSH connection plus local
// rsync for tree mirroring. A fresh connection is dialed per operation;
// nothing here is shared between hosts, so concurrent workflows each
// hold their own transport.
type SSHTransport struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	SSHConfigPath               string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration

	// Runner executes the local rsync binary. Defaults to ExecRunner.
	Runner tools.CommandRunner
}

func (t *SSHTransport) Sudo(cmd string) (string, error) {
	client, err := t.dial()
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	out, err := session.CombinedOutput(t.privileged(cmd))
	return string(out), err
}

func (t *SSHTransport) Put(localPath, remotePath string, mode os.FileMode, owner string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrTransfer, localPath, err)
	}
	defer local.Close()

	client, err := t.dial()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	defer session.Close()
	session.Stdin = local

	// owner is inserted unescaped so remote shell expansions like
	// $(id -g -n root) resolve on the target host.
	receive := fmt.Sprintf("cat > %[1]s && chmod %[2]o %[1]s && chown %[3]s %[1]s",
		shellEscape(remotePath), mode.Perm(), owner)
	if out, err := session.CombinedOutput(t.privileged(receive)); err != nil {
		return fmt.Errorf("%w: push %s to %s:%s: %v (%s)",
			ErrTransfer, localPath, t.Host, remotePath, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (t *SSHTransport) Exists(path string) (bool, error) {
	client, err := t.dial()
	if err != nil {
		return false, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return false, err
	}
	defer session.Close()

	err = session.Run(t.privileged("test -e " + shellEscape(path)))
	if err == nil {
		return true, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

func (t *SSHTransport) Mirror(spec MirrorSpec) error {
	args := []string{"-az", "-q"}
	if spec.CopyLinks {
		args = append(args, "--copy-links")
	}
	if spec.Delete {
		args = append(args, "--delete")
	}
	for _, pattern := range spec.Excludes {
		args = append(args, "--exclude="+pattern)
	}
	args = append(args, "--rsync-path=sudo rsync", "-e", t.rsyncShell())
	args = append(args, spec.Sources...)
	args = append(args, fmt.Sprintf("%s@%s:%s", t.User, t.Host, spec.Dest))

	runner := t.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	out, code, err := runner.Run("rsync", args...)
	if err != nil {
		return fmt.Errorf("%w: rsync to %s exited %d: %s",
			ErrTransfer, t.Host, code, strings.TrimSpace(string(out)))
	}
	return nil
}

// rsyncShell builds the remote-shell command rsync tunnels through,
// carrying the same identity and ssh-config settings as the dialed
// sessions.
func (t *SSHTransport) rsyncShell() string {
	parts := []string{"ssh"}
	if t.Port != "" {
		parts = append(parts, "-p", t.Port)
	}
	if t.KeyPath != "" {
		parts = append(parts, "-i", t.KeyPath)
	}
	if path := strings.TrimSpace(t.SSHConfigPath); path != "" {
		parts = append(parts, "-F", path)
	}
	if t.InsecureSkipHostKeyChecking {
		parts = append(parts, "-o", "StrictHostKeyChecking=no")
	}
	return strings.Join(parts, " ")
}

func (t *SSHTransport) privileged(cmd string) string {
	if t.User == "root" {
		return cmd
	}
	return "sudo -- sh -c " + shellEscape(cmd)
}

func (t *SSHTransport) dial() (*ssh.Client, error) {
	address, err := t.address()
	if err != nil {
		return nil, err
	}

	config, err := t.clientConfig()
	if err != nil {
		return nil, err
	}

	if t.Timeout <= 0 {
		return ssh.Dial("tcp", address, config)
	}

	conn, err := net.DialTimeout("tcp", address, t.Timeout)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (t *SSHTransport) address() (string, error) {
	host := strings.TrimSpace(t.Host)
	if host == "" {
		return "", fmt.Errorf("ssh host is required")
	}

	if t.Port != "" {
		return net.JoinHostPort(host, t.Port), nil
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}

	return net.JoinHostPort(host, "22"), nil
}

func (t *SSHTransport) clientConfig() (*ssh.ClientConfig, error) {
	if t.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	signer, err := t.signer()
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if t.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := t.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         t.Timeout,
	}, nil
}

func (t *SSHTransport) signer() (ssh.Signer, error) {
	if t.KeyPath == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}

	privateKey, err := os.ReadFile(t.KeyPath)
	if err != nil {
		return nil, err
	}

	if len(t.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, t.Passphrase)
	}

	return ssh.ParsePrivateKey(privateKey)
}

func (t *SSHTransport) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(t.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	return knownhosts.New(path)
}
