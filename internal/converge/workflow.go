package converge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mquintal/kitchenctl/internal/bag"
	"github.com/mquintal/kitchenctl/internal/observability"
	"github.com/mquintal/kitchenctl/internal/remote"
)

var (
	// ErrAgentMissing aborts the entire run: installing the agent is an
	// operational prerequisite, not a per-host condition.
	ErrAgentMissing = errors.New("converge: agent not installed on host")
	// ErrAgentFailed is reported per host; other hosts keep running.
	ErrAgentFailed = errors.New("converge: agent could not finish configuring the node")
	// ErrAddressEncoding is fatal: discovery output that exists but
	// cannot be decoded points at a broken ohai install.
	ErrAddressEncoding = errors.New("converge: cannot parse address discovery output")
)

const (
	agentBinary      = "chef-solo"
	agentConfDir     = "/etc/chef"
	remoteRecordPath = "/etc/chef/node.json"
	remoteSecretPath = "/etc/chef/encrypted_data_bag_secret"
	remoteLogFile    = "/var/log/chef/solo.log"
	logLevelDebug    = "debug"
)

// vcsExcludes are never transferred and never deleted on the remote.
var vcsExcludes = []string{"*.svn", ".bzr*", ".git*", ".hg*"}

// syncedDirs is the kitchen tree mirrored to the node work path.
var syncedDirs = []string{"cookbooks", "site-cookbooks", "data_bags", "roles", "environments"}

// Result is the terminal state of one host's workflow.
type Result struct {
	Host    string
	Outcome Outcome
	Err     error
}

// Workflow converges a single host: configure the agent, discover the
// address, persist the compiled record, sync the kitchen tree, execute
// the agent and interpret its output. All state is per-host; concurrent
// workflows share only the read-only kitchen on disk.
type Workflow struct {
	Transport remote.Transport
	Node      *bag.CompiledNode

	// Kitchen is the local repository root.
	Kitchen string
	// WorkPath is the remote directory receiving the kitchen tree.
	WorkPath string

	LogLevel       string
	WhyRun         bool
	EnableLogs     bool
	SecretPath     string
	FollowSymlinks bool
	ForceSave      bool

	Log zerolog.Logger
}

// Run drives the state machine. Cleanup of remote transient state is
// guaranteed on every exit path past the sync stage, including transfer
// and execution failures.
func (w *Workflow) Run(ctx context.Context) Result {
	host := w.Node.FQDN()
	started := time.Now()
	result := w.run(ctx, host)
	observability.RecordConvergeRun(host, result.Outcome.String(), time.Since(started))
	return result
}

func (w *Workflow) run(ctx context.Context, host string) Result {
	if w.Node.Dummy() {
		w.Log.Info().Msg("skipping dummy node")
		return Result{Host: host, Outcome: OutcomeSkipped}
	}
	if err := ctx.Err(); err != nil {
		return Result{Host: host, Outcome: OutcomeAgentFailed, Err: err}
	}

	// The agent's local configuration is not assumed durable; reapply
	// it before anything else, every run.
	if err := w.configureAgent(); err != nil {
		return Result{Host: host, Outcome: OutcomeAgentFailed, Err: err}
	}

	discovered, err := w.discoverAddress()
	if err != nil {
		return Result{Host: host, Outcome: OutcomeAgentFailed, Err: err}
	}

	tmpPath, err := w.persist(discovered)
	if err != nil {
		return Result{Host: host, Outcome: OutcomeAgentFailed, Err: err}
	}

	outcome, err := func() (Outcome, error) {
		defer w.cleanup()
		if err := ctx.Err(); err != nil {
			return OutcomeAgentFailed, err
		}
		if err := w.sync(tmpPath); err != nil {
			return OutcomeAgentFailed, err
		}
		return w.execute(ctx)
	}()
	return Result{Host: host, Outcome: outcome, Err: err}
}

// configureAgent writes the agent's base configuration so it reads the
// mirrored tree from the node work path.
func (w *Workflow) configureAgent() error {
	mkdir := remote.Command("mkdir", "-p", agentConfDir, path.Dir(remoteLogFile), w.WorkPath)
	if out, err := w.Transport.Sudo(mkdir); err != nil {
		return fmt.Errorf("prepare agent directories on %s: %w (%s)", w.Node.FQDN(), err, strings.TrimSpace(out))
	}

	local, err := os.CreateTemp("", "solo-*.rb")
	if err != nil {
		return fmt.Errorf("stage agent config: %w", err)
	}
	defer os.Remove(local.Name())
	if _, err := local.WriteString(agentConfig(w.WorkPath)); err != nil {
		local.Close()
		return fmt.Errorf("stage agent config: %w", err)
	}
	if err := local.Close(); err != nil {
		return fmt.Errorf("stage agent config: %w", err)
	}
	if err := w.Transport.Put(local.Name(), path.Join(agentConfDir, "solo.rb"), 0o644, rootOwner); err != nil {
		return err
	}
	return nil
}

// agentConfig renders solo.rb so the agent reads everything from the
// mirrored tree under workPath.
func agentConfig(workPath string) string {
	return fmt.Sprintf(`file_cache_path %[1]q
cookbook_path [%[2]q, %[3]q]
role_path %[4]q
data_bag_path %[5]q
environment_path %[6]q
`,
		workPath,
		path.Join(workPath, "cookbooks"),
		path.Join(workPath, "site-cookbooks"),
		path.Join(workPath, "roles"),
		path.Join(workPath, "data_bags"),
		path.Join(workPath, "environments"),
	)
}

// discoverAddress queries the host for its address when the record does
// not carry one. A failed query is tolerated: the address stays unset
// and the run proceeds. Output that cannot be decoded is fatal, with
// the raw text in the diagnostic.
func (w *Workflow) discoverAddress() (bool, error) {
	if w.Node.IPAddress() != "" {
		return false, nil
	}
	out, err := w.Transport.Sudo("ohai -l warn ipaddress")
	if err != nil {
		w.Log.Warn().Err(err).Msg("address discovery failed, leaving address unset")
		return false, nil
	}
	var addrs []string
	if err := json.Unmarshal([]byte(extractJSON(out)), &addrs); err != nil || len(addrs) == 0 {
		return false, fmt.Errorf("%w:\n  %s", ErrAddressEncoding, strings.TrimSpace(out))
	}
	w.Node.SetIPAddress(addrs[0])
	w.Log.Debug().Str("ipaddress", addrs[0]).Msg("discovered address")
	return true, nil
}

// persist writes the compiled record twice: a durable copy under
// nodes/<host>.json, created only when absent (or when forced, or when
// a freshly discovered address must be recorded) so operator edits
// survive, and a transient tmp_<host>.json consumed by the sync stage.
func (w *Workflow) persist(force bool) (string, error) {
	data, err := w.Node.Marshal()
	if err != nil {
		return "", err
	}

	durable := filepath.Join(w.Kitchen, "nodes", w.Node.FQDN()+".json")
	_, statErr := os.Stat(durable)
	if os.IsNotExist(statErr) || force || w.ForceSave {
		w.Log.Info().Str("path", durable).Msg("saving node configuration")
		if err := os.WriteFile(durable, data, 0o644); err != nil {
			return "", fmt.Errorf("save node configuration: %w", err)
		}
	}

	transient := filepath.Join(w.Kitchen, fmt.Sprintf("tmp_%s.json", w.Node.FQDN()))
	if err := os.WriteFile(transient, data, 0o644); err != nil {
		return "", fmt.Errorf("write transient node record: %w", err)
	}
	return transient, nil
}

// sync pushes the node record and the secret, then mirrors the kitchen
// tree to the node work path.
func (w *Workflow) sync(tmpPath string) error {
	w.Log.Info().Msg("synchronizing node, cookbooks, roles and data bags")

	if err := w.Transport.Put(tmpPath, remoteRecordPath, 0o400, rootOwner); err != nil {
		return err
	}
	if err := os.Remove(tmpPath); err != nil {
		return fmt.Errorf("remove transient node record: %w", err)
	}

	if w.SecretPath != "" {
		if err := w.Transport.Put(w.SecretPath, remoteSecretPath, 0o600, rootOwner); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Join(w.Kitchen, "environments"), 0o755); err != nil {
		return fmt.Errorf("ensure environments directory: %w", err)
	}

	sources := make([]string, 0, len(syncedDirs))
	for _, dir := range syncedDirs {
		if _, err := os.Stat(filepath.Join(w.Kitchen, dir)); err == nil {
			sources = append(sources, filepath.Join(w.Kitchen, dir))
		}
	}
	return w.Transport.Mirror(remote.MirrorSpec{
		Sources:   sources,
		Dest:      w.WorkPath,
		Excludes:  vcsExcludes,
		Delete:    true,
		CopyLinks: w.FollowSymlinks,
	})
}

// execute rotates the previous run log, invokes the agent and
// classifies its combined output. A nonzero exit alone never fails the
// run; the output text is authoritative.
func (w *Workflow) execute(ctx context.Context) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return OutcomeAgentFailed, err
	}
	w.Log.Info().Msg("cooking")

	// Rename, never delete: each run's log stays inspectable.
	rotate := fmt.Sprintf("mv %[1]s %[1]s.1", remoteLogFile)
	if _, err := w.Transport.Sudo(rotate); err != nil {
		w.Log.Debug().Err(err).Msg("no previous run log to rotate")
	}

	cmd := agentBinary
	if w.WhyRun {
		cmd += " --why-run"
	}
	cmd += fmt.Sprintf(" -l %s -j %s", w.LogLevel, remoteRecordPath)
	if w.EnableLogs {
		cmd += " | tee " + remoteLogFile
	}
	if w.LogLevel == logLevelDebug {
		w.Log.Debug().Str("cmd", cmd).Msg("executing agent")
	}

	output, err := w.Transport.Sudo(cmd)
	switch Classify(output, err != nil) {
	case OutcomeAgentMissing:
		w.Log.Error().Msg("agent is not installed on this node")
		return OutcomeAgentMissing, fmt.Errorf("%w: install %s on %s and retry", ErrAgentMissing, agentBinary, w.Node.FQDN())
	case OutcomeAgentFailed:
		w.Log.Error().Msg("agent could not finish configuring the node")
		return OutcomeAgentFailed, ErrAgentFailed
	default:
		w.Log.Info().Msg("node correctly configured")
		return OutcomeSuccess, nil
	}
}

// cleanup removes remote transient state: the pushed record, the secret
// and the node data bags generated for this run. Skipped at debug
// verbosity so a failed run can be inspected in place. Failures are
// logged, never propagated.
func (w *Workflow) cleanup() {
	if w.LogLevel == logLevelDebug {
		return
	}
	var targets []string
	bagDir := path.Join(w.WorkPath, "data_bags", "node")
	if found, err := w.Transport.Exists(bagDir); err == nil && found {
		targets = append(targets, remote.Command("rm", "-rf", bagDir))
	}
	targets = append(targets, remote.Command("rm", "-f", remoteRecordPath))
	if w.SecretPath != "" {
		targets = append(targets, remote.Command("rm", "-f", remoteSecretPath))
	}
	for _, cmd := range targets {
		if out, err := w.Transport.Sudo(cmd); err != nil {
			w.Log.Warn().Err(err).Str("output", strings.TrimSpace(out)).Msg("cleanup command failed")
		}
	}
}

const rootOwner = "root:$(id -g -n root)"

// extractJSON trims any leading log noise ohai prints before its JSON
// payload.
func extractJSON(out string) string {
	if idx := strings.IndexAny(out, "[{"); idx > 0 {
		return out[idx:]
	}
	return out
}
