package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/hostcmd"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/remote"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/taskengine"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// extract installs a zone from an image artifact: create the zone's dataset,
// unpack the artifact into it, then force-attach so zoneadm adopts the
// filesystem. Refusing to touch an existing dataset keeps a mistyped
// artifact_id from clobbering another zone's root.
func (s *set) extract(ctx context.Context, task *types.Task) error {
	var meta types.ExtractMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.ArtifactID == "" || meta.DatasetPath == "" {
		return fmt.Errorf("extract: artifact_id and dataset_path are required")
	}
	if filepath.Base(meta.ArtifactID) != meta.ArtifactID {
		return fmt.Errorf("extract: artifact id %q is not a plain file name", meta.ArtifactID)
	}
	artifact := filepath.Join(s.Provision.ArtifactDir, meta.ArtifactID)
	if _, err := os.Stat(artifact); err != nil {
		return fmt.Errorf("artifact %s not found: %w", meta.ArtifactID, err)
	}

	res, err := s.Runner.Run(ctx, s.cmdTimeout, "zfs", "list", "-H", "-o", "name", meta.DatasetPath)
	if err != nil {
		return err
	}
	if res.ExitCode == 0 {
		return fmt.Errorf("dataset %s already exists", meta.DatasetPath)
	}

	switch {
	case strings.HasSuffix(artifact, ".tar.gz"), strings.HasSuffix(artifact, ".tgz"):
		err = s.extractTar(ctx, artifact, meta.DatasetPath, true)
	case strings.HasSuffix(artifact, ".tar"):
		err = s.extractTar(ctx, artifact, meta.DatasetPath, false)
	case strings.HasSuffix(artifact, ".zfs.gz"):
		err = s.receiveStream(ctx, artifact, meta.DatasetPath, true)
	case strings.HasSuffix(artifact, ".zfs"):
		err = s.receiveStream(ctx, artifact, meta.DatasetPath, false)
	default:
		return fmt.Errorf("unsupported artifact format: %s", meta.ArtifactID)
	}
	if err != nil {
		return err
	}

	if err := s.Zones.Attach(ctx, task.ZoneName, true); err != nil {
		return err
	}
	return s.refreshZone(ctx, task.ZoneName)
}

// extractTar creates the dataset and unpacks the tarball into its root
// directory, the layout zoneadm attach expects.
func (s *set) extractTar(ctx context.Context, artifact, dataset string, gzipped bool) error {
	if err := s.host(ctx, "zfs", "create", "-p", dataset); err != nil {
		return err
	}
	root := filepath.Join("/", dataset, "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create zone root %s: %w", root, err)
	}
	args := []string{"-xf", artifact, "-C", root}
	if gzipped {
		args[0] = "-xzf"
	}
	_, err := hostcmd.Output(ctx, s.Runner, s.extractTimeout, "tar", args...)
	return err
}

// receiveStream replays a zfs send stream into the dataset. Parents must
// exist before receive, the target itself must not.
func (s *set) receiveStream(ctx context.Context, artifact, dataset string, gzipped bool) error {
	if parent := filepath.Dir(dataset); parent != "." && parent != "/" {
		if err := s.host(ctx, "zfs", "create", "-p", parent); err != nil {
			return err
		}
	}
	pipeline := fmt.Sprintf("zfs receive -u %s < %s", shq(dataset), shq(artifact))
	if gzipped {
		pipeline = fmt.Sprintf("gzcat %s | zfs receive -u %s", shq(artifact), shq(dataset))
	}
	_, err := hostcmd.Output(ctx, s.Runner, s.extractTimeout, "sh", "-c", pipeline)
	return err
}

// zoneSetup drives a console recipe against the zone: acquire exclusive
// console automation, then alternate expect/send steps until the recipe is
// done. Credential placeholders in send strings are filled from the task
// metadata.
func (s *set) zoneSetup(ctx context.Context, task *types.Task) error {
	var meta types.SetupMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.RecipeID == "" {
		return fmt.Errorf("zone_setup: recipe_id is required")
	}
	recipe, err := s.Store.GetRecipe(ctx, meta.RecipeID)
	if err != nil {
		return err
	}

	con, err := s.Consoles.GetOrCreate(ctx, task.ZoneName)
	if err != nil {
		// The console needs a running zone; a boot still settling is
		// worth another attempt.
		return taskengine.Retryable(err)
	}
	auto, err := con.AcquireAutomation()
	if err != nil {
		return taskengine.Retryable(err)
	}
	defer auto.Release()

	sub := credentialReplacer(meta.Credentials)
	for i, step := range recipe.Steps {
		if step.Expect != "" {
			timeout := time.Duration(step.TimeoutSeconds) * time.Second
			if step.TimeoutSeconds <= 0 {
				timeout = time.Duration(s.Provision.RecipeStepTimeoutSeconds) * time.Second
			}
			if err := auto.Expect(ctx, step.Expect, timeout); err != nil {
				return fmt.Errorf("recipe %s step %d: %w", recipe.ID, i+1, err)
			}
		}
		if err := auto.Send(sub.Replace(step.Send)); err != nil {
			return fmt.Errorf("recipe %s step %d: %w", recipe.ID, i+1, err)
		}
	}
	s.logger.Info().
		Str("zone", task.ZoneName).
		Str("recipe", recipe.ID).
		Int("steps", len(recipe.Steps)).
		Msg("Console recipe completed")
	return nil
}

func credentialReplacer(c types.Credentials) *strings.Replacer {
	return strings.NewReplacer(
		"{{username}}", c.Username,
		"{{password}}", c.Password,
	)
}

// waitSSH polls the zone's SSH endpoint until a full handshake succeeds or
// the deadline passes. Exhausting the deadline is terminal: later sync and
// provision steps have no chance without SSH.
func (s *set) waitSSH(ctx context.Context, task *types.Task) error {
	var meta types.WaitSSHMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.IP == "" {
		return fmt.Errorf("zone_wait_ssh: no address to probe")
	}
	target := remote.Target{IP: meta.IP, Port: meta.Port, Credentials: meta.Credentials}

	overall := time.Duration(meta.TimeoutSeconds) * time.Second
	if meta.TimeoutSeconds <= 0 {
		overall = time.Duration(s.Provision.SSHTimeoutSeconds) * time.Second
	}
	if overall <= 0 {
		overall = 5 * time.Minute
	}
	interval := time.Duration(s.Provision.SSHProbeIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	deadline := time.Now().Add(overall)
	var lastErr error
	for {
		err := remote.Probe(ctx, target, dialTimeout)
		if err == nil {
			s.logger.Info().Str("zone", task.ZoneName).Str("addr", target.Addr()).Msg("SSH reachable")
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ssh not reachable at %s after %s: %w", target.Addr(), overall, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// zoneSync copies one folder into the zone over SCP. Connection failures are
// retryable; a failure mid-transfer is terminal so a broken copy is visible
// rather than silently repeated.
func (s *set) zoneSync(ctx context.Context, task *types.Task) error {
	var meta types.SyncMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	target := remote.Target{IP: meta.IP, Port: meta.Port, Credentials: meta.Credentials}
	client, err := remote.Dial(ctx, target, dialTimeout)
	if err != nil {
		return taskengine.Retryable(fmt.Errorf("dial %s: %w", target.Addr(), err))
	}
	defer client.Close()

	timeout := time.Duration(s.Provision.SyncTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	syncCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.SyncFolder(syncCtx, meta.Folder); err != nil {
		return fmt.Errorf("sync %s (%d/%d): %w", meta.Folder.Source, meta.Index, meta.Total, err)
	}
	s.logger.Info().
		Str("zone", task.ZoneName).
		Str("source", meta.Folder.Source).
		Str("destination", meta.Folder.Destination).
		Msg("Folder synced")
	return nil
}

// zoneProvision runs one provisioner inside the zone over SSH. Shell
// provisioners execute the script body directly; ansible provisioners upload
// the playbook and run ansible-playbook locally inside the zone.
func (s *set) zoneProvision(ctx context.Context, task *types.Task) error {
	var meta types.ProvisionMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	name := meta.Provisioner.Name
	if name == "" {
		name = meta.Provisioner.Type
	}
	if meta.Provisioner.Type != types.ProvisionerShell && meta.Provisioner.Type != types.ProvisionerAnsible {
		return fmt.Errorf("provisioner %s: unsupported type %q", name, meta.Provisioner.Type)
	}

	target := remote.Target{IP: meta.IP, Port: meta.Port, Credentials: meta.Credentials}
	client, err := remote.Dial(ctx, target, dialTimeout)
	if err != nil {
		return taskengine.Retryable(fmt.Errorf("dial %s: %w", target.Addr(), err))
	}
	defer client.Close()

	timeout := time.Duration(s.Provision.ProvisionerTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if meta.Provisioner.Type == types.ProvisionerShell {
		if _, err := client.RunScript(runCtx, meta.Provisioner.Script, meta.Provisioner.Args); err != nil {
			return fmt.Errorf("provisioner %s: %w", name, err)
		}
	} else {
		if err := s.runPlaybook(runCtx, client, meta.Provisioner); err != nil {
			return fmt.Errorf("provisioner %s: %w", name, err)
		}
	}
	s.logger.Info().
		Str("zone", task.ZoneName).
		Str("provisioner", name).
		Int("index", meta.Index).
		Int("total", meta.Total).
		Msg("Provisioner completed")
	return nil
}

// runPlaybook uploads the playbook and applies it against localhost inside
// the zone, so the zone needs ansible-core but no inventory.
func (s *set) runPlaybook(ctx context.Context, client *remote.Client, p types.Provisioner) error {
	remotePath := "/tmp/zw-playbook-" + uuid.NewString() + ".yml"
	if err := client.CopyBytes(ctx, []byte(p.Playbook), remotePath, "0600"); err != nil {
		return err
	}
	defer func() {
		_, _ = client.Run(context.WithoutCancel(ctx), "rm -f "+remotePath)
	}()

	wrapper := "#!/bin/sh\nexec ansible-playbook -i localhost, -c local \"$@\"\n"
	args := append([]string{remotePath}, p.Args...)
	_, err := client.RunScript(ctx, wrapper, args)
	return err
}

// shq single-quotes a string for the host shell.
func shq(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
