package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/creack/pty"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

func (s *set) createVNIC(ctx context.Context, task *types.Task) error {
	var meta types.VNICMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Name == "" || meta.Link == "" {
		return fmt.Errorf("create_vnic: name and link are required")
	}
	args := []string{"create-vnic", "-l", meta.Link}
	if meta.MACAddress != "" {
		args = append(args, "-m", meta.MACAddress)
	}
	if meta.VLANID > 0 {
		args = append(args, "-v", strconv.Itoa(meta.VLANID))
	}
	args = append(args, meta.Name)
	if err := s.host(ctx, "dladm", args...); err != nil {
		return err
	}
	return s.setLinkProps(ctx, meta.Name, meta.Properties)
}

func (s *set) deleteVNIC(ctx context.Context, task *types.Task) error {
	var meta types.VNICMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Name == "" {
		return fmt.Errorf("delete_vnic: name is required")
	}
	return s.host(ctx, "dladm", "delete-vnic", meta.Name)
}

func (s *set) setVNICProperties(ctx context.Context, task *types.Task) error {
	var meta types.VNICMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Name == "" {
		return fmt.Errorf("set_vnic_properties: name is required")
	}
	if len(meta.Properties) == 0 {
		return fmt.Errorf("set_vnic_properties: no properties given")
	}
	return s.setLinkProps(ctx, meta.Name, meta.Properties)
}

// setLinkProps applies link properties one at a time in key order, so a
// failure names the property that broke.
func (s *set) setLinkProps(ctx context.Context, link string, props map[string]string) error {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.host(ctx, "dladm", "set-linkprop", "-p", k+"="+props[k], link); err != nil {
			return fmt.Errorf("set %s on %s: %w", k, link, err)
		}
	}
	return nil
}

// pkgInstall runs pkg(1) on the global zone. Exit code 4 means nothing to
// do, which counts as success for an idempotent install.
func (s *set) pkgInstall(ctx context.Context, task *types.Task) error {
	return s.pkgOp(ctx, task, "install", "--accept")
}

func (s *set) pkgUninstall(ctx context.Context, task *types.Task) error {
	return s.pkgOp(ctx, task, "uninstall")
}

func (s *set) pkgOp(ctx context.Context, task *types.Task, subcmd string, extra ...string) error {
	var meta types.PkgMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if len(meta.Packages) == 0 {
		return fmt.Errorf("%s: no packages given", task.Operation)
	}
	args := append([]string{subcmd}, extra...)
	args = append(args, meta.Packages...)
	res, err := s.Runner.Run(ctx, s.pkgTimeout, "pkg", args...)
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("pkg %s timed out after %s", subcmd, s.pkgTimeout)
	}
	if res.ExitCode != 0 && res.ExitCode != 4 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return fmt.Errorf("pkg %s exited %d: %s", subcmd, res.ExitCode, msg)
	}
	s.logger.Info().
		Str("subcommand", subcmd).
		Strs("packages", meta.Packages).
		Int("exit_code", res.ExitCode).
		Msg("Package operation completed")
	return nil
}

func (s *set) userCreate(ctx context.Context, task *types.Task) error {
	var meta types.UserMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Username == "" {
		return fmt.Errorf("user_create: username is required")
	}
	args := append(userArgs(meta), meta.Username)
	if err := s.host(ctx, "useradd", args...); err != nil {
		return err
	}
	if meta.Password != "" {
		return s.setPassword(ctx, meta.Username, meta.Password)
	}
	return nil
}

func (s *set) userModify(ctx context.Context, task *types.Task) error {
	var meta types.UserMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Username == "" {
		return fmt.Errorf("user_modify: username is required")
	}
	if args := userArgs(meta); len(args) > 0 {
		if err := s.host(ctx, "usermod", append(args, meta.Username)...); err != nil {
			return err
		}
	}
	if meta.Password != "" {
		return s.setPassword(ctx, meta.Username, meta.Password)
	}
	return nil
}

func (s *set) userDelete(ctx context.Context, task *types.Task) error {
	var meta types.UserMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Username == "" {
		return fmt.Errorf("user_delete: username is required")
	}
	return s.host(ctx, "userdel", meta.Username)
}

func (s *set) userSetPassword(ctx context.Context, task *types.Task) error {
	var meta types.UserMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Username == "" || meta.Password == "" {
		return fmt.Errorf("user_set_password: username and password are required")
	}
	return s.setPassword(ctx, meta.Username, meta.Password)
}

func (s *set) userLock(ctx context.Context, task *types.Task) error {
	var meta types.UserMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Username == "" {
		return fmt.Errorf("user_lock: username is required")
	}
	return s.host(ctx, "passwd", "-l", meta.Username)
}

func (s *set) userUnlock(ctx context.Context, task *types.Task) error {
	var meta types.UserMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Username == "" {
		return fmt.Errorf("user_unlock: username is required")
	}
	return s.host(ctx, "passwd", "-u", meta.Username)
}

// userArgs builds the flag list shared by useradd and usermod.
func userArgs(meta types.UserMetadata) []string {
	var args []string
	if meta.UID > 0 {
		args = append(args, "-u", strconv.Itoa(meta.UID))
	}
	if meta.Group != "" {
		args = append(args, "-g", meta.Group)
	}
	if len(meta.Groups) > 0 {
		args = append(args, "-G", strings.Join(meta.Groups, ","))
	}
	if meta.Shell != "" {
		args = append(args, "-s", meta.Shell)
	}
	if meta.Home != "" {
		args = append(args, "-d", meta.Home, "-m")
	}
	if meta.Comment != "" {
		args = append(args, "-c", meta.Comment)
	}
	return args
}

func (s *set) groupCreate(ctx context.Context, task *types.Task) error {
	var meta types.GroupMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Name == "" {
		return fmt.Errorf("group_create: name is required")
	}
	var args []string
	if meta.GID > 0 {
		args = append(args, "-g", strconv.Itoa(meta.GID))
	}
	return s.host(ctx, "groupadd", append(args, meta.Name)...)
}

func (s *set) groupModify(ctx context.Context, task *types.Task) error {
	var meta types.GroupMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Name == "" {
		return fmt.Errorf("group_modify: name is required")
	}
	var args []string
	if meta.GID > 0 {
		args = append(args, "-g", strconv.Itoa(meta.GID))
	}
	if meta.NewName != "" {
		args = append(args, "-n", meta.NewName)
	}
	if len(args) == 0 {
		return fmt.Errorf("group_modify: nothing to change for %s", meta.Name)
	}
	return s.host(ctx, "groupmod", append(args, meta.Name)...)
}

func (s *set) groupDelete(ctx context.Context, task *types.Task) error {
	var meta types.GroupMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Name == "" {
		return fmt.Errorf("group_delete: name is required")
	}
	return s.host(ctx, "groupdel", meta.Name)
}

func (s *set) roleCreate(ctx context.Context, task *types.Task) error {
	var meta types.RoleMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Name == "" {
		return fmt.Errorf("role_create: name is required")
	}
	args := append(roleArgs(meta), meta.Name)
	if err := s.host(ctx, "roleadd", args...); err != nil {
		return err
	}
	if meta.Password != "" {
		return s.setPassword(ctx, meta.Name, meta.Password)
	}
	return nil
}

func (s *set) roleModify(ctx context.Context, task *types.Task) error {
	var meta types.RoleMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Name == "" {
		return fmt.Errorf("role_modify: name is required")
	}
	if args := roleArgs(meta); len(args) > 0 {
		if err := s.host(ctx, "rolemod", append(args, meta.Name)...); err != nil {
			return err
		}
	}
	if meta.Password != "" {
		return s.setPassword(ctx, meta.Name, meta.Password)
	}
	return nil
}

func (s *set) roleDelete(ctx context.Context, task *types.Task) error {
	var meta types.RoleMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	if meta.Name == "" {
		return fmt.Errorf("role_delete: name is required")
	}
	return s.host(ctx, "roledel", meta.Name)
}

func roleArgs(meta types.RoleMetadata) []string {
	var args []string
	if len(meta.Profiles) > 0 {
		args = append(args, "-P", strings.Join(meta.Profiles, ","))
	}
	if meta.Comment != "" {
		args = append(args, "-c", meta.Comment)
	}
	return args
}

// setPassword drives passwd(1) through a pty, since it refuses to read the
// new password from a pipe. The prompts are answered at most twice (new
// password, confirmation); anything else means passwd rejected the input.
func (s *set) setPassword(ctx context.Context, username, password string) error {
	cmd := s.newPasswordCmd(username)
	f, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start passwd for %s: %w", username, err)
	}
	defer f.Close()

	done := make(chan error, 1)
	go func() { done <- answerPasswordPrompts(f, password) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		_ = cmd.Wait()
		return ctx.Err()
	}
	waitErr := cmd.Wait()
	if err != nil {
		return fmt.Errorf("passwd %s: %w", username, err)
	}
	if waitErr != nil {
		return fmt.Errorf("passwd %s: %w", username, waitErr)
	}
	s.logger.Info().Str("username", username).Msg("Password updated")
	return nil
}

// answerPasswordPrompts feeds the password to up to two prompts, then drains
// the pty until the process closes it. Reading the closed side errors on
// every platform, so any read error after the first answer means done.
func answerPasswordPrompts(f io.ReadWriter, password string) error {
	var window []byte
	answered := 0
	buf := make([]byte, 256)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			window = append(window, buf[:n]...)
			if answered < 2 && bytes.Contains(bytes.ToLower(window), []byte("password:")) {
				window = window[:0]
				if _, werr := f.Write([]byte(password + "\n")); werr != nil {
					return fmt.Errorf("answer prompt: %w", werr)
				}
				answered++
			}
			if len(window) > 4096 {
				window = append(window[:0], window[len(window)-1024:]...)
			}
		}
		if err != nil {
			if answered == 0 {
				return fmt.Errorf("closed without prompting")
			}
			return nil
		}
	}
}
