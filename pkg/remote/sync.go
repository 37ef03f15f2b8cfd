package remote

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// CopyFile streams a local file to the zone over SCP.
func (c *Client) CopyFile(ctx context.Context, localPath, remotePath, permissions string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if err := c.scp.Copy(ctx, f, remotePath, permissions, info.Size()); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", localPath, remotePath, err)
	}
	return nil
}

// CopyBytes writes an in-memory blob to a remote path over SCP.
func (c *Client) CopyBytes(ctx context.Context, data []byte, remotePath, permissions string) error {
	if err := c.scp.Copy(ctx, bytes.NewReader(data), remotePath, permissions, int64(len(data))); err != nil {
		return fmt.Errorf("failed to copy %d bytes to %s: %w", len(data), remotePath, err)
	}
	return nil
}

// SyncFolder mirrors a host directory into the zone. Remote directories are
// created first, then every regular file is streamed over SCP preserving
// its mode; symlinks and special files are skipped. Ownership and a
// destination mode override are applied afterwards when the folder names
// them.
func (c *Client) SyncFolder(ctx context.Context, folder types.SyncFolder) error {
	src := filepath.Clean(folder.Source)
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("sync source %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("sync source %s is not a directory", src)
	}

	if _, err := c.Run(ctx, "mkdir -p "+shQuote(folder.Destination)); err != nil {
		return fmt.Errorf("failed to create destination %s: %w", folder.Destination, err)
	}

	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		remotePath := path.Join(folder.Destination, filepath.ToSlash(rel))
		if d.IsDir() {
			_, err := c.Run(ctx, "mkdir -p "+shQuote(remotePath))
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return c.CopyFile(ctx, p, remotePath, fmt.Sprintf("%04o", fi.Mode().Perm()))
	})
	if err != nil {
		return fmt.Errorf("failed to sync %s: %w", src, err)
	}

	if folder.Owner != "" {
		if _, err := c.Run(ctx, fmt.Sprintf("chown -R %s %s", shQuote(folder.Owner), shQuote(folder.Destination))); err != nil {
			return fmt.Errorf("failed to chown %s: %w", folder.Destination, err)
		}
	}
	if folder.Mode != "" {
		if _, err := c.Run(ctx, fmt.Sprintf("chmod %s %s", shQuote(folder.Mode), shQuote(folder.Destination))); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", folder.Destination, err)
		}
	}
	return nil
}

// RunScript uploads a script body to a unique path under /tmp, executes it
// with the given arguments and removes it afterwards. Stdout is returned.
func (c *Client) RunScript(ctx context.Context, script string, args []string) (string, error) {
	remotePath := "/tmp/zw-exec-" + uuid.NewString() + ".sh"
	if err := c.CopyBytes(ctx, []byte(script), remotePath, "0700"); err != nil {
		return "", err
	}
	defer func() {
		_, _ = c.Run(context.WithoutCancel(ctx), "rm -f "+shQuote(remotePath))
	}()

	cmd := shQuote(remotePath)
	for _, a := range args {
		cmd += " " + shQuote(a)
	}
	return c.Run(ctx, cmd)
}
