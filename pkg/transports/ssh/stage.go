package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// Stage uploads a local graph file into the remote stage directory and
// returns its remote path, ready for load_graph.
func (c *Client) Stage(ctx context.Context, localPath string) (string, error) {
	sc, err := c.sftp(ctx)
	if err != nil {
		return "", err
	}
	defer sc.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return "", &Error{Op: "stage", Err: err}
	}
	defer src.Close()

	if err := sc.MkdirAll(c.config.StageDir); err != nil {
		return "", &Error{Op: "stage", Err: fmt.Errorf("create %s: %w", c.config.StageDir, err)}
	}
	remotePath := StagePath(c.config.StageDir, localPath)
	dst, err := sc.Create(remotePath)
	if err != nil {
		return "", &Error{Op: "stage", Err: err}
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return "", &Error{Op: "stage", Err: fmt.Errorf("copy to %s: %w", remotePath, err)}
	}
	if err := sc.Chmod(remotePath, 0o644); err != nil {
		return "", &Error{Op: "stage", Err: err}
	}

	log.Debug().Str("local", localPath).Str("remote", remotePath).Int64("bytes", n).Msg("graph file staged")
	return remotePath, nil
}

// Fetch downloads a remote file, typically one written by save_graph.
func (c *Client) Fetch(ctx context.Context, remotePath, localPath string) error {
	sc, err := c.sftp(ctx)
	if err != nil {
		return err
	}
	defer sc.Close()

	src, err := sc.Open(remotePath)
	if err != nil {
		return &Error{Op: "fetch", Err: err}
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return &Error{Op: "fetch", Err: err}
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return &Error{Op: "fetch", Err: err}
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return &Error{Op: "fetch", Err: fmt.Errorf("copy from %s: %w", remotePath, err)}
	}
	return nil
}

func (c *Client) sftp(ctx context.Context) (*sftp.Client, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	sc, err := sftp.NewClient(conn)
	if err != nil {
		return nil, &Error{Op: "sftp", Err: err}
	}
	return sc, nil
}

// StagePath is the remote location a local file is staged to.
func StagePath(stageDir, localPath string) string {
	return path.Join(stageDir, filepath.Base(localPath))
}
