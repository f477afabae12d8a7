package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// Upload writes content to remotePath via SFTP.
func (c *SSHClient) Upload(ctx context.Context, content io.Reader, remotePath string, mode uint32) error {
	startTime := time.Now()

	log.Debug().
		Str("remote", remotePath).
		Uint32("mode", mode).
		Msg("uploading file")

	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	// Remote paths are always slash separated.
	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return newError("upload", fmt.Errorf("failed to create remote directory: %w", err), false, false)
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return newError("upload", fmt.Errorf("failed to create remote file: %w", err), true, false)
	}
	defer remoteFile.Close()

	bytesWritten, err := copyWithContext(ctx, remoteFile, content)
	if err != nil {
		return newError("upload", fmt.Errorf("failed to copy file: %w", err), true, false)
	}

	if mode > 0 {
		if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
			log.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file permissions")
		}
	}

	log.Debug().
		Str("remote", remotePath).
		Int64("bytes", bytesWritten).
		Dur("duration", time.Since(startTime)).
		Msg("file uploaded")

	return nil
}

// UploadFile uploads a single local file to the remote host via SFTP.
func (c *SSHClient) UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return newError("upload", fmt.Errorf("failed to open local file: %w", err), false, false)
	}
	defer localFile.Close()

	return c.Upload(ctx, localFile, remotePath, mode)
}

// Remove deletes a remote file.
func (c *SSHClient) Remove(ctx context.Context, remotePath string) error {
	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.Remove(remotePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return newError("remove", err, false, false)
	}
	return nil
}

// createSFTPClient creates a new SFTP client.
func (c *SSHClient) createSFTPClient() (*sftp.Client, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, newError("sftp-init", fmt.Errorf("failed to create SFTP client: %w", err), true, false)
	}

	return sftpClient, nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}
