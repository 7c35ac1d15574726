package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
	"github.com/smite/panel/internal/infrastructure/logger"
	"github.com/smite/panel/internal/infrastructure/remote"
	"golang.org/x/crypto/ssh"
)

const (
	EventTypeInstallation = "AGENT_INSTALLATION"
	AgentBinaryPath       = "/usr/local/bin/smite-agent"
	AgentServicePath      = "/etc/systemd/system/smite-agent.service"
)

type installerService struct {
	timelineRepo ports.TimelineRepository
	nodeRepo     ports.NodeRepository
	logger       *logger.Logger
	publicURL    string
	agentToken   string
}

type InstallerServiceConfig struct {
	TimelineRepo ports.TimelineRepository
	NodeRepo     ports.NodeRepository
	Logger       *logger.Logger
	PublicURL    string
	AgentToken   string
}

func NewInstallerService(cfg InstallerServiceConfig) ports.InstallerService {
	return &installerService{
		timelineRepo: cfg.TimelineRepo,
		nodeRepo:     cfg.NodeRepo,
		logger:       cfg.Logger,
		publicURL:    cfg.PublicURL,
		agentToken:   cfg.AgentToken,
	}
}

func (s *installerService) ValidateBinaryExistence() error {
	binaryPaths := []string{
		"bin/uploads/smite-agent-amd64",
		"bin/uploads/smite-agent-arm64",
	}

	for _, path := range binaryPaths {
		if _, err := os.Stat(path); err == nil {
			s.logger.Infow("agent_binary_found", "path", path)
			return nil
		}
	}

	return fmt.Errorf("agent binary not found in any expected location: %v", binaryPaths)
}

// InstallAgent bootstraps a Node Agent onto a fresh host over SSH: checks the
// system, installs dependencies, uploads the agent binary, hardens SSH
// access against the installer's own iptables edits, then starts the agent
// as a systemd service.
func (s *installerService) InstallAgent(ctx context.Context, node *domain.Node, sshHost, sshUser, sshKey string) error {
	sshPort := 22
	if p := node.Metadata.GetString("ssh_port"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			sshPort = v
		}
	}

	if node.Metadata == nil {
		node.Metadata = domain.JSONB{}
	}
	node.Status = domain.NodeStatusPending
	node.Metadata["install_status"] = "installing"
	s.persistNode(ctx, node)
	s.logEvent(ctx, node.ID, "pending", "Starting agent installation", nil)

	sshClient := remote.NewSSHClient(remote.SSHConfig{
		Host:       sshHost,
		Port:       sshPort,
		User:       sshUser,
		PrivateKey: sshKey,
		Timeout:    30 * time.Second,
		MaxRetries: 5,
	})

	conn, err := sshClient.ConnectWithRetry()
	if err != nil {
		s.handleInstallationError(ctx, node, fmt.Sprintf("ssh connection failed: %v", err))
		return fmt.Errorf("%w: %v", ErrSSHConnectionFailed, err)
	}
	currentConn := conn
	defer func() {
		if currentConn != nil {
			currentConn.Close()
		}
	}()

	s.logger.Infow("checking system", "node_id", node.ID, "host", sshHost, "port", sshPort)
	cmdCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	systemInfo, err := s.executeWithRetry(cmdCtx, sshClient, &currentConn, "uname -a")
	cancel()
	if err != nil {
		s.handleInstallationError(ctx, node, fmt.Sprintf("system check failed: %v", err))
		return fmt.Errorf("%w: %v", ErrSystemCheckFailed, err)
	}
	s.logger.Infow("system info", "node_id", node.ID, "info", strings.TrimSpace(systemInfo))

	archCtx, archCancel := context.WithTimeout(ctx, 30*time.Second)
	arch, err := s.executeWithRetry(archCtx, sshClient, &currentConn, "uname -m")
	archCancel()
	if err != nil {
		s.logger.Warnw("architecture check failed", "node_id", node.ID, "error", err)
	} else if arch = strings.TrimSpace(arch); arch != "x86_64" && arch != "amd64" {
		s.logger.Warnw("architecture mismatch", "node_id", node.ID, "expected", "amd64", "got", arch)
	}

	s.logger.Infow("installing dependencies", "node_id", node.ID)
	depCtx, depCancel := context.WithTimeout(ctx, 5*time.Minute)
	err = s.installDependencies(depCtx, sshClient, &currentConn, systemInfo)
	depCancel()
	if err != nil {
		s.handleInstallationError(ctx, node, fmt.Sprintf("dependency installation failed: %v", err))
		return fmt.Errorf("%w: %v", ErrDependencyInstall, err)
	}

	s.logger.Infow("deploying agent", "node_id", node.ID)
	if err := s.deployAgent(ctx, sshClient, &currentConn, node.ID); err != nil {
		s.handleInstallationError(ctx, node, fmt.Sprintf("agent deployment failed: %v", err))
		return fmt.Errorf("%w: %v", ErrAgentDeployFailed, err)
	}

	s.logger.Infow("ensuring ssh access", "node_id", node.ID)
	if err := s.ensureSSHAccess(ctx, sshClient, &currentConn); err != nil {
		s.logger.Warnw("failed to ensure ssh persistence", "node_id", node.ID, "error", err)
	}

	s.logger.Infow("starting service", "node_id", node.ID)
	if err := s.startService(ctx, sshClient, &currentConn); err != nil {
		s.handleInstallationError(ctx, node, fmt.Sprintf("service start failed: %v", err))
		return fmt.Errorf("%w: %v", ErrServiceStartFailed, err)
	}

	s.logEvent(ctx, node.ID, "success", "Agent installation completed", map[string]interface{}{
		"system_info": strings.TrimSpace(systemInfo),
	})

	node.Status = domain.NodeStatusActive
	node.Metadata["install_status"] = "online"
	delete(node.Metadata, "install_error")
	s.persistNode(ctx, node)

	s.logger.Infow("agent installation completed", "node_id", node.ID)
	return nil
}

func (s *installerService) persistNode(ctx context.Context, node *domain.Node) {
	if s.nodeRepo == nil {
		return
	}
	if err := s.nodeRepo.Update(ctx, node); err != nil {
		s.logger.Errorw("failed to persist node during installation", "node_id", node.ID, "error", err)
	}
}

func (s *installerService) handleInstallationError(ctx context.Context, node *domain.Node, errorMsg string) {
	node.Status = domain.NodeStatusInactive
	node.Metadata["install_status"] = "error"
	node.Metadata["install_error"] = errorMsg
	s.persistNode(ctx, node)
	s.logEvent(ctx, node.ID, "failed", "Installation failed", map[string]interface{}{"error": errorMsg})
	s.logger.Errorw("installation failed", "node_id", node.ID, "error", errorMsg)
}

func (s *installerService) installDependencies(ctx context.Context, client *remote.SSHClient, conn **ssh.Client, systemInfo string) error {
	var installCmd string
	systemInfo = strings.ToLower(systemInfo)
	waitLockCmd := "while fuser /var/lib/dpkg/lock >/dev/null 2>&1 || fuser /var/lib/apt/lists/lock >/dev/null 2>&1 || fuser /var/lib/dpkg/lock-frontend >/dev/null 2>&1; do echo 'Waiting for apt lock...'; sleep 3; done"
	aptOpts := "-y -o Dpkg::Options::='--force-confdef' -o Dpkg::Options::='--force-confold' -o Acquire::Retries=3"

	switch {
	case strings.Contains(systemInfo, "ubuntu"), strings.Contains(systemInfo, "debian"):
		installCmd = fmt.Sprintf("export DEBIAN_FRONTEND=noninteractive && "+
			"%s && "+
			"(sudo -E apt-get update -o Acquire::Retries=3 -o Acquire::http::Timeout=20 || true) && "+
			"%s && "+
			"sudo -E apt-get install %s --fix-missing wireguard-tools iptables curl",
			waitLockCmd, waitLockCmd, aptOpts)
	case strings.Contains(systemInfo, "centos"), strings.Contains(systemInfo, "rhel"), strings.Contains(systemInfo, "fedora"):
		installCmd = "sudo yum install -y wireguard-tools iptables curl"
	case strings.Contains(systemInfo, "arch"):
		installCmd = "sudo pacman -Sy --noconfirm wireguard-tools iptables curl"
	default:
		installCmd = fmt.Sprintf("export DEBIAN_FRONTEND=noninteractive && "+
			"%s && "+
			"(sudo -E apt-get update -o Acquire::Retries=3 || true) && "+
			"%s && "+
			"sudo -E apt-get install %s --fix-missing wireguard-tools iptables curl",
			waitLockCmd, waitLockCmd, aptOpts)
	}

	output, err := s.executeWithRetry(ctx, client, conn, installCmd)
	if err != nil {
		s.logger.Errorw("dependency installation command failed", "error", err, "output", output)
		return fmt.Errorf("%w: command execution failed (output: %s)", err, output)
	}
	return nil
}

func (s *installerService) deployAgent(ctx context.Context, client *remote.SSHClient, conn **ssh.Client, nodeID uint) error {
	binaryPaths := []string{
		"bin/uploads/smite-agent-amd64",
		"bin/uploads/smite-agent-arm64",
	}

	var localFile *os.File
	var err error
	var localPath string
	for _, path := range binaryPaths {
		localFile, err = os.Open(path)
		if err == nil {
			localPath = path
			break
		}
	}
	if err != nil {
		return fmt.Errorf("agent binary not found, compile it first")
	}
	defer localFile.Close()

	stat, _ := localFile.Stat()
	localSize := stat.Size()
	s.logger.Infow("uploading agent binary", "node_id", nodeID, "path", localPath, "size_bytes", localSize)

	sftpClient, err := sftp.NewClient(*conn)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	tempPath := "/tmp/smite-agent"
	remoteFile, err := sftpClient.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := remoteFile.ReadFrom(localFile)
	if err != nil {
		remoteFile.Close()
		return fmt.Errorf("failed to upload binary: %w", err)
	}
	remoteFile.Close()

	if written != localSize {
		return fmt.Errorf("upload incomplete: expected %d bytes, got %d", localSize, written)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	moveCmd := fmt.Sprintf("sudo mv %s %s && sudo chmod +x %s && ls -lh %s", tempPath, AgentBinaryPath, AgentBinaryPath, AgentBinaryPath)
	output, err := s.executeWithRetry(cmdCtx, client, conn, moveCmd)
	if err != nil {
		return fmt.Errorf("failed to install binary: %w", err)
	}
	s.logger.Infow("binary installed", "node_id", nodeID, "ls_output", strings.TrimSpace(output))
	return nil
}

// ensureSSHAccess hardens against the installer's own firewall edits locking
// out the control channel: it re-asserts an ACCEPT rule for port 22 and, on
// systems that persist iptables rules, writes them down so a reboot can't
// undo the safety net.
func (s *installerService) ensureSSHAccess(ctx context.Context, client *remote.SSHClient, conn **ssh.Client) error {
	serviceContent := `[Unit]
Description=Ensure SSH Access
Before=network.target

[Service]
Type=oneshot
ExecStart=/sbin/iptables -I INPUT 1 -p tcp --dport 22 -j ACCEPT
RemainAfterExit=yes

[Install]
WantedBy=multi-user.target`
	safeContent := strings.ReplaceAll(serviceContent, "'", "'\\''")

	commands := []string{
		"sudo iptables -C INPUT -p tcp --dport 22 -j ACCEPT 2>/dev/null || sudo iptables -I INPUT 1 -p tcp --dport 22 -j ACCEPT",
		"sudo iptables -C OUTPUT -p tcp --sport 22 -j ACCEPT 2>/dev/null || sudo iptables -I OUTPUT 1 -p tcp --sport 22 -j ACCEPT",
		"sudo sh -c 'mkdir -p /etc/iptables && iptables-save > /etc/iptables/rules.v4' || true",
		"export DEBIAN_FRONTEND=noninteractive && sudo -E apt-get install -y iptables-persistent netfilter-persistent 2>/dev/null || true",
		"sudo netfilter-persistent save 2>/dev/null || true",
		"sudo ufw status 2>/dev/null | grep -q 'Status: active' && (sudo ufw allow 22/tcp && sudo ufw reload) || true",
		fmt.Sprintf("echo '%s' | sudo tee /etc/systemd/system/ensure-ssh-access.service > /dev/null", safeContent),
		"sudo systemctl daemon-reload || true",
		"sudo systemctl enable ensure-ssh-access.service || true",
		"sudo systemctl start ensure-ssh-access.service || true",
	}

	for _, cmd := range commands {
		cmdCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		_, _ = s.executeWithRetry(cmdCtx, client, conn, cmd)
		cancel()
	}
	return nil
}

func (s *installerService) startService(ctx context.Context, client *remote.SSHClient, conn **ssh.Client) error {
	serviceContent := fmt.Sprintf(`[Unit]
Description=SMITE Node Agent
After=network.target

[Service]
Type=simple
ExecStart=%s start
Restart=always
RestartSec=5
Environment="SMITE_PANEL_URL=%s"
Environment="SMITE_AGENT_TOKEN=%s"
Environment="LOG_LEVEL=info"
StandardOutput=journal
StandardError=journal

[Install]
WantedBy=multi-user.target`, AgentBinaryPath, s.publicURL, s.agentToken)

	safeContent := strings.ReplaceAll(serviceContent, "'", "'\\''")
	createServiceCmd := fmt.Sprintf("echo '%s' | sudo tee %s > /dev/null", safeContent, AgentServicePath)

	cmdCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.executeWithRetry(cmdCtx, client, conn, createServiceCmd); err != nil {
		return err
	}

	prepCommands := []string{
		"sudo systemctl daemon-reload",
		"sudo systemctl enable smite-agent",
	}
	for _, cmd := range prepCommands {
		stepCtx, stepCancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := s.executeWithRetry(stepCtx, client, conn, cmd)
		stepCancel()
		if err != nil {
			return err
		}
	}

	startCtx, startCancel := context.WithTimeout(ctx, 20*time.Second)
	defer startCancel()
	if _, err := s.executeWithRetry(startCtx, client, conn, "sudo systemctl start smite-agent"); err != nil {
		s.logger.Warnw("service start command returned error, but may still be running", "error", err)
	}
	return nil
}

func (s *installerService) logEvent(ctx context.Context, resourceID uint, status, msg string, meta map[string]interface{}) {
	if s.timelineRepo == nil {
		return
	}
	metadata := domain.JSONB{}
	for k, v := range meta {
		metadata[k] = v
	}
	if v := ctx.Value("request_id"); v != nil {
		metadata["request_id"] = v
	}

	event := &domain.TimelineEvent{
		Type:         EventTypeInstallation,
		Status:       status,
		Message:      msg,
		ResourceType: "node",
		ResourceID:   &resourceID,
		Meta:         metadata,
	}
	if err := s.timelineRepo.Create(ctx, event); err != nil {
		s.logger.Errorw("failed to log timeline event", "error", err)
	}
}

// executeWithRetry runs cmd over the current connection and, if the failure
// looks like a dropped transport rather than a command error, reconnects and
// retries once. It updates *conn so callers keep using the live connection.
func (s *installerService) executeWithRetry(ctx context.Context, client *remote.SSHClient, conn **ssh.Client, cmd string) (string, error) {
	output, err := client.Execute(ctx, *conn, cmd)
	if err == nil {
		return output, nil
	}

	errStr := err.Error()
	isNetworkError := strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "shutdown") ||
		strings.Contains(errStr, "client is closed")
	if !isNetworkError {
		return output, err
	}

	s.logger.Warnw("ssh connection lost during command execution, attempting to reconnect", "error", err, "command", cmd)
	if *conn != nil {
		(*conn).Close()
	}

	newConn, reconnectErr := client.ConnectWithRetry()
	if reconnectErr != nil {
		return "", fmt.Errorf("failed to reconnect after network error: %w (original error: %v)", reconnectErr, err)
	}
	*conn = newConn
	s.logger.Infow("ssh reconnected successfully, retrying command")
	return client.Execute(ctx, *conn, cmd)
}
