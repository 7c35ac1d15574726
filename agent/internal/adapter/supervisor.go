package adapter

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	startSettleDelay = 1 * time.Second
	termGrace        = 5 * time.Second
	logTailLines     = 20
)

type child struct {
	cmd        *exec.Cmd
	logFile    *os.File
	configPath string
}

// supervisor gives every core adapter the same spawn/supervise/teardown
// discipline: a per-core config directory, one child process per tunnel_id,
// detached spawn with logs captured to a file, settle-and-verify after
// start, and terminate-then-kill on removal.
type supervisor struct {
	core         string
	filePrefix   string
	configDir    string
	configExt    string
	binaryEnvVar string
	binaryName   string
	logger       *zap.Logger

	mu       sync.Mutex
	children map[string]*child
}

func newSupervisor(core, baseDir, configExt, binaryEnvVar, binaryName string, logger *zap.Logger) *supervisor {
	return newSupervisorWithPrefix(core, baseDir, configExt, binaryEnvVar, binaryName, "", logger)
}

// newSupervisorWithPrefix is newSupervisor with a config/log filename prefix,
// for cores (frp) where server and client share one directory but need
// distinct file names for the same tunnel_id (frps_<id>.yaml vs frpc_<id>.yaml).
func newSupervisorWithPrefix(core, baseDir, configExt, binaryEnvVar, binaryName, filePrefix string, logger *zap.Logger) *supervisor {
	return &supervisor{
		core:         core,
		filePrefix:   filePrefix,
		configDir:    filepath.Join(baseDir, core),
		configExt:    configExt,
		binaryEnvVar: binaryEnvVar,
		binaryName:   binaryName,
		logger:       logger,
		children:     make(map[string]*child),
	}
}

// resolveBinary follows the documented lookup order: explicit env var, then
// /usr/local/bin/<name>, then /usr/bin/<name>, then a PATH search.
func (s *supervisor) resolveBinary() (string, error) {
	return s.resolveBinaryEnv(s.binaryEnvVar)
}

// resolveBinaryEnv is resolveBinary with the env var overridden, for
// adapters (backhaul) whose server/client modes resolve distinct binaries
// out of the same supervisor.
func (s *supervisor) resolveBinaryEnv(envVar string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	for _, candidate := range []string{
		filepath.Join("/usr/local/bin", s.binaryName),
		filepath.Join("/usr/bin", s.binaryName),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if p, err := exec.LookPath(s.binaryName); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%s binary not found (set %s, or install to /usr/local/bin or /usr/bin)", s.binaryName, envVar)
}

func (s *supervisor) configPath(tunnelID string) string {
	return filepath.Join(s.configDir, s.filePrefix+tunnelID+"."+s.configExt)
}

func (s *supervisor) logPath(tunnelID string) string {
	return filepath.Join(s.configDir, fmt.Sprintf("%s%s_%s.log", s.filePrefix, s.core, tunnelID))
}

// spawn writes configBody, launches binary with args (the config path is
// always appended as the last templated arg by the caller), waits briefly,
// and fails loudly — including the log tail — if the process exited early.
// Idempotent: an existing child for tunnelID is removed first.
func (s *supervisor) spawn(tunnelID, configBody string, args []string) error {
	return s.spawnWithBinaryEnv(tunnelID, configBody, args, s.binaryEnvVar)
}

func (s *supervisor) spawnWithBinaryEnv(tunnelID, configBody string, args []string, binaryEnvVar string) error {
	s.mu.Lock()
	if existing, ok := s.children[tunnelID]; ok {
		s.mu.Unlock()
		s.stopChild(tunnelID, existing)
		s.mu.Lock()
	}
	s.mu.Unlock()

	if err := os.MkdirAll(s.configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	cfgPath := s.configPath(tunnelID)
	if configBody != "" {
		if err := os.WriteFile(cfgPath, []byte(configBody), 0o600); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	binary, err := s.resolveBinaryEnv(binaryEnvVar)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(s.logPath(tunnelID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd := exec.Command(binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		if configBody != "" {
			_ = os.Remove(cfgPath)
		}
		return fmt.Errorf("failed to spawn %s: %w", binary, err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		logFile.Close()
		tail := s.tailLog(s.logPath(tunnelID))
		if configBody != "" {
			_ = os.Remove(cfgPath)
		}
		return fmt.Errorf("%s exited immediately: %v (log: %s)", s.core, err, tail)
	case <-time.After(startSettleDelay):
	}

	s.mu.Lock()
	s.children[tunnelID] = &child{cmd: cmd, logFile: logFile, configPath: cfgPath}
	s.mu.Unlock()

	go func() {
		<-exited
	}()

	s.logger.Info("adapter_apply_ok", zap.String("core", s.core), zap.String("tunnel_id", tunnelID), zap.Int("pid", cmd.Process.Pid))
	return nil
}

func (s *supervisor) remove(tunnelID string) error {
	s.mu.Lock()
	c, ok := s.children[tunnelID]
	s.mu.Unlock()
	if !ok {
		// nothing running, but still clean up a stray config file
		_ = os.Remove(s.configPath(tunnelID))
		return nil
	}
	s.stopChild(tunnelID, c)
	return nil
}

func (s *supervisor) stopChild(tunnelID string, c *child) {
	s.mu.Lock()
	delete(s.children, tunnelID)
	s.mu.Unlock()

	if c.cmd.Process != nil {
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() { c.cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(termGrace):
			_ = c.cmd.Process.Kill()
			<-done
		}
	}
	c.logFile.Close()
	_ = os.Remove(c.configPath)
	s.pkill(tunnelID)
	s.logger.Info("adapter_remove_ok", zap.String("core", s.core), zap.String("tunnel_id", tunnelID))
}

// pkill is a best-effort sweep for survivors whose parent record was lost
// (e.g. after an agent restart with no in-memory child struct).
func (s *supervisor) pkill(tunnelID string) {
	_ = exec.Command("pkill", "-f", tunnelID).Run()
}

func (s *supervisor) status(tunnelID string) Status {
	cfgPath := s.configPath(tunnelID)
	_, statErr := os.Stat(cfgPath)
	st := Status{ConfigExists: statErr == nil}

	s.mu.Lock()
	c, ok := s.children[tunnelID]
	s.mu.Unlock()
	if !ok {
		return st
	}

	st.PID = c.cmd.Process.Pid
	if c.cmd.ProcessState == nil {
		st.ProcessRunning = true
		st.Active = true
	} else {
		code := c.cmd.ProcessState.ExitCode()
		st.ExitCode = &code
		st.LogTail = s.tailLog(s.logPath(tunnelID))
	}
	return st
}

func (s *supervisor) tailLog(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > logTailLines {
			lines = lines[1:]
		}
	}
	return lines
}
