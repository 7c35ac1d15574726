package services

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smite/panel/internal/infrastructure/logger"
	"golang.org/x/crypto/ssh"
)

const (
	installKeyPrivateFile = "installer_id_ed25519"
	installKeyPublicFile  = "installer_id_ed25519.pub"
)

// KeyManager owns the ed25519 keypair the installer presents when bootstrapping
// a Node Agent over SSH. The pair is generated once and cached on disk under
// Security.InstallKeyDir, the same "generate in-process, persist once" idiom
// the mesh composer uses for WireGuard keys.
type KeyManager struct {
	keyDir     string
	logger     *logger.Logger
	privateKey string
	publicKey  string
}

func NewKeyManager(keyDir string, log *logger.Logger) *KeyManager {
	return &KeyManager{
		keyDir: keyDir,
		logger: log,
	}
}

func (km *KeyManager) Initialize() error {
	privPath := filepath.Join(km.keyDir, installKeyPrivateFile)
	pubPath := filepath.Join(km.keyDir, installKeyPublicFile)

	privBytes, privErr := os.ReadFile(privPath)
	pubBytes, pubErr := os.ReadFile(pubPath)
	if privErr == nil && pubErr == nil {
		km.privateKey = string(privBytes)
		km.publicKey = string(pubBytes)
		km.logger.Info("installer SSH keys loaded from disk")
		return nil
	}

	km.logger.Info("generating new installer SSH key pair")
	if err := km.generateAndSaveKeys(privPath, pubPath); err != nil {
		return fmt.Errorf("failed to generate keys: %w", err)
	}
	km.logger.Info("installer SSH keys generated and saved")
	return nil
}

func (km *KeyManager) generateAndSaveKeys(privPath, pubPath string) error {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}

	privKeyPEM, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	privKeyBytes := pem.EncodeToMemory(privKeyPEM)

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("failed to create public key: %w", err)
	}
	pubKeyBytes := ssh.MarshalAuthorizedKey(sshPubKey)

	if err := os.MkdirAll(km.keyDir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(privPath, privKeyBytes, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubKeyBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	km.privateKey = string(privKeyBytes)
	km.publicKey = string(pubKeyBytes)
	return nil
}

func (km *KeyManager) GetPublicKey() string {
	return km.publicKey
}

func (km *KeyManager) GetPrivateKey() string {
	return km.privateKey
}
