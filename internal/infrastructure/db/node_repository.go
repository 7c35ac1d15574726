package db

import (
	"context"
	"time"

	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
	"github.com/smite/panel/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type nodeRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeRepository(db *gorm.DB, log *logger.Logger) ports.NodeRepository {
	return &nodeRepository{db: db, log: log}
}

func (r *nodeRepository) Create(ctx context.Context, node *domain.Node) error {
	if err := r.db.WithContext(ctx).Create(node).Error; err != nil {
		r.log.Errorw("node_repo_create_failed", "fingerprint", node.Fingerprint, "error", err)
		return err
	}
	r.log.Infow("node_repo_create_ok", "id", node.ID, "fingerprint", node.Fingerprint)
	return nil
}

func (r *nodeRepository) GetByID(ctx context.Context, id uint) (*domain.Node, error) {
	var node domain.Node
	if err := r.db.WithContext(ctx).Preload("OverlayAssignment").First(&node, id).Error; err != nil {
		r.log.Errorw("node_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &node, nil
}

func (r *nodeRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Node, error) {
	var node domain.Node
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&node).Error; err != nil {
		r.log.Errorw("node_repo_get_by_fingerprint_failed", "fingerprint", fingerprint, "error", err)
		return nil, err
	}
	return &node, nil
}

func (r *nodeRepository) GetAll(ctx context.Context) ([]domain.Node, error) {
	var nodes []domain.Node
	if err := r.db.WithContext(ctx).Preload("OverlayAssignment").Find(&nodes).Error; err != nil {
		r.log.Errorw("node_repo_list_failed", "error", err)
		return nil, err
	}
	r.log.Infow("node_repo_list_ok", "count", len(nodes))
	return nodes, nil
}

func (r *nodeRepository) Update(ctx context.Context, node *domain.Node) error {
	if err := r.db.WithContext(ctx).Save(node).Error; err != nil {
		r.log.Errorw("node_repo_update_failed", "id", node.ID, "error", err)
		return err
	}
	r.log.Infow("node_repo_update_ok", "id", node.ID)
	return nil
}

func (r *nodeRepository) UpdateLastSeen(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Model(&domain.Node{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_seen": time.Now(), "status": domain.NodeStatusActive}).Error; err != nil {
		r.log.Errorw("node_repo_heartbeat_failed", "id", id, "error", err)
		return err
	}
	return nil
}

func (r *nodeRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&domain.Node{}, id).Error; err != nil {
		r.log.Errorw("node_repo_delete_failed", "id", id, "error", err)
		return err
	}
	r.log.Infow("node_repo_delete_ok", "id", id)
	return nil
}
