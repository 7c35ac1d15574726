package db

import (
	"context"
	"errors"

	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
	"github.com/smite/panel/internal/infrastructure/logger"
	"gorm.io/gorm"
)

// overlayPoolRepository and overlayAssignmentRepository back the IPAM
// service (C7). Adapted from the teacher's serviceRepository, which had the
// same single-table CRUD shape.

type overlayPoolRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOverlayPoolRepository(db *gorm.DB, log *logger.Logger) ports.OverlayPoolRepository {
	return &overlayPoolRepository{db: db, log: log}
}

func (r *overlayPoolRepository) Get(ctx context.Context) (*domain.OverlayPool, error) {
	var pool domain.OverlayPool
	if err := r.db.WithContext(ctx).First(&pool).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorw("overlay_pool_repo_get_failed", "error", err)
		return nil, err
	}
	return &pool, nil
}

func (r *overlayPoolRepository) Upsert(ctx context.Context, pool *domain.OverlayPool) error {
	if err := r.db.WithContext(ctx).Save(pool).Error; err != nil {
		r.log.Errorw("overlay_pool_repo_upsert_failed", "cidr", pool.CIDR, "error", err)
		return err
	}
	r.log.Infow("overlay_pool_repo_upsert_ok", "cidr", pool.CIDR)
	return nil
}

func (r *overlayPoolRepository) Delete(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&domain.OverlayPool{}).Error; err != nil {
		r.log.Errorw("overlay_pool_repo_delete_failed", "error", err)
		return err
	}
	r.log.Infow("overlay_pool_repo_delete_ok")
	return nil
}

type overlayAssignmentRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOverlayAssignmentRepository(db *gorm.DB, log *logger.Logger) ports.OverlayAssignmentRepository {
	return &overlayAssignmentRepository{db: db, log: log}
}

func (r *overlayAssignmentRepository) Create(ctx context.Context, a *domain.OverlayAssignment) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		r.log.Errorw("overlay_assignment_repo_create_failed", "node_id", a.NodeID, "error", err)
		return err
	}
	r.log.Infow("overlay_assignment_repo_create_ok", "node_id", a.NodeID, "overlay_ip", a.OverlayIP)
	return nil
}

func (r *overlayAssignmentRepository) Update(ctx context.Context, a *domain.OverlayAssignment) error {
	if err := r.db.WithContext(ctx).Save(a).Error; err != nil {
		r.log.Errorw("overlay_assignment_repo_update_failed", "node_id", a.NodeID, "error", err)
		return err
	}
	r.log.Infow("overlay_assignment_repo_update_ok", "node_id", a.NodeID, "overlay_ip", a.OverlayIP)
	return nil
}

func (r *overlayAssignmentRepository) GetByNodeID(ctx context.Context, nodeID uint) (*domain.OverlayAssignment, error) {
	var a domain.OverlayAssignment
	if err := r.db.WithContext(ctx).Where("node_id = ?", nodeID).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorw("overlay_assignment_repo_get_failed", "node_id", nodeID, "error", err)
		return nil, err
	}
	return &a, nil
}

func (r *overlayAssignmentRepository) GetAll(ctx context.Context) ([]domain.OverlayAssignment, error) {
	var assignments []domain.OverlayAssignment
	if err := r.db.WithContext(ctx).Find(&assignments).Error; err != nil {
		r.log.Errorw("overlay_assignment_repo_list_failed", "error", err)
		return nil, err
	}
	return assignments, nil
}

func (r *overlayAssignmentRepository) Delete(ctx context.Context, nodeID uint) error {
	if err := r.db.WithContext(ctx).Where("node_id = ?", nodeID).Delete(&domain.OverlayAssignment{}).Error; err != nil {
		r.log.Errorw("overlay_assignment_repo_delete_failed", "node_id", nodeID, "error", err)
		return err
	}
	r.log.Infow("overlay_assignment_repo_delete_ok", "node_id", nodeID)
	return nil
}
