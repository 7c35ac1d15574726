package db

import (
	"context"
	"errors"

	"github.com/smite/panel/internal/core/ports"
	"github.com/smite/panel/internal/domain"
	"github.com/smite/panel/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type meshRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMeshRepository(db *gorm.DB, log *logger.Logger) ports.MeshRepository {
	return &meshRepository{db: db, log: log}
}

func (r *meshRepository) Create(ctx context.Context, mesh *domain.WireGuardMesh) error {
	if err := r.db.WithContext(ctx).Create(mesh).Error; err != nil {
		r.log.Errorw("mesh_repo_create_failed", "name", mesh.Name, "error", err)
		return err
	}
	r.log.Infow("mesh_repo_create_ok", "id", mesh.ID, "name", mesh.Name)
	return nil
}

func (r *meshRepository) GetByID(ctx context.Context, id uint) (*domain.WireGuardMesh, error) {
	var mesh domain.WireGuardMesh
	if err := r.db.WithContext(ctx).First(&mesh, id).Error; err != nil {
		r.log.Errorw("mesh_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &mesh, nil
}

func (r *meshRepository) GetAll(ctx context.Context) ([]domain.WireGuardMesh, error) {
	var meshes []domain.WireGuardMesh
	if err := r.db.WithContext(ctx).Find(&meshes).Error; err != nil {
		r.log.Errorw("mesh_repo_list_failed", "error", err)
		return nil, err
	}
	r.log.Infow("mesh_repo_list_ok", "count", len(meshes))
	return meshes, nil
}

func (r *meshRepository) Update(ctx context.Context, mesh *domain.WireGuardMesh) error {
	if err := r.db.WithContext(ctx).Save(mesh).Error; err != nil {
		r.log.Errorw("mesh_repo_update_failed", "id", mesh.ID, "error", err)
		return err
	}
	r.log.Infow("mesh_repo_update_ok", "id", mesh.ID)
	return nil
}

func (r *meshRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&domain.WireGuardMesh{}, id).Error; err != nil {
		r.log.Errorw("mesh_repo_delete_failed", "id", id, "error", err)
		return err
	}
	r.log.Infow("mesh_repo_delete_ok", "id", id)
	return nil
}

type coreResetConfigRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCoreResetConfigRepository(db *gorm.DB, log *logger.Logger) ports.CoreResetConfigRepository {
	return &coreResetConfigRepository{db: db, log: log}
}

func (r *coreResetConfigRepository) GetByCore(ctx context.Context, core string) (*domain.CoreResetConfig, error) {
	var cfg domain.CoreResetConfig
	if err := r.db.WithContext(ctx).Where("core = ?", core).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorw("reset_config_repo_get_failed", "core", core, "error", err)
		return nil, err
	}
	return &cfg, nil
}

func (r *coreResetConfigRepository) GetAll(ctx context.Context) ([]domain.CoreResetConfig, error) {
	var cfgs []domain.CoreResetConfig
	if err := r.db.WithContext(ctx).Find(&cfgs).Error; err != nil {
		r.log.Errorw("reset_config_repo_list_failed", "error", err)
		return nil, err
	}
	return cfgs, nil
}

func (r *coreResetConfigRepository) Upsert(ctx context.Context, cfg *domain.CoreResetConfig) error {
	var existing domain.CoreResetConfig
	err := r.db.WithContext(ctx).Where("core = ?", cfg.Core).First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := r.db.WithContext(ctx).Create(cfg).Error; err != nil {
				r.log.Errorw("reset_config_repo_create_failed", "core", cfg.Core, "error", err)
				return err
			}
			r.log.Infow("reset_config_repo_create_ok", "core", cfg.Core)
			return nil
		}
		r.log.Errorw("reset_config_repo_get_for_upsert_failed", "core", cfg.Core, "error", err)
		return err
	}
	existing.Enabled = cfg.Enabled
	existing.IntervalMinutes = cfg.IntervalMinutes
	existing.LastReset = cfg.LastReset
	existing.NextReset = cfg.NextReset
	if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
		r.log.Errorw("reset_config_repo_update_failed", "core", cfg.Core, "error", err)
		return err
	}
	*cfg = existing
	r.log.Infow("reset_config_repo_update_ok", "core", cfg.Core)
	return nil
}
