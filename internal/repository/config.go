package repository

import (
	"context"
	"errors"

	"retryflow/internal/model"

	"gorm.io/gorm"
)

// ConfigInterface reads group and scene configuration. Scenes are the only
// rows written here, and only by scene auto-initialisation.
type ConfigInterface interface {
	GetGroup(ctx context.Context, groupName string) (*model.GroupConfig, error)
	ListGroupNames(ctx context.Context) ([]string, error)
	GetScene(ctx context.Context, groupName, sceneName string) (*model.SceneConfig, error)
	CreateScene(ctx context.Context, scene *model.SceneConfig) error
	WithTx(tx *gorm.DB) ConfigInterface
}

type ConfigRepository struct {
	db *gorm.DB
}

func NewConfigRepository(db *gorm.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// GetGroup returns nil, nil when the group is not configured.
func (r *ConfigRepository) GetGroup(ctx context.Context, groupName string) (*model.GroupConfig, error) {
	var group model.GroupConfig
	if err := r.db.WithContext(ctx).Where("group_name = ?", groupName).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

func (r *ConfigRepository) ListGroupNames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&model.GroupConfig{}).
		Where("group_status = 1").
		Order("group_name ASC").
		Pluck("group_name", &names).Error
	return names, err
}

// GetScene returns nil, nil when the scene is not configured.
func (r *ConfigRepository) GetScene(ctx context.Context, groupName, sceneName string) (*model.SceneConfig, error) {
	var scene model.SceneConfig
	err := r.db.WithContext(ctx).
		Where("group_name = ? AND scene_name = ?", groupName, sceneName).
		First(&scene).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &scene, nil
}

func (r *ConfigRepository) CreateScene(ctx context.Context, scene *model.SceneConfig) error {
	return translate(r.db.WithContext(ctx).Create(scene).Error)
}

func (r *ConfigRepository) WithTx(tx *gorm.DB) ConfigInterface {
	return &ConfigRepository{db: tx}
}
