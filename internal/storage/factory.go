// File: internal/storage/factory.go
package storage

import (
	"fmt"
	"strings"

	"github.com/homehub-io/catalog-sync/internal/metrics"
	"github.com/homehub-io/catalog-sync/pkg/utils"
)

// NewStorage creates a storage instance based on configuration
func NewStorage(config *StorageConfig, metricsManager *metrics.Manager) (Storage, error) {
	if err := ValidateStorageConfig(config); err != nil {
		return nil, err
	}

	switch strings.ToLower(config.Type) {
	case "sqlite":
		return NewSQLiteStorage(config, metricsManager), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(config, metricsManager), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type",
			fmt.Sprintf("storage type '%s' is not supported, use 'sqlite' or 'postgres'", config.Type))
	}
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(config *StorageConfig) error {
	if config == nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage config is nil", "")
	}
	if config.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}
	if config.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}
	return nil
}
