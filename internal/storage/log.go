package storage

import "rate-limit-engine/internal/domain"

// logStorageOperation registra operações de storage
func logStorageOperation(logger domain.Logger, store, operation, key string, success bool, latency float64, err error) {
	if logger == nil {
		return
	}

	fields := map[string]interface{}{
		"store":     store,
		"operation": operation,
		"key":       key,
		"latency":   latency,
	}

	if success {
		logger.Debug("Storage operation completed", fields)
	} else {
		logger.Error("Storage operation failed", err, fields)
	}
}
