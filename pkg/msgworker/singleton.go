package msgworker

import (
	"context"
	"sync"

	"github.com/AzielCF/az-desk/config"
	"github.com/sirupsen/logrus"
)

var (
	globalPool     *DeliveryWorkerPool
	globalPoolOnce sync.Once
	globalPoolCtx  context.Context
	globalCancel   context.CancelFunc
)

// GetGlobalPool returns the singleton delivery worker pool
func GetGlobalPool() *DeliveryWorkerPool {
	globalPoolOnce.Do(func() {
		globalPoolCtx, globalCancel = context.WithCancel(context.Background())

		size := config.DeliveryPoolSize
		if size <= 0 {
			size = 6
		}

		queue := config.DeliveryQueueSize
		if queue <= 0 {
			queue = 250
		}

		globalPool = NewDeliveryWorkerPool(size, queue)
		globalPool.Start(globalPoolCtx)
		logrus.Infof("[DELIVERY_POOL] Global instance started with %d workers and queue size %d", size, queue)
	})
	return globalPool
}

// StopGlobalPool stops the singleton pool
func StopGlobalPool() {
	if globalCancel != nil {
		globalCancel()
	}
	if globalPool != nil {
		globalPool.Stop()
	}
}

// GetGlobalStats returns stats from the global pool
func GetGlobalStats() PoolStats {
	return GetGlobalPool().GetStats()
}
