package msgworker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test 1: Pool debe despachar entregas sin bloquear el caller
func TestPool_DispatchNonBlocking(t *testing.T) {
	pool := NewDeliveryWorkerPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	start := time.Now()
	// Despachar debe retornar inmediatamente aunque la entrega tarde
	pool.Dispatch(DeliveryJob{
		ChannelID: "webchat",
		SessionID: "s-123",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	elapsed := time.Since(start)

	// Debe retornar en menos de 10ms (no bloqueante)
	assert.Less(t, elapsed, 10*time.Millisecond, "Dispatch debe ser no bloqueante")
}

// Test 2: Entregas de la misma sesión deben procesarse secuencialmente (orden garantizado)
func TestPool_SameSessionSequentialProcessing(t *testing.T) {
	pool := NewDeliveryWorkerPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var results []int
	var mu sync.Mutex

	channelID := "webchat"
	sessionID := "s-1"

	// Enviamos 5 entregas de la misma sesión
	for i := 1; i <= 5; i++ {
		val := i
		pool.Dispatch(DeliveryJob{
			ChannelID: channelID,
			SessionID: sessionID,
			Handler: func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond) // Simula envío
				mu.Lock()
				results = append(results, val)
				mu.Unlock()
				return nil
			},
		})
	}

	// Esperar a que todas las entregas se procesen
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	// Deben procesarse en orden: 1, 2, 3, 4, 5
	require.Equal(t, []int{1, 2, 3, 4, 5}, results, "Entregas de la misma sesión deben procesarse en orden")
}

// Test 3: Entregas de distintas sesiones pueden procesarse en paralelo (fairness)
func TestPool_DifferentSessionsParallelProcessing(t *testing.T) {
	pool := NewDeliveryWorkerPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var activeCount int32

	// Enviamos entregas de 4 sesiones diferentes
	for i := 0; i < 4; i++ {
		sessionID := string(rune('A' + i))
		pool.Dispatch(DeliveryJob{
			ChannelID: "webchat",
			SessionID: sessionID,
			Handler: func(ctx context.Context) error {
				atomic.AddInt32(&activeCount, 1)
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&activeCount, -1)
				return nil
			},
		})
	}

	// Esperar un poco para que arranquen los workers
	time.Sleep(10 * time.Millisecond)

	// Debería haber al menos 2 entregas activas simultáneamente (paralelismo)
	active := atomic.LoadInt32(&activeCount)
	assert.GreaterOrEqual(t, active, int32(2), "Distintas sesiones deben procesarse en paralelo")
}

// Test 4: Respetar límite de concurrencia (max workers)
func TestPool_RespectsMaxWorkers(t *testing.T) {
	maxWorkers := 3
	pool := NewDeliveryWorkerPool(maxWorkers, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var activeCount int32
	var maxActive int32

	// Enviamos 10 entregas de distintas sesiones
	for i := 0; i < 10; i++ {
		sessionID := string(rune('A' + i))
		pool.Dispatch(DeliveryJob{
			ChannelID: "webchat",
			SessionID: sessionID,
			Handler: func(ctx context.Context) error {
				current := atomic.AddInt32(&activeCount, 1)
				// Actualizar el máximo alcanzado
				for {
					max := atomic.LoadInt32(&maxActive)
					if current <= max || atomic.CompareAndSwapInt32(&maxActive, max, current) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				atomic.AddInt32(&activeCount, -1)
				return nil
			},
		})
	}

	// Esperar a que terminen todas
	time.Sleep(200 * time.Millisecond)

	max := atomic.LoadInt32(&maxActive)
	assert.LessOrEqual(t, max, int32(maxWorkers), "No debe exceder el límite de workers")
}

// Test 5: Graceful shutdown debe completar entregas en curso
func TestPool_GracefulShutdown(t *testing.T) {
	pool := NewDeliveryWorkerPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())

	pool.Start(ctx)

	var completed int32

	// Enviamos 2 entregas que tardan
	for i := 0; i < 2; i++ {
		pool.Dispatch(DeliveryJob{
			ChannelID: "webchat",
			SessionID: string(rune('A' + i)),
			Handler: func(ctx context.Context) error {
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&completed, 1)
				return nil
			},
		})
	}

	time.Sleep(10 * time.Millisecond) // Dejar que arranquen

	// Cancelar contexto (graceful shutdown)
	cancel()
	pool.Stop()

	// Las entregas en curso deben completarse
	completedCount := atomic.LoadInt32(&completed)
	assert.Equal(t, int32(2), completedCount, "Entregas en curso deben completarse en shutdown")
}

// Test 6: Hash consistente - misma sesión siempre al mismo worker
func TestPool_ConsistentHashing(t *testing.T) {
	pool := NewDeliveryWorkerPool(4, 100)

	channelID := "webchat"
	sessionID := "s-123"

	// Llamar varias veces con la misma sesión
	shard1 := pool.shardForSession(channelID, sessionID)
	shard2 := pool.shardForSession(channelID, sessionID)
	shard3 := pool.shardForSession(channelID, sessionID)

	assert.Equal(t, shard1, shard2, "Misma sesión debe ir al mismo shard")
	assert.Equal(t, shard2, shard3, "Misma sesión debe ir al mismo shard")

	// Verificar que está en rango válido
	assert.GreaterOrEqual(t, shard1, 0)
	assert.Less(t, shard1, 4)
}

// Test 7: Distribución uniforme de sesiones entre workers
func TestPool_FairDistribution(t *testing.T) {
	numWorkers := 4
	pool := NewDeliveryWorkerPool(numWorkers, 100)

	shardCounts := make(map[int]int)

	// Simular 100 sesiones diferentes
	for i := 0; i < 100; i++ {
		sessionID := fmt.Sprintf("s-%d", i)
		shard := pool.shardForSession("webchat", sessionID)
		shardCounts[shard]++
	}

	// Cada worker debería recibir ~25 sesiones (con margen de error)
	for shard, count := range shardCounts {
		assert.Greater(t, count, 15, "Worker %d debería recibir >15 sesiones", shard)
		assert.Less(t, count, 35, "Worker %d debería recibir <35 sesiones", shard)
	}
}

// Test 8: TryDispatch reporta descarte cuando la cola está llena
func TestPool_TryDispatchBackpressure(t *testing.T) {
	pool := NewDeliveryWorkerPool(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	block := make(chan struct{})
	slow := func(ctx context.Context) error {
		<-block
		return nil
	}

	// Primera entrega ocupa el worker, segunda llena la cola
	require.True(t, pool.TryDispatch(DeliveryJob{ChannelID: "c", SessionID: "s", Handler: slow}))
	time.Sleep(10 * time.Millisecond)
	require.True(t, pool.TryDispatch(DeliveryJob{ChannelID: "c", SessionID: "s", Handler: slow}))

	// La tercera no cabe: debe descartarse sin bloquear
	ok := pool.TryDispatch(DeliveryJob{ChannelID: "c", SessionID: "s", Handler: slow})
	assert.False(t, ok, "cola llena debe descartar, no bloquear")

	close(block)
	time.Sleep(50 * time.Millisecond)

	stats := pool.GetStats()
	assert.Equal(t, int64(1), stats.TotalDropped)
}
