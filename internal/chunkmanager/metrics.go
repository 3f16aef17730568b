package chunkmanager

import "expvar"

var (
	chunksLoaded      = ensureCounter("chunks_loaded")
	chunksGenerated   = ensureCounter("chunks_generated")
	chunksRegenerated = ensureCounter("chunks_regenerated")
	chunksSaved       = ensureCounter("chunks_saved")
	chunksEvicted     = ensureCounter("chunks_evicted")
	chunkSaveErrors   = ensureCounter("chunk_save_errors")
)

// ensureCounter возвращает счётчик expvar, создавая его при первом обращении
func ensureCounter(name string) *expvar.Int {
	if v, ok := expvar.Get(name).(*expvar.Int); ok {
		return v
	}
	return expvar.NewInt(name)
}
