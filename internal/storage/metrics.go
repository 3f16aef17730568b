package storage

import "expvar"

// ensureCounter возвращает счётчик expvar, создавая его при первом обращении
func ensureCounter(name string) *expvar.Int {
	if v, ok := expvar.Get(name).(*expvar.Int); ok {
		return v
	}
	return expvar.NewInt(name)
}
