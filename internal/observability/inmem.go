package observability

import (
	"strconv"
	"sync"
)

type observe struct {
	Kind   string
	Label  string
	Status int
	Dur    float64
	Extra  float64
}

// Inmem keeps the last max observations plus counters. Used in tests and for
// local debugging.
type Inmem struct {
	mu     sync.Mutex
	last   []*observe
	max    int
	totals struct {
		cacheHits, cacheMiss    int
		resolutionMiss          int
		tokenRefresh, tokenFail int
		outcomes                map[string]int
		webhooks                map[string]int
	}
}

func NewInmem(max int) *Inmem {
	return &Inmem{
		max: max,
	}
}

func (m *Inmem) push(v *observe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = append(m.last, v)
	if len(m.last) > m.max {
		m.last = m.last[1:]
	}
}

func (m *Inmem) ObserveLookup(source string, cacheMs, dbMs float64) {
	m.push(&observe{Kind: "lookup", Label: source, Dur: cacheMs, Extra: dbMs})
}

func (m *Inmem) ObserveUpsert(dbWriteMs float64) {
	m.push(&observe{Kind: "upsert", Dur: dbWriteMs})
}

func (m *Inmem) ObserveHTTP(method, route string, status int, durMs float64) {
	m.push(&observe{Kind: "http", Label: method + " " + route, Status: status, Dur: durMs})
}

func (m *Inmem) ObserveWebhook(result string) {
	m.mu.Lock()
	if m.totals.webhooks == nil {
		m.totals.webhooks = make(map[string]int)
	}
	m.totals.webhooks[result]++
	m.mu.Unlock()
}

func (m *Inmem) ObserveOrder(outcome string, processMs float64) {
	m.mu.Lock()
	if m.totals.outcomes == nil {
		m.totals.outcomes = make(map[string]int)
	}
	m.totals.outcomes[outcome]++
	m.mu.Unlock()
	m.push(&observe{Kind: "order", Label: outcome, Dur: processMs})
}

func (m *Inmem) ObservePublish(result string, durMs float64) {
	m.push(&observe{Kind: "publish", Label: result, Dur: durMs})
}

func (m *Inmem) IncTokenRefresh(ok bool) {
	m.mu.Lock()
	if ok {
		m.totals.tokenRefresh++
	} else {
		m.totals.tokenFail++
	}
	m.mu.Unlock()
}

func (m *Inmem) IncResolutionMiss() {
	m.mu.Lock()
	m.totals.resolutionMiss++
	m.mu.Unlock()
}

func (m *Inmem) IncCacheHit() {
	m.mu.Lock()
	m.totals.cacheHits++
	m.mu.Unlock()
}

func (m *Inmem) IncCacheMiss() {
	m.mu.Lock()
	m.totals.cacheMiss++
	m.mu.Unlock()
}

// Outcomes returns a copy of the per-outcome order counters.
func (m *Inmem) Outcomes() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.totals.outcomes))
	for k, v := range m.totals.outcomes {
		out[k] = v
	}
	return out
}

// Webhooks returns a copy of the per-result webhook counters.
func (m *Inmem) Webhooks() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.totals.webhooks))
	for k, v := range m.totals.webhooks {
		out[k] = v
	}
	return out
}

func (m *Inmem) ResolutionMisses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals.resolutionMiss
}

func (m *Inmem) TokenRefreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals.tokenRefresh
}

func (m *Inmem) CacheStats() (hits, misses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals.cacheHits, m.totals.cacheMiss
}

// Routes lists the "METHOD route status" of the retained HTTP observations.
func (m *Inmem) Routes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, o := range m.last {
		if o.Kind == "http" {
			out = append(out, o.Label+" "+strconv.Itoa(o.Status))
		}
	}
	return out
}
