package observability

type Metrics interface {
	ObserveLookup(source string, cacheMs, dbMs float64)
	ObserveUpsert(dbWriteMs float64)
	ObserveHTTP(method, route string, status int, durMs float64)
	ObserveWebhook(result string)
	ObserveOrder(outcome string, processMs float64)
	ObservePublish(result string, durMs float64)
	IncTokenRefresh(ok bool)
	IncResolutionMiss()
	IncCacheHit()
	IncCacheMiss()
}

type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) ObserveLookup(string, float64, float64)   {}
func (Noop) ObserveUpsert(float64)                    {}
func (Noop) ObserveHTTP(string, string, int, float64) {}
func (Noop) ObserveWebhook(string)                    {}
func (Noop) ObserveOrder(string, float64)             {}
func (Noop) ObservePublish(string, float64)           {}
func (Noop) IncTokenRefresh(bool)                     {}
func (Noop) IncResolutionMiss()                       {}
func (Noop) IncCacheHit()                             {}
func (Noop) IncCacheMiss()                            {}
