package session

// Metrics receives session observability signals. The prometheus collector
// in internal/infrastructure/monitoring implements it; tests and minimal
// wiring use Nop.
type Metrics interface {
	StateChanged(role, state string)
	ViewerCount(n int)
	Reconnected()
	HeartShown()
	HeartExpired()
	CommentReceived()
	TrackAttached()
}

type nopMetrics struct{}

func (nopMetrics) StateChanged(string, string) {}
func (nopMetrics) ViewerCount(int)             {}
func (nopMetrics) Reconnected()                {}
func (nopMetrics) HeartShown()                 {}
func (nopMetrics) HeartExpired()               {}
func (nopMetrics) CommentReceived()            {}
func (nopMetrics) TrackAttached()              {}

// Nop is a Metrics implementation that discards everything.
var Nop Metrics = nopMetrics{}
