package service

// Auth events passed to Recorder.AuthEvent.
const (
	EventRegister       = "register"
	EventLoginSuccess   = "login_success"
	EventLoginFailure   = "login_failure"
	EventLogout         = "logout"
	EventPasswordChange = "password_change"
)

// Token cache lookup results passed to Recorder.TokenCacheLookup.
const (
	CacheHit       = "hit"
	CacheMiss      = "miss"
	CacheTombstone = "tombstone"
	CacheError     = "error"
)

// Recorder receives business events worth counting. metrics.Collector
// implements it; services default to a no-op so they work without metrics.
type Recorder interface {
	AuthEvent(event string)
	TokenCacheLookup(result string)
}

type nopRecorder struct{}

func (nopRecorder) AuthEvent(string)        {}
func (nopRecorder) TokenCacheLookup(string) {}
