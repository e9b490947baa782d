package resolver

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"linkfetch/internal"
	"linkfetch/utils"
)

func testLogger() *internal.SecureLogger {
	return internal.NewSecureLogger(io.Discard, internal.LogLevelDebug, false, false)
}

// countingSessions records how many sessions adapters asked for
type countingSessions struct {
	inner *utils.SessionFactory
	n     atomic.Int64
}

func (c *countingSessions) NewSession() (*utils.Session, error) {
	c.n.Add(1)
	return c.inner.NewSession()
}

func (c *countingSessions) Count() int64 {
	return c.n.Load()
}

func newSessions(t *testing.T, timeout time.Duration) *countingSessions {
	t.Helper()
	factory, err := utils.NewSessionFactory(utils.SessionConfig{
		Timeout: timeout,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("NewSessionFactory: %v", err)
	}
	return &countingSessions{inner: factory}
}
