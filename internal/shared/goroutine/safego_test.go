package goroutine

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/orris-inc/sidecar/internal/shared/logger"
	"github.com/orris-inc/sidecar/internal/shared/telemetry"
)

type mockLogger struct {
	mock.Mock
	logger.Interface
}

func (m *mockLogger) Errorw(msg string, keysAndValues ...interface{}) {
	m.Called(msg)
}

func TestGuardRecoversPanic(t *testing.T) {
	log := &mockLogger{}
	log.On("Errorw", "goroutine panicked").Once()

	before := testutil.ToFloat64(telemetry.RecoveredPanics.WithLabelValues("boom"))

	assert.NotPanics(t, Guard(log, "boom", func() { panic("kaboom") }))
	log.AssertExpectations(t)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.RecoveredPanics.WithLabelValues("boom")))
}

func TestSafeGoRunsFn(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false

	SafeGo(logger.NewNop(), "worker", func() {
		defer wg.Done()
		ran = true
	})

	wg.Wait()
	assert.True(t, ran)
}
