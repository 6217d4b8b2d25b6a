package zkproof

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sorag20/Unirep/pkg/unirep"
	"github.com/sorag20/Unirep/pkg/zkproof"
)

// stubBackend records calls and returns canned results.
type stubBackend struct {
	proveErr  error
	verifyErr error
	delay     time.Duration

	running atomic.Int32
	peak    atomic.Int32
}

func (b *stubBackend) Prove(ctx context.Context, id zkproof.CircuitID, _ zkproof.Circuit) (*zkproof.ProofResult, error) {
	n := b.running.Add(1)
	defer b.running.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.proveErr != nil {
		return nil, b.proveErr
	}
	return &zkproof.ProofResult{CircuitID: id, Proof: []byte{1}, PublicSignals: []*big.Int{big.NewInt(1)}}, nil
}

func (b *stubBackend) Verify(context.Context, zkproof.CircuitID, []byte, []*big.Int) error {
	return b.verifyErr
}

func newTestService(t *testing.T, cfg Config, backend zkproof.Backend, reg prometheus.Registerer) *Service {
	t.Helper()
	svc, err := NewService(Params{
		Config:     cfg,
		Protocol:   unirep.DefaultConfig(),
		Backend:    backend,
		Registerer: reg,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return svc
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.ProofTimeout)
	assert.Equal(t, 2, cfg.ProverWorkers)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"disabled ignores values", func(c *Config) { c.Enabled = false; c.ProverWorkers = 0 }, false},
		{"zero timeout", func(c *Config) { c.ProofTimeout = 0 }, true},
		{"no workers", func(c *Config) { c.ProverWorkers = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	svc := newTestService(t, cfg, &stubBackend{}, nil)

	assert.False(t, svc.IsEnabled())
	assert.False(t, svc.Capability().Supported)

	_, err := svc.Prove(context.Background(), zkproof.CircuitSignup, nil)
	assert.ErrorIs(t, err, ErrCircuitNotReady)
	err = svc.Verify(context.Background(), zkproof.CircuitSignup, nil, nil)
	assert.ErrorIs(t, err, ErrCircuitNotReady)
}

func TestService_ProveVerify(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc := newTestService(t, DefaultConfig(), &stubBackend{}, reg)

	res, err := svc.Prove(context.Background(), zkproof.CircuitEpochKey, nil)
	require.NoError(t, err)
	assert.Equal(t, zkproof.CircuitEpochKey, res.CircuitID)

	require.NoError(t, svc.Verify(context.Background(), zkproof.CircuitEpochKey, res.Proof, res.PublicSignals))

	generated, verified, failed := svc.Stats()
	assert.Equal(t, uint64(1), generated)
	assert.Equal(t, uint64(1), verified)
	assert.Equal(t, uint64(0), failed)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		svc.metrics.operations.WithLabelValues(string(zkproof.CircuitEpochKey), opProve, resultOK)))
}

func TestService_Failures(t *testing.T) {
	backend := &stubBackend{
		proveErr:  unirep.ErrVerification,
		verifyErr: unirep.ErrVerification,
	}
	svc := newTestService(t, DefaultConfig(), backend, prometheus.NewRegistry())

	_, err := svc.Prove(context.Background(), zkproof.CircuitReputation, nil)
	assert.ErrorIs(t, err, ErrProofGenerationFailed)
	assert.ErrorIs(t, err, unirep.ErrVerification)

	err = svc.Verify(context.Background(), zkproof.CircuitReputation, nil, nil)
	assert.ErrorIs(t, err, ErrProofVerificationFailed)
	assert.ErrorIs(t, err, unirep.ErrVerification)

	_, _, failed := svc.Stats()
	assert.Equal(t, uint64(2), failed)
}

func TestService_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProofTimeout = 20 * time.Millisecond
	svc := newTestService(t, cfg, &stubBackend{delay: time.Second}, prometheus.NewRegistry())

	_, err := svc.Prove(context.Background(), zkproof.CircuitSignup, nil)
	assert.ErrorIs(t, err, ErrProofTimeout)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		svc.metrics.operations.WithLabelValues(string(zkproof.CircuitSignup), opProve, resultTimeout)))
}

func TestService_BoundsConcurrentProvers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProverWorkers = 2
	backend := &stubBackend{delay: 20 * time.Millisecond}
	svc := newTestService(t, cfg, backend, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Prove(context.Background(), zkproof.CircuitEpochKeyLite, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, backend.peak.Load(), int32(2))
	generated, _, _ := svc.Stats()
	assert.Equal(t, uint64(6), generated)
}

func TestNewService_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	newTestService(t, DefaultConfig(), &stubBackend{}, reg)

	_, err := NewService(Params{
		Config:     DefaultConfig(),
		Protocol:   unirep.DefaultConfig(),
		Backend:    &stubBackend{},
		Registerer: reg,
	})
	assert.Error(t, err)
}
