package zkproof

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sorag20/Unirep/pkg/unirep"
	"github.com/sorag20/Unirep/pkg/zkproof"
)

// Config contains configuration for the proof service.
type Config struct {
	// Enabled determines whether proofs can be generated and verified at all.
	Enabled bool

	// ProofTimeout bounds a single prove or verify call.
	ProofTimeout time.Duration

	// ProverWorkers is the number of proofs generated concurrently. Further
	// callers wait for a free worker or for their context to end.
	ProverWorkers int

	// Precompile lists circuits compiled when the service starts. Other
	// circuits are compiled on first use.
	Precompile []zkproof.CircuitID
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		ProofTimeout:  2 * time.Minute,
		ProverWorkers: 2,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ProofTimeout <= 0 {
		return fmt.Errorf("zkproof: proof_timeout must be positive")
	}
	if c.ProverWorkers <= 0 {
		return fmt.Errorf("zkproof: prover_workers must be positive")
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c Config) String() string {
	if !c.Enabled {
		return "zkproof.Config{Enabled: false}"
	}
	return fmt.Sprintf("zkproof.Config{Enabled: true, Workers: %d, Timeout: %v, Precompile: %v}",
		c.ProverWorkers, c.ProofTimeout, c.Precompile)
}

// Params are the dependencies of a Service.
type Params struct {
	Config   Config
	Protocol unirep.Config

	// Backend defaults to a PLONK backend for Protocol.
	Backend zkproof.Backend

	// Registerer receives the service metrics. Nil disables registration.
	Registerer prometheus.Registerer

	Logger *zap.Logger
}

// Service proves and verifies circuits with a bounded worker pool. It
// implements zkproof.Backend and is safe for concurrent use.
type Service struct {
	config   Config
	protocol unirep.Config
	backend  zkproof.Backend
	workers  chan struct{}
	metrics  *metrics
	log      *zap.Logger

	proofsGenerated atomic.Uint64
	proofsVerified  atomic.Uint64
	proofsFailed    atomic.Uint64
}

var _ zkproof.Backend = (*Service)(nil)

// NewService creates a proof service. When the config is disabled the
// service exists but every operation fails with ErrCircuitNotReady.
func NewService(p Params) (*Service, error) {
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	if err := p.Protocol.Validate(); err != nil {
		return nil, err
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m, err := newMetrics(p.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	backend := p.Backend
	if backend == nil {
		backend = zkproof.NewPlonkBackend(p.Protocol)
	}

	svc := &Service{
		config:   p.Config,
		protocol: p.Protocol,
		backend:  backend,
		metrics:  m,
		log:      log.Named("zkproof"),
	}
	if !p.Config.Enabled {
		return svc, nil
	}
	svc.workers = make(chan struct{}, p.Config.ProverWorkers)

	for _, id := range p.Config.Precompile {
		start := time.Now()
		if _, err := zkproof.GetCompiledCircuit(p.Protocol, id); err != nil {
			return nil, fmt.Errorf("precompile %s: %w", id, err)
		}
		svc.log.Info("circuit compiled",
			zap.String("circuit", string(id)),
			zap.Duration("elapsed", time.Since(start)))
	}
	return svc, nil
}

// IsEnabled reports whether the service accepts proof operations.
func (s *Service) IsEnabled() bool {
	return s.config.Enabled
}

// Config returns a copy of the service configuration.
func (s *Service) Config() Config {
	return s.config
}

// Capability describes this service to remote callers.
func (s *Service) Capability() *Capability {
	return NewCapability(s.protocol, s.config.Enabled)
}

// Prove generates a proof, waiting for a free worker first.
func (s *Service) Prove(ctx context.Context, id zkproof.CircuitID, assignment zkproof.Circuit) (*zkproof.ProofResult, error) {
	if !s.config.Enabled {
		return nil, ErrCircuitNotReady
	}
	reqID := uuid.NewString()
	log := s.log.With(zap.String("request_id", reqID), zap.String("circuit", string(id)))

	ctx, cancel := context.WithTimeout(ctx, s.config.ProofTimeout)
	defer cancel()

	select {
	case s.workers <- struct{}{}:
	case <-ctx.Done():
		s.record(id, opProve, ctx.Err())
		return nil, s.wrap(ctx.Err(), ErrProofGenerationFailed)
	}
	defer func() { <-s.workers }()

	s.metrics.inflight.Inc()
	defer s.metrics.inflight.Dec()

	start := time.Now()
	res, err := s.backend.Prove(ctx, id, assignment)
	s.metrics.duration.WithLabelValues(string(id), opProve).Observe(time.Since(start).Seconds())
	s.record(id, opProve, err)
	if err != nil {
		log.Warn("proof generation failed", zap.Error(err))
		return nil, s.wrap(err, ErrProofGenerationFailed)
	}

	s.proofsGenerated.Add(1)
	log.Debug("proof generated",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("signals", len(res.PublicSignals)))
	return res, nil
}

// Verify checks a proof against its public signals.
func (s *Service) Verify(ctx context.Context, id zkproof.CircuitID, proof []byte, signals []*big.Int) error {
	if !s.config.Enabled {
		return ErrCircuitNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ProofTimeout)
	defer cancel()

	start := time.Now()
	err := s.backend.Verify(ctx, id, proof, signals)
	s.metrics.duration.WithLabelValues(string(id), opVerify).Observe(time.Since(start).Seconds())
	s.record(id, opVerify, err)
	if err != nil {
		s.log.Debug("proof rejected", zap.String("circuit", string(id)), zap.Error(err))
		return s.wrap(err, ErrProofVerificationFailed)
	}
	s.proofsVerified.Add(1)
	return nil
}

// Stats returns the operation counters since the service started.
func (s *Service) Stats() (generated, verified, failed uint64) {
	return s.proofsGenerated.Load(), s.proofsVerified.Load(), s.proofsFailed.Load()
}

func (s *Service) record(id zkproof.CircuitID, op string, err error) {
	result := resultOK
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result = resultTimeout
	default:
		result = resultFailed
	}
	if err != nil {
		s.proofsFailed.Add(1)
	}
	s.metrics.operations.WithLabelValues(string(id), op, result).Inc()
}

// wrap tags err with a service category while keeping the cause visible to
// errors.Is.
func (s *Service) wrap(err error, kind ZKError) error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrProofTimeout
	}
	return fmt.Errorf("%w: %w", kind, err)
}
