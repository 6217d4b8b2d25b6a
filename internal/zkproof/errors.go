// Package zkproof wraps the circuit backend in a service with a bounded
// prover pool, per-call timeouts, metrics and a capability descriptor.
package zkproof

// ZKError is a categorized failure of the proof service. The string form is
// stable and suitable for logs and metric labels.
type ZKError string

const (
	// ErrProofGenerationFailed indicates the backend could not produce a
	// proof, usually because the assignment does not satisfy the circuit.
	ErrProofGenerationFailed ZKError = "proof_generation_failed"

	// ErrProofVerificationFailed indicates a proof did not verify against
	// its public signals.
	ErrProofVerificationFailed ZKError = "proof_verification_failed"

	// ErrIncompatibleSystem indicates a different proof system or different
	// protocol parameters on the other side.
	ErrIncompatibleSystem ZKError = "incompatible_proof_system"

	// ErrProofTimeout indicates an operation exceeded the configured timeout.
	ErrProofTimeout ZKError = "proof_timeout"

	// ErrCircuitNotReady indicates the service is disabled or the circuit
	// is not among the configured ones.
	ErrCircuitNotReady ZKError = "circuit_not_compiled"
)

func (e ZKError) Error() string {
	return string(e)
}
