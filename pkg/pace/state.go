package pace

import "fmt"

// Step identifies one command of the PACE exchange.
type Step uint8

const (
	StepNone Step = iota
	StepSetAT
	StepEncryptedNonce
	StepMapNonce
	StepKeyAgreement
	StepMutualAuthentication
)

func (s Step) String() string {
	switch s {
	case StepNone:
		return "None"
	case StepSetAT:
		return "MSE:Set AT"
	case StepEncryptedNonce:
		return "GA Encrypted Nonce"
	case StepMapNonce:
		return "GA Map Nonce"
	case StepKeyAgreement:
		return "GA Key Agreement"
	case StepMutualAuthentication:
		return "GA Mutual Authentication"
	default:
		return fmt.Sprintf("Step(%d)", uint8(s))
	}
}

// State is the engine's position in the protocol.
type State uint8

const (
	StateInit State = iota
	StateTemplateSet
	StateNonceRequested
	StateNonceMapped
	StateKeyAgreed
	StateMutuallyAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateTemplateSet:
		return "TemplateSet"
	case StateNonceRequested:
		return "NonceRequested"
	case StateNonceMapped:
		return "NonceMapped"
	case StateKeyAgreed:
		return "KeyAgreed"
	case StateMutuallyAuthenticated:
		return "MutuallyAuthenticated"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// state reached after a step completes
func (s Step) state() State {
	switch s {
	case StepSetAT:
		return StateTemplateSet
	case StepEncryptedNonce:
		return StateNonceRequested
	case StepMapNonce:
		return StateNonceMapped
	case StepKeyAgreement:
		return StateKeyAgreed
	case StepMutualAuthentication:
		return StateMutuallyAuthenticated
	default:
		return StateInit
	}
}
