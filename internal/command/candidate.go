package command

import "github.com/mattjoyce/hostbridge/internal/host"

// CandidatesSymbol is the symbol every command module exports. It must be a
// CandidatesFunc or a *[]Candidate.
const CandidatesSymbol = "Candidates"

// CandidatesFunc enumerates the command types a module exposes, in order.
type CandidatesFunc = func() []Candidate

// InitializableCommand is a command built without arguments and handed the host
// through Initialize.
type InitializableCommand interface {
	Command
	Initializer
}

// Strategy is how the loader builds a candidate.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyInitializable
	StrategyHost
	StrategyPlain
)

func (s Strategy) String() string {
	switch s {
	case StrategyInitializable:
		return "initializable"
	case StrategyHost:
		return "host"
	case StrategyPlain:
		return "plain"
	default:
		return "none"
	}
}

// Candidate describes one command type exposed by a module. The constructor
// fields declare the type's shape; exactly the one chosen by Strategy is called.
type Candidate struct {
	Type             string
	NewInitializable func() (InitializableCommand, error)
	NewWithHost      func(host.Application) (Command, error)
	New              func() (Command, error)
}

// Strategy picks the constructor in priority order: NewInitializable, then
// NewWithHost, then New. StrategyNone marks an abstract candidate.
func (c Candidate) Strategy() Strategy {
	switch {
	case c.NewInitializable != nil:
		return StrategyInitializable
	case c.NewWithHost != nil:
		return StrategyHost
	case c.New != nil:
		return StrategyPlain
	default:
		return StrategyNone
	}
}

// Instantiable reports whether the candidate has at least one constructor.
func (c Candidate) Instantiable() bool {
	return c.Strategy() != StrategyNone
}
