package application

import "marsctl/internal/domain"

// Recorder observes what the client does, for metrics.
type Recorder interface {
	Login(gen domain.Generation, err error)
	Fallback(from, to domain.Generation)
	Discovery(gen domain.Generation, devices int)
	Command(outcome domain.Outcome)
}

type NoopRecorder struct{}

func (NoopRecorder) Login(_ domain.Generation, _ error)   {}
func (NoopRecorder) Fallback(_, _ domain.Generation)      {}
func (NoopRecorder) Discovery(_ domain.Generation, _ int) {}
func (NoopRecorder) Command(_ domain.Outcome)             {}
