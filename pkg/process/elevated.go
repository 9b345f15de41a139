package process

import "context"

// Elevated runs every command through a privilege helper such as sudo or doas.
type Elevated struct {
	Runner Runner
	Helper string
}

// NewElevated wraps runner. An empty helper runs commands unchanged.
func NewElevated(runner Runner, helper string) Runner {
	if helper == "" {
		return runner
	}
	return &Elevated{Runner: runner, Helper: helper}
}

func (e *Elevated) Run(ctx context.Context, name string, args []string, onLine LineFunc) (*Result, error) {
	full := make([]string, 0, len(args)+1)
	full = append(full, name)
	full = append(full, args...)
	return e.Runner.Run(ctx, e.Helper, full, onLine)
}
