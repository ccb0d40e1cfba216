package world

import "errors"

var (
	// ErrStructuralChangeDuringTick is returned by structural calls made while
	// the graph executes. Systems use Defer or QueueDestroy instead.
	ErrStructuralChangeDuringTick = errors.New("structural change during tick")
	ErrNegativeDelta              = errors.New("negative frame delta")
)
