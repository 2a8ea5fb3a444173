package reasoning

import (
	"fmt"

	"github.com/kadirpekel/agentcore/runtimeconfig"
)

// NewStrategy picks the reasoning strategy for a thinking mode. "decision"
// is an alias of Plan-and-Solve: earlier revisions of this engine shipped
// a third, overlapping "decision engine" pipeline that has since been
// folded into Plan-and-Solve rather than kept as a separate mode.
func NewStrategy(mode runtimeconfig.ThinkingMode) (Strategy, error) {
	switch mode {
	case runtimeconfig.ThinkingModeReAct, "":
		return NewReAct(), nil
	case runtimeconfig.ThinkingModePlanSolve, runtimeconfig.ThinkingModeDecision:
		return NewPlanAndSolve(), nil
	default:
		return nil, fmt.Errorf("reasoning: unsupported thinking mode %q", mode)
	}
}
