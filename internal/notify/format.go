package notify

import (
	"fmt"

	"github.com/user/killtracker/internal/types"
)

// Kill renders a kill event for chat sinks. Outcomes without a message
// return "".
func Kill(ev types.KillEvent) string {
	p := ev.Payload
	switch ev.Outcome {
	case types.OutcomeKiller:
		return fmt.Sprintf("Kill: %s destroyed %s with %s in %s", p.Player, p.Victim, p.Weapon, p.Zone)
	case types.OutcomeKilled:
		return fmt.Sprintf("Death: %s killed by %s with %s in %s (%s)", p.Victim, p.Killer, p.Weapon, p.Zone, ev.Death)
	case types.OutcomeSuicide:
		return fmt.Sprintf("Suicide: %s in %s", p.Victim, p.Zone)
	}
	return ""
}
