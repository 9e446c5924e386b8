package strategy

// stageForTurn maps the number of inbound messages seen so far onto the
// stance a persona should have reached.
func stageForTurn(turn int) int {
	switch {
	case turn <= 2:
		return StageSkeptical
	case turn <= 5:
		return StageConcerned
	case turn <= 10:
		return StageInterested
	default:
		return StageTrusting
	}
}

// NextStage decides the stage for this turn. A turn that produced new
// actionable intelligence nudges the persona one step further; the stage
// moves at most one step per turn and never goes back.
func NextStage(current, turn int, newIntel bool) int {
	target := stageForTurn(turn)
	if newIntel {
		target++
	}
	next := current
	if target > current {
		next = current + 1
	}
	return clampStage(next)
}
