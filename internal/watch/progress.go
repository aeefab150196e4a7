package watch

// Display percentages per pipeline phase. The scoring phase runs long
// with no intermediate checkpoints, so the consumer synthesizes a slow
// climb between scoringFloor and scoringCeil on a tick; the synthetic
// value is discarded as soon as a real status event advances the
// phase.
const (
	scoringFloor = 40
	scoringCeil  = 70
)

var phasePercent = map[string]int{
	"start":      5,
	"vision":     20,
	"scoring":    scoringFloor,
	"comparing":  70,
	"processing": 80,
	"visual":     85,
	"saving":     92,
	"complete":   100,
}

// percentFor maps a phase to its base display percentage.
func percentFor(phase string) int {
	if p, ok := phasePercent[phase]; ok {
		return p
	}
	return 0
}

// interpolate advances the synthetic scoring-phase percentage by one
// step, capped below the next checkpoint.
func interpolate(current int) int {
	if current < scoringFloor {
		return scoringFloor
	}
	if current >= scoringCeil-1 {
		return scoringCeil - 1
	}
	return current + 1
}
