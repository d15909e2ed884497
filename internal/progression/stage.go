package progression

// Stage is a backlog stage of a project.
type Stage string

const (
	StageBusinessInnovation Stage = "business_innovation"
	StageEngineering        Stage = "engineering"
	StageOutcomesAdoption   Stage = "outcomes_adoption"
	// StageCompleted is never stored in a project's backlog; reaching it
	// flips the project's status instead.
	StageCompleted Stage = "completed"
)

// Stages lists the working stages in order.
var Stages = []Stage{StageBusinessInnovation, StageEngineering, StageOutcomesAdoption}

var nextStage = map[Stage]Stage{
	StageBusinessInnovation: StageEngineering,
	StageEngineering:        StageOutcomesAdoption,
	StageOutcomesAdoption:   StageCompleted,
}

// Next returns the stage that follows s. ok is false for completed and for
// values outside the sequence.
func (s Stage) Next() (Stage, bool) {
	next, ok := nextStage[s]
	return next, ok
}

// Previous returns the stage before s, or "" for the first stage.
func (s Stage) Previous() Stage {
	for from, to := range nextStage {
		if to == s {
			return from
		}
	}
	return ""
}

// Valid reports whether s is one of the working stages.
func (s Stage) Valid() bool {
	_, ok := nextStage[s]
	return ok
}

func (s Stage) Terminal() bool {
	return s == StageCompleted
}

// Label is the display name used in reports and notifications.
func (s Stage) Label() string {
	switch s {
	case StageBusinessInnovation:
		return "Business Innovation"
	case StageEngineering:
		return "Engineering"
	case StageOutcomesAdoption:
		return "Outcomes & Adoption"
	case StageCompleted:
		return "Completed"
	default:
		return string(s)
	}
}
