package core

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Stage is the sale's lifecycle position. There is exactly one
// process-wide value per sale; every public operation declares the
// stages it is valid in.
type Stage uint8

const (
	StagePreOpen Stage = iota
	StageCommitment
	StageClosed
	StageCancellation
	StageSettlement
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StagePreOpen:
		return "pre_open"
	case StageCommitment:
		return "commitment"
	case StageClosed:
		return "closed"
	case StageCancellation:
		return "cancellation"
	case StageSettlement:
		return "settlement"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// ParseStage maps a wire name back to a Stage.
func ParseStage(name string) (Stage, error) {
	for _, st := range []Stage{StagePreOpen, StageCommitment, StageClosed, StageCancellation, StageSettlement, StageDone} {
		if st.String() == name {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// stageTransitions lists the orderly moves. Closed may reopen to
// Commitment until one of the Closed branches has been taken, after
// which reopening is disallowed.
var stageTransitions = map[Stage][]Stage{
	StagePreOpen:      {StageCommitment},
	StageCommitment:   {StageClosed},
	StageClosed:       {StageCommitment, StageCancellation, StageSettlement},
	StageCancellation: {StageSettlement},
	StageSettlement:   {StageDone},
}

// StageTransition is one entry of the sale's stage audit log.
type StageTransition struct {
	From   Stage
	To     Stage
	Actor  common.Address
	Forced bool
	At     time.Time
}

// Stage returns the sale's current lifecycle stage.
func (s *Sale) Stage() Stage { return s.stage }

// StageLog returns a copy of the stage audit trail, oldest first.
func (s *Sale) StageLog() []StageTransition {
	out := make([]StageTransition, len(s.stageLog))
	copy(out, s.stageLog)
	return out
}

// AdvanceStage moves the sale to next along an allowed transition.
// Requires the manage-stages capability.
func (s *Sale) AdvanceStage(caller common.Address, next Stage) error {
	if err := s.access.Require(caller, CapabilityManageStages); err != nil {
		return err
	}
	allowed := stageTransitions[s.stage]
	ok := false
	for _, st := range allowed {
		if st == next {
			ok = true
			break
		}
	}
	if ok && s.branched && s.stage == StageClosed && next == StageCommitment {
		// Reopening is off the table once Cancellation or Settlement
		// has ever been entered.
		ok = false
	}
	if !ok {
		return &InvalidStageError{Current: s.stage, Allowed: allowed}
	}
	s.recordTransition(caller, next, false)
	return nil
}

// ForceStage sets an arbitrary stage, bypassing transition ordering.
// Incident-recovery escape hatch; requires the force-stage capability
// and always lands in the audit log.
func (s *Sale) ForceStage(caller common.Address, next Stage) error {
	if err := s.access.Require(caller, CapabilityForceStage); err != nil {
		return err
	}
	s.recordTransition(caller, next, true)
	return nil
}

func (s *Sale) recordTransition(actor common.Address, next Stage, forced bool) {
	if next == StageCancellation || next == StageSettlement {
		s.branched = true
	}
	s.stageLog = append(s.stageLog, StageTransition{
		From:   s.stage,
		To:     next,
		Actor:  actor,
		Forced: forced,
		At:     s.clock.Now(),
	})
	s.stage = next
}

// requireStage gates an operation on the sale being in one of the given
// stages.
func (s *Sale) requireStage(allowed ...Stage) error {
	for _, st := range allowed {
		if s.stage == st {
			return nil
		}
	}
	return &InvalidStageError{Current: s.stage, Allowed: allowed}
}
