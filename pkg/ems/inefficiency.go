package ems

// InefficiencyType classifies a detected process deviation. The taxonomy is
// closed; pattern mining groups flags by (workflow, type).
type InefficiencyType string

const (
	// InefficiencyRedundantCoordination is duplicated coordination between agents
	InefficiencyRedundantCoordination InefficiencyType = "REDUNDANT_COORDINATION"
	// InefficiencyInformationGap is information needed but not accessible
	InefficiencyInformationGap InefficiencyType = "INFORMATION_GAP"
	// InefficiencyTimingConstraint is a procedure exceeding its expected duration
	InefficiencyTimingConstraint InefficiencyType = "TIMING_CONSTRAINT"
	// InefficiencyDoctrineContradiction is conflicting doctrinal guidance
	InefficiencyDoctrineContradiction InefficiencyType = "DOCTRINE_CONTRADICTION"
	// InefficiencyAutomationOpportunity is manual work a procedure could absorb
	InefficiencyAutomationOpportunity InefficiencyType = "AUTOMATION_OPPORTUNITY"
	// InefficiencyDeconflictionIssue is a spectrum or asset conflict discovered late
	InefficiencyDeconflictionIssue InefficiencyType = "DECONFLICTION_ISSUE"
	// InefficiencyResourceBottleneck is contention for scarce assets
	InefficiencyResourceBottleneck InefficiencyType = "RESOURCE_BOTTLENECK"
)

// IsValid checks if the inefficiency type is part of the taxonomy
func (t InefficiencyType) IsValid() bool {
	switch t {
	case InefficiencyRedundantCoordination,
		InefficiencyInformationGap,
		InefficiencyTimingConstraint,
		InefficiencyDoctrineContradiction,
		InefficiencyAutomationOpportunity,
		InefficiencyDeconflictionIssue,
		InefficiencyResourceBottleneck:
		return true
	default:
		return false
	}
}

// AllInefficiencyTypes returns the taxonomy in declaration order
func AllInefficiencyTypes() []InefficiencyType {
	return []InefficiencyType{
		InefficiencyRedundantCoordination,
		InefficiencyInformationGap,
		InefficiencyTimingConstraint,
		InefficiencyDoctrineContradiction,
		InefficiencyAutomationOpportunity,
		InefficiencyDeconflictionIssue,
		InefficiencyResourceBottleneck,
	}
}
