package authz

import (
	"context"
	"fmt"

	"github.com/aether-os/aether/pkg/ems"
)

// AuthorizeFrequencyAllocation authorizes allocating the given band for a
// user. Emergency reallocations route through the stricter emergency action.
func (e *Engine) AuthorizeFrequencyAllocation(ctx context.Context, agentID string, freqMinMHz, freqMaxMHz float64, user string, emergency bool, actionCtx map[string]any) Decision {
	name := "allocate_frequency"
	if emergency {
		name = "emergency_reallocation"
	}
	return e.Authorize(ctx, agentID, Action{
		Name:        name,
		Description: fmt.Sprintf("allocate %.1f-%.1f MHz to %s", freqMinMHz, freqMaxMHz, user),
		Categories:  []ems.InformationCategory{ems.CategorySpectrumAllocation},
		Context:     actionCtx,
	})
}

// AuthorizeAssetAssignment authorizes assigning an EMS asset to a mission.
func (e *Engine) AuthorizeAssetAssignment(ctx context.Context, agentID, assetID, missionID string) Decision {
	return e.Authorize(ctx, agentID, Action{
		Name:        "assign_ems_asset",
		Description: fmt.Sprintf("assign asset %s to mission %s", assetID, missionID),
		Categories:  []ems.InformationCategory{ems.CategoryAssetStatus, ems.CategoryMissionPlan},
	})
}
