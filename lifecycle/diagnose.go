package lifecycle

import "context"

// InstanceDiagnosis is one instance's row in a Diagnose report.
type InstanceDiagnosis struct {
	Name       string
	WellFormed bool
	Mounted    bool
	Active     bool
	Booted     bool
}

// Diagnosis is the full read-only state report Diagnose returns.
type Diagnosis struct {
	WorkspaceMarkerPresent bool
	DistExists             bool
	Instances              []InstanceDiagnosis
}

// Diagnose reports workspace marker presence, dist existence, and every
// listed instance's live mounted/active/booted state, without mutating
// anything. Instances come from the registry's listing, which skips
// entries under instances/ whose layers/ subtree is not well-formed, so
// every reported row has WellFormed set and malformed entries are not
// reported at all. WorkspaceMarkerPresent is always true, since the
// controller's workspace was opened, and opening requires the marker.
func (c *Controller) Diagnose(ctx context.Context) (Diagnosis, error) {
	distExists, err := c.ws.DistExists()
	if err != nil {
		return Diagnosis{}, err
	}

	summaries, err := c.reg.List(ctx)
	if err != nil {
		return Diagnosis{}, err
	}

	diag := Diagnosis{
		WorkspaceMarkerPresent: true,
		DistExists:             distExists,
	}
	for _, s := range summaries {
		diag.Instances = append(diag.Instances, InstanceDiagnosis{
			Name:       s.Name,
			WellFormed: true,
			Mounted:    s.Mounted,
			Active:     s.Active,
			Booted:     s.Booted,
		})
	}
	return diag, nil
}
