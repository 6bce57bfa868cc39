package models

// These structs define the JSON payloads for the trigger front door's HTTP
// surface: manual starts and the status endpoint.

// StartRequest is the body of a manual/administrative invocation.
type StartRequest struct {
	Container string `json:"container"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
}

// StageStatusView is one StageRecord as exposed to operators.
type StageStatusView struct {
	Name      string      `json:"name"`
	Status    StageStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"lastError,omitempty"`
}

// InstanceStatusResponse is the observable state of one instance.
type InstanceStatusResponse struct {
	Key           string            `json:"key"`
	Route         ProcessingRoute   `json:"route"`
	Status        InstanceStatus    `json:"status"`
	Stages        []StageStatusView `json:"stages"`
	FinalArtifact *Artifact         `json:"finalArtifact,omitempty"`
	ErrorDetails  string            `json:"errorDetails,omitempty"`
	StatusURL     string            `json:"statusUrl,omitempty"`
}

// StatusResponse converts an instance into its operator-facing view.
func StatusResponse(inst *OrchestrationInstance, statusURL string) InstanceStatusResponse {
	views := make([]StageStatusView, len(inst.Stages))
	for i, rec := range inst.Stages {
		views[i] = StageStatusView{
			Name:      rec.Name,
			Status:    rec.Status,
			Attempts:  rec.Attempts,
			LastError: rec.LastError,
		}
	}
	return InstanceStatusResponse{
		Key:           inst.Key,
		Route:         inst.Route,
		Status:        inst.Status,
		Stages:        views,
		FinalArtifact: inst.FinalArtifact,
		ErrorDetails:  inst.ErrorDetails,
		StatusURL:     statusURL,
	}
}
