package domain

import "time"

// Status is the lifecycle state of a deployment.
type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusDeployed Status = "deployed"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusDeployed || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBuilding, StatusDeployed, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a deployment may move from one status to another.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusBuilding
	case StatusBuilding:
		return to == StatusDeployed || to == StatusFailed
	default:
		return false
	}
}

// SourcesFor returns the statuses a deployment may hold before moving to the target.
func SourcesFor(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusBuilding, StatusDeployed, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Deployment captures a single deployment attempt of a source repository.
type Deployment struct {
	ID           string    `json:"id"`
	RepoURL      string    `json:"repo_url"`
	Status       Status    `json:"status"`
	LiveURL      *string   `json:"live_url"`
	BuildLogs    []string  `json:"build_logs"`
	ErrorMessage *string   `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (d *Deployment) Clone() *Deployment {
	if d == nil {
		return nil
	}
	out := *d
	out.BuildLogs = append([]string(nil), d.BuildLogs...)
	if out.BuildLogs == nil {
		out.BuildLogs = []string{}
	}
	if d.LiveURL != nil {
		v := *d.LiveURL
		out.LiveURL = &v
	}
	if d.ErrorMessage != nil {
		v := *d.ErrorMessage
		out.ErrorMessage = &v
	}
	return &out
}

// DeploymentUpdate captures mutable fields for a deployment. Nil fields are left untouched.
// AppendLog is written in the same atomic step as the other fields.
type DeploymentUpdate struct {
	Status       *Status
	LiveURL      *string
	ErrorMessage *string
	AppendLog    *string
}

// Validate checks field pairing rules that do not depend on the stored record.
func (u DeploymentUpdate) Validate() error {
	if u.LiveURL != nil && (u.Status == nil || *u.Status != StatusDeployed) {
		return ErrLiveURLWithoutDeployed
	}
	if u.ErrorMessage != nil && (u.Status == nil || *u.Status != StatusFailed) {
		return ErrErrorWithoutFailed
	}
	if u.Status != nil && !u.Status.Valid() {
		return ErrUnknownStatus
	}
	return nil
}
