package model

import "time"

// Store status constants.
const (
	StatusProvisioning = "Provisioning"
	StatusReady        = "Ready"
	StatusFailed       = "Failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
// Ready and Failed are terminal: a store leaves them only by being deleted.
var validTransitions = map[string]map[string]bool{
	StatusProvisioning: {
		StatusReady:  true,
		StatusFailed: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// SourcesOf returns the statuses from which a store may move to the given status.
func SourcesOf(to string) []string {
	var froms []string
	for from, targets := range validTransitions {
		if targets[to] {
			froms = append(froms, from)
		}
	}
	return froms
}

// IsTerminal reports whether no further automatic transition leaves status.
func IsTerminal(status string) bool {
	return status == StatusReady || status == StatusFailed
}

// Store is one tenant application instance tracked by the orchestrator.
type Store struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Name      string    `json:"name" dynamodbav:"name"`
	Type      string    `json:"type" dynamodbav:"type"`
	Status    string    `json:"status" dynamodbav:"status"`
	URL       string    `json:"url" dynamodbav:"url"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

// Job is the provisioning message carried by the work queue.
type Job struct {
	ID       string `json:"jobId"`
	StoreID  string `json:"storeId"`
	Hostname string `json:"hostname"`
	Type     string `json:"type"`
}
