package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReportSummaries is one page of the provider's call-events report for a user
type ReportSummaries struct {
	Principal string          `json:"principal"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Data      json.RawMessage `json:"data"`
}

// EndpointAttempt records one candidate endpoint tried by a fallback lookup
type EndpointAttempt struct {
	Strategy string `json:"strategy"`
	Path     string `json:"path"`
	Status   int    `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CallQueues is the call-queue listing for an account plus which endpoint strategy served it
type CallQueues struct {
	AccountKey   string            `json:"account_key"`
	KeySource    string            `json:"account_key_source"`
	Strategy     string            `json:"endpoint_used"`
	Items        []json.RawMessage `json:"items"`
	PagesFetched int               `json:"pages_fetched"`
	Attempts     []EndpointAttempt `json:"attempts,omitempty"`
}

// ResourceError is returned by the provider resource API on a non-2xx response
type ResourceError struct {
	Status int
	Path   string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("provider api %s returned status %d", e.Path, e.Status)
}
