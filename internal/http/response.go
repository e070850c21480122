package http

import "cfstore/pkg/store"

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response represents the standard API response format.
type Response struct {
	Status   Status              `json:"status,omitempty"`
	Families []store.FamilyStats `json:"families,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewStatsResponse(families []store.FamilyStats) Response {
	return Response{Status: StatusOK, Families: families}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
