// Package datasource implements the data-source updates facade (C4)
// and the two concrete data sources, streaming and polling (C5).
package datasource

import "time"

// State is the data-source connection state machine's current state.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateValid        State = "VALID"
	StateInterrupted  State = "INTERRUPTED"
	StateOff          State = "OFF"
)

// ErrorKind classifies why a data source reported an error.
type ErrorKind string

const (
	ErrorKindUnknown        ErrorKind = ""
	ErrorKindNetworkError   ErrorKind = "NETWORK_ERROR"
	ErrorKindErrorResponse  ErrorKind = "ERROR_RESPONSE"
	ErrorKindInvalidData    ErrorKind = "INVALID_DATA"
	ErrorKindStoreError     ErrorKind = "STORE_ERROR"
)

// ErrorInfo describes a single error observed by a data source.
type ErrorInfo struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Time       time.Time
}

// basicKey strips the time and message so repeated identical errors
// can be counted during an outage without the map growing unbounded.
func (e ErrorInfo) basicKey() ErrorInfo {
	return ErrorInfo{Kind: e.Kind, StatusCode: e.StatusCode}
}

// Status is a full snapshot of the data source's connection state.
type Status struct {
	State      State
	StateSince time.Time
	LastError  ErrorInfo
}
