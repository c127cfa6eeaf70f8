package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired        = sterrors.New("edgeflow: configuration is required")
	ErrLoggerRequired        = sterrors.New("edgeflow: logger is required")
	ErrNodeNameRequired      = sterrors.New("edgeflow: node name is required")
	ErrTransportRequired     = sterrors.New("edgeflow: transport contract is required")
	ErrStoreRequired         = sterrors.New("edgeflow: retry store is required")
	ErrItineraryRequired     = sterrors.New("edgeflow: itinerary id is required")
	ErrActivityNotFound      = sterrors.New("edgeflow: activity not found in itinerary")
	ErrItineraryNotFound     = sterrors.New("edgeflow: itinerary not found")
	ErrReloadInProgress      = sterrors.New("edgeflow: itinerary reload already in progress")
	ErrHopLimitExceeded      = sterrors.New("edgeflow: routing hop limit exceeded")
	ErrNotConnected          = sterrors.New("edgeflow: transport is not connected")
	ErrNodeInactive          = sterrors.New("edgeflow: node is not accepting messages")
	ErrCorruptItem           = sterrors.New("edgeflow: persisted item is corrupt")
	ErrEncryptionKeyRequired = sterrors.New("edgeflow: encryption key is required")
	ErrCiphertextTooShort    = sterrors.New("edgeflow: ciphertext too short")
)

// RoutingMissCode is reported on tracking records when a message arrives for a
// service that is not running on this node.
const RoutingMissCode = "90001"

// ConfigurationError reports a missing or invalid activity configuration entry.
type ConfigurationError struct {
	Activity string
	Key      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("edgeflow: activity %q is missing config entry %q", e.Activity, e.Key)
}

// FetchError wraps a failure to download a unit source.
type FetchError struct {
	URI        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("edgeflow: fetch %s: %v", e.URI, e.Err)
	}
	return fmt.Sprintf("edgeflow: fetch %s: unexpected status %d", e.URI, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// InitializationError is returned when a unit cannot be constructed or its
// init hook fails.
type InitializationError struct {
	Service     string
	ItineraryID string
	Err         error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("edgeflow: initialise service %q (itinerary %s): %v", e.Service, e.ItineraryID, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// RoutingExpressionError aborts the delivery of a single message.
type RoutingExpressionError struct {
	Activity   string
	Expression string
	Err        error
}

func (e *RoutingExpressionError) Error() string {
	return fmt.Sprintf("edgeflow: routing expression of activity %q failed: %v", e.Activity, e.Err)
}

func (e *RoutingExpressionError) Unwrap() error { return e.Err }

// RoutingMissError is reported when the destination service is not resident on
// this node and cannot be provisioned dynamically.
type RoutingMissError struct {
	Service     string
	ItineraryID string
}

func (e *RoutingMissError) Error() string {
	return fmt.Sprintf("edgeflow: service %q of itinerary %s is no longer configured to run on this node", e.Service, e.ItineraryID)
}

// Code returns the fault code recorded on tracking records.
func (e *RoutingMissError) Code() string { return RoutingMissCode }

// TransportError wraps a submit or receive failure of the transport contract.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("edgeflow: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError wraps a read, write or delete failure on a retry item.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("edgeflow: retry store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("edgeflow: retry store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
