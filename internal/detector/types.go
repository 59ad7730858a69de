package detector

import (
	"context"
	"fmt"
)

// EntityType is a PII category.
type EntityType string

const (
	Person       EntityType = "person"
	Email        EntityType = "email"
	Phone        EntityType = "phone"
	Address      EntityType = "address"
	Organization EntityType = "organization"
	SSN          EntityType = "ssn"
	CreditCard   EntityType = "credit_card"
	IPAddress    EntityType = "ip"
	URL          EntityType = "url"
	Date         EntityType = "date"
)

// Tag returns the uppercase token tag for this entity type,
// e.g. person -> PERSON, credit_card -> CREDITCARD.
func (t EntityType) Tag() string {
	switch t {
	case Person:
		return "PERSON"
	case Email:
		return "EMAIL"
	case Phone:
		return "PHONE"
	case Address:
		return "ADDRESS"
	case Organization:
		return "ORG"
	case SSN:
		return "SSN"
	case CreditCard:
		return "CREDITCARD"
	case IPAddress:
		return "IP"
	case URL:
		return "URL"
	case Date:
		return "DATE"
	default:
		return "UNKNOWN"
	}
}

// AllTypes lists every supported entity type.
func AllTypes() []EntityType {
	return []EntityType{
		Person, Email, Phone, Address, Organization,
		SSN, CreditCard, IPAddress, URL, Date,
	}
}

// Entity is one detected occurrence of PII. Start and End are byte
// offsets into the text passed to Detect, with Text == text[Start:End].
type Entity struct {
	Type       EntityType `json:"type"`
	Text       string     `json:"text"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Confidence float64    `json:"confidence"`
}

// Detector is the pluggable PII detection capability. Implementations must
// be safe for concurrent use; callers bound concurrency externally.
type Detector interface {
	Name() string
	Detect(ctx context.Context, text string) ([]Entity, error)
}

// DetectionError marks a retryable backend failure on a single chunk.
type DetectionError struct {
	Backend string
	Err     error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Backend, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

// TypeSet builds the set of enabled entity types from configuration.
// The single value "all" enables every supported type.
func TypeSet(entityTypes []string) (map[EntityType]bool, error) {
	enabled := make(map[EntityType]bool)
	known := make(map[EntityType]bool)
	for _, t := range AllTypes() {
		known[t] = true
	}

	for _, name := range entityTypes {
		if name == "all" {
			for _, t := range AllTypes() {
				enabled[t] = true
			}
			continue
		}
		t := EntityType(name)
		if !known[t] {
			return nil, fmt.Errorf("unknown entity type: %s", name)
		}
		enabled[t] = true
	}

	return enabled, nil
}
