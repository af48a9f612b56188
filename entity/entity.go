package entity

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	ErrValidationFailed = fmt.Errorf("entity validation failed")
	ErrEmptyBulkRequest = fmt.Errorf("either entities or relationships must be provided")
)

// Operation describes a bulk operation executed on entities or relationships.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Properties maps entity field names to their values.
// Value types mirror JSON: string, number, boolean, null or a nested mapping.
type Properties map[string]any

// Entity is a vendor defined record, for example a "Request" ticket,
// described by its type and a set of named properties.
type Entity struct {
	EntityType string     `json:"entity_type"`
	Properties Properties `json:"properties"`
}

// Validate checks that the entity carries the keys the bulk resource requires.
// Validation of the properties schema is deferred to the remote service.
func (e Entity) Validate() error {
	err := validation.ValidateStruct(&e,
		validation.Field(&e.EntityType, validation.Required),
		validation.Field(&e.Properties, validation.Required),
	)
	if err != nil {
		return errors.Join(ErrValidationFailed, err)
	}
	return nil
}

// Relationship links two entities by a named association.
type Relationship struct {
	RelationshipType string `json:"relationship_type"`
	Name             string `json:"name"`
	FirstEndpoint    Entity `json:"first_endpoint"`
	SecondEndpoint   Entity `json:"second_endpoint"`
}

// Validate checks that the relationship names its association and both endpoints.
func (r Relationship) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.FirstEndpoint, validation.Required),
		validation.Field(&r.SecondEndpoint, validation.Required),
	)
	if err != nil {
		return errors.Join(ErrValidationFailed, err)
	}
	return nil
}

// BulkRequest is the envelope of the bulk resource.
// Operation applies to all listed entities and relationships.
type BulkRequest struct {
	Operation     Operation      `json:"operation"`
	Entities      []Entity       `json:"entities,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Validate checks the bulk envelope and every enclosed entity and relationship.
// It is run before any network call is made.
func (b BulkRequest) Validate() error {
	if len(b.Entities) == 0 && len(b.Relationships) == 0 {
		return errors.Join(ErrValidationFailed, ErrEmptyBulkRequest)
	}
	if err := validation.Validate(string(b.Operation), validation.Required); err != nil {
		return errors.Join(ErrValidationFailed, err)
	}
	for _, e := range b.Entities {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	for _, r := range b.Relationships {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Meta carries the completion information the API attaches to responses.
type Meta struct {
	CompletionStatus string   `json:"completion_status,omitempty"`
	TotalCount       int      `json:"total_count,omitempty"`
	ErrorDetails     []string `json:"errorDetailsList,omitempty"`
	QueryTime        int64    `json:"query_time,omitempty"`
}

// QueryResult is the envelope returned by entity query and read resources.
type QueryResult struct {
	Entities []Entity `json:"entities"`
	Meta     Meta     `json:"meta"`
}

// EntityResult is a single entity outcome within a bulk response.
type EntityResult struct {
	Entity           Entity `json:"entity"`
	CompletionStatus string `json:"completion_status"`
}

// RelationshipResult is a single relationship outcome within a bulk response.
type RelationshipResult struct {
	Relationship     Relationship `json:"relationship"`
	CompletionStatus string       `json:"completion_status"`
}

// BulkResponse is the envelope the bulk resource responds with.
type BulkResponse struct {
	EntityResultList       []EntityResult       `json:"entity_result_list,omitempty"`
	RelationshipResultList []RelationshipResult `json:"relationship_result_list,omitempty"`
	Meta                   Meta                 `json:"meta"`
}
