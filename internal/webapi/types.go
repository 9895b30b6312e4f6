package webapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/rafaeljc/norns/internal/session"
	"github.com/rafaeljc/norns/internal/store"
)

const (
	// maxNameLength bounds experiment, goal, condition and tag names.
	maxNameLength = 255

	// maxTokenLength bounds identity tokens, matching the instances.token column.
	maxTokenLength = 64
)

// Condition is one candidate variant and the content rendered when it is chosen.
type Condition struct {
	// Key is the condition name, optionally weighted as "name[weight]".
	Key string `json:"key"`

	// Content is returned verbatim when the condition is chosen.
	Content string `json:"content"`
}

// DecideRequest is the payload of POST /decisions.
type DecideRequest struct {
	Experiment string      `json:"experiment"`
	Goal       string      `json:"goal,omitempty"`
	Conditions []Condition `json:"conditions"`
}

// Sanitize trims whitespace from the names. Content is left untouched.
func (r *DecideRequest) Sanitize() {
	r.Experiment = strings.TrimSpace(r.Experiment)
	r.Goal = strings.TrimSpace(r.Goal)
	for i := range r.Conditions {
		r.Conditions[i].Key = strings.TrimSpace(r.Conditions[i].Key)
	}
}

// Validate checks the request shape. Weight syntax is checked by the engine.
func (r *DecideRequest) Validate() *ErrorResponse {
	if err := validateName(r.Experiment, "experiment"); err != nil {
		return err
	}
	if len(r.Goal) > maxNameLength {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Goal must be less than 255 characters"}
	}
	if len(r.Conditions) == 0 {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "At least one condition is required"}
	}

	var details []ErrorDetail
	seen := make(map[string]bool, len(r.Conditions))
	for i, c := range r.Conditions {
		field := "conditions[" + strconv.Itoa(i) + "].key"
		switch {
		case c.Key == "":
			details = append(details, ErrorDetail{Field: field, Issue: "required"})
		case len(c.Key) > maxNameLength:
			details = append(details, ErrorDetail{Field: field, Issue: "must be less than 255 characters"})
		case seen[c.Key]:
			details = append(details, ErrorDetail{Field: field, Issue: "duplicate key"})
		}
		seen[c.Key] = true
	}
	if len(details) > 0 {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Every condition needs a unique key", Details: details}
	}
	return nil
}

// DecideResponse is the outcome of a decision.
type DecideResponse struct {
	Experiment string         `json:"experiment"`
	Condition  string         `json:"condition"`
	Content    string         `json:"content"`
	Source     session.Source `json:"source"`
}

// GoalRequest is the payload of POST /goals. Value is optional.
type GoalRequest struct {
	Goal  string  `json:"goal"`
	Value *string `json:"value,omitempty"`
}

func (r *GoalRequest) Sanitize() {
	r.Goal = strings.TrimSpace(r.Goal)
}

func (r *GoalRequest) Validate() *ErrorResponse {
	return validateName(r.Goal, "goal")
}

// Goal is the goal resource.
type Goal struct {
	ID        int64     `json:"id"`
	Goal      string    `json:"goal"`
	Value     *string   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is a stored decision.
type Event struct {
	Experiment string    `json:"experiment"`
	Value      string    `json:"value"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionResponse describes the current identity and its history.
type SessionResponse struct {
	Token  string  `json:"token"`
	Events []Event `json:"events"`
	Goals  []Goal  `json:"goals"`
}

// ResetResponse carries the new identity token.
type ResetResponse struct {
	Token string `json:"token"`
}

// SetupRequest seeds tracked values for the current identity.
type SetupRequest struct {
	Values map[string]string `json:"values"`
}

func (r *SetupRequest) Validate() *ErrorResponse {
	if len(r.Values) == 0 {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "At least one value is required"}
	}
	for name, value := range r.Values {
		if err := validateName(name, "experiment"); err != nil {
			return err
		}
		if err := validateName(value, "value"); err != nil {
			return err
		}
	}
	return nil
}

// SetupResponse lists the seeded decisions.
type SetupResponse struct {
	Decisions []session.Decision `json:"decisions"`
}

// CountsResponse is the fired value distribution of an experiment.
type CountsResponse struct {
	Experiment string             `json:"experiment"`
	Goal       string             `json:"goal"`
	Counts     []store.ValueCount `json:"counts"`
}

// TagRequest is the payload of POST /admin/tags.
type TagRequest struct {
	Token string `json:"token"`
	Tag   string `json:"tag"`
}

func (r *TagRequest) Validate() *ErrorResponse {
	if err := validateToken(r.Token); err != nil {
		return err
	}
	return validateName(r.Tag, "tag")
}

// BindRequest is the payload of PUT /admin/principals/{id}.
type BindRequest struct {
	Token string `json:"token"`
}

// ErrorResponse represents a structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about a specific field failure.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// validateName enforces presence and length of a name field.
func validateName(value, field string) *ErrorResponse {
	if value == "" {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: strings.ToUpper(field[:1]) + field[1:] + " is required"}
	}
	if len(value) > maxNameLength {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: strings.ToUpper(field[:1]) + field[1:] + " must be less than 255 characters"}
	}
	return nil
}

// validToken reports whether token can name an instance: 1 to 64 characters of
// [0-9A-Za-z_-].
func validToken(token string) bool {
	if token == "" || len(token) > maxTokenLength {
		return false
	}
	for _, c := range []byte(token) {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

func validateToken(token string) *ErrorResponse {
	if err := validateName(token, "token"); err != nil {
		return err
	}
	if !validToken(token) {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Token must be at most 64 characters of [0-9A-Za-z_-]"}
	}
	return nil
}

func mapStoreGoal(g *store.Goal) Goal {
	return Goal{ID: g.ID, Goal: g.Goal, Value: g.Value, CreatedAt: g.CreatedAt}
}

func mapStoreEvent(e *store.Event) Event {
	return Event{Experiment: e.Name, Value: e.Value, CreatedAt: e.CreatedAt}
}
