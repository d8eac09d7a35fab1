package models

import (
	"bytes"
	"encoding/json"
	"maps"
	"strconv"
)

// Config is the kind-specific payload of a node. The set of implementations is
// closed: start, end, condition and the five action subtypes, plus
// UnknownActionConfig for action tags this build does not recognise.
type Config interface {
	Kind() Kind
	Subtype() string
	isConfig()
}

// FieldType selects which lead attribute a condition reads.
type FieldType string

const (
	FieldTypeCRMField      FieldType = "amocrm_field"
	FieldTypePipeline      FieldType = "pipeline"
	FieldTypeStatus        FieldType = "status"
	FieldTypeBucket        FieldType = "bucket"
	FieldTypeScheduler     FieldType = "scheduler"
	FieldTypeSchedulerStep FieldType = "scheduler_step"
	FieldTypeDialAttempts  FieldType = "dial_attempts"
)

// FieldTypes lists every condition field type.
func FieldTypes() []FieldType {
	return []FieldType{
		FieldTypeCRMField,
		FieldTypePipeline,
		FieldTypeStatus,
		FieldTypeBucket,
		FieldTypeScheduler,
		FieldTypeSchedulerStep,
		FieldTypeDialAttempts,
	}
}

// Operator compares a lead attribute against a condition value.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorContains    Operator = "contains"
)

// Operators lists every condition operator.
func Operators() []Operator {
	return []Operator{
		OperatorEquals,
		OperatorNotEquals,
		OperatorGreaterThan,
		OperatorLessThan,
		OperatorContains,
	}
}

// ActionType is the subtype tag of an action node.
type ActionType string

const (
	ActionUpdateLead          ActionType = "update_lead"
	ActionAddToBucket         ActionType = "add_to_bucket"
	ActionChangePriority      ActionType = "change_priority"
	ActionChangeSchedulerStep ActionType = "change_scheduler_step"
	ActionRemoveFromDialer    ActionType = "remove_from_dialer"
)

// ActionTypes lists every known action subtype.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionUpdateLead,
		ActionAddToBucket,
		ActionChangePriority,
		ActionChangeSchedulerStep,
		ActionRemoveFromDialer,
	}
}

// RefID identifies a CRM or dialer entity. CRM ids arrive as JSON numbers and
// dialer ids as strings; the JSON kind seen on decode is kept so a string id
// made of digits is written back as a string.
type RefID struct {
	id      string
	numeric bool
}

// NewRefID returns a string-typed id.
func NewRefID(id string) RefID {
	return RefID{id: id}
}

// NumericRefID returns an id written as a JSON number.
func NumericRefID(id int64) RefID {
	return RefID{id: strconv.FormatInt(id, 10), numeric: true}
}

func (r RefID) String() string { return r.id }

func (r RefID) IsZero() bool { return r.id == "" }

func (r RefID) IsNumeric() bool { return r.numeric }

// UnmarshalJSON accepts a JSON string, number or null.
func (r *RefID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*r = RefID{}

		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*r = NewRefID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}

	*r = RefID{id: n.String(), numeric: true}

	return nil
}

// MarshalJSON writes the id in the JSON kind it was decoded from.
func (r RefID) MarshalJSON() ([]byte, error) {
	if r.numeric && r.id != "" {
		return []byte(r.id), nil
	}

	return json.Marshal(r.id)
}

// StartConfig is the empty payload of the start node.
type StartConfig struct{}

func (StartConfig) Kind() Kind      { return KindStart }
func (StartConfig) Subtype() string { return "" }
func (StartConfig) isConfig()       {}

// EndConfig is the empty payload of an end node.
type EndConfig struct{}

func (EndConfig) Kind() Kind      { return KindEnd }
func (EndConfig) Subtype() string { return "" }
func (EndConfig) isConfig()       {}

// ConditionConfig tests one lead attribute. FieldType doubles as the subtype tag.
type ConditionConfig struct {
	FieldType FieldType `json:"fieldType"`
	Field     string    `json:"field"` // CRM field id, only read for amocrm_field
	Operator  Operator  `json:"operator"`
	Value     any       `json:"value"`
}

func (ConditionConfig) Kind() Kind        { return KindCondition }
func (c ConditionConfig) Subtype() string { return string(c.FieldType) }
func (ConditionConfig) isConfig()         {}

// UpdateLeadConfig moves a lead and/or writes CRM custom fields.
type UpdateLeadConfig struct {
	PipelineID RefID          `json:"pipeline_id,omitzero"`
	StatusID   RefID          `json:"status_id,omitzero"`
	Fields     map[string]any `json:"fields"`
}

func (UpdateLeadConfig) Kind() Kind      { return KindAction }
func (UpdateLeadConfig) Subtype() string { return string(ActionUpdateLead) }
func (UpdateLeadConfig) isConfig()       {}

// AddToBucketConfig enqueues a lead into a dialer bucket.
type AddToBucketConfig struct {
	BucketID      RefID `json:"bucket_id"`
	Priority      int   `json:"priority"`
	SchedulerID   RefID `json:"scheduler_id"`
	SchedulerStep int   `json:"scheduler_step"`
}

func (AddToBucketConfig) Kind() Kind      { return KindAction }
func (AddToBucketConfig) Subtype() string { return string(ActionAddToBucket) }
func (AddToBucketConfig) isConfig()       {}

// ChangePriorityConfig sets the dialing priority of a lead.
type ChangePriorityConfig struct {
	Priority int `json:"priority"`
}

func (ChangePriorityConfig) Kind() Kind      { return KindAction }
func (ChangePriorityConfig) Subtype() string { return string(ActionChangePriority) }
func (ChangePriorityConfig) isConfig()       {}

// ChangeSchedulerStepConfig moves a lead to another scheduler step.
type ChangeSchedulerStepConfig struct {
	SchedulerStep int `json:"scheduler_step"`
}

func (ChangeSchedulerStepConfig) Kind() Kind      { return KindAction }
func (ChangeSchedulerStepConfig) Subtype() string { return string(ActionChangeSchedulerStep) }
func (ChangeSchedulerStepConfig) isConfig()       {}

// RemoveFromDialerConfig takes a lead out of every dialer queue.
type RemoveFromDialerConfig struct{}

func (RemoveFromDialerConfig) Kind() Kind      { return KindAction }
func (RemoveFromDialerConfig) Subtype() string { return string(ActionRemoveFromDialer) }
func (RemoveFromDialerConfig) isConfig()       {}

// UnknownActionConfig keeps the raw payload of an action whose tag is not
// recognised so it survives a load/save cycle untouched. It never executes.
type UnknownActionConfig struct {
	Type ActionType
	Raw  json.RawMessage
}

func (UnknownActionConfig) Kind() Kind        { return KindAction }
func (u UnknownActionConfig) Subtype() string { return string(u.Type) }
func (UnknownActionConfig) isConfig()         {}

// CloneConfig returns a copy of c that shares no maps or buffers with it.
func CloneConfig(c Config) Config {
	switch config := c.(type) {
	case UpdateLeadConfig:
		config.Fields = maps.Clone(config.Fields)

		return config
	case UnknownActionConfig:
		config.Raw = bytes.Clone(config.Raw)

		return config
	default:
		return c
	}
}
