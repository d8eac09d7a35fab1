package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/leadflow/pkg/models"
)

// Record attribute keys read by conditions. Custom CRM fields are keyed by
// their field id.
const (
	AttrPipelineID    = "pipeline_id"
	AttrStatusID      = "status_id"
	AttrBucketID      = "bucket_id"
	AttrSchedulerID   = "scheduler_id"
	AttrSchedulerStep = "scheduler_step"
	AttrDialAttempts  = "dial_attempts"
)

// Record is the lead snapshot a flow is evaluated against.
type Record struct {
	LeadID     int64
	Attributes map[string]any
}

// attribute returns the record value a condition reads.
func (r Record) attribute(config models.ConditionConfig) (any, bool) {
	var key string

	switch config.FieldType {
	case models.FieldTypeCRMField:
		key = config.Field
	case models.FieldTypePipeline:
		key = AttrPipelineID
	case models.FieldTypeStatus:
		key = AttrStatusID
	case models.FieldTypeBucket:
		key = AttrBucketID
	case models.FieldTypeScheduler:
		key = AttrSchedulerID
	case models.FieldTypeSchedulerStep:
		key = AttrSchedulerStep
	case models.FieldTypeDialAttempts:
		key = AttrDialAttempts
	default:
		return nil, false
	}

	value, ok := r.Attributes[key]
	if !ok || value == nil {
		return nil, false
	}

	return value, true
}

// Evaluate reports whether record satisfies config. A missing attribute is false.
func Evaluate(config models.ConditionConfig, record Record) bool {
	actual, ok := record.attribute(config)
	if !ok {
		return false
	}

	switch config.Operator {
	case models.OperatorEquals:
		return text(actual) == text(config.Value)
	case models.OperatorNotEquals:
		return text(actual) != text(config.Value)
	case models.OperatorGreaterThan:
		return compareNumeric(actual, config.Value, func(a, b float64) bool { return a > b })
	case models.OperatorLessThan:
		return compareNumeric(actual, config.Value, func(a, b float64) bool { return a < b })
	case models.OperatorContains:
		return strings.Contains(text(actual), text(config.Value))
	default:
		return false
	}
}

// text renders a value the way ids are written, so 7001 and "7001" compare equal.
func text(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func compareNumeric(actual, expected any, cmp func(a, b float64) bool) bool {
	a, err := strconv.ParseFloat(strings.TrimSpace(text(actual)), 64)
	if err != nil {
		return false
	}

	b, err := strconv.ParseFloat(strings.TrimSpace(text(expected)), 64)
	if err != nil {
		return false
	}

	return cmp(a, b)
}
