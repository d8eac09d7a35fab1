package registry

import (
	"encoding/json"

	"github.com/dukex/leadflow/pkg/models"
)

const (
	defaultPriority      = 50
	defaultSchedulerStep = 1
)

var refIDType = []string{"string", "integer", "null"}

func registerConfigs(r *Registry) {
	r.register(models.ConfigSchema{
		Kind:        models.KindStart,
		Name:        "Start",
		Description: "Entry point of the flow",
		Default:     models.StartConfig{},
		Schema:      &models.JSONSchema{Type: "object"},
	}, func([]byte) (models.Config, error) { return models.StartConfig{}, nil })

	r.register(models.ConfigSchema{
		Kind:        models.KindEnd,
		Name:        "End",
		Description: "Terminates the flow",
		Default:     models.EndConfig{},
		Schema:      &models.JSONSchema{Type: "object"},
	}, func([]byte) (models.Config, error) { return models.EndConfig{}, nil })

	for _, fieldType := range models.FieldTypes() {
		r.register(models.ConfigSchema{
			Kind:        models.KindCondition,
			Subtype:     string(fieldType),
			Name:        "Condition: " + string(fieldType),
			Description: "Branches on the lead attribute selected by the field type",
			Default: models.ConditionConfig{
				FieldType: fieldType,
				Operator:  models.OperatorEquals,
				Value:     "",
			},
			Schema: conditionSchema(),
		}, decodeCondition)
	}

	r.register(models.ConfigSchema{
		Kind:        models.KindAction,
		Subtype:     string(models.ActionUpdateLead),
		Name:        "Update lead",
		Description: "Moves the lead to a pipeline/status and writes custom fields",
		Default:     models.UpdateLeadConfig{Fields: map[string]any{}},
		Schema: &models.JSONSchema{
			Type: "object",
			Properties: map[string]*Property{
				"pipeline_id": {Type: refIDType, Description: "Target pipeline, empty to keep the current one"},
				"status_id":   {Type: refIDType, Description: "Target status within the pipeline"},
				"fields":      {Type: []string{"object", "null"}, Description: "CRM custom field values keyed by field id"},
			},
		},
	}, decodeAction(func(c *models.UpdateLeadConfig) {
		if c.Fields == nil {
			c.Fields = map[string]any{}
		}
	}))

	r.register(models.ConfigSchema{
		Kind:        models.KindAction,
		Subtype:     string(models.ActionAddToBucket),
		Name:        "Add to bucket",
		Description: "Enqueues the lead into a dialer bucket",
		Default: models.AddToBucketConfig{
			Priority:      defaultPriority,
			SchedulerStep: defaultSchedulerStep,
		},
		Schema: &models.JSONSchema{
			Type: "object",
			Properties: map[string]*Property{
				"bucket_id":      {Type: refIDType, Description: "Dialer bucket"},
				"priority":       priorityProperty(),
				"scheduler_id":   {Type: refIDType, Description: "Dialer scheduler"},
				"scheduler_step": schedulerStepProperty(),
			},
		},
	}, decodeAction[models.AddToBucketConfig](nil))

	r.register(models.ConfigSchema{
		Kind:        models.KindAction,
		Subtype:     string(models.ActionChangePriority),
		Name:        "Change priority",
		Description: "Sets the dialing priority of the lead",
		Default:     models.ChangePriorityConfig{Priority: defaultPriority},
		Schema: &models.JSONSchema{
			Type:       "object",
			Properties: map[string]*Property{"priority": priorityProperty()},
		},
	}, decodeAction[models.ChangePriorityConfig](nil))

	r.register(models.ConfigSchema{
		Kind:        models.KindAction,
		Subtype:     string(models.ActionChangeSchedulerStep),
		Name:        "Change scheduler step",
		Description: "Moves the lead to another step of its scheduler",
		Default:     models.ChangeSchedulerStepConfig{SchedulerStep: defaultSchedulerStep},
		Schema: &models.JSONSchema{
			Type:       "object",
			Properties: map[string]*Property{"scheduler_step": schedulerStepProperty()},
		},
	}, decodeAction[models.ChangeSchedulerStepConfig](nil))

	r.register(models.ConfigSchema{
		Kind:        models.KindAction,
		Subtype:     string(models.ActionRemoveFromDialer),
		Name:        "Remove from dialer",
		Description: "Removes the lead from every dialer queue",
		Default:     models.RemoveFromDialerConfig{},
		Schema:      &models.JSONSchema{Type: "object"},
	}, func([]byte) (models.Config, error) { return models.RemoveFromDialerConfig{}, nil })
}

// Property is shorthand for the schema property type.
type Property = models.Property

func conditionSchema() *models.JSONSchema {
	return &models.JSONSchema{
		Type: "object",
		Properties: map[string]*Property{
			"fieldType": {Type: "string", Description: "Lead attribute family"},
			"field":     {Type: "string", Description: "CRM field id for amocrm_field conditions"},
			"operator":  {Type: "string", Description: "Comparison operator"},
			"value":     {Description: "Value compared against the lead attribute"},
		},
		Required: []string{"fieldType"},
	}
}

func priorityProperty() *Property {
	return &Property{
		Type:        "integer",
		Description: "Dialing priority from 0 (lowest) to 100 (highest)",
		Default:     defaultPriority,
	}
}

func schedulerStepProperty() *Property {
	return &Property{
		Type:        "integer",
		Description: "One-based scheduler step",
		Default:     defaultSchedulerStep,
	}
}

func decodeCondition(data []byte) (models.Config, error) {
	var config models.ConditionConfig

	err := json.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

func decodeAction[T models.Config](normalize func(*T)) func(data []byte) (models.Config, error) {
	return func(data []byte) (models.Config, error) {
		var config T

		err := json.Unmarshal(data, &config)
		if err != nil {
			return nil, err
		}

		if normalize != nil {
			normalize(&config)
		}

		return config, nil
	}
}
