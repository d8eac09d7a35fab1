// Package registry holds the config schema, defaults and decoder for every
// node kind and subtype a flow can contain.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// SubtypeKey returns the config key that carries the subtype tag of kind.
func SubtypeKey(kind models.Kind) string {
	switch kind {
	case models.KindCondition:
		return "fieldType"
	case models.KindAction:
		return "actionType"
	default:
		return ""
	}
}

type key struct {
	kind    models.Kind
	subtype string
}

type entry struct {
	schema models.ConfigSchema
	decode func(data []byte) (models.Config, error)
}

// Registry is a read-only lookup from (kind, subtype) to config metadata.
type Registry struct {
	entries  map[key]entry
	order    []key
	defaults map[models.Kind]string
}

// NewRegistry returns a registry with every built-in config registered.
func NewRegistry() *Registry {
	r := &Registry{
		entries: make(map[key]entry),
		defaults: map[models.Kind]string{
			models.KindCondition: string(models.FieldTypeCRMField),
			models.KindAction:    string(models.ActionUpdateLead),
		},
	}

	registerConfigs(r)

	return r
}

func (r *Registry) register(schema models.ConfigSchema, decode func(data []byte) (models.Config, error)) {
	k := key{kind: schema.Kind, subtype: schema.Subtype}
	if _, exists := r.entries[k]; !exists {
		r.order = append(r.order, k)
	}

	r.entries[k] = entry{schema: schema, decode: decode}
}

// DefaultSubtype returns the subtype used when a node of kind is created
// without one.
func (r *Registry) DefaultSubtype(kind models.Kind) string {
	return r.defaults[kind]
}

func (r *Registry) lookup(kind models.Kind, subtype string) (entry, error) {
	if !kind.Valid() {
		return entry{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if subtype == "" {
		subtype = r.defaults[kind]
	}

	e, ok := r.entries[key{kind: kind, subtype: subtype}]
	if !ok {
		return entry{}, fmt.Errorf("%w: %s/%s", ErrUnknownSubtype, kind, subtype)
	}

	return e, nil
}

// DefaultsFor returns a fresh default config for (kind, subtype). An empty
// subtype selects the kind's default subtype.
func (r *Registry) DefaultsFor(kind models.Kind, subtype string) (models.Config, error) {
	e, err := r.lookup(kind, subtype)
	if err != nil {
		return nil, err
	}

	return models.CloneConfig(e.schema.Default), nil
}

// Schema returns the registered schema for (kind, subtype).
func (r *Registry) Schema(kind models.Kind, subtype string) (models.ConfigSchema, error) {
	e, err := r.lookup(kind, subtype)
	if err != nil {
		return models.ConfigSchema{}, err
	}

	return e.schema, nil
}

// Schemas returns every registered schema in registration order.
func (r *Registry) Schemas() []models.ConfigSchema {
	schemas := make([]models.ConfigSchema, 0, len(r.order))
	for _, k := range r.order {
		schemas = append(schemas, r.entries[k].schema)
	}

	return schemas
}

// Decode validates payload against the schema of (kind, subtype) and returns
// the typed config. Condition payloads are decoded regardless of their field
// type so unknown field types surface as validation violations instead of
// load failures. Unknown action subtypes decode to models.UnknownActionConfig.
func (r *Registry) Decode(kind models.Kind, subtype string, payload map[string]any) (models.Config, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	lookupSubtype := subtype
	if kind == models.KindCondition {
		lookupSubtype = string(models.FieldTypeCRMField)

		if _, ok := payload["fieldType"]; !ok && subtype != "" {
			payload = maps.Clone(payload)
			payload["fieldType"] = subtype
		}
	}

	e, err := r.lookup(kind, lookupSubtype)
	if err != nil {
		if kind == models.KindAction && subtype != "" {
			raw, marshalErr := json.Marshal(payload)
			if marshalErr != nil {
				return nil, fmt.Errorf("failed to marshal %s payload: %w", subtype, marshalErr)
			}

			return models.UnknownActionConfig{Type: models.ActionType(subtype), Raw: raw}, nil
		}

		return nil, err
	}

	err = validatePayload(e.schema.Schema, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", ErrInvalidConfig, kind, e.schema.Subtype, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config payload: %w", err)
	}

	config, err := e.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", ErrInvalidConfig, kind, e.schema.Subtype, err)
	}

	return config, nil
}

// Encode returns the wire payload of config. Numbers are kept as json.Number
// so ids survive a decode/encode cycle exactly.
func (r *Registry) Encode(config models.Config) (map[string]any, error) {
	var data []byte

	switch c := config.(type) {
	case nil:
		return map[string]any{}, nil
	case models.UnknownActionConfig:
		data = c.Raw
	default:
		encoded, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}

		data = encoded
	}

	payload := make(map[string]any)
	if len(data) == 0 {
		return payload, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	err := decoder.Decode(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config payload: %w", err)
	}

	return payload, nil
}

// Merge applies patch to current. A patch whose subtype key names a different
// subtype replaces current with that subtype's defaults before the remaining
// keys are applied, so fields of the previous subtype never carry over. Keys
// are merged shallowly: a nested object in the patch replaces the old one.
func (r *Registry) Merge(current models.Config, patch map[string]any) (models.Config, error) {
	if current == nil {
		return nil, fmt.Errorf("%w: node has no config", ErrInvalidConfig)
	}

	kind := current.Kind()
	subtypeKey := SubtypeKey(kind)

	if subtypeKey == "" {
		if len(patch) > 0 {
			return nil, fmt.Errorf("%w: %s nodes carry no config", ErrInvalidConfig, kind)
		}

		return current, nil
	}

	base := current
	subtype := current.Subtype()

	if raw, ok := patch[subtypeKey]; ok {
		next, ok := raw.(string)
		if !ok || strings.TrimSpace(next) == "" {
			return nil, fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidConfig, subtypeKey)
		}

		if next != subtype {
			defaults, err := r.DefaultsFor(kind, next)
			if err != nil {
				return nil, err
			}

			base = defaults
			subtype = next
		}
	}

	merged, err := r.Encode(base)
	if err != nil {
		return nil, err
	}

	for k, v := range patch {
		if kind == models.KindAction && k == subtypeKey {
			continue
		}

		merged[k] = v
	}

	return r.Decode(kind, subtype, merged)
}

func validatePayload(schema *models.JSONSchema, payload map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return err
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("schema validation failed: %s", strings.Join(messages, "; "))
	}

	return nil
}
