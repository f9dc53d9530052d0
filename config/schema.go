package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// configSchema is the CUE definition every configuration document must
// satisfy before it is decoded into the typed structs.
const configSchema = `
#Config: {
	gate_set: {
		id: string & !=""
		allow_rectangular_matrices?: bool
		channels: {[string]: {
			output_mode?: "direct" | "amplified"
		}}
		layers?: [...{
			id?:            string
			source_gates:   [...string]
			target_gates:   [...string]
			matrix:         [...[...number]]
			pseudo_inverse?: bool
		}]
		points?: {[string]: {
			voltages: {[string]: number}
			duration: int | string
		}}
	}
	logging?: {
		level?:  string
		format?: string
		loki?: {
			enabled?: bool
			url?:     string
			labels?: {[string]: string}
		}
	}
	telemetry?: {
		enabled?: bool
	}
}
`

// validateSchema checks the raw YAML document against the CUE schema.
func validateSchema(raw []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	definition := schema.LookupPath(cue.ParsePath("#Config"))
	if err := definition.Err(); err != nil {
		return fmt.Errorf("lookup schema definition: %w", err)
	}

	data := ctx.Encode(doc)
	if err := data.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	unified := definition.Unify(data)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
