package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
)

// packageSchema is the CUE definition every manifest is unified with. Both
// definitions are closed, so unknown fields are rejected.
const packageSchema = `
#Check: {
	name:      string & =~"^.{1,64}$"
	phase:     "install" | "enable"
	severity?: "error" | "warning"
	kind:      "env" | "file" | "command" | "starlark" | "rego" | "policy"
	timeout?:  string
	message?:  string
	env?:      string
	equals?:   string
	path?:     string
	command?:  string
	script?:   string
	rego?:     string
	policy?:   string
}

#Package: {
	id:            string & =~"^[a-z0-9][a-z0-9_.-]*$"
	version?:      string
	description?:  string
	dependencies?: [...string]
	checks?:       [...#Check]
}
`

// compileSchema compiles packageSchema and returns the #Package definition.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(packageSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Package"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("manifest schema has no #Package: %w", err)
	}
	return def, nil
}
