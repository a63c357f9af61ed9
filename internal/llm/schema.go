package llm

import (
	"encoding/json"
	"sync"

	"github.com/joseph-ayodele/pdf2schema/internal/schema"
)

var targetSchema = sync.OnceValue(func() map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(schema.DocumentJSONSchema), &m); err != nil {
		panic("llm: document json schema: " + err.Error())
	}
	delete(m, "$schema")
	return m
})

// TargetSchema returns the document JSON Schema as a generic map, for
// providers that accept a structured-output constraint. Callers must not mutate it.
func TargetSchema() map[string]any {
	return targetSchema()
}
