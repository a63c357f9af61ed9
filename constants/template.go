package constants

// Markers of the dataset description block written to YAML output.
const (
	DatasetDescriptionHeader = "[Dataset Description]:"
	ColumnsHeader            = "[Columns]:"
	RequiredRole             = "system"
	DataAccessStatement      = `You can access the entire dataset via the "data" variable.`
)

// FeatureLinePattern matches one `"column": type, description` line.
const FeatureLinePattern = `(?m)^\s*"([^"\n]+)"\s*:\s*([^,\n]+),[ \t]*(.+)$`

// DefaultBlockPattern is the default structural check on a rendered block:
// header, description, one feature line per column, data access statement.
const DefaultBlockPattern = `(?s)\A\[Dataset Description\]:\n.*\n\[Columns\]:\n(?:"[^"\n]+": [^,\n]+, [^\n]+\n)*\nYou can access the entire dataset via the "data" variable\.\z`

// OutputFilePrefix prefixes generated YAML files: <prefix><pdf stem>.yaml.
const OutputFilePrefix = "dataset_descriptions_from_"

// DefaultSchemaKeywords are the domain keywords expected in field descriptions.
var DefaultSchemaKeywords = []string{"schema", "table", "database", "dataset"}

// Default top-level and per-field keys a candidate document must carry.
var (
	DefaultRequiredTopLevelKeys = []string{"tables"}
	DefaultRequiredFieldKeys    = []string{"name", "type", "description"}
)
