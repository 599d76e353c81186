package registry

import (
	"regexp"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Kind tags which of the three service variants an entry is. The registry
// stores the tagged variant directly (no inheritance); each kind has its
// own activation and invocation adapter in the httpapi/codehost layers.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// Method is the HTTP method a service's route is bound to.
type Method string

const (
	MethodGET    Method = "GET"
	MethodPOST   Method = "POST"
	MethodPUT    Method = "PUT"
	MethodPATCH  Method = "PATCH"
	MethodDELETE Method = "DELETE"
)

// ParamType is a scalar/compound type a declared parameter may carry.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
)

// Param is one entry in a service's ordered parameter list.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// ActivationState is the service/agent lifecycle state per §4.1.
type ActivationState string

const (
	StateDraft     ActivationState = "draft"
	StateValidated ActivationState = "validated"
	StateActive    ActivationState = "active"
)

// Service is a registry entry of kind tool, resource, or prompt.
type Service struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Route string `json:"route"`
	Method Method `json:"method"`

	Params       []Param  `json:"params"`
	HandlerSrc   string   `json:"handler_src"`
	Dependencies []string `json:"dependencies"`

	OutputSchema map[string]any `json:"output_schema,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`

	MimeType string `json:"mime_type,omitempty"` // resources

	PromptTemplate string   `json:"prompt_template,omitempty"` // prompts
	PromptArgs     []string `json:"prompt_args,omitempty"`     // prompts

	LLMProfile  string `json:"llm_profile,omitempty"`
	Description string `json:"description"`
	Documentation string `json:"documentation,omitempty"`

	State  ActivationState `json:"state"`
	Active bool            `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Service) GetID() string   { return s.ID }
func (s *Service) GetName() string { return s.Name }

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
var paramPlaceholderRE = regexp.MustCompile(`\{([^{}]+)\}`)

// Validate checks the static structural rules of §4.1 that don't depend on
// the rest of the registry (name uniqueness is checked by the Store on
// write, route collisions by Registry.ActivateService).
func (s *Service) Validate() []FieldViolation {
	var violations []FieldViolation

	if !nameRE.MatchString(s.Name) {
		violations = append(violations, FieldViolation{"name", "must match [A-Za-z0-9_-]+"})
	}
	if !strings.HasPrefix(s.Route, "/") {
		violations = append(violations, FieldViolation{"route", "must start with /"})
	}
	switch s.Method {
	case MethodGET, MethodPOST, MethodPUT, MethodPATCH, MethodDELETE:
	default:
		violations = append(violations, FieldViolation{"method", "must be one of GET,POST,PUT,PATCH,DELETE"})
	}

	declared := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		declared[p.Name] = true
	}
	for _, m := range paramPlaceholderRE.FindAllStringSubmatch(s.Route, -1) {
		if !declared[m[1]] {
			violations = append(violations, FieldViolation{"route", "path parameter {" + m[1] + "} has no matching entry in params"})
		}
	}

	if s.Kind == KindPrompt {
		argSet := make(map[string]bool, len(s.PromptArgs))
		for _, a := range s.PromptArgs {
			argSet[a] = true
		}
		for _, m := range paramPlaceholderRE.FindAllStringSubmatch(s.PromptTemplate, -1) {
			if !argSet[m[1]] {
				violations = append(violations, FieldViolation{"prompt_template", "references undeclared prompt_arg " + m[1]})
			}
		}
	}

	if s.OutputSchema != nil {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s.OutputSchema)); err != nil {
			violations = append(violations, FieldViolation{"output_schema", "not a well-formed JSON schema: " + err.Error()})
		}
	}

	return violations
}

// FieldViolation is one structural validation failure, reported alongside
// its field so the response body can list every offending field at once.
type FieldViolation struct {
	Field  string
	Detail string
}
