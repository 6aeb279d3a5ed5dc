// Package schema validates classroom entities against named schemas before
// they are committed to the state store. Results carry hard errors that
// block a write and advisory warnings that never do.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"edusync/internal/domain/entity"
)

// Schema names registered with the validator.
const (
	SchemaUser       = "user"
	SchemaClass      = "class"
	SchemaAssignment = "assignment"
)

// DefaultCacheTTL is how long a cached validation result stays fresh.
const DefaultCacheTTL = 60 * time.Second

// custom validation tags
const (
	notBlankTag           = "notblank"
	requiredForTeacherTag = "required_for_teacher"
)

// classCodeRe is the usual course-code shape, e.g. MATH01. Codes that
// deviate are accepted with a warning.
var classCodeRe = regexp.MustCompile(`^[A-Z]{2,6}[0-9]{1,4}$`)

// Result is the outcome of validating one entity.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	// Data holds the decoded, typed entity when validation succeeded.
	Data any `json:"data,omitempty"`
}

// ValidationError reports a failed schema check with field-level detail.
type ValidationError struct {
	Schema string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Schema, strings.Join(e.Errors, "; "))
}

// Validator checks entities against registered schemas and caches results.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
	cache      *resultCache
	now        func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
		v.cache.now = now
	}
}

// WithCacheTTL overrides the validation result cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(v *Validator) { v.cache.ttl = ttl }
}

// NewValidator creates a schema validator with english error messages.
func NewValidator(opts ...Option) *Validator {
	validate := validator.New()

	// Register the english error messages for validation errors.
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	_ = validate.RegisterTranslation(
		notBlankTag, translator,
		func(t ut.Translator) error { return t.Add(notBlankTag, "{0} cannot be blank", false) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(notBlankTag, fe.Field())
			return s
		},
	)

	_ = validate.RegisterTranslation(
		requiredForTeacherTag, translator,
		func(t ut.Translator) error {
			return t.Add(requiredForTeacherTag, "{0} is required when role is teacher", false)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(requiredForTeacherTag, fe.Field())
			return s
		},
	)

	validate.RegisterStructValidation(userStructValidation, entity.User{})

	v := &Validator{
		validate:   validate,
		translator: translator,
		cache:      newResultCache(DefaultCacheTTL),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks an entity against the named schema. An unknown schema
// name is a programmer error and panics. cacheKey may be empty to bypass
// the result cache; a fresh cached result is returned unchanged.
func (v *Validator) Validate(raw any, schemaName, cacheKey string) *Result {
	if cacheKey != "" {
		if cached, ok := v.cache.get(cacheKey); ok {
			return cached
		}
	}

	result := v.run(raw, schemaName)

	if cacheKey != "" {
		v.cache.put(cacheKey, result)
	}
	return result
}

// Err converts a Result into a *ValidationError, or nil when valid.
func (r *Result) Err(schemaName string) error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Schema: schemaName, Errors: r.Errors}
}

func (v *Validator) run(raw any, schemaName string) *Result {
	target := prototype(schemaName)

	if raw == nil {
		return &Result{
			Valid:    false,
			Errors:   []string{fmt.Sprintf("%s entity is required", schemaName)},
			Warnings: []string{},
		}
	}

	if err := decode(raw, target); err != nil {
		return &Result{
			Valid:    false,
			Errors:   []string{fmt.Sprintf("%s entity is malformed: %v", schemaName, err)},
			Warnings: []string{},
		}
	}

	result := &Result{Valid: true, Errors: []string{}, Warnings: []string{}}

	if err := v.validate.Struct(target); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			result.Valid = false
			result.Errors = append(result.Errors, err.Error())
			return result
		}
		result.Valid = false
		for _, fe := range verrs {
			result.Errors = append(result.Errors, fieldPath(fe)+": "+fe.Translate(v.translator))
		}
		return result
	}

	result.Warnings = warnings(schemaName, target, v.now())
	result.Data = deref(target)
	return result
}

// prototype returns a pointer to the zero entity for a schema name.
func prototype(schemaName string) any {
	switch schemaName {
	case SchemaUser:
		return &entity.User{}
	case SchemaClass:
		return &entity.Class{}
	case SchemaAssignment:
		return &entity.Assignment{}
	default:
		panic(fmt.Sprintf("schema: unknown schema %q", schemaName))
	}
}

// decode converts an arbitrary structured value (map, struct, json.RawMessage)
// into the typed entity via a JSON round-trip.
func decode(raw, target any) error {
	data, ok := raw.(json.RawMessage)
	if !ok {
		var err error
		data, err = json.Marshal(raw)
		if err != nil {
			return err
		}
	}
	return json.Unmarshal(data, target)
}

func deref(target any) any {
	v := reflect.ValueOf(target)
	if v.Kind() == reflect.Ptr {
		return v.Elem().Interface()
	}
	return target
}

// fieldPath strips the struct type prefix from a validator namespace,
// leaving the json field path ("department", "dueDate", ...).
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

// Custom validators

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return true
}

// userStructValidation enforces cross-field rules on users.
func userStructValidation(sl validator.StructLevel) {
	user := sl.Current().Interface().(entity.User)

	if user.Role == entity.RoleTeacher && strings.TrimSpace(user.Department) == "" {
		sl.ReportError(user.Department, "department", "Department", requiredForTeacherTag, "")
	}
}

// warnings computes advisory findings for a structurally valid entity.
// Warnings never block a write.
func warnings(schemaName string, target any, now time.Time) []string {
	found := []string{}

	switch schemaName {
	case SchemaClass:
		class := target.(*entity.Class)
		if class.Description != "" && len(class.Description) < 10 {
			found = append(found, "description: very short, consider adding more detail")
		}
		if !classCodeRe.MatchString(class.Code) {
			found = append(found, "code: does not follow the usual LETTERS+DIGITS format (e.g. MATH01)")
		}
	case SchemaAssignment:
		assignment := target.(*entity.Assignment)
		if assignment.Description != "" && len(assignment.Description) < 10 {
			found = append(found, "description: very short, consider adding more detail")
		}
		if assignment.DueDate.Before(now) {
			found = append(found, "dueDate: due date is in the past")
		}
		if assignment.DueDate.After(now.AddDate(1, 0, 0)) {
			found = append(found, "dueDate: due date is more than a year out")
		}
	}

	return found
}
