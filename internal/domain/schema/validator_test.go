package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusync/internal/domain/entity"
)

func validClass() map[string]any {
	return map[string]any{
		"name":        "Mathematics",
		"section":     "A",
		"code":        "MATH01",
		"teacherId":   "T1",
		"description": "Introductory algebra and geometry",
	}
}

func TestValidate_ValidEntities(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name   string
		schema string
		input  any
	}{
		{
			name:   "class",
			schema: SchemaClass,
			input:  validClass(),
		},
		{
			name:   "user",
			schema: SchemaUser,
			input: entity.User{
				ID:    "U1",
				Email: "alice@school.edu",
				Name:  "Alice",
				Role:  entity.RoleStudent,
			},
		},
		{
			name:   "assignment",
			schema: SchemaAssignment,
			input: entity.Assignment{
				Title:       "Homework 1",
				ClassID:     "c1",
				Description: "Chapters one through three",
				DueDate:     time.Now().Add(7 * 24 * time.Hour),
				Points:      100,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := v.Validate(tc.input, tc.schema, "")
			require.True(t, result.Valid, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			assert.NotNil(t, result.Data)
			assert.NoError(t, result.Err(tc.schema))
		})
	}
}

func TestValidate_MissingRequiredField(t *testing.T) {
	v := NewValidator()

	class := validClass()
	delete(class, "code")

	result := v.Validate(class, SchemaClass, "")
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "code")

	err := result.Err(SchemaClass)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class validation failed")
}

func TestValidate_TeacherRequiresDepartment(t *testing.T) {
	v := NewValidator()

	teacher := entity.User{
		ID:    "U2",
		Email: "bob@school.edu",
		Name:  "Bob",
		Role:  entity.RoleTeacher,
	}

	result := v.Validate(teacher, SchemaUser, "")
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "department")

	teacher.Department = "Mathematics"
	result = v.Validate(teacher, SchemaUser, "")
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}

func TestValidate_NilInput(t *testing.T) {
	v := NewValidator()

	result := v.Validate(nil, SchemaClass, "")
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "required")
}

func TestValidate_UnknownSchemaPanics(t *testing.T) {
	v := NewValidator()
	assert.Panics(t, func() {
		v.Validate(validClass(), "grade", "")
	})
}

func TestValidate_Warnings(t *testing.T) {
	v := NewValidator()

	t.Run("class code format and short description", func(t *testing.T) {
		class := validClass()
		class["code"] = "xyz123"
		class["description"] = "short"

		result := v.Validate(class, SchemaClass, "")
		require.True(t, result.Valid, "errors: %v", result.Errors)
		require.Len(t, result.Warnings, 2)
	})

	t.Run("assignment due date in the past", func(t *testing.T) {
		assignment := entity.Assignment{
			Title:   "Late homework",
			ClassID: "c1",
			DueDate: time.Now().Add(-24 * time.Hour),
			Points:  10,
		}

		result := v.Validate(assignment, SchemaAssignment, "")
		require.True(t, result.Valid)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "past")
	})

	t.Run("assignment due date over a year out", func(t *testing.T) {
		assignment := entity.Assignment{
			Title:   "Far future",
			ClassID: "c1",
			DueDate: time.Now().AddDate(1, 1, 0),
			Points:  10,
		}

		result := v.Validate(assignment, SchemaAssignment, "")
		require.True(t, result.Valid)
		require.Len(t, result.Warnings, 1)
		assert.Contains(t, result.Warnings[0], "year")
	})
}

func TestValidate_CacheTTL(t *testing.T) {
	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	v := NewValidator(
		WithClock(func() time.Time { return current }),
		WithCacheTTL(time.Minute),
	)

	bad := validClass()
	delete(bad, "name")

	first := v.Validate(bad, SchemaClass, "class:c1")
	require.False(t, first.Valid)

	// Within the TTL the cached result is returned unchanged, even for
	// different input under the same key.
	cached := v.Validate(validClass(), SchemaClass, "class:c1")
	assert.Same(t, first, cached)

	// Past the TTL the entity is re-validated.
	current = current.Add(2 * time.Minute)
	fresh := v.Validate(validClass(), SchemaClass, "class:c1")
	require.NotSame(t, first, fresh)
	assert.True(t, fresh.Valid)
}
