// Package entity defines the classroom entities carried through the state
// core: users, classes and assignments. Validation rules live on the
// struct tags; cross-field rules are registered by the schema package.
package entity

import "time"

// Role values accepted for users.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// User is a classroom participant.
type User struct {
	ID         string `json:"id" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name" validate:"required,notblank,min=2,max=100"`
	Role       string `json:"role" validate:"required,oneof=student teacher admin"`
	Department string `json:"department,omitempty" validate:"omitempty,max=100"`
}

// Class is a course section taught by one teacher.
type Class struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name" validate:"required,notblank,min=2,max=100"`
	Section     string `json:"section" validate:"required,notblank,max=10"`
	Code        string `json:"code" validate:"required,min=4,max=12"`
	TeacherID   string `json:"teacherId" validate:"required"`
	Subject     string `json:"subject,omitempty" validate:"omitempty,max=100"`
	Room        string `json:"room,omitempty" validate:"omitempty,max=50"`
	Description string `json:"description,omitempty" validate:"omitempty,max=2000"`
	Capacity    int    `json:"capacity,omitempty" validate:"omitempty,gte=1,lte=500"`
}

// Assignment types accepted for assignments.
const (
	AssignmentHomework = "homework"
	AssignmentQuiz     = "quiz"
	AssignmentExam     = "exam"
	AssignmentProject  = "project"
)

// Assignment is graded work attached to a class.
type Assignment struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title" validate:"required,notblank,min=2,max=200"`
	ClassID     string    `json:"classId" validate:"required"`
	Type        string    `json:"type,omitempty" validate:"omitempty,oneof=homework quiz exam project"`
	Description string    `json:"description,omitempty" validate:"omitempty,max=5000"`
	DueDate     time.Time `json:"dueDate" validate:"required"`
	Points      int       `json:"points" validate:"gte=0,lte=1000"`
}
