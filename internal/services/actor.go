package services

import (
	"strings"

	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

// Actor is the authenticated person performing an operation. Name is used
// for attribution ("[name (ROLE)] reason"); Role decides authorization.
type Actor struct {
	Name       string
	Role       workflow.Role
	Department string
}

func (a Actor) validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return invalid("actor name is required")
	}
	if _, err := workflow.ParseRole(string(a.Role)); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// attribute prefixes text with the actor's name and role.
func (a Actor) attribute(text string) string {
	return "[" + a.Name + " (" + string(a.Role) + ")] " + text
}
