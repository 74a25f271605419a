// Package provider adapts upstream model backends to session.Provider: a
// raw sentinel-annotated text stream per round, decoupled from any one
// vendor's wire format.
package provider

// RoleUser, RoleAssistant, RoleTool, and RoleSystem mirror
// session.Message's Role field for callers building a message list
// outside this package.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)
