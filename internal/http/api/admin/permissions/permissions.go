// Package permissions lists the admin endpoints the admin router is allowed to
// serve. A route missing from the list is rejected even for administrators.
package permissions

import (
	"sort"
	"strings"
)

// Definition describes one admin endpoint.
type Definition struct {
	Key    string `json:"key"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Module string `json:"module"`
	Label  string `json:"label"`
}

const adminPrefix = "/api/admin"

var definitions = []Definition{
	def("GET", "/providers", "Providers", "List providers"),
	def("POST", "/providers", "Providers", "Create provider"),
	def("GET", "/providers/:id", "Providers", "Get provider"),
	def("PUT", "/providers/:id", "Providers", "Update provider"),
	def("DELETE", "/providers/:id", "Providers", "Delete provider"),
	def("POST", "/providers/:id/sync-models", "Providers", "Sync provider models"),

	def("GET", "/models", "Models", "List models"),
	def("POST", "/models", "Models", "Create model"),
	def("GET", "/models/:id", "Models", "Get model"),
	def("PUT", "/models/:id", "Models", "Update model"),
	def("DELETE", "/models/:id", "Models", "Delete model"),

	def("GET", "/users", "Users", "List users"),
	def("GET", "/users/:id", "Users", "Get user"),
	def("PATCH", "/users/:id", "Users", "Update user"),
	def("DELETE", "/users/:id", "Users", "Delete user"),
	def("GET", "/users/:id/permission", "Users", "Get user permission"),
	def("PUT", "/users/:id/permission", "Users", "Update user permission"),
	def("POST", "/users/:id/permission/reset", "Users", "Reset user usage"),

	def("GET", "/invite-codes", "Codes", "List invite codes"),
	def("POST", "/invite-codes", "Codes", "Create invite code"),
	def("DELETE", "/invite-codes/:id", "Codes", "Delete invite code"),
	def("GET", "/access-codes", "Codes", "List access codes"),
	def("DELETE", "/access-codes/:id", "Codes", "Delete access code"),

	def("GET", "/token-usage", "Usage", "List token usage"),
	def("GET", "/token-usage/stats", "Usage", "Token usage stats"),

	def("GET", "/system-settings", "Settings", "Get system settings"),
	def("PUT", "/system-settings", "Settings", "Update system settings"),

	def("GET", "/permissions", "Settings", "List admin endpoints"),
}

func def(method, path, module, label string) Definition {
	full := adminPrefix + path
	return Definition{Key: Key(method, full), Method: method, Path: full, Module: module, Label: label}
}

// Key builds the lookup key for a method and gin route pattern.
func Key(method, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(path)
}

// Definitions returns a copy of all definitions ordered by module then key.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// DefinitionMap indexes definitions by key.
func DefinitionMap() map[string]Definition {
	out := make(map[string]Definition, len(definitions))
	for _, d := range definitions {
		out[d.Key] = d
	}
	return out
}
