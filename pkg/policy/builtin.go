package policy

// GetBuiltinPolicies returns the policies every engine starts with.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "read-only-session",
			Description: "Blocks commands that change core state when the session is read-only",
			Severity:    SeverityError,
			Enabled:     true,
			Rego: `package quanto.builtin.readonly

import rego.v1

mutating := {
	"new_graph",
	"load_graph",
	"save_graph",
	"kill_graph",
	"rename_graph",
	"apply_rewrite",
	"undo",
	"redo",
	"set_graph_user_data",
	"delete_graph_user_data",
}

deny contains msg if {
	input.mode == "read-only"
	mutating[input.verb]
	msg := sprintf("%s changes core state and the session is read-only", [input.verb])
}
`,
		},
		{
			Name:        "graph-paths",
			Description: "Flags graph file paths that climb out of the working tree",
			Severity:    SeverityWarning,
			Enabled:     true,
			Rego: `package quanto.builtin.paths

import rego.v1

path_arg := {"load_graph": 0, "save_graph": 1}

deny contains msg if {
	i := path_arg[input.verb]
	path := input.args[i]
	some part in split(path, "/")
	part == ".."
	msg := sprintf("%s path %s leaves the working tree", [input.verb, path])
}
`,
		},
	}
}
