// Package policy gates commands before they reach the core using Rego
// policies evaluated by OPA.
//
// Every policy is a Rego module whose deny set names the reasons a
// command may not be sent:
//
//	package quanto.local
//
//	import rego.v1
//
//	deny contains msg if {
//		input.verb == "kill_graph"
//		startswith(input.args[0], "keep-")
//		msg := sprintf("graph %s is protected", [input.args[0]])
//	}
//
// The input document has the command's verb, args and text, the source
// that issued it (cli, script or watch) and the session mode
// (read-write or read-only). A deny entry is either a message string or
// an object with message and severity fields. Violations of severity
// error or critical block the command; the rest are logged as warnings.
//
// Guard wraps a connection so that every command is evaluated first.
// Built-in policies enforce read-only sessions and flag graph paths that
// climb out of the working tree.
package policy
