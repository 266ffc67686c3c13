package coretest

import (
	"fmt"
	"sort"
	"strings"
)

// GraphXML renders a small graph document: vertices v0..v(n-1) of type Z
// chained by edges, with the given graph-level user data.
func GraphXML(name string, n int, userData map[string]string) string {
	var b strings.Builder
	b.WriteString("<graph>\n")
	if name != "" {
		fmt.Fprintf(&b, "  <name>%s</name>\n", name)
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "  <vertex>\n    <name>v%d</name>\n    <type>Z</type>\n    <data><as_string>%d</as_string></data>\n  </vertex>\n", i, i)
	}
	for i := 1; i < n; i++ {
		fmt.Fprintf(&b, "  <edge>\n    <name>e%d</name>\n    <source>v%d</source>\n    <target>v%d</target>\n  </edge>\n", i-1, i-1, i)
	}
	b.WriteString(userDataXML(userData, "  "))
	b.WriteString("</graph>")
	return b.String()
}

// RuleXML renders a rule whose left side has lhs vertices and right side
// one vertex.
func RuleXML(name string, lhs int) string {
	var b strings.Builder
	b.WriteString("<rule>\n")
	fmt.Fprintf(&b, "  <name>%s</name>\n", name)
	b.WriteString("  <lhs>\n" + indent(GraphXML("", lhs, nil), "    ") + "\n  </lhs>\n")
	b.WriteString("  <rhs>\n" + indent(GraphXML("", 1, nil), "    ") + "\n  </rhs>\n")
	b.WriteString("</rule>")
	return b.String()
}

// RewriteXML renders one attached rewrite using rule and resulting graph.
func RewriteXML(rule, newGraph string) string {
	return "<rewrite>\n" + indent(rule, "  ") + "\n  <newgraph>\n" + indent(newGraph, "    ") + "\n  </newgraph>\n</rewrite>"
}

// RewritesXML wraps rewrite documents in a list.
func RewritesXML(rewrites []string) string {
	if len(rewrites) == 0 {
		return "<rewrites/>"
	}
	var b strings.Builder
	b.WriteString("<rewrites>\n")
	for _, r := range rewrites {
		b.WriteString(indent(r, "  "))
		b.WriteByte('\n')
	}
	b.WriteString("</rewrites>")
	return b.String()
}

func userDataXML(values map[string]string, pad string) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(pad + "<user_data>\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s  <entry name=%q>%s</entry>\n", pad, k, values[k])
	}
	b.WriteString(pad + "</user_data>\n")
	return b.String()
}

func indent(s, pad string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n")
}
