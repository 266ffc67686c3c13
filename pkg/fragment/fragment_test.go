package fragment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantomatic/quanto-client/pkg/model"
)

const graphXML = `<?xml version="1.0"?>
<graph>
  <name>g1</name>
  <vertex>
    <name>v0</name>
    <type>Z</type>
    <data><as_string>alpha</as_string><as_tree><node kind="var"/></as_tree></data>
    <user_data><entry name="pos">1,2</entry></user_data>
  </vertex>
  <vertex>
    <name>b0</name>
    <boundary>true</boundary>
  </vertex>
  <layout><hint><x>1</x><y>2</y></hint></layout>
  <edge>
    <name>e0</name>
    <type>plain</type>
    <source>v0</source>
    <target>b0</target>
  </edge>
  <bangbox>
    <name>B0</name>
    <boxedvertex>v0</boxedvertex>
  </bangbox>
  <user_data><entry name="note"> spaced value </entry></user_data>
</graph>`

const ruleXML = `<rule>
  <name>spider</name>
  <lhs><graph><vertex><name>a</name><type>Z</type></vertex></graph></lhs>
  <rhs><graph><vertex><name>b</name><type>X</type></vertex></graph></rhs>
  <user_data><entry name="author">quanto</entry></user_data>
</rule>`

const newGraphXML = `<newgraph><graph><name>g1</name><vertex><name>b</name></vertex></graph></newgraph>`

func TestDecodeGraph(t *testing.T) {
	g, err := DecodeGraph(strings.NewReader(graphXML))
	require.NoError(t, err)

	assert.Equal(t, "g1", g.Name)
	require.Len(t, g.Vertices, 2)
	require.Len(t, g.Edges, 1)
	require.Len(t, g.BangBoxes, 1)

	v0, ok := g.Vertex("v0")
	require.True(t, ok)
	assert.Equal(t, "Z", v0.Type)
	assert.Equal(t, "alpha", v0.Data)
	assert.False(t, v0.Boundary)
	pos, ok := v0.Annotations.Get("pos")
	assert.True(t, ok)
	assert.Equal(t, "1,2", pos)

	b0, ok := g.Vertex("b0")
	require.True(t, ok)
	assert.True(t, b0.Boundary)

	e0, ok := g.Edge("e0")
	require.True(t, ok)
	assert.Equal(t, "v0", e0.Source)
	assert.Equal(t, "b0", e0.Target)

	assert.Equal(t, []string{"v0"}, g.BangBoxes[0].Vertices)

	note, ok := g.Annotations.Get("note")
	assert.True(t, ok)
	assert.Equal(t, " spaced value ", note, "user data values are kept verbatim")
}

func TestDecodeGraphErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "duplicate vertex",
			doc:  `<graph><vertex><name>v</name></vertex><vertex><name>v</name></vertex></graph>`,
			want: ErrDuplicateElement,
		},
		{
			name: "duplicate graph name",
			doc:  `<graph><name>a</name><name>b</name></graph>`,
			want: ErrDuplicateElement,
		},
		{
			name: "vertex without name",
			doc:  `<graph><vertex><type>Z</type></vertex></graph>`,
			want: ErrMissingField,
		},
		{
			name: "edge without target",
			doc:  `<graph><vertex><name>v</name></vertex><edge><name>e</name><source>v</source></edge></graph>`,
			want: ErrMissingField,
		},
		{
			name: "edge to unknown vertex",
			doc:  `<graph><vertex><name>v</name></vertex><edge><name>e</name><source>v</source><target>w</target></edge></graph>`,
			want: ErrMissingField,
		},
		{
			name: "nested element in leaf",
			doc:  `<graph><name><b>g</b></name></graph>`,
			want: ErrUnexpectedElement,
		},
		{
			name: "structural text",
			doc:  `<graph>oops<name>g</name></graph>`,
			want: ErrUnexpectedElement,
		},
		{
			name: "wrong root",
			doc:  `<rule></rule>`,
			want: ErrUnexpectedElement,
		},
		{
			name: "content after root",
			doc:  `<graph/><graph/>`,
			want: ErrUnexpectedElement,
		},
		{
			name: "truncated",
			doc:  `<graph><name>g</name>`,
			want: ErrTruncatedFragment,
		},
		{
			name: "truncated inside tag",
			doc:  `<graph><name>g</name></gra`,
			want: ErrTruncatedFragment,
		},
		{
			name: "empty payload",
			doc:  ``,
			want: ErrTruncatedFragment,
		},
		{
			name: "malformed",
			doc:  `<graph>&bogus;</graph>`,
			want: ErrMalformed,
		},
		{
			name: "bad boundary",
			doc:  `<graph><vertex><name>v</name><boundary>maybe</boundary></vertex></graph>`,
			want: ErrUnexpectedElement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := DecodeGraph(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsParseError(err))
			assert.Nil(t, g, "partial results are discarded")
		})
	}
}

func TestDecodeRule(t *testing.T) {
	r, err := DecodeRule(strings.NewReader(ruleXML))
	require.NoError(t, err)

	assert.Equal(t, "spider", r.Name)
	require.NotNil(t, r.LHS)
	require.NotNil(t, r.RHS)
	_, ok := r.LHS.Vertex("a")
	assert.True(t, ok)
	_, ok = r.RHS.Vertex("b")
	assert.True(t, ok)
	author, _ := r.Annotations.Get("author")
	assert.Equal(t, "quanto", author)
}

func TestDecodeRuleErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "missing rhs",
			doc:  `<rule><name>r</name><lhs><graph/></lhs></rule>`,
			want: ErrMissingField,
		},
		{
			name: "missing name",
			doc:  `<rule><lhs><graph/></lhs><rhs><graph/></rhs></rule>`,
			want: ErrMissingField,
		},
		{
			name: "empty lhs",
			doc:  `<rule><name>r</name><lhs></lhs><rhs><graph/></rhs></rule>`,
			want: ErrMissingField,
		},
		{
			name: "two graphs in lhs",
			doc:  `<rule><name>r</name><lhs><graph/><graph/></lhs><rhs><graph/></rhs></rule>`,
			want: ErrDuplicateElement,
		},
		{
			name: "second lhs",
			doc:  `<rule><name>r</name><lhs><graph/></lhs><lhs><graph/></lhs><rhs><graph/></rhs></rule>`,
			want: ErrDuplicateElement,
		},
		{
			name: "non graph inside rhs",
			doc:  `<rule><name>r</name><lhs><graph/></lhs><rhs><vertex/></rhs></rule>`,
			want: ErrUnexpectedElement,
		},
		{
			name: "two user data blocks",
			doc:  `<rule><name>r</name><user_data/><user_data/></rule>`,
			want: ErrDuplicateElement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeRule(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, r)
		})
	}
}

func TestRuleSkipsUnknownChildren(t *testing.T) {
	doc := `<rule><name>r</name><comment><p>x</p><p>y</p></comment><lhs><graph/></lhs><rhs><graph/></rhs></rule>`
	r, err := DecodeRule(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "r", r.Name)
}

func TestRewriteComplete(t *testing.T) {
	h := NewRewrite("g1", 3)
	doc := "<rewrite>" + ruleXML + newGraphXML + "</rewrite>"

	require.NoError(t, Feed(strings.NewReader(doc), h))
	assert.True(t, h.Complete())

	rw, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, "g1", rw.Graph)
	assert.Equal(t, 3, rw.Index)
	assert.Equal(t, "spider", rw.Rule.Name)
	assert.Equal(t, "g1", rw.NewGraph.Name)
	assert.Equal(t, "g1[3] spider", rw.String())
}

func TestRewriteIncompleteUntilRootCloses(t *testing.T) {
	h := NewRewrite("g1", 0)
	doc := "<rewrite>" + ruleXML + newGraphXML

	err := Feed(strings.NewReader(doc), h)
	assert.ErrorIs(t, err, ErrTruncatedFragment)
	assert.False(t, h.Complete())

	_, err = h.Result()
	assert.ErrorIs(t, err, ErrNotComplete)
}

func TestRewriteDuplicateRule(t *testing.T) {
	h := NewRewrite("g1", 0)
	doc := "<rewrite>" + ruleXML + ruleXML + newGraphXML + "</rewrite>"

	rw, err := Decode[*model.AttachedRewrite](strings.NewReader(doc), h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateElement)
	assert.Equal(t, KindDuplicateElement, KindOf(err))
	assert.False(t, h.Complete())
	assert.Nil(t, rw)
}

func TestRewriteErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"missing newgraph", "<rewrite>" + ruleXML + "</rewrite>", ErrMissingField},
		{"missing rule", "<rewrite>" + newGraphXML + "</rewrite>", ErrMissingField},
		{"two newgraphs", "<rewrite>" + ruleXML + newGraphXML + newGraphXML + "</rewrite>", ErrDuplicateElement},
		{"empty newgraph", "<rewrite>" + ruleXML + "<newgraph></newgraph></rewrite>", ErrMissingField},
		{"two graphs in newgraph", "<rewrite>" + ruleXML + "<newgraph><graph/><graph/></newgraph></rewrite>", ErrDuplicateElement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRewrite(strings.NewReader(tt.doc), "g", 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeRewrites(t *testing.T) {
	one := "<rewrite>" + ruleXML + newGraphXML + "</rewrite>"
	doc := "<rewrites>" + one + "<meta>ignored</meta>" + one + "</rewrites>"

	list, err := DecodeRewrites(strings.NewReader(doc), "g1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	for i, rw := range list {
		assert.Equal(t, i, rw.Index)
		assert.Equal(t, "g1", rw.Graph)
	}

	empty, err := DecodeRewrites(strings.NewReader("<rewrites/>"), "g1")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUserData(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"duplicate key", `<user_data><entry name="a">1</entry><entry name="a">2</entry></user_data>`, ErrDuplicateElement},
		{"missing key", `<user_data><entry>1</entry></user_data>`, ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeString[model.Annotations](tt.doc, NewUserData())
			assert.ErrorIs(t, err, tt.want)
		})
	}

	a, err := DecodeString[model.Annotations](`<user_data><entry name="a">1</entry><extra/><entry name="b"></entry></user_data>`, NewUserData())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": ""}, a.Map())
}

func TestSkipDepth(t *testing.T) {
	s := NewSkip()
	require.NoError(t, s.Open("a", nil))
	require.NoError(t, s.Open("b", nil))
	assert.Equal(t, 2, s.Depth())
	require.NoError(t, s.Close("b"))
	assert.False(t, s.Complete())
	require.NoError(t, s.Close("a"))
	assert.True(t, s.Complete())
	assert.Equal(t, 0, s.Depth())

	root, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, "a", root)

	err = s.Close("a")
	assert.ErrorIs(t, err, ErrMismatchedElement)
	assert.Equal(t, 0, s.Depth(), "depth never goes negative")
}

func TestSkipScopedPerElement(t *testing.T) {
	// Two sibling unknown subtrees each get their own counter; the graph
	// handler regains control between them.
	doc := `<graph><x><y/></x><vertex><name>v</name></vertex><z><w><q/></w></z></graph>`
	g, err := DecodeGraph(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, g.Vertices, 1)
}

func TestMismatchedClose(t *testing.T) {
	h := NewGraph()
	require.NoError(t, h.Open("graph", nil))
	require.NoError(t, h.Open("name", nil))
	err := h.Close("graph")
	assert.ErrorIs(t, err, ErrMismatchedElement)

	r := NewRule()
	require.NoError(t, r.Open("rule", nil))
	require.NoError(t, r.Open("lhs", nil))
	assert.ErrorIs(t, r.Close("rhs"), ErrMismatchedElement)

	w := NewRewrite("g", 0)
	assert.ErrorIs(t, w.Close("rewrite"), ErrMismatchedElement)
}

func TestResultBeforeComplete(t *testing.T) {
	_, err := NewGraph().Result()
	assert.ErrorIs(t, err, ErrNotComplete)
	_, err = NewRule().Result()
	assert.ErrorIs(t, err, ErrNotComplete)
	_, err = NewRewrites("g").Result()
	assert.ErrorIs(t, err, ErrNotComplete)
	_, err = NewLeaf().Result()
	assert.ErrorIs(t, err, ErrNotComplete)
}

func TestParseErrorMessage(t *testing.T) {
	err := duplicate("rewrite", "rule")
	assert.Equal(t, "parse rewrite: duplicate_element <rule>", err.Error())
}
