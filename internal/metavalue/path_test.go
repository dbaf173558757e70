package metavalue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) Value {
	t.Helper()
	v, err := Parse([]byte(s))
	require.NoError(t, err)
	return v
}

func TestParseKeepsNumberKinds(t *testing.T) {
	v := mustParse(t, `{"a":42,"b":4.5,"c":"42","d":[true,null]}`)

	a, _ := v.Field("a")
	assert.Equal(t, Int, a.Kind())
	b, _ := v.Field("b")
	assert.Equal(t, Float, b.Kind())
	c, _ := v.Field("c")
	assert.Equal(t, String, c.Kind())
	assert.Equal(t, []string{"a", "b", "c", "d"}, v.Keys())
}

func TestMarshalRoundTripKeepsOrderAndFloats(t *testing.T) {
	in := `{"z":1,"a":2.0,"m":[1,"x",{"k":null}]}`
	v := mustParse(t, in)
	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2.0,"m":[1,"x",{"k":null}]}`, string(out))

	again := mustParse(t, string(out))
	assert.True(t, Equal(v, again))
}

func TestParseRejectsTrailingData(t *testing.T) {
	_, err := Parse([]byte(`{} {}`))
	assert.Error(t, err)
}

func TestPathUnmarshal(t *testing.T) {
	var p Path
	require.NoError(t, json.Unmarshal([]byte(`["gallery", 0, "id"]`), &p))
	assert.Equal(t, Path{KeySegment("gallery"), IndexSegment(0), KeySegment("id")}, p)
	assert.Equal(t, ".gallery[0].id", p.String())

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `["gallery",0,"id"]`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`[true]`), &p))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &p))
}

func TestReplaceIDPreservesType(t *testing.T) {
	tests := []struct {
		name string
		in   string
		path Path
		want string
	}{
		{"int stays int", `{"image":42}`, Path{KeySegment("image")}, `{"image":99}`},
		{"string stays string", `{"image":"42"}`, Path{KeySegment("image")}, `{"image":"99"}`},
		{"float stays float", `{"image":42.0}`, Path{KeySegment("image")}, `{"image":99.0}`},
		{"nested array", `{"g":[{"id":1},{"id":42}]}`, Path{KeySegment("g"), IndexSegment(1), KeySegment("id")}, `{"g":[{"id":1},{"id":99}]}`},
		{"bare scalar", `42`, nil, `99`},
		{"numeric key on list", `[7,42]`, Path{KeySegment("1")}, `[7,99]`},
		{"index on numeric-keyed map", `{"0":42}`, Path{IndexSegment(0)}, `{"0":99}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := mustParse(t, tt.in)
			got, ok := ReplaceID(root, tt.path, 42, 99)
			require.True(t, ok)
			out, err := json.Marshal(got)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestReplaceIDDoesNotMutateInput(t *testing.T) {
	root := mustParse(t, `{"g":[{"id":42}]}`)
	_, ok := ReplaceID(root, Path{KeySegment("g"), IndexSegment(0), KeySegment("id")}, 42, 99)
	require.True(t, ok)
	id, found := Lookup(root, Path{KeySegment("g"), IndexSegment(0), KeySegment("id")})
	require.True(t, found)
	n, _ := id.AsInt()
	assert.Equal(t, int64(42), n)
}

func TestReplaceIDSchemaDriftIsNoop(t *testing.T) {
	tests := []struct {
		name string
		in   string
		path Path
	}{
		{"missing key", `{"other":42}`, Path{KeySegment("image")}},
		{"index out of range", `{"g":[]}`, Path{KeySegment("g"), IndexSegment(3)}},
		{"descend into scalar", `{"g":5}`, Path{KeySegment("g"), KeySegment("id")}},
		{"terminal is object", `{"g":{"id":42}}`, Path{KeySegment("g")}},
		{"terminal holds another id", `{"g":7}`, Path{KeySegment("g")}},
		{"terminal is bool", `{"g":true}`, Path{KeySegment("g")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := mustParse(t, tt.in)
			got, ok := ReplaceID(root, tt.path, 42, 99)
			assert.False(t, ok)
			assert.True(t, Equal(root, got))
		})
	}
}
