package annotation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotation_MarshalJSON_FlattensFields(t *testing.T) {
	a := &Annotation{
		ID:     3,
		Quote:  "hello",
		Ranges: []Value{Object{"start": String("/p[1]"), "startOffset": Int(0)}},
		Fields: Object{"text": String("note"), "tags": Array{String("a")}},
		Local:  true,
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id": 3,
		"quote": "hello",
		"ranges": [{"start": "/p[1]", "startOffset": 0}],
		"text": "note",
		"tags": ["a"]
	}`, string(data))
	assert.NotContains(t, string(data), KeyLocal)
}

func TestAnnotation_MarshalJSON_DraftOmitsID(t *testing.T) {
	data, err := json.Marshal(New("q", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"quote":"q","ranges":[]}`, string(data))
}

func TestAnnotation_UnmarshalJSON(t *testing.T) {
	var a Annotation
	err := json.Unmarshal([]byte(`{"id":5,"quote":"b","ranges":[],"text":"x","_local":true,"score":0.5}`), &a)
	require.NoError(t, err)

	assert.Equal(t, int64(5), a.ID)
	assert.Equal(t, "b", a.Quote)
	assert.True(t, a.Local)
	assert.Equal(t, String("x"), a.Fields["text"])
	assert.Equal(t, Float(0.5), a.Fields["score"])
	_, hasLocal := a.Fields[KeyLocal]
	assert.False(t, hasLocal)
}

func TestAnnotation_UnmarshalJSON_RejectsBadID(t *testing.T) {
	var a Annotation
	err := json.Unmarshal([]byte(`{"id":"seven"}`), &a)
	assert.Error(t, err)
}

func TestAnnotation_Merge(t *testing.T) {
	dst := &Annotation{
		ID:    1,
		Quote: "old",
		Fields: Object{
			"text": String("keep me"),
			"meta": Object{"a": Int(1), "b": Int(2)},
		},
	}
	src := &Annotation{
		ID:    1,
		Quote: "new",
		Fields: Object{
			"meta":  Object{"b": Int(20), "c": Int(30)},
			"extra": Bool(true),
		},
	}

	got := dst.Merge(src)

	assert.Same(t, dst, got, "merge must preserve identity")
	assert.Equal(t, "new", dst.Quote)
	assert.Equal(t, String("keep me"), dst.Fields["text"])
	assert.Equal(t, Object{"a": Int(1), "b": Int(20), "c": Int(30)}, dst.Fields["meta"])
	assert.Equal(t, Bool(true), dst.Fields["extra"])
	assert.Nil(t, dst.Ranges, "nil ranges in src leave dst ranges alone")
}

func TestAnnotation_Merge_KeepsQuoteWhenAbsent(t *testing.T) {
	dst := &Annotation{ID: 1, Quote: "hello", Ranges: []Value{Int(0)}}
	dst.Merge(&Annotation{ID: 1, Fields: Object{"text": String("note")}})

	assert.Equal(t, "hello", dst.Quote)
	assert.Equal(t, []Value{Int(0)}, dst.Ranges)
	assert.Equal(t, String("note"), dst.Fields["text"])
}

func TestAnnotation_Merge_DoesNotAlias(t *testing.T) {
	dst := &Annotation{ID: 1}
	src := &Annotation{ID: 1, Fields: Object{"meta": Object{"a": Int(1)}}}

	dst.Merge(src)
	src.Fields["meta"].(Object)["a"] = Int(99)

	assert.Equal(t, Int(1), dst.Fields["meta"].(Object)["a"])
}

func TestAnnotation_Clone(t *testing.T) {
	a := &Annotation{
		ID:     2,
		Ranges: []Value{Object{"start": String("/p")}},
		Fields: Object{"text": String("t")},
		Local:  true,
	}
	c := a.Clone()

	require.NotSame(t, a, c)
	assert.Equal(t, a, c)

	c.Fields["text"] = String("changed")
	c.Ranges[0].(Object)["start"] = String("/div")
	assert.Equal(t, String("t"), a.Fields["text"])
	assert.Equal(t, String("/p"), a.Ranges[0].(Object)["start"])
}

func TestAnnotation_SetField_Reserved(t *testing.T) {
	a := New("q", nil)
	for _, key := range []string{KeyID, KeyQuote, KeyRanges, KeyLocal} {
		assert.Error(t, a.SetField(key, String("x")), key)
	}
	require.NoError(t, a.SetField("text", String("ok")))
	v, ok := a.Field("text")
	assert.True(t, ok)
	assert.Equal(t, String("ok"), v)
}

func TestFromAnyAnnotation_YAMLShapes(t *testing.T) {
	a, err := FromAnyAnnotation(map[string]any{
		"id":     5,
		"quote":  "b",
		"ranges": []any{map[string]any{"start": "/p[1]", "startOffset": 2}},
		"rating": 4.0,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), a.ID)
	assert.Equal(t, Int(4), a.Fields["rating"], "integral floats decode as Int")
	assert.Equal(t, Object{"start": String("/p[1]"), "startOffset": Int(2)}, a.Ranges[0])
}

func TestDecodeList(t *testing.T) {
	list, err := DecodeList([]byte(`[{"quote":"a"},{"id":5,"quote":"b"}]`))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].IsDraft())
	assert.Equal(t, int64(5), list[1].ID)

	empty, err := DecodeList([]byte("  "))
	require.NoError(t, err)
	assert.Nil(t, empty)
}
