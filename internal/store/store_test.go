package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marginalia/internal/annotation"
)

func TestStore_GetID_Incrementing(t *testing.T) {
	s := New()

	assert.Equal(t, int64(1), s.GetID(), "first id must never be 0")
	assert.Equal(t, int64(2), s.GetID())
	assert.Equal(t, int64(3), s.GetID())
}

func TestStore_Set_AssignsIncreasingUniqueIDs(t *testing.T) {
	s := New()

	var last int64
	seen := make(map[int64]bool)
	for i := 0; i < 50; i++ {
		a := s.Set(annotation.New("q", nil))
		assert.Greater(t, a.ID, last, "ids must be strictly increasing")
		assert.False(t, seen[a.ID], "id %d allocated twice", a.ID)
		seen[a.ID] = true
		last = a.ID

		got, ok := s.Get(a.ID)
		require.True(t, ok)
		assert.Equal(t, a.ID, got.ID)
	}
	assert.Equal(t, 50, s.Len())
}

func TestStore_Set_IgnoresExistingID(t *testing.T) {
	s := New()

	in := &annotation.Annotation{ID: 42, Quote: "q"}
	got := s.Set(in)

	assert.Same(t, in, got)
	assert.Equal(t, int64(1), got.ID)
	_, ok := s.Get(42)
	assert.False(t, ok)
}

func TestStore_Get_NotFound(t *testing.T) {
	s := New()
	a, ok := s.Get(7)
	assert.False(t, ok)
	assert.Nil(t, a)
}

func TestStore_All_KeysMatchIDs(t *testing.T) {
	s := New()
	s.Set(annotation.New("a", nil))
	s.Set(annotation.New("b", nil))
	s.SetMany([]*annotation.Annotation{{ID: 9, Quote: "c"}})

	for id, a := range s.All() {
		assert.Equal(t, id, a.ID)
	}
}

func TestStore_Export_StripsLocalAndCopies(t *testing.T) {
	s := New()
	a := s.Set(&annotation.Annotation{Quote: "a", Local: true, Fields: annotation.Object{"text": annotation.String("t")}})
	s.Set(annotation.New("b", nil))

	out := s.Export()
	require.Len(t, out, s.Len())

	for _, e := range out {
		assert.False(t, e.Local)
	}
	assert.Equal(t, a.ID, out[0].ID)
	assert.NotSame(t, a, out[0])

	out[0].Quote = "mutated"
	out[0].Fields["text"] = annotation.String("mutated")
	assert.Equal(t, "a", a.Quote, "export must not expose stored instances")
	assert.Equal(t, annotation.String("t"), a.Fields["text"])
	assert.True(t, a.Local, "export must not clear the flag on the stored entry")
}

func TestStore_Export_OrderedByID(t *testing.T) {
	s := New()
	s.SetMany([]*annotation.Annotation{{ID: 7}, {ID: 2}, {ID: 5}})

	var ids []int64
	for _, a := range s.Export() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []int64{2, 5, 7}, ids)
}

func TestStore_Update_UnknownIDIsNoop(t *testing.T) {
	s := New()
	s.Set(annotation.New("one", nil))
	s.Set(annotation.New("two", nil))

	calls := 0
	s.OnUpdate(func(*annotation.Annotation) { calls++ })

	in := &annotation.Annotation{ID: 99, Quote: "ghost"}
	got := s.Update(in)

	assert.Same(t, in, got)
	assert.Equal(t, "ghost", got.Quote)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 0, calls)
}

func TestStore_Update_DraftIsNoop(t *testing.T) {
	s := New()
	calls := 0
	s.OnUpdate(func(*annotation.Annotation) { calls++ })

	in := annotation.New("draft", nil)
	assert.Same(t, in, s.Update(in))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, calls)
}

func TestStore_Update_MergesAndNotifiesInOrder(t *testing.T) {
	s := New()
	stored := s.Set(&annotation.Annotation{
		Quote:  "old",
		Fields: annotation.Object{"text": annotation.String("keep")},
	})

	var order []string
	var seen []*annotation.Annotation
	s.OnUpdate(func(a *annotation.Annotation) {
		order = append(order, "first")
		seen = append(seen, a)
	})
	s.OnUpdate(func(a *annotation.Annotation) {
		order = append(order, "second")
		seen = append(seen, a)
	})

	got := s.Update(&annotation.Annotation{ID: stored.ID, Quote: "updated"})

	assert.Same(t, stored, got, "update must keep the stored identity")
	assert.Equal(t, "updated", stored.Quote)
	assert.Equal(t, annotation.String("keep"), stored.Fields["text"])
	assert.Equal(t, []string{"first", "second"}, order)
	require.Len(t, seen, 2)
	assert.Same(t, stored, seen[0])
	assert.Same(t, stored, seen[1])
}

func TestStore_Update_FieldsOnlyKeepsQuote(t *testing.T) {
	s := New()
	stored := s.Set(annotation.New("hello", nil))

	s.Update(&annotation.Annotation{ID: stored.ID, Fields: annotation.Object{"text": annotation.String("note")}})

	got, ok := s.Get(stored.ID)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Quote)
	assert.Equal(t, annotation.String("note"), got.Fields["text"])
}

func TestStore_Update_CallbackMayExport(t *testing.T) {
	s := New()
	a := s.Set(annotation.New("old", nil))

	var exported []*annotation.Annotation
	s.OnUpdate(func(*annotation.Annotation) {
		exported = s.Export()
	})

	s.Update(&annotation.Annotation{ID: a.ID, Quote: "new"})

	require.Len(t, exported, 1)
	assert.Equal(t, "new", exported[0].Quote, "export after update reflects the update")
}

func TestStore_SetMany(t *testing.T) {
	s := New()

	all := s.SetMany([]*annotation.Annotation{
		{Quote: "a"},
		{ID: 5, Quote: "b"},
	})

	assert.Len(t, all, 2)

	a, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "a", a.Quote)

	b, ok := s.Get(5)
	require.True(t, ok)
	assert.Equal(t, "b", b.Quote)
}

func TestStore_SetMany_ReplacesExisting(t *testing.T) {
	s := New()
	s.SetMany([]*annotation.Annotation{{ID: 3, Quote: "a", Fields: annotation.Object{"x": annotation.Int(1)}}})
	s.SetMany([]*annotation.Annotation{{ID: 3, Quote: "b"}})

	got, ok := s.Get(3)
	require.True(t, ok)
	assert.Equal(t, "b", got.Quote)
	assert.Empty(t, got.Fields, "setMany replaces rather than merges")
}

func TestStore_SetMany_NeverReusesImportedIDs(t *testing.T) {
	s := New()
	s.SetMany([]*annotation.Annotation{{ID: 5, Quote: "imported"}})

	next := s.Set(annotation.New("fresh", nil))
	assert.Equal(t, int64(6), next.ID)

	imported, ok := s.Get(5)
	require.True(t, ok)
	assert.Equal(t, "imported", imported.Quote)
}

func TestStore_Scenario_UpdateOnUnknownID(t *testing.T) {
	s := New()
	s.SetMany([]*annotation.Annotation{{ID: 1}, {ID: 2}})
	called := false
	s.OnUpdate(func(*annotation.Annotation) { called = true })

	in := &annotation.Annotation{ID: 99}
	assert.Same(t, in, s.Update(in))
	assert.Equal(t, 2, s.Len())
	assert.False(t, called)
}
