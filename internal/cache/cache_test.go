package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateKey_OrderIndependent(t *testing.T) {
	t.Parallel()
	a, err := CreateKey("markdown", "https://example.com/a", map[string]any{"x": 1.0, "y": 2.0})
	require.NoError(t, err)
	b, err := CreateKey("markdown", "https://example.com/a", map[string]any{"y": 2.0, "x": 1.0})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCreateKey_NilVaryDiffersFromEmptyVary(t *testing.T) {
	t.Parallel()
	a, err := CreateKey("markdown", "https://example.com/a", nil)
	require.NoError(t, err)
	b, err := CreateKey("markdown", "https://example.com/a", map[string]any{})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCreateKey_VaryChangesKey(t *testing.T) {
	t.Parallel()
	a, _ := CreateKey("markdown", "https://example.com/a", map[string]any{"includeMetadata": true})
	b, _ := CreateKey("markdown", "https://example.com/a", map[string]any{"includeMetadata": false})
	assert.NotEqual(t, a, b)
}

func TestStore_SetThenGet(t *testing.T) {
	t.Parallel()
	s := NewStore(Options{Enabled: true, TTL: time.Minute, MaxEntries: 10})
	defer s.Close()

	s.Set("markdown", "h1", "markdown:h1", "hello", "https://example.com/a", "T", false)
	got, ok := s.Get("markdown:h1", false)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "T", got.Title)
}

func TestStore_DisabledHidesNonForcedReads(t *testing.T) {
	t.Parallel()
	s := NewStore(Options{Enabled: false, TTL: time.Minute, MaxEntries: 10})
	defer s.Close()

	s.Set("markdown", "h1", "markdown:h1", "hello", "https://example.com/a", "", true)
	_, ok := s.Get("markdown:h1", false)
	assert.False(t, ok)

	got, ok := s.Get("markdown:h1", true)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
}

func TestStore_ExpiredEntryNotReturned(t *testing.T) {
	t.Parallel()
	s := NewStore(Options{Enabled: true, TTL: time.Millisecond, MaxEntries: 10})
	defer s.Close()

	s.Set("markdown", "h1", "markdown:h1", "hello", "https://example.com/a", "", false)
	time.Sleep(5 * time.Millisecond)
	_, ok := s.Get("markdown:h1", false)
	assert.False(t, ok)
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	s := NewStore(Options{Enabled: true, TTL: time.Minute, MaxEntries: 2})
	defer s.Close()

	s.Set("ns", "h1", "ns:h1", "a", "u1", "", false)
	s.Set("ns", "h2", "ns:h2", "b", "u2", "", false)
	s.Get("ns:h1", false) // h1 is now MRU, h2 is LRU
	s.Set("ns", "h3", "ns:h3", "c", "u3", "", false)

	_, ok1 := s.Get("ns:h1", false)
	_, ok2 := s.Get("ns:h2", false)
	_, ok3 := s.Get("ns:h3", false)
	assert.True(t, ok1)
	assert.False(t, ok2)
	assert.True(t, ok3)
}

func TestStore_SubscribeReceivesListChangedOnNewKey(t *testing.T) {
	t.Parallel()
	s := NewStore(Options{Enabled: true, TTL: time.Minute, MaxEntries: 10})
	defer s.Close()

	ch := s.Subscribe()
	s.Set("ns", "h1", "ns:h1", "a", "u1", "", false)

	select {
	case ev := <-ch:
		assert.True(t, ev.ListChanged)
		assert.Equal(t, "ns", ev.Namespace)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestStore_ListNamespaceExcludesForcedAndOtherNamespaces(t *testing.T) {
	t.Parallel()
	s := NewStore(Options{Enabled: true, TTL: time.Minute, MaxEntries: 10})
	defer s.Close()

	s.Set("markdown", "h1", "markdown:h1", "a", "u1", "T1", false)
	s.Set("markdown", "h2", "markdown:h2", "b", "u2", "T2", true) // forced, invisible to listing
	s.Set("links", "h3", "links:h3", "c", "u3", "T3", false)

	items := s.ListNamespace("markdown")
	assert.Len(t, items, 1)
	assert.Equal(t, "h1", items[0].URLHash)
	assert.Equal(t, "T1", items[0].Title)
}

func TestStore_SubscribeNoListChangedOnOverwrite(t *testing.T) {
	t.Parallel()
	s := NewStore(Options{Enabled: true, TTL: time.Minute, MaxEntries: 10})
	defer s.Close()

	s.Set("ns", "h1", "ns:h1", "a", "u1", "", false)
	ch := s.Subscribe()
	s.Set("ns", "h1", "ns:h1", "b", "u1", "", false)

	select {
	case ev := <-ch:
		assert.False(t, ev.ListChanged)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
}
