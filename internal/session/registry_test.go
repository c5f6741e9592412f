package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kiku/internal/apperr"
	"github.com/hyperjump/kiku/internal/rag"
)

func TestRegistry_RegisterLookup(t *testing.T) {
	r := NewRegistry()
	p := &rag.Pipeline{}
	s := &Session{ID: "doc", Filename: "doc.pdf", Pipeline: p, ChunkCount: 3}

	prev := r.Register(s)
	assert.Nil(t, prev)

	got, err := r.Lookup("doc")
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Same(t, p, got.Pipeline)
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry()
	s, err := r.Lookup("missing")
	assert.Nil(t, s)
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, "Session not found. Upload a PDF first.", err.Error())
}

func TestRegistry_ReplaceReturnsPrevious(t *testing.T) {
	r := NewRegistry()
	first := &Session{ID: "doc", Pipeline: &rag.Pipeline{}}
	second := &Session{ID: "doc", Pipeline: &rag.Pipeline{}}

	r.Register(first)
	prev := r.Register(second)
	assert.Same(t, first, prev)

	got, _ := r.Lookup("doc")
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.List())
	for _, id := range []string{"b", "c", "a"} {
		r.Register(&Session{ID: id})
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.List())
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(&Session{ID: fmt.Sprintf("doc-%d", i%10)})
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Lookup("doc-1")
			_ = r.List()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, r.Len())
}

func TestSession_Info(t *testing.T) {
	now := time.Now()
	s := &Session{ID: "doc", Filename: "doc.pdf", ChunkCount: 7, ContentHash: "abc", CreatedAt: now}
	info := s.Info()
	assert.Equal(t, "doc", info.SessionID)
	assert.Equal(t, "doc.pdf", info.Filename)
	assert.Equal(t, 7, info.Chunks)
	assert.Equal(t, 0, info.TopK, "no pipeline means no top-k")
	assert.Equal(t, now, info.CreatedAt)
}
