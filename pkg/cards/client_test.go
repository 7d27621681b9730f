package cards

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchBody = `{
	"data": [
		{
			"name": "Lightning Bolt",
			"set": "lea",
			"mana_cost": "{R}",
			"type_line": "Instant",
			"oracle_text": "Lightning Bolt deals 3 damage to any target.",
			"image_uris": {"normal": "https://img.example/bolt.jpg"}
		},
		{
			"name": "Lightning Helix",
			"set": "rav",
			"mana_cost": "{R}{W}",
			"type_line": "Instant",
			"oracle_text": "Lightning Helix deals 3 damage to any target and you gain 3 life.",
			"image_uris": {"normal": "https://img.example/helix.jpg"}
		}
	]
}`

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards/search", r.URL.Path)
		assert.Equal(t, "lightning", r.URL.Query().Get("q"))
		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	results, err := c.Search(context.Background(), "lightning", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Lightning Bolt", results[0].Name)
	assert.Equal(t, "lea", results[0].SetCode)
	assert.Equal(t, "{R}", results[0].ManaCost)
	assert.Equal(t, "https://img.example/bolt.jpg", results[0].ImageURL)
}

func TestSearchHonorsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	results, err := c.Search(context.Background(), "lightning", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchNotFoundIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"object":"error"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	results, err := c.Search(context.Background(), "xyzzy", 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Search(context.Background(), "lightning", 5)
	assert.Error(t, err)
}

func TestLookupBestMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	card, err := c.Lookup(context.Background(), "lightning bolt")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "Lightning Bolt", card.Name)
}

func TestLookupNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	card, err := c.Lookup(context.Background(), "no such card")
	require.NoError(t, err)
	assert.Nil(t, card)
}

func TestSearchContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(srv.URL, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Search(ctx, "lightning", 5)
	assert.Error(t, err)
}
