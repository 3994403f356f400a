package chatsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func searchFixture() []Chat {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []Chat{
		{ID: "c4", Title: "Summarize content", LastActivity: at.Add(1 * time.Minute),
			Messages: []Message{{ID: "m1", Text: "Summarize this article", Type: TypeMessage}}},
		{ID: "c3", Title: "Go Code", IsPinned: true, LastActivity: at.Add(2 * time.Minute)},
		{ID: "c2", Title: "Trip", LastActivity: at.Add(5 * time.Minute),
			Messages: []Message{{ID: "m2", Text: "Visit GOTHENBURG", Type: TypeMessage}}},
		{ID: "c1", Title: "Pinned notes", IsPinned: true, LastActivity: at.Add(10 * time.Minute)},
	}
}

func ids(chats []Chat) []string {
	out := []string{}
	for _, c := range chats {
		out = append(out, c.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	chats := searchFixture()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"empty query returns all", "", []string{"c4", "c3", "c2", "c1"}},
		{"title match ignores case", "go", []string{"c3", "c2"}},
		{"message text match", "article", []string{"c4"}},
		{"no match", "zebra", []string{}},
		{"whole-title query", "pinned notes", []string{"c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Filter(chats, tt.query)))
		})
	}
}

func TestSections(t *testing.T) {
	pinned, recent := Sections(searchFixture())
	assert.Equal(t, []string{"c1", "c3"}, ids(pinned))
	assert.Equal(t, []string{"c2", "c4"}, ids(recent))

	pinned, recent = Sections(nil)
	assert.Empty(t, pinned)
	assert.Empty(t, recent)
}
