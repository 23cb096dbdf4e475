package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddKeepsMostRecentFive(t *testing.T) {
	s := New()
	for i := 0; i < 12; i++ {
		s.Add("s1", "adina", RoleUser, fmt.Sprintf("msg %d", i))

		history := s.History("s1", "adina")
		require.LessOrEqual(t, len(history), Capacity)
	}

	history := s.History("s1", "adina")
	require.Len(t, history, Capacity)
	for i, e := range history {
		assert.Equal(t, fmt.Sprintf("msg %d", i+7), e.Content)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	s := New()
	s.Add("s1", "adina", RoleUser, "hello adina")
	s.Add("s1", "rafa", RoleUser, "hello rafa")
	s.Add("s2", "adina", RoleUser, "other session")

	assert.Len(t, s.History("s1", "adina"), 1)
	assert.Len(t, s.History("s1", "rafa"), 1)
	assert.Equal(t, "other session", s.History("s2", "adina")[0].Content)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, "s1:rafa", Key("s1", "rafa"))
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := New()
	s.Add("s", "p", RoleUser, "original")

	h := s.History("s", "p")
	h[0].Content = "mutated"

	assert.Equal(t, "original", s.History("s", "p")[0].Content)
}

func TestFormat(t *testing.T) {
	s := New()
	assert.Empty(t, s.Format("s", "p"))

	s.Add("s", "p", RoleUser, "How are you?")
	s.Add("s", "p", RoleAssistant, "Peace be with you")

	assert.Equal(t, "User: How are you?\nAssistant: Peace be with you", s.Format("s", "p"))
}

func TestLastAndClear(t *testing.T) {
	s := New()
	_, ok := s.Last("s", "p")
	assert.False(t, ok)

	s.Add("s", "p", RoleUser, "one")
	s.Add("s", "p", RoleAssistant, "two")

	last, ok := s.Last("s", "p")
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, last.Role)
	assert.Equal(t, "two", last.Content)
	assert.False(t, last.Timestamp.IsZero())

	s.Clear("s", "p")
	assert.Nil(t, s.History("s", "p"))
}

func TestNewWithCapacity(t *testing.T) {
	s := NewWithCapacity(2)
	s.Add("s", "p", RoleUser, "a")
	s.Add("s", "p", RoleUser, "b")
	s.Add("s", "p", RoleUser, "c")

	h := s.History("s", "p")
	require.Len(t, h, 2)
	assert.Equal(t, "b", h[0].Content)
	assert.Equal(t, "c", h[1].Content)

	assert.Equal(t, Capacity, NewWithCapacity(0).capacity)
}

func TestConcurrentAdd(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Add("s", "p", RoleUser, fmt.Sprint(i))
			_ = s.History("s", "p")
		}(i)
	}
	wg.Wait()

	assert.Len(t, s.History("s", "p"), Capacity)
}

func TestRoleLabel(t *testing.T) {
	assert.Equal(t, "User", RoleUser.Label())
	assert.Equal(t, "Assistant", RoleAssistant.Label())
	assert.Equal(t, "System", Role("system").Label())
	assert.Equal(t, "Unknown", Role("").Label())
}
