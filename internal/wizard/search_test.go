package wizard

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessro/tandem/internal/core"
)

func fakeSearch(calls *[]string) SearchFunc {
	return func(_ context.Context, q string) []core.Track {
		*calls = append(*calls, q)
		return []core.Track{
			{ID: "1", Name: q + " one", Artist: "Ann", Source: core.SourceJamendo},
			{ID: "2", Name: q + " two", Artist: "Bo", Source: core.SourceJamendo},
		}
	}
}

func typeText(m SearchModel, s string) SearchModel {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(SearchModel)
}

func update(m SearchModel, msg tea.Msg) (SearchModel, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(SearchModel), cmd
}

// settle fires the debounce for the current input and feeds the results
// back into the model.
func settle(t *testing.T, m SearchModel) SearchModel {
	t.Helper()
	m, cmd := update(m, debounceMsg{query: m.input.Value()})
	require.NotNil(t, cmd)
	m, _ = update(m, cmd())
	return m
}

func TestSearchDebounced(t *testing.T) {
	var calls []string
	m := NewSearchModel(fakeSearch(&calls))

	m = typeText(m, "rain")
	m, cmd := update(m, debounceMsg{query: "ra"})
	assert.Nil(t, cmd, "a debounce for an outdated query does nothing")
	assert.Empty(t, calls)

	m = settle(t, m)
	assert.Equal(t, []string{"rain"}, calls)
	require.Len(t, m.results, 2)
	assert.Contains(t, m.View(), "rain one")
}

func TestSearchStaleResultsDropped(t *testing.T) {
	var calls []string
	m := NewSearchModel(fakeSearch(&calls))
	m = settle(t, typeText(m, "rain"))

	m, _ = update(m, resultsMsg{query: "old", results: []core.Track{{ID: "x", Name: "Old"}}})
	assert.Equal(t, "rain one", m.results[0].Name)
}

func TestSearchSelect(t *testing.T) {
	var calls []string
	m := settle(t, typeText(NewSearchModel(fakeSearch(&calls)), "rain"))

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = update(m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor, "cursor stops at the last result")

	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	sel := m.Selected()
	require.NotNil(t, sel)
	assert.Equal(t, 1, sel.Index)
	assert.Len(t, sel.Tracks, 2)
}

func TestSearchEnterWithoutResults(t *testing.T) {
	m := NewSearchModel(func(context.Context, string) []core.Track { return nil })
	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Nil(t, m.Selected())
}

func TestSearchEmptyQuery(t *testing.T) {
	var calls []string
	m := settle(t, typeText(NewSearchModel(fakeSearch(&calls)), "rain"))

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyCtrlU})
	m = settle(t, m)
	assert.Empty(t, m.results)
	assert.Equal(t, []string{"rain"}, calls, "an empty query does not search")
}

func TestSearchCancel(t *testing.T) {
	m := NewSearchModel(nil)
	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Nil(t, m.Selected())
}
