package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/concordlabs/caucus/pkg/models"
)

func staticFetch(snap Snapshot) FetchFunc {
	return func() Snapshot { return snap }
}

func TestMonitorViewBeforeFirstPoll(t *testing.T) {
	m := NewMonitor(staticFetch(Snapshot{}), time.Second)

	view := m.View()
	if !strings.Contains(view, "loading") {
		t.Errorf("expected loading view before first snapshot, got %q", view)
	}
}

func TestMonitorViewRendersStatus(t *testing.T) {
	m := NewMonitor(staticFetch(Snapshot{}), time.Second)

	model, _ := m.Update(snapshotMsg{
		Status: &models.Status{
			ID:        "d1",
			Question:  "Should the bridge toll be removed?",
			Stage:     models.StageRanking,
			Round:     1,
			Capacity:  5,
			Submitted: 3,
		},
	})
	m = model.(*Monitor)

	view := m.View()
	for _, want := range []string{"Should the bridge toll", "ranking", "3/5"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q, got:\n%s", want, view)
		}
	}
}

func TestMonitorViewRendersWinnerAndFailure(t *testing.T) {
	m := NewMonitor(staticFetch(Snapshot{}), time.Second)

	model, _ := m.Update(snapshotMsg{
		Status: &models.Status{
			ID:               "d1",
			Question:         "q",
			Stage:            models.StageCritique,
			Capacity:         3,
			Submitted:        1,
			GenerationFailed: true,
			Retryable:        true,
			Failure:          "model unavailable",
		},
		Winner: &models.Statement{Round: 0, Rank: 1, Text: "A shared position."},
	})
	m = model.(*Monitor)

	view := m.View()
	if !strings.Contains(view, "A shared position.") {
		t.Errorf("expected winner text in view, got:\n%s", view)
	}
	if !strings.Contains(view, "model unavailable") {
		t.Errorf("expected failure message in view, got:\n%s", view)
	}
}

func TestMonitorKeepsSnapshotOnPollError(t *testing.T) {
	m := NewMonitor(staticFetch(Snapshot{}), time.Second)

	model, _ := m.Update(snapshotMsg{
		Status: &models.Status{ID: "d1", Question: "q", Stage: models.StageOpinion, Capacity: 2, Submitted: 1},
	})
	m = model.(*Monitor)
	model, _ = m.Update(snapshotMsg{Err: errors.New("store closed")})
	m = model.(*Monitor)

	view := m.View()
	if !strings.Contains(view, "opinion") {
		t.Errorf("expected previous snapshot retained, got:\n%s", view)
	}
	if !strings.Contains(view, "store closed") {
		t.Errorf("expected poll error surfaced, got:\n%s", view)
	}
}

func TestMonitorQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m := NewMonitor(staticFetch(Snapshot{}), time.Second)

		var msg tea.KeyMsg
		if key == "ctrl+c" {
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}
		model, cmd := m.Update(msg)
		m = model.(*Monitor)

		if cmd == nil {
			t.Errorf("key %q: expected quit command", key)
		}
		if m.View() != "" {
			t.Errorf("key %q: expected empty view while quitting", key)
		}
	}
}
