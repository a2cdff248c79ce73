package spotlight

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type fakeEnabler struct {
	mu    sync.Mutex
	calls [][]domain.PeerID
	// hook runs before a call is recorded
	hook func(ids []domain.PeerID)
}

func (f *fakeEnabler) SetVideoEnabled(_ context.Context, ids []domain.PeerID) {
	f.mu.Lock()
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(ids)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ids)
}

func (f *fakeEnabler) last() []domain.PeerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func newSelector(t *testing.T, maxSpotlights int, hide bool) (*Selector, *fakeEnabler, *[]SpotlightsUpdated) {
	t.Helper()
	enabler := &fakeEnabler{}
	s := New(config.Spotlight{MaxSpotlights: maxSpotlights, HideNoVideoParticipants: hide}, "me", enabler)
	var updates []SpotlightsUpdated
	s.Events().Subscribe(func(e core.Event) {
		if u, ok := e.(SpotlightsUpdated); ok {
			updates = append(updates, u)
		}
	})
	return s, enabler, &updates
}

func TestNothingIsEmittedBeforeStart(t *testing.T) {
	s, enabler, updates := newSelector(t, 4, false)
	s.AddPeers([]domain.PeerID{"a", "b"})
	assert.Empty(t, *updates)
	assert.Empty(t, enabler.calls)

	s.Start()
	require.Len(t, *updates, 1)
	assert.Equal(t, []domain.PeerID{"a", "b"}, (*updates)[0].Peers)
	assert.Equal(t, []domain.PeerID{"a", "b"}, enabler.last())
}

func TestJoinAppendsAndSpeakerMovesToFront(t *testing.T) {
	s, _, _ := newSelector(t, 4, false)
	s.Start()
	s.NewPeer("a")
	s.NewPeer("b")
	s.NewPeer("b")
	assert.Equal(t, []domain.PeerID{"a", "b"}, s.Peers())

	s.HandleActiveSpeaker("b")
	assert.Equal(t, []domain.PeerID{"b", "a"}, s.Peers())

	s.HandleActiveSpeaker("me")
	s.HandleActiveSpeaker("unknown")
	assert.Equal(t, []domain.PeerID{"b", "a"}, s.Peers())

	s.ClosePeer("b")
	assert.Equal(t, []domain.PeerID{"a"}, s.Peers())
	assert.Equal(t, []domain.PeerID{"a"}, s.Current())
	assert.False(t, s.InSpotlight("b"))
}

func TestCurrentIsBoundedByMax(t *testing.T) {
	s, enabler, _ := newSelector(t, 2, false)
	s.AddPeers([]domain.PeerID{"a", "b", "c", "d"})
	s.Start()
	assert.Equal(t, []domain.PeerID{"a", "b"}, s.Current())

	s.HandleActiveSpeaker("d")
	assert.Equal(t, []domain.PeerID{"d", "a"}, s.Current())
	assert.Equal(t, []domain.PeerID{"d", "a"}, enabler.last())
	assert.False(t, s.InSpotlight("b"))

	s.SetMaxSpotlights(3)
	assert.Equal(t, []domain.PeerID{"d", "a", "b"}, s.Current())

	s.SetMaxSpotlights(0)
	assert.Len(t, s.Current(), 1)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	s, enabler, updates := newSelector(t, 2, false)
	s.AddPeers([]domain.PeerID{"a", "b", "c"})
	s.Start()
	require.Len(t, *updates, 1)

	s.Start()
	s.AddPeers([]domain.PeerID{"a", "b"})
	s.HandleActiveSpeaker("b")
	assert.Len(t, *updates, 1, "reordering within the same set emits nothing")
	assert.Len(t, enabler.calls, 1)
	assert.Equal(t, []domain.PeerID{"b", "a", "c"}, s.Peers())
}

func TestSelectedPeersComeFirst(t *testing.T) {
	s, _, _ := newSelector(t, 2, false)
	s.AddPeers([]domain.PeerID{"a", "b", "c"})
	s.Start()

	var selected []SelectedChanged
	s.Events().Subscribe(func(e core.Event) {
		if sc, ok := e.(SelectedChanged); ok {
			selected = append(selected, sc)
		}
	})

	s.AddSelected("c")
	s.AddSelected("c")
	assert.Equal(t, []domain.PeerID{"c", "a"}, s.Current())
	assert.Len(t, selected, 1)

	s.AddSelected("ghost")
	assert.Equal(t, []domain.PeerID{"c", "a"}, s.Current(), "pins of unknown peers are ignored")

	s.RemoveSelected("c")
	assert.Equal(t, []domain.PeerID{"a", "b"}, s.Current())

	s.AddSelected("b")
	s.ClearSelected()
	assert.Empty(t, s.Selected())
	assert.Len(t, selected, 5)
}

func TestHideNoVideoFiltersPeers(t *testing.T) {
	s, enabler, _ := newSelector(t, 4, true)
	s.AddPeers([]domain.PeerID{"a", "b", "c"})
	s.Start()
	assert.Empty(t, s.Current())

	s.AddVideoConsumer("b", "vb", false)
	s.AddVideoConsumer("c", "vc", true)
	assert.Equal(t, []domain.PeerID{"b"}, s.Current())

	s.ResumeVideoConsumer("c", "vc")
	assert.Equal(t, []domain.PeerID{"b", "c"}, s.Current())

	s.PauseVideoConsumer("b", "vb")
	assert.Equal(t, []domain.PeerID{"c"}, s.Current())
	assert.Equal(t, []domain.PeerID{"c"}, enabler.last())

	s.RemoveVideoConsumer("c", "vc")
	assert.Empty(t, s.Current())

	s.SetHideNoVideo(false)
	assert.Equal(t, []domain.PeerID{"a", "b", "c"}, s.Current())
}

func TestSpeakerListSeedsOrder(t *testing.T) {
	s, _, _ := newSelector(t, 4, false)
	s.AddPeers([]domain.PeerID{"a", "b", "c"})
	s.AddSpeakerList([]domain.PeerID{"c", "me", "b", "c"})
	assert.Equal(t, []domain.PeerID{"c", "b", "a"}, s.Peers())
}

func TestClosePeerDropsAllReferences(t *testing.T) {
	s, _, _ := newSelector(t, 4, true)
	s.AddPeers([]domain.PeerID{"a", "b"})
	s.AddVideoConsumer("b", "vb", false)
	s.AddSelected("b")
	s.Start()
	require.True(t, s.InSpotlight("b"))

	s.ClosePeer("b")
	assert.NotContains(t, s.Peers(), domain.PeerID("b"))
	assert.Empty(t, s.Selected())
	assert.Empty(t, s.Current())

	s.NewPeer("b")
	assert.Empty(t, s.Current(), "video state of a departed peer is forgotten")
}

func TestClearResetsEverything(t *testing.T) {
	s, _, updates := newSelector(t, 4, false)
	s.AddPeers([]domain.PeerID{"a"})
	s.Start()
	s.Clear()
	assert.Empty(t, s.Peers())
	assert.Empty(t, s.Current())

	s.NewPeer("b")
	assert.Len(t, *updates, 1)
	s.Start()
	assert.Equal(t, []domain.PeerID{"b"}, s.Current())
}

func TestConcurrentUpdatesEndOnLatestSelection(t *testing.T) {
	s, enabler, _ := newSelector(t, 1, false)
	s.AddPeers([]domain.PeerID{"a", "b"})
	s.Start()
	require.Equal(t, []domain.PeerID{"a"}, enabler.last())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	enabler.mu.Lock()
	enabler.hook = func(ids []domain.PeerID) {
		if len(ids) == 1 && ids[0] == "b" {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	}
	enabler.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.AddSelected("b")
	}()
	<-entered

	s.RemoveSelected("b")
	assert.Equal(t, []domain.PeerID{"a"}, s.Current())

	close(release)
	<-done
	assert.Equal(t, []domain.PeerID{"a"}, enabler.last())
	assert.Equal(t, s.Current(), enabler.last())
}

func TestUpdateFromEnablerIsApplied(t *testing.T) {
	s, enabler, updates := newSelector(t, 1, false)
	s.AddPeers([]domain.PeerID{"a", "b"})
	s.Start()

	enabler.mu.Lock()
	enabler.hook = func(ids []domain.PeerID) {
		if len(ids) == 1 && ids[0] == "b" {
			s.ClosePeer("b")
		}
	}
	enabler.mu.Unlock()

	s.AddSelected("b")
	assert.Equal(t, []domain.PeerID{"a"}, s.Current())
	assert.Equal(t, []domain.PeerID{"a"}, enabler.last())
	require.Len(t, *updates, 3)
}
