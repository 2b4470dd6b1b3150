package wizard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterlab-backend/internal/compare"
)

// toComparison moves a session onto the first draft screen.
func (h *harness) toComparison(t *testing.T, m compare.Mapping) {
	t.Helper()
	h.authorize(t)
	h.c.Store.Set(func(st State) State {
		st.SessionID = "sess-1"
		st.InitialCoverLetter = "initial letter"
		st.FinalCoverLetter = "final letter"
		st.DraftMapping = &m
		st.Screen = ScreenDraft1
		return st
	})
}

func TestMappingAssignedOnce(t *testing.T) {
	h := newHarness(t)
	h.authorize(t)
	flips := 0
	h.c.Coin = func() bool {
		flips++
		return flips%2 == 1
	}

	first := h.c.EnsureMapping()
	second := h.c.EnsureMapping()

	assert.Equal(t, 1, flips)
	assert.Equal(t, first, second)
	assert.True(t, first.Valid())
	st, _ := h.c.Store.Get()
	assert.Equal(t, first, *st.DraftMapping)
}

func TestEnterComparisonGeneratesFinalLetterOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.authorize(t)
	h.c.Store.Set(func(st State) State {
		st.SessionID = "sess-1"
		st.Screen = ScreenComparisonIntro
		return st
	})

	require.NoError(t, h.c.Enter(ctx))
	require.NoError(t, h.c.Enter(ctx))

	assert.Equal(t, 1, h.api.count("letter"))
	st, _ := h.c.Store.Get()
	assert.True(t, h.c.Complete(st, ScreenComparisonIntro))
}

func TestDraftScreenGating(t *testing.T) {
	h := newHarness(t)
	h.toComparison(t, compare.Mapping{Draft1: compare.DraftInitial, Draft2: compare.DraftFinal})

	cases := []struct {
		name   string
		second bool
		in     DraftInput
		want   bool
	}{
		{name: "empty", in: DraftInput{}, want: false},
		{name: "no rating", in: DraftInput{Likes: "a", Dislikes: "b"}, want: false},
		{name: "blank dislikes", in: DraftInput{Rating: intPtr(4), Likes: "a", Dislikes: "  "}, want: false},
		{name: "complete", in: DraftInput{Rating: intPtr(4), Likes: "a", Dislikes: "b"}, want: true},
		{name: "second rating missing", second: true, in: DraftInput{Rating: intPtr(4), Likes: "a", Dislikes: "b"}, want: false},
		{name: "second rating set", second: true, in: DraftInput{Rating: intPtr(4), Authenticity: intPtr(6), Likes: "a", Dislikes: "b"}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.c.RequireSecondRating = tc.second
			require.NoError(t, h.c.SetDraftFeedback(compare.LabelDraft1, tc.in))
			assert.Equal(t, tc.want, h.c.CanAdvance())
		})
	}

	assert.Error(t, h.c.SetDraftFeedback(compare.LabelDraft1, DraftInput{Rating: intPtr(0)}))
	assert.Error(t, h.c.SetDraftFeedback("draft3", DraftInput{}))
}

func TestChatStartsWithOpener(t *testing.T) {
	h := newHarness(t)
	h.toComparison(t, compare.Mapping{Draft1: compare.DraftFinal, Draft2: compare.DraftInitial})

	st, _ := h.c.Store.Get()
	opener := ChatTranscript(st, compare.LabelDraft1)
	require.Len(t, opener, 1)
	assert.Equal(t, ChatOpener, opener[0].Content)

	require.NoError(t, h.c.SendChat(context.Background(), compare.LabelDraft1, "The dates are wrong"))

	require.Len(t, h.api.chats, 1)
	sent := h.api.chats[0]
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "assistant", sent.Messages[0].Role)
	assert.Equal(t, "final letter", sent.Draft)
	assert.Equal(t, "draft1", sent.Label)

	st, _ = h.c.Store.Get()
	chat := ChatTranscript(st, compare.LabelDraft1)
	require.Len(t, chat, 3)
	assert.Equal(t, "Thanks, noted.", chat[2].Content)
	assert.Len(t, ChatTranscript(st, compare.LabelDraft2), 1)
}

func TestChatFailureAppendsApology(t *testing.T) {
	h := newHarness(t)
	h.toComparison(t, compare.Mapping{Draft1: compare.DraftFinal, Draft2: compare.DraftInitial})
	h.api.chatErr = unavailable()

	require.NoError(t, h.c.SendChat(context.Background(), compare.LabelDraft2, "hello"))

	st, _ := h.c.Store.Get()
	chat := ChatTranscript(st, compare.LabelDraft2)
	require.Len(t, chat, 3)
	assert.Equal(t, "hello", chat[1].Content)
	assert.Equal(t, ChatFailure, chat[2].Content)
}

func TestChatTokenRejectionWipesState(t *testing.T) {
	h := newHarness(t)
	h.toComparison(t, compare.Mapping{Draft1: compare.DraftFinal, Draft2: compare.DraftInitial})
	h.api.chatErr = tokenRejected()

	err := h.c.SendChat(context.Background(), compare.LabelDraft1, "hello")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, ScreenEnterToken, h.c.Current())
}

func TestSubmitQueuesWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.toComparison(t, compare.Mapping{Draft1: compare.DraftInitial, Draft2: compare.DraftFinal})
	require.NoError(t, h.c.SetDraftFeedback(compare.LabelDraft1, DraftInput{Rating: intPtr(5), Likes: "a", Dislikes: "b"}))
	require.NoError(t, h.c.SetDraftFeedback(compare.LabelDraft2, DraftInput{Rating: intPtr(2), Likes: "c", Dislikes: "d"}))

	assert.ErrorIs(t, h.c.Submit(ctx), ErrIncomplete)

	h.c.Store.Set(func(st State) State {
		st.Screen = ScreenFinalSurvey
		return st
	})
	h.api.finalErr = unavailable()
	require.NoError(t, h.c.Submit(ctx))

	st, _ := h.c.Store.Get()
	assert.True(t, st.FinalSubmitted)
	assert.Equal(t, compare.PreferenceControl, st.Preference)
	assert.Equal(t, ScreenDone, h.c.Current())
	assert.Equal(t, 2, h.outboxCount(t))
	assert.Empty(t, h.api.completed)

	require.NoError(t, h.c.Submit(ctx))
	assert.Equal(t, 2, h.outboxCount(t))

	h.api.finalErr = nil
	require.NoError(t, h.c.SyncOutbox(ctx))
	assert.Zero(t, h.outboxCount(t))
	require.Len(t, h.api.finals, 1)
	assert.Equal(t, compare.PreferenceControl, h.api.finals[0].Preference)
	assert.Equal(t, "my resume", h.api.finals[0].Resume)
	assert.Equal(t, []string{"sess-1"}, h.api.completed)
}
