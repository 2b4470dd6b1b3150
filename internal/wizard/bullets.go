package wizard

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/labclient"
	"letterlab-backend/internal/labsessions"
)

var (
	// ErrRatingRequired blocks regenerate and accept until the bullet is rated.
	ErrRatingRequired = errors.New("rate the statement first")
	// ErrNoBullet means there is no statement at the current position.
	ErrNoBullet = errors.New("no statement to refine")
	// ErrSavesPending means queued answers must reach the backend before a
	// new iteration is written.
	ErrSavesPending = errors.New("earlier answers are still uploading, try again shortly")
)

// RateBullet sets the rating and feedback of the current bullet. Rating an
// accepted bullet reopens it at the next iteration number.
func (c *Controller) RateBullet(rating int, feedback string) error {
	if !compare.ValidRating(rating) {
		return errors.Errorf("rating %d is outside 1-7", rating)
	}
	var err error
	c.Store.Set(func(st State) State {
		if st.CurrentBullet < 0 || st.CurrentBullet >= len(st.Bullets) {
			err = ErrNoBullet
			return st
		}
		b := &st.Bullets[st.CurrentBullet]
		if b.Phase == PhaseRegenerating {
			err = ErrBusy
			return st
		}
		if b.Phase == PhaseAccepted {
			reopen(b)
		}
		b.Rating = intPtr(rating)
		b.Feedback = feedback
		b.Phase = PhaseRated
		return st
	})
	return err
}

// Regenerate asks for a new version of the current bullet. The shown version
// is saved as a non-final iteration first; if that save fails nothing is
// regenerated. On failure the shown text stays and the bullet stays rated.
// A retry with an unchanged rating and feedback reuses the saved entry; a
// changed one is appended as a further record of the same iteration.
func (c *Controller) Regenerate(ctx context.Context) error {
	st, _ := c.Store.Get()
	b, ok := st.Bullet()
	if !ok {
		return ErrNoBullet
	}
	key := fmt.Sprintf("regenerate:%d:%d", b.Index, b.Iteration)
	return c.run(ScreenBulletRefinement, key, func() error {
		return c.regenerate(ctx)
	})
}

func (c *Controller) regenerate(ctx context.Context) error {
	st, _ := c.Store.Get()
	pos := st.CurrentBullet
	b, ok := st.Bullet()
	if !ok {
		return ErrNoBullet
	}
	if b.Phase != PhaseRated || b.Rating == nil {
		return ErrRatingRequired
	}

	entry := IterationEntry{
		IterationNumber: b.Iteration,
		Text:            b.Text,
		Rationale:       b.Rationale,
		Rating:          b.Rating,
		Feedback:        b.Feedback,
		Timestamp:       time.Now().UTC(),
	}
	log := b.Log
	if !loggedAlready(log, entry) {
		if err := c.sendQueued(ctx); err != nil {
			return errors.Wrap(err, "send queued answers before regenerating")
		}
		rec := iterationRecord(st.SessionID, b.Index, entry)
		if err := c.API.SaveIteration(ctx, rec, labclient.WithIdempotencyKey(iterationKey(st, rec))); err != nil {
			return errors.Wrap(err, "save iteration before regenerating")
		}
		log = appendEntry(log, entry)
	}

	history := historyOf(log, entry.IterationNumber)
	c.Store.Set(func(st State) State {
		bb := &st.Bullets[pos]
		bb.Log = log
		bb.Phase = PhaseRegenerating
		return st
	})

	req := labclient.RegenerateRequest{
		SessionID:   st.SessionID,
		BulletIndex: b.Index,
		Current:     labclient.CurrentBullet{Text: b.Text, Rationale: b.Rationale},
		Rating:      b.Rating,
		Feedback:    b.Feedback,
		History:     history,
	}
	out, err := c.API.RegenerateBullet(ctx, req,
		labclient.WithIdempotencyKey(contentKey(st.ClientID, fmt.Sprintf("regenerate:%d:%d", b.Index, b.Iteration), req)))
	if err != nil {
		c.Store.Set(func(st State) State {
			st.Bullets[pos].Phase = PhaseRated
			return st
		})
		return errors.Wrap(err, "regenerate bullet")
	}

	c.Store.Set(func(st State) State {
		bb := &st.Bullets[pos]
		bb.Text = out.Text
		bb.Rationale = out.Rationale
		bb.Iteration++
		bb.Rating = nil
		bb.Feedback = ""
		bb.Phase = PhasePresented
		return st
	})
	return nil
}

// Accept keeps the current version of the bullet ("All Done"). The final
// iteration goes through the outbox, so a failed save never blocks moving on
// to the next open bullet, or to the aligned profile after the last one.
func (c *Controller) Accept(ctx context.Context) (Screen, error) {
	st, _ := c.Store.Get()
	pos := st.CurrentBullet
	b, ok := st.Bullet()
	if !ok {
		return c.Current(), ErrNoBullet
	}
	switch {
	case b.Phase == PhaseRegenerating || c.Busy(ScreenBulletRefinement):
		return c.Current(), ErrBusy
	case b.Phase != PhaseRated || b.Rating == nil:
		return c.Current(), ErrRatingRequired
	}

	entry := IterationEntry{
		IterationNumber: b.Iteration,
		Text:            b.Text,
		Rationale:       b.Rationale,
		Rating:          b.Rating,
		Feedback:        b.Feedback,
		IsFinal:         true,
		Timestamp:       time.Now().UTC(),
	}
	rec := iterationRecord(st.SessionID, b.Index, entry)
	if err := c.Outbox.Add(ctx, KindSaveIteration, iterationKey(st, rec), rec); err != nil {
		return c.Current(), err
	}

	next := c.Store.Set(func(st State) State {
		bb := &st.Bullets[pos]
		bb.Log = appendEntry(bb.Log, entry)
		bb.Phase = PhaseAccepted
		open := -1
		for i := pos + 1; i < len(st.Bullets); i++ {
			if st.Bullets[i].Phase != PhaseAccepted {
				open = i
				break
			}
		}
		if open >= 0 {
			st.CurrentBullet = open
		} else {
			st.Screen = ScreenAlignedProfile
		}
		return st
	})

	if err := c.flushOutbox(ctx); err != nil {
		return c.Current(), err
	}
	if next.Screen == ScreenAlignedProfile {
		return ScreenAlignedProfile, c.Enter(ctx)
	}
	return ScreenBulletRefinement, nil
}

// BackBullet moves to the previous bullet, reopening it so refinement
// continues its numbering. From the first bullet it returns to the control
// profile.
func (c *Controller) BackBullet() (Screen, error) {
	st, _ := c.Store.Get()
	if st.FinalSubmitted {
		return c.Current(), ErrFinalized
	}
	if b, ok := st.Bullet(); ok && b.Phase == PhaseRegenerating {
		return c.Current(), ErrBusy
	}
	if st.CurrentBullet <= 0 {
		c.moveTo(ScreenControlProfile)
		return ScreenControlProfile, nil
	}
	c.Store.Set(func(st State) State {
		st.CurrentBullet--
		reopen(&st.Bullets[st.CurrentBullet])
		return st
	})
	return ScreenBulletRefinement, nil
}

func reopen(b *BulletState) {
	if b.Phase != PhaseAccepted {
		return
	}
	b.Iteration = b.lastLogged() + 1
	b.Rating = nil
	b.Feedback = ""
	b.Phase = PhasePresented
}

// appendEntry returns a copy of log with e added. Written entries are never
// replaced.
func appendEntry(log []IterationEntry, e IterationEntry) []IterationEntry {
	return append(append([]IterationEntry(nil), log...), e)
}

// loggedAlready reports whether e matches the newest non-final entry, as when
// a regeneration failed after its iteration was saved.
func loggedAlready(log []IterationEntry, e IterationEntry) bool {
	n := len(log)
	if n == 0 {
		return false
	}
	last := log[n-1]
	return !last.IsFinal &&
		last.IterationNumber == e.IterationNumber &&
		last.Text == e.Text &&
		last.Rationale == e.Rationale &&
		last.Feedback == e.Feedback &&
		sameRating(last.Rating, e.Rating)
}

func sameRating(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sendQueued pushes pending outbox jobs ahead of a direct save so the backend
// sees iterations in order.
func (c *Controller) sendQueued(ctx context.Context) error {
	if c.Outbox == nil {
		return nil
	}
	n, err := c.Outbox.Pending(ctx)
	if err != nil || n == 0 {
		return err
	}
	if err := c.Outbox.TrySend(ctx); errors.Is(err, labclient.ErrTokenInvalidated) || errors.Is(err, context.Canceled) {
		return err
	}
	if n, err = c.Outbox.Pending(ctx); err != nil {
		return err
	}
	if n > 0 {
		return ErrSavesPending
	}
	return nil
}

// historyOf returns the entries older than the shown iteration. When an
// iteration was recorded more than once, the newest record is the one that
// produced the next version.
func historyOf(log []IterationEntry, current int) []labsessions.HistoryEntry {
	var out []labsessions.HistoryEntry
	for _, e := range log {
		if e.IterationNumber >= current {
			continue
		}
		if n := len(out); n > 0 && out[n-1].IterationNumber == e.IterationNumber {
			out = out[:n-1]
		}
		out = append(out, labsessions.HistoryEntry{
			IterationNumber: e.IterationNumber,
			Text:            e.Text,
			Rationale:       e.Rationale,
			Rating:          e.Rating,
			Feedback:        e.Feedback,
		})
	}
	return out
}

func iterationRecord(sessionID string, index int, e IterationEntry) labclient.IterationRecord {
	return labclient.IterationRecord{
		SessionID:       sessionID,
		BulletIndex:     index,
		IterationNumber: e.IterationNumber,
		BulletText:      e.Text,
		Rationale:       e.Rationale,
		UserRating:      e.Rating,
		UserFeedback:    e.Feedback,
		IsFinal:         e.IsFinal,
	}
}

// iterationKey changes with the record, so a re-rated retry is stored as a
// new entry instead of replaying the first one.
func iterationKey(st State, rec labclient.IterationRecord) string {
	return contentKey(st.ClientID, fmt.Sprintf("iteration:%s:%d", st.SessionID, rec.BulletIndex), rec)
}
