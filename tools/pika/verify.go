package main

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/maxpert/engage/counter"
	"github.com/puzpuzpuz/xsync/v3"
)

type postTally struct {
	likes     atomic.Int64
	unlikes   atomic.Int64
	comments  atomic.Int64
	favorites atomic.Int64
	views     atomic.Int64
}

// Ledger records what producers published per post so counters can be
// checked once the engine drains.
type Ledger struct {
	posts *xsync.MapOf[int64, *postTally]
}

func NewLedger() *Ledger {
	return &Ledger{posts: xsync.NewMapOf[int64, *postTally]()}
}

// Record notes one accepted operation
func (l *Ledger) Record(op Operation) {
	if op.PostID == 0 {
		return
	}
	t, _ := l.posts.LoadOrCompute(op.PostID, func() *postTally { return &postTally{} })
	switch op.Type {
	case OpLike:
		t.likes.Add(1)
	case OpUnlike:
		t.unlikes.Add(1)
	case OpComment:
		t.comments.Add(1)
	case OpFavorite:
		t.favorites.Add(1)
	case OpView:
		t.views.Add(1)
	}
}

// Counter reads engine counters
type Counter interface {
	Count(ctx context.Context, entity counter.EntityType, id int64) (int64, error)
}

// Mismatch describes one counter that disagrees with the ledger.
type Mismatch struct {
	Key      string
	Expected int64
	Actual   int64
}

// VerifyResult holds verification results.
type VerifyResult struct {
	Posts      int
	Checked    int
	Matched    int
	Skipped    int
	Mismatches []Mismatch
}

// Verify compares up to samples posts (lowest ids first, 0 means all)
// against the engine. Like counts are only exact for posts that never saw
// an unlike, since an unlike racing ahead of its like is clamped at the floor.
func (l *Ledger) Verify(ctx context.Context, c Counter, samples int) (*VerifyResult, error) {
	var ids []int64
	l.posts.Range(func(id int64, _ *postTally) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := &VerifyResult{Posts: len(ids)}
	if samples > 0 && len(ids) > samples {
		ids = ids[:samples]
	}

	for _, id := range ids {
		t, _ := l.posts.Load(id)
		checks := []struct {
			entity counter.EntityType
			want   int64
			skip   bool
		}{
			{counter.PostLikes, t.likes.Load(), t.unlikes.Load() > 0},
			{counter.PostComments, t.comments.Load(), false},
			{counter.PostFavorites, t.favorites.Load(), false},
			{counter.PostViews, t.views.Load(), false},
		}

		for _, chk := range checks {
			if chk.skip {
				result.Skipped++
				continue
			}
			got, err := c.Count(ctx, chk.entity, id)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", counter.NewKey(chk.entity, id), err)
			}
			result.Checked++
			if got == chk.want {
				result.Matched++
				continue
			}
			result.Mismatches = append(result.Mismatches, Mismatch{
				Key:      counter.NewKey(chk.entity, id).String(),
				Expected: chk.want,
				Actual:   got,
			})
		}
	}

	return result, nil
}

// Print writes a human readable report
func (r *VerifyResult) Print() {
	fmt.Println()
	fmt.Println("Verification:")
	fmt.Printf("  Posts touched:  %d\n", r.Posts)
	fmt.Printf("  Checked:        %d\n", r.Checked)
	fmt.Printf("  Matched:        %d\n", r.Matched)
	fmt.Printf("  Skipped:        %d\n", r.Skipped)

	if len(r.Mismatches) == 0 {
		fmt.Println("  Result:         PASS")
		return
	}

	fmt.Printf("  Mismatched:     %d\n", len(r.Mismatches))
	for i, m := range r.Mismatches {
		if i == 10 {
			fmt.Printf("  ... %d more\n", len(r.Mismatches)-i)
			break
		}
		fmt.Printf("  %s expected=%d actual=%d\n", m.Key, m.Expected, m.Actual)
	}
	fmt.Println("  Result:         FAIL")
}
