package engagement

import (
	"fmt"

	"ardu-agent/internal/core/domain"
)

// postState is the per-post view model. It is SETTLED when inFlight is false
// and IN_FLIGHT otherwise; prior holds the rollback target while in flight.
type postState struct {
	post     domain.Post // independent fields only, Engagement is always nil here
	eng      domain.Engagement
	inFlight bool
	prior    domain.Engagement

	// gen increases when a mutation starts and again when it settles or
	// rolls back. A refresh issued under an older generation must not
	// overwrite the engagement.
	gen uint64
}

// resolveTarget applies the toggle rule: picking the current reaction again clears it.
func resolveTarget(current, picked domain.ReactionType) domain.ReactionType {
	if picked == current {
		return domain.ReactionNone
	}
	return picked
}

// optimistic returns the engagement as it should look once the viewer's
// reaction moves to next. Adding from none is +1, clearing is -1 (never below
// zero), switching between two reactions keeps the total.
func optimistic(e domain.Engagement, next domain.ReactionType) domain.Engagement {
	out := e.Clone()
	if out.Counts == nil {
		out.Counts = make(map[domain.ReactionType]int)
	}
	prev := out.UserReaction
	switch {
	case prev == next:
		return out
	case prev == domain.ReactionNone:
		out.Total++
		out.Counts[next]++
	case next == domain.ReactionNone:
		out.Total = max(0, out.Total-1)
		out.Counts[prev] = max(0, out.Counts[prev]-1)
	default:
		out.Counts[prev] = max(0, out.Counts[prev]-1)
		out.Counts[next]++
	}
	for t, n := range out.Counts {
		if n == 0 {
			delete(out.Counts, t)
		}
	}
	out.UserReaction = next
	return out
}

// PostView is the read model handed to the render layer.
type PostView struct {
	domain.Post
	Engagement domain.Engagement
	InFlight   bool
}

func (s *postState) view() PostView {
	return PostView{Post: s.post, Engagement: s.eng.Clone(), InFlight: s.inFlight}
}

// confirmed is the last server-confirmed engagement: the rollback target
// while in flight, the current value otherwise.
func (s *postState) confirmed() domain.Engagement {
	if s.inFlight {
		return s.prior.Clone()
	}
	return s.eng.Clone()
}

// ReactorSummary renders the "A and N others reacted" line.
func (v PostView) ReactorSummary() string {
	total := v.Engagement.Total
	if total <= 0 {
		return ""
	}
	var first string
	for _, r := range v.Engagement.RecentReactors {
		if r.Name != "" {
			first = r.Name
			break
		}
	}
	if first == "" {
		if total == 1 {
			return "1 reaction"
		}
		return fmt.Sprintf("%d reactions", total)
	}
	switch others := total - 1; others {
	case 0:
		return first + " reacted"
	case 1:
		return first + " and 1 other reacted"
	default:
		return fmt.Sprintf("%s and %d others reacted", first, others)
	}
}
