// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package learner

// Vector maps feature keys to signed weights.
type Vector map[string]float64

// Clone returns an independent copy. A nil vector clones to an empty one.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, w := range v {
		out[k] = w
	}
	return out
}

// SignalType classifies how deliberate a user action is.
type SignalType string

const (
	Explicit SignalType = "explicit"
	Implicit SignalType = "implicit"
	Negative SignalType = "negative"
)

// Signal is the strength and kind attached to an action.
type Signal struct {
	Strength float64    `json:"strength"`
	Type     SignalType `json:"type"`
}

// Known actions.
const (
	ActionFavorite       = "favorite"
	ActionWatch          = "watch"
	ActionWatchComplete  = "watch_complete"
	ActionReviewPositive = "review_positive"
	ActionReviewNegative = "review_negative"
	ActionClick          = "click"
	ActionHover          = "hover"
	ActionSkip           = "skip"
	ActionSearch         = "search"
	ActionView           = "view"
	ActionRecommendation = "recommendation"
)

var actionBaseWeights = map[string]float64{
	ActionFavorite:       0.2,
	ActionWatch:          0.1,
	ActionWatchComplete:  0.15,
	ActionReviewPositive: 0.25,
	ActionReviewNegative: -0.15,
	ActionClick:          0.05,
	ActionHover:          0.02,
	ActionSkip:           -0.05,
	ActionSearch:         0.03,
}

const defaultBaseWeight = 0.05

// Tag factors relative to the genre delta.
const (
	genreFactor    = 1.0
	languageFactor = 0.5
	yearFactor     = 0.3
	qualityFactor  = 0.4
)

// ActionBaseWeight returns the table weight for action, 0.05 when unknown.
func ActionBaseWeight(action string) float64 {
	if w, ok := actionBaseWeights[action]; ok {
		return w
	}
	return defaultBaseWeight
}

func typeMultiplier(t SignalType) float64 {
	switch t {
	case Explicit:
		return 1.5
	case Negative:
		return -1
	default:
		return 1
	}
}

// SignalFor derives the learning signal from an action. Explicit actions are
// matched first, so review_negative is explicit and keeps the sign of its
// base weight.
func SignalFor(action string) Signal {
	switch action {
	case ActionFavorite, ActionReviewPositive, ActionReviewNegative:
		return Signal{Strength: 1.0, Type: Explicit}
	case ActionSkip:
		return Signal{Strength: 0.8, Type: Negative}
	default:
		return Signal{Strength: 0.5, Type: Implicit}
	}
}

// FallbackDelta is the coarse action-level delta used when an event carries
// no resolvable item.
func FallbackDelta(action string) Vector {
	switch action {
	case ActionFavorite:
		return Vector{"favorite": 0.1}
	case ActionWatch:
		return Vector{"watch": 0.05}
	case ActionReviewPositive:
		return Vector{"review": 0.15}
	case ActionReviewNegative:
		return Vector{"review": -0.1}
	case ActionSearch:
		return Vector{"search": 0.02}
	default:
		return Vector{"other": 0.01}
	}
}

// YearBucket maps a release year to its decade bucket.
func YearBucket(year int) string {
	switch {
	case year >= 2020:
		return "2020s"
	case year >= 2010:
		return "2010s"
	case year >= 2000:
		return "2000s"
	case year >= 1990:
		return "1990s"
	case year >= 1980:
		return "1980s"
	default:
		return "classic"
	}
}

// QualityTier buckets a 0-10 rating into five bands.
func QualityTier(rating float64) string {
	switch {
	case rating >= 8.0:
		return "excellent"
	case rating >= 7.0:
		return "very_good"
	case rating >= 6.0:
		return "good"
	case rating >= 5.0:
		return "average"
	default:
		return "below_average"
	}
}
