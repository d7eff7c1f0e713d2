package attribution

import (
	"context"
	"sort"
	"strings"

	"tradepulse/internal/domain"
	"tradepulse/internal/ports"
)

// commentPrefix marks orders submitted by this application. Comments
// follow the form "TradePulse_<botID>_<side>", truncated by the broker
// at 31 characters.
const commentPrefix = "TradePulse_"

// Confidence levels attached to attribution results. Tag and comment
// matches are definitive; a range match is a best-effort recovery for
// trades whose comment was stripped.
const (
	confidenceTag     = 1.0
	confidenceComment = 0.9
	confidenceRange   = 0.5
)

// InstanceSource provides the current set of live bot instances. The
// registry implements it; tests supply fixed slices.
type InstanceSource interface {
	Instances() []domain.BotInstance
}

// Resolver maps positions and deals to the bot instance that owns them.
// Resolution is deterministic and idempotent: instances are evaluated in
// a stable order, so the same trade against the same live set always
// yields the same result.
type Resolver struct {
	source InstanceSource
	logger ports.Logger
}

// NewResolver creates a Resolver over the given instance source.
func NewResolver(source InstanceSource, logger ports.Logger) *Resolver {
	return &Resolver{source: source, logger: logger}
}

// ResolvePosition attributes an open position.
func (r *Resolver) ResolvePosition(ctx context.Context, pos domain.Position) domain.Attribution {
	return r.resolve(ctx, pos.Tag, pos.Comment)
}

// ResolveDeal attributes a historical fill.
func (r *Resolver) ResolveDeal(ctx context.Context, deal domain.Deal) domain.Attribution {
	return r.resolve(ctx, deal.Tag, deal.Comment)
}

func (r *Resolver) resolve(ctx context.Context, tag int64, comment string) domain.Attribution {
	instances := r.source.Instances()
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })

	// Primary: exact numeric tag match.
	if tag != 0 {
		for _, inst := range instances {
			if inst.Tag == tag {
				return domain.Attribution{BotID: inst.ID, Method: domain.MethodTag, Confidence: confidenceTag}
			}
		}
	}

	// Secondary: structured comment pattern.
	if botID, ok := parseComment(comment); ok {
		for _, inst := range instances {
			if inst.ID == botID {
				return domain.Attribution{BotID: inst.ID, Method: domain.MethodComment, Confidence: confidenceComment}
			}
		}
	}

	// Tertiary: tag falls inside exactly one instance's reserved range.
	if tag != 0 {
		var matched []string
		for _, inst := range instances {
			if inst.Tags.Contains(tag) {
				matched = append(matched, inst.ID)
			}
		}
		switch len(matched) {
		case 1:
			return domain.Attribution{BotID: matched[0], Method: domain.MethodRange, Confidence: confidenceRange}
		case 0:
		default:
			r.logger.Debug(ctx, "Ambiguous tag-range attribution, treating as manual", map[string]interface{}{
				"tag":     tag,
				"matches": matched,
			})
		}
	}

	return domain.Manual
}

// parseComment extracts the bot instance ID from a structured comment.
// The broker may truncate comments, so a prefix without an ID segment is
// not a match.
func parseComment(comment string) (string, bool) {
	if !strings.HasPrefix(comment, commentPrefix) {
		return "", false
	}
	rest := comment[len(commentPrefix):]
	if rest == "" {
		return "", false
	}
	// The ID runs up to the next underscore-delimited segment (the side
	// suffix); a truncated comment may omit it.
	if idx := strings.LastIndex(rest, "_"); idx > 0 {
		if seg := rest[idx+1:]; seg == string(domain.Buy) || seg == string(domain.Sell) {
			rest = rest[:idx]
		}
	}
	return rest, true
}
