package plan

import (
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
)

const nodeIDPrefix = "node_"

var normalizedID = regexp.MustCompile(`^node_[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// IDSource produces fresh node ids.
type IDSource interface {
	NewID() (string, error)
}

// UUIDSource issues node_<uuid v4> ids.
type UUIDSource struct{}

func (UUIDSource) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return nodeIDPrefix + id.String(), nil
}

// IsNormalizedID reports whether id has the format Normalizer produces.
func IsNormalizedID(id string) bool {
	return normalizedID.MatchString(id)
}

// IsNormalized reports whether every node id already has the normalized
// format. Transition targets are not considered: dangling references survive
// normalization unchanged and must not trigger a second rewrite.
func IsNormalized(p *model.CampaignPlan) bool {
	if len(p.Nodes) == 0 {
		return false
	}
	for _, n := range p.Nodes {
		if !IsNormalizedID(n.Base().ID) {
			return false
		}
	}
	return true
}

// Normalizer rewrites human-readable node ids into unique ids.
type Normalizer struct {
	IDs    IDSource
	Logger *zap.Logger
}

func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{IDs: UUIDSource{}, Logger: logger}
}

// Normalize returns a copy of p whose node ids, start id and transition
// targets are rewritten through one fresh id per distinct original id.
// Duplicate ids collapse onto the same fresh id. References with no mapping,
// such as the stop sentinel or a typo, are kept as they are. Already
// normalized plans are returned untouched, and if id generation fails the
// original plan is returned.
func (n *Normalizer) Normalize(p *model.CampaignPlan) *model.CampaignPlan {
	if IsNormalized(p) {
		return p
	}

	mapping := make(map[string]string, len(p.Nodes))
	for _, node := range p.Nodes {
		id := node.Base().ID
		if _, ok := mapping[id]; ok {
			continue
		}
		fresh, err := n.ids().NewID()
		if err != nil {
			n.logger().Warn("⚠️ node id generation failed, keeping original plan",
				zap.String("plan_version", p.Version), zap.Error(err))
			return p
		}
		mapping[id] = fresh
	}

	rewrite := func(id string) string {
		if fresh, ok := mapping[id]; ok {
			return fresh
		}
		return id
	}

	out := p.Clone()
	out.StartNodeID = rewrite(out.StartNodeID)
	for _, node := range out.Nodes {
		b := node.Base()
		b.ID = rewrite(b.ID)
		for i := range b.Transitions {
			b.Transitions[i].To = rewrite(b.Transitions[i].To)
		}
	}
	return out
}

func (n *Normalizer) ids() IDSource {
	if n.IDs == nil {
		return UUIDSource{}
	}
	return n.IDs
}

func (n *Normalizer) logger() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}
