package permissions

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/bcdannyboy/SharepointAudit/internal/cache"
	"github.com/bcdannyboy/SharepointAudit/internal/domain"
	"github.com/bcdannyboy/SharepointAudit/internal/graph"
)

const groupCacheKeyPrefix = "group_members:"

// Expander flattens group principals into deduplicated user lists.
// Expansions are cached because the same tenant-wide groups appear on
// thousands of objects.
type Expander struct {
	client *graph.Client
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewExpander(client *graph.Client, c *cache.Cache, ttl time.Duration, logger *slog.Logger) *Expander {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Expander{
		client: client,
		cache:  c,
		ttl:    ttl,
		logger: logger.With("component", "group_expander"),
	}
}

// Expand resolves the full member list of a group, following nested
// groups. Membership cycles terminate via the visited set and each user
// appears once regardless of how many paths reach them.
func (e *Expander) Expand(ctx context.Context, groupID, groupName string) (*domain.GroupMembership, error) {
	if cached, ok := e.cache.Get(ctx, groupCacheKeyPrefix+groupID); ok {
		var m domain.GroupMembership
		if err := json.Unmarshal(cached, &m); err == nil {
			return &m, nil
		}
		// Unreadable cache entries are re-expanded.
	}

	m := &domain.GroupMembership{
		GroupID:    groupID,
		GroupName:  groupName,
		ExpandedAt: time.Now().UTC(),
	}

	visited := map[string]bool{groupID: true}
	seenUsers := map[string]bool{}
	if err := e.expand(ctx, groupID, visited, seenUsers, m); err != nil {
		return nil, err
	}

	if blob, err := json.Marshal(m); err == nil {
		e.cache.Set(ctx, groupCacheKeyPrefix+groupID, blob, e.ttl)
	}
	return m, nil
}

func (e *Expander) expand(ctx context.Context, groupID string, visited, seenUsers map[string]bool, m *domain.GroupMembership) error {
	members, err := e.client.TransitiveGroupMembers(ctx, groupID)
	if err != nil {
		return err
	}
	for _, member := range members {
		switch {
		case member.IsUser():
			if seenUsers[member.ID] {
				continue
			}
			seenUsers[member.ID] = true
			email := member.Mail
			if email == "" {
				email = member.UserPrincipalName
			}
			m.Members = append(m.Members, domain.GroupMember{
				UserID:    member.ID,
				UserName:  member.DisplayName,
				UserEmail: email,
			})
		case member.IsGroup():
			if visited[member.ID] {
				continue
			}
			visited[member.ID] = true
			m.NestedGroups = append(m.NestedGroups, member.ID)
			if err := e.expand(ctx, member.ID, visited, seenUsers, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsExternalPrincipal reports whether a principal's identifiers mark it
// as a guest from outside the tenant.
func IsExternalPrincipal(loginName, email string) bool {
	id := strings.ToLower(loginName)
	if strings.Contains(id, "#ext#") || strings.Contains(id, "urn:spo:guest") {
		return true
	}
	return strings.Contains(strings.ToLower(email), "#ext#")
}
