package businessflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/repository"
)

// RecipientSelector is the selector payload of a delivery request
type RecipientSelector struct {
	ContactIDs  []uint
	CampaignIDs []uint
	Phones      []string
}

// IsEmpty reports whether no selector list carries anything
func (s RecipientSelector) IsEmpty() bool {
	return s.Size() == 0
}

// Size is the number of entries across all selector lists
func (s RecipientSelector) Size() int {
	return len(s.ContactIDs) + len(s.CampaignIDs) + len(s.Phones)
}

// Only keeps the list that kind selects and drops the others
func (s RecipientSelector) Only(kind models.TargetType) RecipientSelector {
	switch kind {
	case models.TargetTypeContacts:
		return RecipientSelector{ContactIDs: s.ContactIDs}
	case models.TargetTypeCampaignGroups:
		return RecipientSelector{CampaignIDs: s.CampaignIDs}
	case models.TargetTypeManual:
		return RecipientSelector{Phones: s.Phones}
	default:
		return RecipientSelector{}
	}
}

// ResolvedRecipient is one addressable target produced by the resolver
type ResolvedRecipient struct {
	ExternalID  *uint
	Address     string
	DisplayName string
	Kind        models.RecipientKind
}

// RecipientResolver turns a selector into a flat, ordered list of targets
type RecipientResolver interface {
	Resolve(ctx context.Context, companyID uint, kind models.TargetType, selector RecipientSelector) ([]ResolvedRecipient, error)
}

// RecipientResolverImpl resolves contacts and campaign groups through their repositories
type RecipientResolverImpl struct {
	contactRepo repository.ContactRepository
	groupRepo   repository.CampaignGroupRepository
}

// NewRecipientResolver creates a new resolver
func NewRecipientResolver(contactRepo repository.ContactRepository, groupRepo repository.CampaignGroupRepository) RecipientResolver {
	return &RecipientResolverImpl{
		contactRepo: contactRepo,
		groupRepo:   groupRepo,
	}
}

// Resolve returns the recipients of the list that kind selects; lists of other kinds are
// ignored. An empty result is not an error here; the caller decides whether it is usable.
func (r *RecipientResolverImpl) Resolve(ctx context.Context, companyID uint, kind models.TargetType, selector RecipientSelector) ([]ResolvedRecipient, error) {
	if !kind.Valid() {
		return nil, ErrInvalidTargetType
	}
	selector = selector.Only(kind)

	out := make([]ResolvedRecipient, 0, len(selector.ContactIDs)+len(selector.CampaignIDs)+len(selector.Phones))

	if len(selector.ContactIDs) > 0 {
		contacts, err := r.contactRepo.ListByIDs(ctx, companyID, selector.ContactIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve contacts: %w", err)
		}
		for _, c := range contacts {
			id := c.ID
			out = append(out, ResolvedRecipient{
				ExternalID:  &id,
				Address:     c.Phone,
				DisplayName: c.Name,
				Kind:        models.RecipientKindContact,
			})
		}
	}

	if len(selector.CampaignIDs) > 0 {
		groups, err := r.groupRepo.ListActiveByCampaigns(ctx, companyID, selector.CampaignIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve campaign groups: %w", err)
		}
		for _, g := range groups {
			id := g.ID
			out = append(out, ResolvedRecipient{
				ExternalID:  &id,
				Address:     g.GroupJID,
				DisplayName: g.Name,
				Kind:        models.RecipientKindGroup,
			})
		}
	}

	for _, raw := range selector.Phones {
		phone := strings.TrimSpace(raw)
		if phone == "" {
			continue
		}
		out = append(out, ResolvedRecipient{
			Address:     phone,
			DisplayName: phone,
			Kind:        models.RecipientKindManual,
		})
	}

	return out, nil
}
