package circulation

import (
	"slices"
	"strings"
	"sync"
)

// registry holds member type policies and members.
// Policies referenced by at least one member are immutable.
type registry struct {
	mu       sync.RWMutex
	policies map[PolicyIDString]MemberTypePolicy
	members  map[MemberIDString]Member
}

func newRegistry() *registry {
	return &registry{
		policies: make(map[PolicyIDString]MemberTypePolicy),
		members:  make(map[MemberIDString]Member),
	}
}

// checkPolicy validates a (re)definition. It returns changed=false for an identical redefinition.
func (r *registry) checkPolicy(policy MemberTypePolicy) (changed bool, err error) {
	if err = policy.Validate(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, exists := r.policies[policy.ID]
	if !exists {
		return true, nil
	}

	if existing.Equal(policy) {
		return false, nil
	}

	for _, member := range r.members {
		if member.PolicyID == policy.ID {
			return false, ErrPolicyInUse
		}
	}

	return true, nil
}

func (r *registry) checkNewMember(member Member) error {
	if member.ID == "" {
		return ErrInvalidArgument
	}

	if !member.Status.IsValid() {
		return ErrInvalidStatus
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.members[member.ID]; exists {
		return ErrMemberAlreadyExists
	}

	if _, exists := r.policies[member.PolicyID]; !exists {
		return ErrPolicyNotFound
	}

	return nil
}

func (r *registry) putPolicy(policy MemberTypePolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.policies[policy.ID] = policy
}

func (r *registry) putMember(member Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[member.ID] = member
}

func (r *registry) member(memberID MemberIDString) (Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	member, ok := r.members[memberID]
	if !ok {
		return Member{}, ErrMemberNotFound
	}

	return member, nil
}

func (r *registry) policy(policyID PolicyIDString) (MemberTypePolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, ok := r.policies[policyID]
	if !ok {
		return MemberTypePolicy{}, ErrPolicyNotFound
	}

	return policy, nil
}

// memberWithPolicy returns the member together with its bound policy.
func (r *registry) memberWithPolicy(memberID MemberIDString) (Member, MemberTypePolicy, error) {
	member, err := r.member(memberID)
	if err != nil {
		return Member{}, MemberTypePolicy{}, err
	}

	policy, err := r.policy(member.PolicyID)
	if err != nil {
		return Member{}, MemberTypePolicy{}, err
	}

	return member, policy, nil
}

func (r *registry) allMembers() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Member, 0, len(r.members))
	for _, member := range r.members {
		members = append(members, member)
	}

	slices.SortFunc(members, func(a, b Member) int { return strings.Compare(a.ID, b.ID) })

	return members
}

func (r *registry) allPolicies() []MemberTypePolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policies := make([]MemberTypePolicy, 0, len(r.policies))
	for _, policy := range r.policies {
		policies = append(policies, policy)
	}

	slices.SortFunc(policies, func(a, b MemberTypePolicy) int { return strings.Compare(a.ID, b.ID) })

	return policies
}
