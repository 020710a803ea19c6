package authz

// Vocabulary is the closed set of (resource type, action) pairs the service
// resolves. Pairs outside it are configuration errors, not denials.
type Vocabulary struct {
	pairs map[ResourceType]map[Action]struct{}
}

// NewVocabulary builds a vocabulary from per-resource action lists.
func NewVocabulary(entries map[ResourceType][]Action) *Vocabulary {
	pairs := make(map[ResourceType]map[Action]struct{}, len(entries))
	for resource, actions := range entries {
		set := make(map[Action]struct{}, len(actions))
		for _, action := range actions {
			set[action] = struct{}{}
		}
		pairs[resource] = set
	}
	return &Vocabulary{pairs: pairs}
}

// Contains reports whether the pair is part of the vocabulary.
func (v *Vocabulary) Contains(resource ResourceType, action Action) bool {
	if v == nil {
		return false
	}
	set, ok := v.pairs[resource]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// Actions returns the configured actions for a resource type.
func (v *Vocabulary) Actions(resource ResourceType) []Action {
	if v == nil {
		return nil
	}
	set := v.pairs[resource]
	actions := make([]Action, 0, len(set))
	for action := range set {
		actions = append(actions, action)
	}
	return actions
}

// DefaultVocabulary covers the resource types of the admin application.
func DefaultVocabulary() *Vocabulary {
	return NewVocabulary(map[ResourceType][]Action{
		ResourceDocument: {ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionApprove, ActionExport},
		ResourceProject:  {ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionManage},
		ResourceMember:   {ActionView, ActionCreate, ActionUpdate, ActionDelete},
		ResourceRole:     {ActionView, ActionUpdate, ActionManage},
		ResourceReport:   {ActionView, ActionExport},
	})
}

// DefaultDependencies encodes the stronger-implies-weaker rules matching the
// default vocabulary. Implication never runs the other way.
func DefaultDependencies() []Dependency {
	return []Dependency{
		{Resource: ResourceDocument, Action: ActionUpdate, Implies: ActionView},
		{Resource: ResourceDocument, Action: ActionDelete, Implies: ActionView},
		{Resource: ResourceDocument, Action: ActionApprove, Implies: ActionView},
		{Resource: ResourceDocument, Action: ActionExport, Implies: ActionView},
		{Resource: ResourceProject, Action: ActionManage, Implies: ActionUpdate},
		{Resource: ResourceProject, Action: ActionUpdate, Implies: ActionView},
		{Resource: ResourceProject, Action: ActionDelete, Implies: ActionView},
		{Resource: ResourceMember, Action: ActionUpdate, Implies: ActionView},
		{Resource: ResourceMember, Action: ActionDelete, Implies: ActionView},
		{Resource: ResourceRole, Action: ActionManage, Implies: ActionUpdate},
		{Resource: ResourceRole, Action: ActionUpdate, Implies: ActionView},
		{Resource: ResourceReport, Action: ActionExport, Implies: ActionView},
	}
}
