package ir

// DispositionKind is the action a matched subscription maps to.
type DispositionKind int

const (
	// DispositionInert matches but does nothing: the stored scope fields
	// do not describe a wait state or a definition-level start.
	DispositionInert DispositionKind = iota
	// DispositionResume resumes a case waiting at SubScopeID.
	DispositionResume
	// DispositionStartNew starts a new case of ScopeDefinitionID.
	DispositionStartNew
)

// String returns the metric/log label of the kind.
func (k DispositionKind) String() string {
	switch k {
	case DispositionResume:
		return "resume"
	case DispositionStartNew:
		return "start_new"
	default:
		return "inert"
	}
}

// Disposition is a tagged union: SubScopeID is set only for Resume,
// ScopeDefinitionID only for StartNew.
type Disposition struct {
	Kind              DispositionKind
	SubScopeID        string
	ScopeDefinitionID string
}

// Resume builds a Resume disposition.
func Resume(subScopeID string) Disposition {
	return Disposition{Kind: DispositionResume, SubScopeID: subScopeID}
}

// StartNew builds a StartNew disposition.
func StartNew(scopeDefinitionID string) Disposition {
	return Disposition{Kind: DispositionStartNew, ScopeDefinitionID: scopeDefinitionID}
}

// Inert is the disposition of a subscription that maps to no action.
func Inert() Disposition {
	return Disposition{Kind: DispositionInert}
}

// Classify maps a subscription's scope fields to its disposition.
//
//	sub scope set                          -> Resume
//	definition set, scope and sub scope unset -> StartNew
//	anything else                          -> Inert
//
// Empty strings count as unset.
func Classify(sub Subscription) Disposition {
	subScope := deref(sub.SubScopeID)
	scope := deref(sub.ScopeID)
	definition := deref(sub.ScopeDefinitionID)

	switch {
	case subScope != "":
		return Resume(subScope)
	case definition != "" && scope == "":
		return StartNew(definition)
	default:
		return Inert()
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
