package auth

const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeReviewRead    = "review:read"
	ScopeReviewApprove = "review:approve"
)

// ReviewScopes are the scopes guarding the review endpoints.
var ReviewScopes = []string{ScopeReviewRead, ScopeReviewApprove}

// AllScopes is the set requested by the docs page.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeReviewRead,
	ScopeReviewApprove,
}
