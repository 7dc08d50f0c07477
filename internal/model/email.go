package model

// EmailPattern names the local-part convention used to build an address.
type EmailPattern string

const (
	PatternFirst      EmailPattern = "first"
	PatternFirstLast  EmailPattern = "first.last"
	PatternFLast      EmailPattern = "flast"
	PatternFirstULast EmailPattern = "first_last"
	PatternFirstLastN EmailPattern = "firstlast"
	PatternFDotLast   EmailPattern = "f.last"
	PatternLast       EmailPattern = "last"
	PatternLastF      EmailPattern = "lastf"
	PatternLastFirst  EmailPattern = "last.first"
)

// EmailCandidate is a generated address, ordered by decreasing likelihood.
type EmailCandidate struct {
	Address string       `json:"address"`
	Pattern EmailPattern `json:"pattern"`
}

// VerificationStatus is the normalized outcome of a mailbox check.
type VerificationStatus string

const (
	VerificationVerified   VerificationStatus = "verified"
	VerificationUnverified VerificationStatus = "unverified"
	VerificationRisky      VerificationStatus = "risky"
	VerificationUnknown    VerificationStatus = "unknown"
	VerificationInvalid    VerificationStatus = "invalid"
)

// VerifiedEmail is an EmailCandidate with its verification outcome.
// Only VerificationVerified satisfies the pipeline.
type VerifiedEmail struct {
	EmailCandidate
	Status VerificationStatus `json:"status"`
	Reason string             `json:"reason,omitempty"`
}

// OK reports whether the address verified.
func (v VerifiedEmail) OK() bool {
	return v.Status == VerificationVerified
}
