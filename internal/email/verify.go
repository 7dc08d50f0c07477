package email

import (
	"context"
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/pkg/zerobounce"
)

const defaultPerCallTimeout = 10 * time.Second

// Verifier checks candidate addresses against ZeroBounce.
type Verifier struct {
	zb      zerobounce.Client
	perCall time.Duration
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithPerCallTimeout bounds each verification. A call that runs out of
// time counts as unknown.
func WithPerCallTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.perCall = d
		}
	}
}

// NewVerifier creates a Verifier.
func NewVerifier(zb zerobounce.Client, opts ...VerifierOption) *Verifier {
	v := &Verifier{zb: zb, perCall: defaultPerCallTimeout}
	for _, o := range opts {
		o(v)
	}
	return v
}

// MapStatus normalizes a ZeroBounce status: valid is verified, catch-all is
// risky, unknown stays unknown and everything else is unverified.
func MapStatus(status string) model.VerificationStatus {
	switch status {
	case zerobounce.StatusValid:
		return model.VerificationVerified
	case zerobounce.StatusCatchAll:
		return model.VerificationRisky
	case zerobounce.StatusUnknown:
		return model.VerificationUnknown
	default:
		return model.VerificationUnverified
	}
}

// Verify checks one address. Running out of per-call time yields an
// unknown result; any other failure is returned.
func (v *Verifier) Verify(ctx context.Context, c model.EmailCandidate) (model.VerifiedEmail, error) {
	cctx, cancel := context.WithTimeout(ctx, v.perCall)
	defer cancel()

	resp, err := v.zb.Validate(cctx, c.Address)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return model.VerifiedEmail{EmailCandidate: c, Status: model.VerificationUnknown, Reason: "verification timed out"}, nil
		}
		return model.VerifiedEmail{}, eris.Wrapf(err, "email: verify %s", c.Address)
	}

	reason := resp.Status
	if resp.SubStatus != "" {
		reason += ": " + resp.SubStatus
	}
	return model.VerifiedEmail{EmailCandidate: c, Status: MapStatus(resp.Status), Reason: reason}, nil
}

// VerifyFirst verifies candidates in order and stops at the first verified
// address. It returns that address (nil when none verified) and the number
// of verification calls made.
func (v *Verifier) VerifyFirst(ctx context.Context, cands iter.Seq[model.EmailCandidate]) (*model.VerifiedEmail, int, error) {
	calls := 0
	for c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, calls, eris.Wrap(err, "email: verification cancelled")
		}
		calls++
		res, err := v.Verify(ctx, c)
		if err != nil {
			return nil, calls, err
		}
		zap.L().Debug("email: candidate checked",
			zap.String("pattern", string(c.Pattern)),
			zap.String("status", string(res.Status)),
			zap.String("reason", res.Reason),
		)
		if res.OK() {
			return &res, calls, nil
		}
	}
	return nil, calls, nil
}

// Seq adapts a candidate slice for VerifyFirst.
func Seq(cands []model.EmailCandidate) iter.Seq[model.EmailCandidate] {
	return slices.Values(cands)
}
