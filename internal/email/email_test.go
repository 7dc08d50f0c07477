package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/resilience"
	"github.com/sells-group/visitor-cli/pkg/zerobounce"
)

type mockZeroBounce struct {
	mock.Mock
}

func (m *mockZeroBounce) Validate(ctx context.Context, addr string) (*zerobounce.ValidateResponse, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*zerobounce.ValidateResponse), args.Error(1)
}

func zbStatus(status string) *zerobounce.ValidateResponse {
	return &zerobounce.ValidateResponse{Status: status}
}

func addresses(cands []model.EmailCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Address
	}
	return out
}

func TestGeneratePatterns_Order(t *testing.T) {
	got := GeneratePatterns("Jane Doe", "acme.com")
	assert.Equal(t, []string{
		"jane@acme.com",
		"jane.doe@acme.com",
		"jdoe@acme.com",
		"jane_doe@acme.com",
		"janedoe@acme.com",
		"j.doe@acme.com",
		"doe@acme.com",
		"doej@acme.com",
		"doe.jane@acme.com",
	}, addresses(got))
	assert.Equal(t, model.PatternFirst, got[0].Pattern)
	assert.Equal(t, model.PatternFirstLast, got[1].Pattern)
	assert.Equal(t, model.PatternFLast, got[2].Pattern)
	assert.Equal(t, model.PatternFirstULast, got[3].Pattern)
}

func TestGeneratePatterns_Normalizes(t *testing.T) {
	got := GeneratePatterns("Dr. José O'Núñez-Smith, PhD", "https://www.Acme.com/")
	require.NotEmpty(t, got)
	assert.Equal(t, "jose@acme.com", got[0].Address)
	assert.Equal(t, "jose.onunezsmith@acme.com", got[1].Address)
}

func TestGeneratePatterns_SingleName(t *testing.T) {
	got := GeneratePatterns("Madonna", "acme.com")
	assert.Equal(t, []string{"madonna@acme.com"}, addresses(got))
}

func TestGeneratePatterns_NoFirstToken(t *testing.T) {
	assert.Empty(t, GeneratePatterns("", "acme.com"))
	assert.Empty(t, GeneratePatterns("  ,  ", "acme.com"))
	assert.Empty(t, GeneratePatterns("王伟", "acme.com"))
}

func TestGeneratePatterns_BadDomain(t *testing.T) {
	assert.Empty(t, GeneratePatterns("Jane Doe", ""))
	assert.Empty(t, GeneratePatterns("Jane Doe", "acme robotics"))
}

func TestGeneratePatterns_Dedupes(t *testing.T) {
	got := GeneratePatterns("Al Al", "acme.com")
	seen := map[string]bool{}
	for _, c := range got {
		assert.False(t, seen[c.Address], c.Address)
		seen[c.Address] = true
	}
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, model.VerificationVerified, MapStatus("valid"))
	assert.Equal(t, model.VerificationRisky, MapStatus("catch-all"))
	assert.Equal(t, model.VerificationUnknown, MapStatus("unknown"))
	assert.Equal(t, model.VerificationUnverified, MapStatus("invalid"))
	assert.Equal(t, model.VerificationUnverified, MapStatus("spamtrap"))
	assert.Equal(t, model.VerificationUnverified, MapStatus("do_not_mail"))
}

func TestVerifyFirst_StopsAtFirstVerified(t *testing.T) {
	cands := GeneratePatterns("Jane Doe", "acme.com")
	zb := &mockZeroBounce{}
	zb.On("Validate", mock.Anything, "jane@acme.com").Return(zbStatus("catch-all"), nil).Once()
	zb.On("Validate", mock.Anything, "jane.doe@acme.com").Return(zbStatus("unknown"), nil).Once()
	zb.On("Validate", mock.Anything, "jdoe@acme.com").Return(zbStatus("invalid"), nil).Once()
	zb.On("Validate", mock.Anything, "jane_doe@acme.com").Return(zbStatus("valid"), nil).Once()

	got, calls, err := NewVerifier(zb).VerifyFirst(context.Background(), Seq(cands))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "jane_doe@acme.com", got.Address)
	assert.Equal(t, model.VerificationVerified, got.Status)
	assert.Equal(t, 4, calls)
	zb.AssertNumberOfCalls(t, "Validate", 4)
	zb.AssertExpectations(t)
}

func TestVerifyFirst_CallCountIsIndexPlusOne(t *testing.T) {
	cands := GeneratePatterns("Jane Doe", "acme.com")
	for idx := range cands {
		zb := &mockZeroBounce{}
		for i, c := range cands {
			status := "invalid"
			if i == idx {
				status = "valid"
			}
			zb.On("Validate", mock.Anything, c.Address).Return(zbStatus(status), nil).Maybe()
		}
		got, calls, err := NewVerifier(zb).VerifyFirst(context.Background(), Seq(cands))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, cands[idx].Address, got.Address)
		assert.Equal(t, idx+1, calls)
	}
}

func TestVerifyFirst_NoneVerified(t *testing.T) {
	cands := GeneratePatterns("Jane Doe", "acme.com")
	zb := &mockZeroBounce{}
	zb.On("Validate", mock.Anything, mock.Anything).Return(zbStatus("catch-all"), nil)

	got, calls, err := NewVerifier(zb).VerifyFirst(context.Background(), Seq(cands))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, len(cands), calls)
}

func TestVerifyFirst_Empty(t *testing.T) {
	zb := &mockZeroBounce{}
	got, calls, err := NewVerifier(zb).VerifyFirst(context.Background(), Seq(nil))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, calls)
}

func TestVerifyFirst_TimeoutCountsAsUnknown(t *testing.T) {
	cands := GeneratePatterns("Jane Doe", "acme.com")[:2]
	zb := &mockZeroBounce{}
	zb.On("Validate", mock.Anything, "jane@acme.com").
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.DeadlineExceeded)
	zb.On("Validate", mock.Anything, "jane.doe@acme.com").Return(zbStatus("valid"), nil)

	got, calls, err := NewVerifier(zb, WithPerCallTimeout(10*time.Millisecond)).VerifyFirst(context.Background(), Seq(cands))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "jane.doe@acme.com", got.Address)
	assert.Equal(t, 2, calls)
}

func TestVerifyFirst_TransportErrorStops(t *testing.T) {
	cands := GeneratePatterns("Jane Doe", "acme.com")
	zb := &mockZeroBounce{}
	zb.On("Validate", mock.Anything, "jane@acme.com").
		Return(nil, resilience.StatusError("zerobounce", 500, []byte("oops")))

	got, calls, err := NewVerifier(zb).VerifyFirst(context.Background(), Seq(cands))
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, calls)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "email: verify jane@acme.com")
}

func TestVerifyFirst_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	zb := &mockZeroBounce{}

	_, calls, err := NewVerifier(zb).VerifyFirst(ctx, Seq(GeneratePatterns("Jane Doe", "acme.com")))
	require.Error(t, err)
	assert.Zero(t, calls)
	zb.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
}

func TestVerify_Reason(t *testing.T) {
	zb := &mockZeroBounce{}
	zb.On("Validate", mock.Anything, "jane@acme.com").
		Return(&zerobounce.ValidateResponse{Status: "invalid", SubStatus: "mailbox_not_found"}, nil)

	res, err := NewVerifier(zb).Verify(context.Background(), model.EmailCandidate{Address: "jane@acme.com"})
	require.NoError(t, err)
	assert.Equal(t, model.VerificationUnverified, res.Status)
	assert.Equal(t, "invalid: mailbox_not_found", res.Reason)
	assert.False(t, res.OK())
}

func TestVerify_OtherErrorWrapped(t *testing.T) {
	zb := &mockZeroBounce{}
	zb.On("Validate", mock.Anything, mock.Anything).Return(nil, errors.New("zerobounce: invalid api key"))

	_, err := NewVerifier(zb).Verify(context.Background(), model.EmailCandidate{Address: "x@acme.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}
