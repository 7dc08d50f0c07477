package resolver

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/visitor-cli/pkg/ipinfo"
)

type mockIPInfo struct {
	mock.Mock
}

func (m *mockIPInfo) Lookup(ctx context.Context, ip string) (*ipinfo.Response, error) {
	args := m.Called(ctx, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ipinfo.Response), args.Error(1)
}

type mockWhois struct {
	mock.Mock
}

func (m *mockWhois) Whois(ctx context.Context, query string) (string, error) {
	args := m.Called(ctx, query)
	return args.String(0), args.Error(1)
}
