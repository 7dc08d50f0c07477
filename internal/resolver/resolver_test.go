package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/resilience"
	"github.com/sells-group/visitor-cli/pkg/ipinfo"
)

const arinRecord = `
#
# ARIN WHOIS data and services are subject to the Terms of Use
#

NetRange:       203.0.113.0 - 203.0.113.255
NetName:        ACME-NET
Organization:   Acme Robotics Inc (ACMER-1)

OrgName:        Acme Robotics Inc
OrgId:          ACMER-1
City:           Austin

OrgAbuseEmail:  hostmaster@arin.net
OrgTechEmail:   netops@acmerobotics.com
`

func TestResolve_BusinessCompany(t *testing.T) {
	ip := &mockIPInfo{}
	ip.On("Lookup", mock.Anything, "8.8.4.4").Return(&ipinfo.Response{
		IP: "8.8.4.4", City: "Austin", Region: "Texas", Country: "US",
		Company: &ipinfo.Company{Name: "Acme Robotics", Domain: "www.AcmeRobotics.com", Type: "business"},
	}, nil)

	c, err := New(ip).Resolve(context.Background(), "8.8.4.4")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Acme Robotics", c.Name)
	assert.Equal(t, "acmerobotics.com", c.Domain)
	assert.Equal(t, "Austin", c.City)
	assert.Equal(t, "US", c.Country)
	assert.Equal(t, model.OrgTypeBusiness, c.Type)
	assert.Equal(t, "ipinfo", c.Source)
	ip.AssertExpectations(t)
}

func TestResolve_NonBusinessTypes(t *testing.T) {
	for _, typ := range []string{"isp", "hosting"} {
		t.Run(typ, func(t *testing.T) {
			ip := &mockIPInfo{}
			ip.On("Lookup", mock.Anything, "8.8.4.4").Return(&ipinfo.Response{
				Company: &ipinfo.Company{Name: "Comcast", Domain: "comcast.net", Type: typ},
			}, nil)

			c, err := New(ip).Resolve(context.Background(), "8.8.4.4")
			require.NoError(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestResolve_EducationCountsAsBusiness(t *testing.T) {
	ip := &mockIPInfo{}
	ip.On("Lookup", mock.Anything, "8.8.4.4").Return(&ipinfo.Response{
		Company: &ipinfo.Company{Name: "State University", Domain: "state.edu", Type: "education"},
	}, nil)

	c, err := New(ip).Resolve(context.Background(), "8.8.4.4")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, model.OrgTypeEducation, c.Type)
}

func TestResolve_PrivateAndInvalidAddresses(t *testing.T) {
	ip := &mockIPInfo{}
	r := New(ip)
	for _, addr := range []string{"10.0.0.1", "192.168.1.20", "127.0.0.1", "not-an-ip", ""} {
		c, err := r.Resolve(context.Background(), addr)
		require.NoError(t, err, addr)
		assert.Nil(t, c, addr)
	}
	ip.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
}

func TestResolve_Bogon(t *testing.T) {
	ip := &mockIPInfo{}
	ip.On("Lookup", mock.Anything, "8.8.4.4").Return(&ipinfo.Response{Bogon: true}, nil)

	c, err := New(ip).Resolve(context.Background(), "8.8.4.4")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResolve_TransportErrorPropagates(t *testing.T) {
	ip := &mockIPInfo{}
	ip.On("Lookup", mock.Anything, "8.8.4.4").
		Return(nil, resilience.StatusError("ipinfo", 503, []byte("unavailable")))

	c, err := New(ip).Resolve(context.Background(), "8.8.4.4")
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "resolver: ipinfo lookup")
	assert.True(t, resilience.IsTransient(err))
}

func TestResolve_WhoisFallback(t *testing.T) {
	ip := &mockIPInfo{}
	ip.On("Lookup", mock.Anything, "203.0.113.9").Return(&ipinfo.Response{
		City: "Austin", Country: "US", Org: "AS64500 Acme Robotics Inc",
	}, nil)
	wh := &mockWhois{}
	wh.On("Whois", mock.Anything, "203.0.113.9").Return(arinRecord, nil)

	c, err := New(ip, WithWhois(wh)).Resolve(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Acme Robotics Inc", c.Name)
	assert.Equal(t, "acmerobotics.com", c.Domain)
	assert.Equal(t, "whois", c.Source)
	wh.AssertExpectations(t)
}

func TestResolve_ISPASNSkipsWhois(t *testing.T) {
	ip := &mockIPInfo{}
	ip.On("Lookup", mock.Anything, "8.8.4.4").Return(&ipinfo.Response{
		ASN: &ipinfo.ASN{ASN: "AS7922", Name: "Comcast Cable", Domain: "comcast.net", Type: "isp"},
	}, nil)
	wh := &mockWhois{}

	c, err := New(ip, WithWhois(wh)).Resolve(context.Background(), "8.8.4.4")
	require.NoError(t, err)
	assert.Nil(t, c)
	wh.AssertNotCalled(t, "Whois", mock.Anything, mock.Anything)
}

func TestResolve_WhoisErrorIsNotFatal(t *testing.T) {
	ip := &mockIPInfo{}
	ip.On("Lookup", mock.Anything, "8.8.4.4").Return(&ipinfo.Response{}, nil)
	wh := &mockWhois{}
	wh.On("Whois", mock.Anything, "8.8.4.4").Return("", errors.New("connection refused"))

	c, err := New(ip, WithWhois(wh)).Resolve(context.Background(), "8.8.4.4")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResolve_WhoisCarrierNameRejected(t *testing.T) {
	ip := &mockIPInfo{}
	ip.On("Lookup", mock.Anything, "8.8.4.4").Return(&ipinfo.Response{}, nil)
	wh := &mockWhois{}
	wh.On("Whois", mock.Anything, "8.8.4.4").
		Return("OrgName: Metro Broadband Communications\nOrgTechEmail: noc@metrobb.net\n", nil)

	c, err := New(ip, WithWhois(wh)).Resolve(context.Background(), "8.8.4.4")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestResolve_BusinessASNWithoutWhois(t *testing.T) {
	ip := &mockIPInfo{}
	ip.On("Lookup", mock.Anything, "8.8.4.4").Return(&ipinfo.Response{
		ASN: &ipinfo.ASN{ASN: "AS64501", Name: "Globex Corporation", Domain: "globex.com", Type: "business"},
	}, nil)

	c, err := New(ip).Resolve(context.Background(), "8.8.4.4")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Globex Corporation", c.Name)
	assert.Equal(t, "globex.com", c.Domain)
}

func TestParseWhois(t *testing.T) {
	rec := ParseWhois(arinRecord)
	assert.Equal(t, "Acme Robotics Inc", rec.Name)
	assert.Equal(t, "acmerobotics.com", rec.Domain)

	ripe := "% RIPE record\norg-name: Initech GmbH\nabuse-mailbox: abuse@initech.de\n"
	rec = ParseWhois(ripe)
	assert.Equal(t, "Initech GmbH", rec.Name)
	assert.Equal(t, "initech.de", rec.Domain)

	assert.Equal(t, WhoisRecord{}, ParseWhois(""))
}

func TestOrgType(t *testing.T) {
	assert.Equal(t, model.OrgTypeEducation, orgType("edu"))
	assert.Equal(t, model.OrgTypeGovernment, orgType("GOV"))
	assert.Equal(t, model.OrgTypeISP, orgType(" isp "))
	assert.False(t, orgType("inactive").IsBusiness())
}

func TestWhoisClient_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewWhois(0).Whois(ctx, "192.0.2.1")
	require.Error(t, err)
}
