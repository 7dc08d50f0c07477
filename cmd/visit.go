package main

import (
	"net/netip"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/model"
)

var visitCmd = &cobra.Command{
	Use:   "visit",
	Short: "Manage recorded visits",
}

var visitFlags struct {
	workspaceID string
	ip          string
	pageURL     string
	referrer    string
	utmSource   string
	utmMedium   string
	utmCampaign string
	userAgent   string
	fake        bool
}

var visitAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a visit so it can be enriched",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		v, err := visitFromFlags()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.CreateVisit(ctx, v); err != nil {
			return eris.Wrap(err, "visit add")
		}
		zap.L().Info("visit recorded", zap.String("visit_id", v.ID), zap.String("ip", v.IP))
		return writeJSON(cmd.OutOrStdout(), v)
	},
}

func init() {
	f := visitAddCmd.Flags()
	f.StringVar(&visitFlags.workspaceID, "workspace-id", "", "workspace the visit belongs to")
	f.StringVar(&visitFlags.ip, "ip", "", "visitor IP address")
	f.StringVar(&visitFlags.pageURL, "page-url", "", "landing page URL")
	f.StringVar(&visitFlags.referrer, "referrer", "", "HTTP referrer")
	f.StringVar(&visitFlags.utmSource, "utm-source", "", "utm_source parameter")
	f.StringVar(&visitFlags.utmMedium, "utm-medium", "", "utm_medium parameter")
	f.StringVar(&visitFlags.utmCampaign, "utm-campaign", "", "utm_campaign parameter")
	f.StringVar(&visitFlags.userAgent, "user-agent", "", "browser user agent")
	f.BoolVar(&visitFlags.fake, "fake", false, "fill unset fields with generated test data")

	visitCmd.AddCommand(visitAddCmd)
	rootCmd.AddCommand(visitCmd)
}

func visitFromFlags() (*model.Visit, error) {
	v := &model.Visit{
		WorkspaceID: visitFlags.workspaceID,
		IP:          visitFlags.ip,
		PageURL:     visitFlags.pageURL,
		Referrer:    visitFlags.referrer,
		UTMSource:   visitFlags.utmSource,
		UTMMedium:   visitFlags.utmMedium,
		UTMCampaign: visitFlags.utmCampaign,
		UserAgent:   visitFlags.userAgent,
	}
	if visitFlags.fake {
		fillFakeVisit(v, gofakeit.New(0))
	}
	if v.IP == "" {
		return nil, eris.New("visit: --ip is required")
	}
	if _, err := netip.ParseAddr(v.IP); err != nil {
		return nil, eris.Wrapf(err, "visit: invalid ip %q", v.IP)
	}
	return v, nil
}

// fillFakeVisit sets every empty field of v from faker.
func fillFakeVisit(v *model.Visit, faker *gofakeit.Faker) {
	if v.IP == "" {
		v.IP = faker.IPv4Address()
	}
	if v.PageURL == "" {
		v.PageURL = faker.URL()
	}
	if v.UserAgent == "" {
		v.UserAgent = faker.UserAgent()
	}
	if v.WorkspaceID == "" {
		v.WorkspaceID = faker.UUID()
	}
}
