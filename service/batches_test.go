package service

import (
	"context"
	"testing"

	"campaign-tracker/config"
	"campaign-tracker/models"
	"campaign-tracker/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Timezone = "UTC"
	cfg.SMTP = config.SMTPDefaults{Host: "smtp.default.com", Port: 465, Security: "ssl", IMAPPort: 993, FromName: "Campaigns"}
	cfg.Dispatch.DomainSheet = "Domain Details"
	cfg.Batches = []config.BatchConfig{{
		Sheet:       "Info_Mails",
		SenderEmail: "info@example.com",
		PasswordEnv: "INFO_PASSWORD",
	}}
	return cfg
}

func domainStore() store.RowStore {
	st, _ := store.NewMemoryStore(map[string][][]string{
		"Domain Details": {
			{"SubSheet Name", "SMTP Server", "IMAP Server", "Port", "Email ID"},
			{"Nana_Mails", "smtp.nana.com", "", "587", "nana@example.com"},
			{"Info_Mails", "smtp.ignored.com", "", "465", "ignored@example.com"},
			{"", "", "", "", ""},
		},
	})
	return st
}

func TestResolveBatches(t *testing.T) {
	t.Setenv("INFO_PASSWORD", "info-secret")
	t.Setenv("SMTP_NANA", "nana-secret")

	batches, err := ResolveBatches(context.Background(), testConfig(), domainStore(), nil)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	info := batches[0]
	assert.Equal(t, "Info_Mails", info.Sheet)
	assert.Equal(t, "info@example.com", info.SenderEmail)
	assert.Equal(t, "smtp.default.com", info.SMTPHost)
	assert.Equal(t, "ssl", info.SMTPSecurity)
	assert.Equal(t, "info-secret", info.Password)
	assert.Equal(t, "Campaigns", info.SenderName)
	require.NotNil(t, info.Timezone)

	nana := batches[1]
	assert.Equal(t, "Nana_Mails", nana.Sheet)
	assert.Equal(t, "smtp.nana.com", nana.SMTPHost)
	assert.Equal(t, "smtp.nana.com", nana.IMAPHost)
	assert.Equal(t, 587, nana.SMTPPort)
	assert.Equal(t, "starttls", nana.SMTPSecurity)
	assert.Equal(t, 993, nana.IMAPPort)
	assert.Equal(t, "nana-secret", nana.Password)
}

func TestResolveBatchesPasswordEnvMap(t *testing.T) {
	t.Setenv("INFO_PASSWORD", "info-secret")
	t.Setenv("NANA_CUSTOM", "custom-secret")

	cfg := testConfig()
	cfg.Dispatch.PasswordEnv = map[string]string{"Nana_Mails": "NANA_CUSTOM"}

	batches, err := ResolveBatches(context.Background(), cfg, domainStore(), []string{"Nana_Mails"})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "custom-secret", batches[0].Password)
}

func TestResolveBatchesMissingPassword(t *testing.T) {
	t.Setenv("INFO_PASSWORD", "info-secret")

	_, err := ResolveBatches(context.Background(), testConfig(), domainStore(), nil)
	assert.True(t, models.IsMissingCredentials(err))
	assert.Contains(t, err.Error(), "SMTP_NANA")
}

func TestResolveBatchesUnknownFilter(t *testing.T) {
	t.Setenv("INFO_PASSWORD", "info-secret")
	t.Setenv("SMTP_NANA", "nana-secret")

	_, err := ResolveBatches(context.Background(), testConfig(), domainStore(), []string{"Nope"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestResolveBatchesWithoutDomainSheet(t *testing.T) {
	t.Setenv("INFO_PASSWORD", "info-secret")
	st, _ := store.NewMemoryStore(map[string][][]string{})

	batches, err := ResolveBatches(context.Background(), testConfig(), st, nil)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "Info_Mails", batches[0].Sheet)
}

func TestPasswordEnvName(t *testing.T) {
	assert.Equal(t, "SMTP_NANA", PasswordEnvName("Nana_Mails"))
	assert.Equal(t, "SMTP_DILSHAD", PasswordEnvName("Dilshad_mails"))
	assert.Equal(t, "SMTP_Q3_PROMO", PasswordEnvName("q3 promo"))
}
