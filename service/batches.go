package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"unicode"

	"campaign-tracker/config"
	"campaign-tracker/models"
	"campaign-tracker/store"
)

// Domain Details sheet headers.
const (
	domainColumnSheet = "SubSheet Name"
	domainColumnSMTP  = "SMTP Server"
	domainColumnIMAP  = "IMAP Server"
	domainColumnPort  = "Port"
	domainColumnEmail = "Email ID"
)

// ResolveBatches merges the configured batches with the rows of the domain sheet
// and resolves every password. Configured batches win over sheet rows with the
// same name. When only is non-empty the result is restricted to those sheets.
// A batch without a password fails the whole call with
// models.ErrMissingCredentials.
func ResolveBatches(ctx context.Context, cfg *config.Config, st store.RowStore, only []string) ([]models.Batch, error) {
	loc := cfg.Location()
	seen := make(map[string]bool)
	var batches []models.Batch

	for _, bc := range cfg.Batches {
		b := batchFromConfig(cfg, bc)
		b.Timezone = loc
		seen[b.Sheet] = true
		batches = append(batches, b)
	}

	if cfg.Dispatch.DomainSheet != "" {
		records, err := st.Records(ctx, cfg.Dispatch.DomainSheet)
		switch {
		case models.IsSheetNotFound(err), models.IsUnsupported(err):
			log.Printf("WARNING: domain sheet %q unavailable: %v", cfg.Dispatch.DomainSheet, err)
		case err != nil:
			return nil, fmt.Errorf("failed to read domain sheet: %w", err)
		}

		for _, rec := range records {
			b, ok := batchFromRecord(cfg, rec)
			if !ok || seen[b.Sheet] {
				continue
			}
			b.Timezone = loc
			seen[b.Sheet] = true
			batches = append(batches, b)
		}
	}

	if len(only) > 0 {
		filtered, err := selectBatches(batches, only)
		if err != nil {
			return nil, err
		}
		batches = filtered
	}

	for _, b := range batches {
		if b.SenderEmail == "" || b.SMTPHost == "" {
			return nil, models.NewAppErrorf("MISSING_CREDENTIALS", "batch %s has no sender address or smtp host", models.ErrMissingCredentials, b.Sheet)
		}
		if b.Password == "" {
			return nil, models.NewAppErrorf("MISSING_CREDENTIALS", "no password for batch %s (set %s)", models.ErrMissingCredentials, b.Sheet, PasswordEnvName(b.Sheet))
		}
	}
	return batches, nil
}

func batchFromConfig(cfg *config.Config, bc config.BatchConfig) models.Batch {
	b := models.Batch{
		Sheet:        strings.TrimSpace(bc.Sheet),
		SenderEmail:  strings.TrimSpace(bc.SenderEmail),
		SenderName:   bc.SenderName,
		SMTPHost:     bc.SMTPHost,
		SMTPPort:     bc.SMTPPort,
		SMTPSecurity: bc.SMTPSecurity,
		IMAPHost:     bc.IMAPHost,
		IMAPPort:     bc.IMAPPort,
		Password:     bc.ResolvePassword(),
	}
	applySMTPDefaults(cfg, &b)
	return b
}

func batchFromRecord(cfg *config.Config, rec map[string]string) (models.Batch, bool) {
	b := models.Batch{
		Sheet:       store.RecordValue(rec, domainColumnSheet),
		SenderEmail: store.RecordValue(rec, domainColumnEmail),
		SMTPHost:    store.RecordValue(rec, domainColumnSMTP),
		IMAPHost:    store.RecordValue(rec, domainColumnIMAP),
	}
	if b.Sheet == "" {
		return b, false
	}

	if raw := store.RecordValue(rec, domainColumnPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			log.Printf("WARNING: domain sheet row %s has invalid port %q", b.Sheet, raw)
		} else {
			b.SMTPPort = port
		}
	}
	if b.IMAPHost == "" {
		b.IMAPHost = b.SMTPHost
	}

	applySMTPDefaults(cfg, &b)
	return b, true
}

// applySMTPDefaults fills blanks from the smtp section and resolves the password.
func applySMTPDefaults(cfg *config.Config, b *models.Batch) {
	if b.SMTPHost == "" {
		b.SMTPHost = cfg.SMTP.Host
	}
	if b.SMTPPort == 0 {
		b.SMTPPort = cfg.SMTP.Port
	}
	if b.SMTPSecurity == "" {
		b.SMTPSecurity = securityForPort(b.SMTPPort, cfg.SMTP.Security)
	}
	if b.IMAPHost == "" {
		b.IMAPHost = cfg.SMTP.IMAPHost
	}
	if b.IMAPPort == 0 {
		b.IMAPPort = cfg.SMTP.IMAPPort
	}
	if b.SenderName == "" {
		b.SenderName = cfg.SMTP.FromName
	}
	if b.Password == "" {
		if env, ok := cfg.Dispatch.PasswordEnv[b.Sheet]; ok {
			b.Password = os.Getenv(env)
		}
	}
	if b.Password == "" {
		b.Password = os.Getenv(PasswordEnvName(b.Sheet))
	}
}

func securityForPort(port int, fallback string) string {
	switch port {
	case 465:
		return "ssl"
	case 587:
		return "starttls"
	}
	return fallback
}

// PasswordEnvName derives the fallback password variable for a sheet:
// "Nana_Mails" reads SMTP_NANA.
func PasswordEnvName(sheet string) string {
	name := strings.TrimSpace(sheet)
	if len(name) > len("_mails") && strings.EqualFold(name[len(name)-len("_mails"):], "_mails") {
		name = name[:len(name)-len("_mails")]
	}

	var sb strings.Builder
	sb.WriteString("SMTP_")
	for _, r := range strings.ToUpper(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func selectBatches(batches []models.Batch, only []string) ([]models.Batch, error) {
	byName := make(map[string]models.Batch, len(batches))
	for _, b := range batches {
		byName[b.Sheet] = b
	}

	out := make([]models.Batch, 0, len(only))
	for _, name := range only {
		b, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown batch %q", config.ErrInvalidConfig, name)
		}
		out = append(out, b)
	}
	return out, nil
}
