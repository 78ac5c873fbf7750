package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/cgem-lab/strainboard/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set strainboard configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if cfg == nil {
			fmt.Fprintln(out, "No config loaded")
			return nil
		}
		fmt.Fprintf(out, "listen_addr: %s\n", cfg.ListenAddr)
		fmt.Fprintf(out, "log_level: %s\n", cfg.LogLevel)
		if cfg.PublicURL != "" {
			fmt.Fprintf(out, "public_url: %s\n", cfg.PublicURL)
		}
		fmt.Fprintf(out, "labs: %s\n", strings.Join(cfg.Labs, ","))
		fmt.Fprintf(out, "plot_columns: %s\n", strings.Join(cfg.PlotColumns, ","))
		fmt.Fprintf(out, "workbook_key: %s\n", cfg.WorkbookKey)
		fmt.Fprintf(out, "snapshot_key: %s\n", cfg.SnapshotKey)
		fmt.Fprintf(out, "blob_driver: %s\n", cfg.BlobDriver)
		switch cfg.BlobDriver {
		case "s3":
			fmt.Fprintf(out, "blob_s3_bucket: %s\n", cfg.BlobS3Bucket)
			fmt.Fprintf(out, "blob_s3_region: %s\n", cfg.BlobS3Region)
			if cfg.BlobS3Endpoint != "" {
				fmt.Fprintf(out, "blob_s3_endpoint: %s\n", cfg.BlobS3Endpoint)
			}
			fmt.Fprintf(out, "blob_s3_path_style: %t\n", cfg.BlobS3PathStyle)
		case "fs":
			fmt.Fprintf(out, "blob_root: %s\n", cfg.BlobRoot)
		}
		fmt.Fprintf(out, "db_driver: %s\n", cfg.DBDriver)
		fmt.Fprintf(out, "db_dsn: %s\n", maskDSN(cfg.DBDSN))
		fmt.Fprintf(out, "member_domain: %s\n", cfg.MemberDomain)
		fmt.Fprintf(out, "mail_enabled: %t\n", cfg.MailEnabled)
		fmt.Fprintf(out, "mail_sender: %s\n", cfg.MailSender)
		fmt.Fprintf(out, "mail_sync: %t\n", cfg.MailSync)
		if cfg.SMTPHost != "" {
			fmt.Fprintf(out, "smtp_host: %s\n", cfg.SMTPHost)
			fmt.Fprintf(out, "smtp_port: %d\n", cfg.SMTPPort)
			fmt.Fprintf(out, "smtp_user: %s\n", cfg.SMTPUser)
			fmt.Fprintf(out, "smtp_password: %s\n", mask(cfg.SMTPPassword))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		if err := cfg.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := cfgpkg.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}

// maskDSN hides the password of a URL-style DSN.
func maskDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, pass, ok := strings.Cut(creds, ":")
	if !ok {
		return dsn
	}
	return scheme + "://" + user + ":" + mask(pass) + "@" + host
}
