package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cgem-lab/strainboard/internal/strains"
	"github.com/cgem-lab/strainboard/internal/utils"
)

// Global configuration structure.
type Global struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	PublicURL  string `mapstructure:"public_url" yaml:"public_url"`

	// Inventory
	Labs        []string `mapstructure:"labs" yaml:"labs"`
	PlotColumns []string `mapstructure:"plot_columns" yaml:"plot_columns"`
	WorkbookKey string   `mapstructure:"workbook_key" yaml:"workbook_key"`
	SnapshotKey string   `mapstructure:"snapshot_key" yaml:"snapshot_key"`

	// Blob storage
	BlobDriver      string `mapstructure:"blob_driver" yaml:"blob_driver"`
	BlobRoot        string `mapstructure:"blob_root" yaml:"blob_root"`
	BlobS3Bucket    string `mapstructure:"blob_s3_bucket" yaml:"blob_s3_bucket"`
	BlobS3Region    string `mapstructure:"blob_s3_region" yaml:"blob_s3_region"`
	BlobS3Endpoint  string `mapstructure:"blob_s3_endpoint" yaml:"blob_s3_endpoint"`
	BlobS3PathStyle bool   `mapstructure:"blob_s3_path_style" yaml:"blob_s3_path_style"`

	// Request database
	DBDriver string `mapstructure:"db_driver" yaml:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn" yaml:"db_dsn"`

	MemberDomain string `mapstructure:"member_domain" yaml:"member_domain"`

	// Mail
	MailEnabled  bool   `mapstructure:"mail_enabled" yaml:"mail_enabled"`
	MailSender   string `mapstructure:"mail_sender" yaml:"mail_sender"`
	MailSync     bool   `mapstructure:"mail_sync" yaml:"mail_sync"`
	SMTPHost     string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port" yaml:"smtp_port"`
	SMTPUser     string `mapstructure:"smtp_user" yaml:"smtp_user"`
	SMTPPassword string `mapstructure:"smtp_password" yaml:"smtp_password"`
}

// Dir returns the default configuration directory, ~/.strainboard.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".strainboard"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.strainboard/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("STRAINBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("public_url", "")
	v.SetDefault("labs", strains.DefaultLabs)
	v.SetDefault("plot_columns", strains.DefaultPlotColumns)
	v.SetDefault("workbook_key", "inventory/strains.xlsx")
	v.SetDefault("snapshot_key", "cache/strains.json")
	v.SetDefault("blob_driver", "fs")
	v.SetDefault("blob_root", "")
	v.SetDefault("blob_s3_bucket", "")
	v.SetDefault("blob_s3_region", "us-east-1")
	v.SetDefault("blob_s3_endpoint", "")
	v.SetDefault("blob_s3_path_style", false)
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "")
	v.SetDefault("member_domain", "")
	v.SetDefault("mail_enabled", false)
	v.SetDefault("mail_sender", "strains@localhost")
	v.SetDefault("mail_sync", false)
	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_password", "")

	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Labs = splitList(c.Labs)
	c.PlotColumns = splitList(c.PlotColumns)
	// Resolve blob_root default: ~/.strainboard/blobs
	if c.BlobRoot == "" {
		c.BlobRoot = filepath.Join(dir, "blobs")
	}
	c.BlobRoot = utils.ExpandHome(c.BlobRoot)
	if c.DBDriver == "" || c.DBDriver == "sqlite" {
		if c.DBDSN == "" {
			c.DBDSN = filepath.Join(dir, "strainboard.db")
		}
		c.DBDSN = utils.ExpandHome(c.DBDSN)
	}
	return &c, nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Set assigns one key from its string form.
func (c *Global) Set(key, val string) error {
	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, fmt.Errorf("invalid bool for %s: %v", key, val)
		}
		return b, nil
	}
	var err error
	switch key {
	case "listen_addr":
		c.ListenAddr = val
	case "log_level":
		switch strings.ToLower(val) {
		case "debug", "info", "warn", "error":
			c.LogLevel = strings.ToLower(val)
		default:
			return fmt.Errorf("invalid log_level: %s (use debug, info, warn or error)", val)
		}
	case "public_url":
		c.PublicURL = val
	case "labs":
		c.Labs = splitList([]string{val})
	case "plot_columns":
		c.PlotColumns = splitList([]string{val})
	case "workbook_key":
		c.WorkbookKey = val
	case "snapshot_key":
		c.SnapshotKey = val
	case "blob_driver":
		switch val {
		case "fs", "s3", "memory":
			c.BlobDriver = val
		default:
			return fmt.Errorf("invalid blob_driver: %s (use fs, s3 or memory)", val)
		}
	case "blob_root":
		c.BlobRoot = val
	case "blob_s3_bucket":
		c.BlobS3Bucket = val
	case "blob_s3_region":
		c.BlobS3Region = val
	case "blob_s3_endpoint":
		c.BlobS3Endpoint = val
	case "blob_s3_path_style":
		c.BlobS3PathStyle, err = parseBool()
	case "db_driver":
		switch val {
		case "sqlite", "postgres":
			c.DBDriver = val
		default:
			return fmt.Errorf("invalid db_driver: %s (use sqlite or postgres)", val)
		}
	case "db_dsn":
		c.DBDSN = val
	case "member_domain":
		c.MemberDomain = val
	case "mail_enabled":
		c.MailEnabled, err = parseBool()
	case "mail_sender":
		c.MailSender = val
	case "mail_sync":
		c.MailSync, err = parseBool()
	case "smtp_host":
		c.SMTPHost = val
	case "smtp_port":
		i, perr := strconv.Atoi(val)
		if perr != nil || i <= 0 {
			return fmt.Errorf("invalid int for smtp_port: %v", val)
		}
		c.SMTPPort = i
	case "smtp_user":
		c.SMTPUser = val
	case "smtp_password":
		c.SMTPPassword = val
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return err
}
