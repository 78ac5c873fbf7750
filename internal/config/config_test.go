package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_DefaultsFileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "labs: [Cate, Soll]\nmember_domain: gem-net.net\nsmtp_port: 2525\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STRAINBOARD_LISTEN_ADDR", ":9999")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]string{"Cate", "Soll"}, c.Labs); diff != "" {
		t.Fatalf("labs (-want +got):\n%s", diff)
	}
	if c.ListenAddr != ":9999" || c.MemberDomain != "gem-net.net" || c.SMTPPort != 2525 {
		t.Fatalf("unexpected config %+v", c)
	}
	if c.WorkbookKey != "inventory/strains.xlsx" || c.BlobDriver != "fs" || c.DBDriver != "sqlite" {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.BlobRoot == "" || c.DBDSN == "" {
		t.Fatalf("derived paths missing: %+v", c)
	}
	if len(c.PlotColumns) != 5 {
		t.Fatalf("unexpected plot columns %v", c.PlotColumns)
	}
}

func TestLoad_CommaSeparatedEnvList(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STRAINBOARD_LABS", "Cate, Soll ,")
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]string{"Cate", "Soll"}, c.Labs); diff != "" {
		t.Fatalf("labs (-want +got):\n%s", diff)
	}
}

func TestSetAndSave(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	c := &Global{}
	for k, v := range map[string]string{
		"smtp_port":   "25",
		"mail_sync":   "true",
		"labs":        "Cate,Soll",
		"blob_driver": "s3",
		"log_level":   "DEBUG",
	} {
		if err := c.Set(k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	for k, v := range map[string]string{
		"smtp_port":   "zero",
		"mail_sync":   "maybe",
		"blob_driver": "ftp",
		"db_driver":   "mysql",
		"nope":        "x",
	} {
		if err := c.Set(k, v); err == nil {
			t.Fatalf("expected error for %s=%s", k, v)
		}
	}
	if err := Save(c, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if back.SMTPPort != 25 || !back.MailSync || back.BlobDriver != "s3" || back.LogLevel != "debug" {
		t.Fatalf("round trip lost values: %+v", back)
	}
}
