// Command flatmirror-repair is a standalone CLI for the two maintenance
// operations the cache and signature core expose outside of normal
// retrieve/add-file traffic: rebuilding an index from surviving blobs, and
// checking a signed file against a trusted keyring.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/joernheissler/flatmirror/internal/cache"
	"github.com/joernheissler/flatmirror/internal/digest"
	"github.com/joernheissler/flatmirror/internal/gpg"
	"go.yaml.in/yaml/v3"
)

// Config is the small YAML document flatmirror-repair loads: where the
// cache lives and which keyring to trust for verify.
type Config struct {
	CacheRoot string `yaml:"cache_root"`
	Keyring   string `yaml:"keyring"`
	LogLevel  string `yaml:"log_level"`
}

func main() {
	log.SetHandler(logcli.New(os.Stderr))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "repair":
		runRepair(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func applyLogLevel(level string) {
	if level == "" {
		return
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithError(err).Fatal("parse log_level")
	}
	log.SetLevel(parsed)
}

func printUsage() {
	fmt.Println("Usage: flatmirror-repair <command> [flags]")
	fmt.Println("\nCommands:")
	fmt.Println("  repair   Rebuild a cache index from surviving blobs")
	fmt.Println("  verify   Check a signature against a trusted keyring")
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// runRepair implements the repair pass described in spec §4.5.3/§9: scan
// every blob under the cache's blobs directory, hash it fresh, and insert an
// index entry for it with an empty url (origin unknown). Existing entries
// are left alone; AddIndexEntry's own conflict rules apply.
func runRepair(args []string) {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	confPath := fs.String("config", "flatmirror.yaml", "Path to the configuration file")
	fs.Parse(args)

	cfg, err := loadConfig(*confPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	applyLogLevel(cfg.LogLevel)
	if cfg.CacheRoot == "" {
		log.Fatal("config: cache_root is required")
	}

	err = cache.WithCache(cfg.CacheRoot, func(c *cache.FileCache) error {
		return filepath.Walk(filepath.Join(cfg.CacheRoot, "blobs"), func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			info, err := digest.HashFile(path, "")
			if err != nil {
				return fmt.Errorf("hash %s: %w", path, err)
			}
			if err := c.AddIndexEntry(info); err != nil {
				log.WithError(err).WithField("blob", path).Warn("skipping unrepairable blob")
				return nil
			}
			return nil
		})
	})
	if err != nil {
		log.WithError(err).Fatal("repair")
	}
	log.Info("repair complete")
}

// runVerify checks a detached or inline (clearsigned) signature against a
// keyring. With -sig it verifies a detached signature of -data; without,
// -data itself is treated as a clearsigned document.
func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	confPath := fs.String("config", "flatmirror.yaml", "Path to the configuration file")
	sigPath := fs.String("sig", "", "Path to a detached signature (omit to verify an inline clearsigned file)")
	dataPath := fs.String("data", "", "Path to the signed data, or the clearsigned file itself")
	fs.Parse(args)

	if *dataPath == "" {
		log.Fatal("verify: -data is required")
	}

	cfg, err := loadConfig(*confPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	applyLogLevel(cfg.LogLevel)
	if cfg.Keyring == "" {
		log.Fatal("config: keyring is required")
	}

	verifier, err := gpg.NewVerifier(cfg.Keyring)
	if err != nil {
		log.WithError(err).Fatal("load keyring")
	}

	if *sigPath != "" {
		if err := verifier.CheckDetached(*sigPath, *dataPath); err != nil {
			log.WithError(err).Fatal("verify")
		}
	} else {
		if _, err := verifier.CheckInline(*dataPath); err != nil {
			log.WithError(err).Fatal("verify")
		}
	}
	log.Info("signature verified")
}
