package main

import (
	"encoding/json"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
)

// JSONFile is a CLI flag value that names a file to be parsed as JSON,
// mirroring the teacher's go/captures/args.go convention exactly: the
// flag carries a path, Parse() does the decoding once Execute runs.
type JSONFile string

func (f JSONFile) Parse(target interface{}) error {
	if f == "" {
		return nil
	}
	data, err := os.ReadFile(string(f))
	if err != nil {
		return fmt.Errorf("reading %q: %w", string(f), err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parsing %q as json: %w", string(f), err)
	}
	return nil
}

// ConfigFile is embedded by every subcommand that needs Zuora credentials.
type ConfigFile struct {
	ConfigFile JSONFile `long:"config" required:"true" description:"path to the tap config JSON file"`
}

// SpecCmd prints the tap's supported config keys and exits.
type SpecCmd struct {
	doSpec func() error `no-flag:"y"`
}

func (c *SpecCmd) Execute(_ []string) error { return c.doSpec() }

// CheckCmd validates that the configured credentials can reach Zuora.
type CheckCmd struct {
	ConfigFile
	doCheck func(CheckCmd) error `no-flag:"y"`
}

func (c *CheckCmd) Execute(_ []string) error { return c.doCheck(*c) }

// DiscoverCmd prints the synthesized catalog to stdout.
type DiscoverCmd struct {
	ConfigFile
	doDiscover func(DiscoverCmd) error `no-flag:"y"`
}

func (c *DiscoverCmd) Execute(_ []string) error { return c.doDiscover(*c) }

// SyncCmd runs a full incremental sync, emitting SCHEMA/RECORD/STATE to stdout.
type SyncCmd struct {
	ConfigFile
	CatalogFile JSONFile `long:"catalog" required:"true" description:"path to the catalog JSON file"`
	StateFile   JSONFile `long:"state" description:"path to a prior STATE file to resume from"`
	doSync      func(SyncCmd) error `no-flag:"y"`
}

func (c *SyncCmd) Execute(_ []string) error { return c.doSync(*c) }

// RunMain wires the four tap subcommands exactly like the teacher's
// go/captures.RunMain, substituting Singer's spec/check/discover/sync
// vocabulary for Airbyte's spec/check/discover/read.
func RunMain(doSpec func() error, doCheck func(CheckCmd) error, doDiscover func(DiscoverCmd) error, doSync func(SyncCmd) error) {
	parser := flags.NewParser(nil, flags.Default)

	specCmd := &SpecCmd{doSpec: doSpec}
	parser.AddCommand("spec", "Print the tap's config spec", "Prints the supported configuration keys as JSON and exits", specCmd)

	checkCmd := &CheckCmd{doCheck: doCheck}
	parser.AddCommand("check", "Validate Zuora connectivity", "Resolves the data center and confirms the configured credentials authenticate", checkCmd)

	discoverCmd := &DiscoverCmd{doDiscover: doDiscover}
	parser.AddCommand("discover", "Discover streams", "Describes every exportable object and prints a catalog", discoverCmd)

	syncCmd := &SyncCmd{doSync: doSync}
	parser.AddCommand("sync", "Run a sync", "Extracts records for every selected stream and prints SCHEMA/RECORD/STATE messages", syncCmd)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
