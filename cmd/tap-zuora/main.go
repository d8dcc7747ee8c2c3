// Command tap-zuora is a Singer tap for the Zuora billing/subscription
// platform: it discovers exportable objects, then incrementally syncs
// them via Zuora's AQuA batch-export or synchronous REST-export APIs,
// emitting SCHEMA/RECORD/STATE messages on stdout (spec.md §1).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/singer-io/tap-zuora/internal/catalog"
	"github.com/singer-io/tap-zuora/internal/export"
	"github.com/singer-io/tap-zuora/internal/message"
	"github.com/singer-io/tap-zuora/internal/orchestrator"
	"github.com/singer-io/tap-zuora/internal/state"
	"github.com/singer-io/tap-zuora/internal/zuora"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.SetFormatter(&logrus.JSONFormatter{})
	return l
}

// requiredConfigKeys are checked up front so a misconfigured tap fails
// fast with one clear message instead of a confusing downstream error
// (spec.md §6).
var requiredConfigKeys = []string{"start_date", "username", "password"}

func loadConfig(f JSONFile) (zuora.Config, error) {
	var raw map[string]interface{}
	if err := f.Parse(&raw); err != nil {
		return zuora.Config{}, err
	}
	for _, key := range requiredConfigKeys {
		if _, ok := raw[key]; !ok {
			return zuora.Config{}, fmt.Errorf("config is missing required key %q", key)
		}
	}

	var cfg zuora.Config
	if err := f.Parse(&cfg); err != nil {
		return cfg, err
	}
	if !cfg.IsRest() && cfg.PartnerID == "" {
		return cfg, fmt.Errorf("config must set partner_id when api_type is not REST (AQuA requires it)")
	}
	return cfg, nil
}

func buildDriver(ctx context.Context, cfg zuora.Config) (export.Driver, *zuora.Client, error) {
	useRest := cfg.IsRest()
	restBase, aquaBase, err := zuora.ResolveDataCenter(ctx, cfg, useRest)
	if err != nil {
		return nil, nil, err
	}
	client := zuora.NewClient(cfg, restBase, aquaBase, log)

	var driver export.Driver
	if useRest {
		driver = export.NewRest(client)
	} else {
		driver = export.NewBatch(client, cfg.PartnerID)
	}
	return driver, client, nil
}

func doSpec() error {
	spec := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"start_date": map[string]string{"type": "string", "format": "date-time"},
			"username":   map[string]string{"type": "string"},
			"password":   map[string]string{"type": "string"},
			"auth_type":  map[string]string{"type": "string"},
			"sandbox":    map[string]string{"type": "string"},
			"european":   map[string]string{"type": "string"},
			"api_type":   map[string]string{"type": "string"},
			"partner_id": map[string]string{"type": "string"},
		},
		"required": requiredConfigKeys,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(spec)
}

func doCheck(c CheckCmd) error {
	cfg, err := loadConfig(c.ConfigFile.ConfigFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	_, client, err := buildDriver(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connection check failed: %w", err)
	}
	if _, err := catalog.ListObjects(ctx, client); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "connection check failed")
		return fmt.Errorf("connection check failed: %w", err)
	}
	color.New(color.FgGreen).Fprintln(os.Stderr, "connection check succeeded")
	return nil
}

func doDiscover(c DiscoverCmd) error {
	cfg, err := loadConfig(c.ConfigFile.ConfigFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	driver, client, err := buildDriver(ctx, cfg)
	if err != nil {
		return err
	}

	apiType := "AQuA"
	if cfg.IsRest() {
		apiType = "REST"
	}

	names, err := catalog.ListObjects(ctx, client)
	if err != nil {
		return err
	}

	discoverer, err := catalog.NewDiscoverer(client, apiType)
	if err != nil {
		return err
	}

	objects := make([]*catalog.Object, 0, len(names))
	for _, name := range names {
		obj, err := discoverer.Describe(ctx, name)
		if err != nil {
			log.WithError(err).WithField("object", name).Warn("skipping undescribable object")
			continue
		}
		if prober, ok := driver.(catalog.JobProbe); ok {
			if err := catalog.ProbeAndAnnotate(ctx, prober, obj); err != nil {
				log.WithError(err).WithField("object", name).Warn("probe failed, keeping object as described")
			}
		}
		objects = append(objects, obj)
	}

	cat := catalog.BuildCatalog(objects)
	return cat.WriteTo(os.Stdout)
}

func doSync(c SyncCmd) error {
	cfg, err := loadConfig(c.ConfigFile.ConfigFile)
	if err != nil {
		return err
	}
	cat, err := catalog.LoadCatalog(string(c.CatalogFile))
	if err != nil {
		return err
	}
	st, err := state.Load(string(c.StateFile))
	if err != nil {
		return err
	}

	ctx := context.Background()
	driver, _, err := buildDriver(ctx, cfg)
	if err != nil {
		return err
	}

	objects := map[string]*catalog.Object{}
	for _, s := range cat.Streams {
		objects[s.TapStreamID] = catalog.ObjectFromStream(s)
	}

	writer := message.NewWriter(os.Stdout)
	orch := orchestrator.New(driver, writer, log, cfg.StartDate)

	_, err = orch.Sync(ctx, cat, st, objects)
	return err
}

func main() {
	RunMain(doSpec, doCheck, doDiscover, doSync)
}
