package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	docopt "github.com/docopt/docopt-go"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/benmeehan/vpn-core/internal/constants"
	"github.com/benmeehan/vpn-core/internal/core"
	"github.com/benmeehan/vpn-core/internal/endpoints"
	"github.com/benmeehan/vpn-core/internal/utils"
	"github.com/benmeehan/vpn-core/pkg/file"
)

func main() {
	usage := fmt.Sprintf(`vpncore %s

Usage:
  vpncore servers [options]
  vpncore config <server_id> <protocol> [options]
  vpncore fingerprint [options]
  vpncore seal-endpoints <table.yaml> <output> [options]
  vpncore -h | --help
  vpncore --version

Options:
  -h --help        Show this screen.
  --version        Print the version.
  --config=<path>  Configuration file, defaults to $%s or %s.
  --pretty         Indent JSON output.
  --metrics        Print collected metrics to stderr when done.
`, constants.Version, constants.ConfigPathEnv, constants.DefaultConfigPath)

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse arguments")
	}

	if b, _ := arguments.Bool("--version"); b {
		fmt.Println(constants.Version)
		return
	}

	configPath, _ := arguments.String("--config")
	if configPath == "" {
		configPath = utils.ConfigPath()
	}
	pretty, _ := arguments.Bool("--pretty")

	if b, _ := arguments.Bool("seal-endpoints"); b {
		input, _ := arguments.String("<table.yaml>")
		output, _ := arguments.String("<output>")
		if err := sealEndpoints(configPath, input, output); err != nil {
			log.Fatal().Err(err).Msg("Failed to seal endpoint table")
		}
		log.Info().Str("output", output).Msg("Endpoint table sealed")
		return
	}

	c, err := core.LoadFile(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", configPath).Msg("Failed to initialize core")
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), c.Config.CallTimeout())
	defer cancel()

	var result any
	switch {
	case isSet(arguments, "servers"):
		result, err = c.Catalog.ListServers(ctx)
	case isSet(arguments, "config"):
		serverID, _ := arguments.String("<server_id>")
		protocol, _ := arguments.String("<protocol>")
		result, err = c.Configs.GetConfiguration(ctx, serverID, protocol)
	case isSet(arguments, "fingerprint"):
		fp, fpErr := c.Fingerprints.Fingerprint(ctx)
		err = fpErr
		result = map[string]string{"digest": fp.Digest(), "app_version": c.Fingerprints.AppVersion()}
	}
	if err != nil {
		c.Logger.Error().Err(err).Msg("Command failed")
		dumpMetrics(arguments, c)
		os.Exit(1)
	}

	if err := printJSON(result, pretty); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
	dumpMetrics(arguments, c)
}

func isSet(arguments docopt.Opts, key string) bool {
	b, _ := arguments.Bool(key)
	return b
}

func printJSON(v any, pretty bool) error {
	encoder := json.NewEncoder(os.Stdout)
	if pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

// sealEndpoints encrypts a plaintext endpoint table with the key derived
// from the configured build key.
func sealEndpoints(configPath, input, output string) error {
	files := file.NewFileService()

	config, err := utils.LoadConfig(configPath, files)
	if err != nil {
		return err
	}
	buildKey, err := utils.LoadBuildKey(config, files)
	if err != nil {
		return err
	}
	keys, err := core.DeriveKeys(buildKey)
	if err != nil {
		return err
	}

	var table endpoints.Table
	if err := files.ReadYamlFile(input, &table); err != nil {
		return fmt.Errorf("failed to read %s: %w", input, err)
	}
	sealed, err := endpoints.Seal(keys.EndpointTable, table)
	if err != nil {
		return err
	}
	return files.WriteFileRaw(output, sealed)
}

func dumpMetrics(arguments docopt.Opts, c *core.Core) {
	if !isSet(arguments, "--metrics") {
		return
	}
	families, err := c.Metrics.Gatherer().Gather()
	if err != nil {
		c.Logger.Warn().Err(err).Msg("Failed to gather metrics")
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stderr, mf); err != nil {
			c.Logger.Warn().Err(err).Msg("Failed to print metrics")
			return
		}
	}
}
