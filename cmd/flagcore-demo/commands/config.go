package commands

import (
	"encoding/json"
	"fmt"
	"os"

	flagcore "github.com/flagcore-io/flagcore-go"
	"github.com/flagcore-io/flagcore-go/internal/config"
	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// buildConfig loads the environment/`.env`-sourced settings through
// internal/config (the same ambient config layer a long-running host
// process would use), then applies any flags the caller passed
// explicitly on the command line as overrides, and finally loads the
// offline data set from disk when the resolved mode is "offline".
func buildConfig(cmd *cobra.Command) (flagcore.Config, error) {
	envCfg, err := config.Load()
	if err != nil {
		return flagcore.Config{}, err
	}

	if cmd.Flags().Changed("sdk-key") {
		envCfg.SDKKey = sdkKey
	}
	if cmd.Flags().Changed("mode") {
		envCfg.Mode = mode
	}
	if cmd.Flags().Changed("stream-uri") {
		envCfg.StreamURI = streamURI
	}
	if cmd.Flags().Changed("poll-uri") {
		envCfg.PollURI = pollURI
	}
	if cmd.Flags().Changed("events-uri") {
		envCfg.EventsURI = eventsURI
		envCfg.EventsDisabled = eventsURI == ""
	}
	if err := config.Validate(envCfg); err != nil {
		return flagcore.Config{}, err
	}

	level, err := zerolog.ParseLevel(envCfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	cfg := flagcore.Config{
		StreamURI:    envCfg.StreamURI,
		PollURI:      envCfg.PollURI,
		PollInterval: envCfg.PollInterval,
		EventsURI:    envCfg.EventsURI,
		Events: flagcore.EventsConfig{
			Disabled:            envCfg.EventsDisabled,
			Capacity:            envCfg.EventsCapacity,
			FlushInterval:       envCfg.EventsFlushInterval,
			ContextKeysCapacity: envCfg.ContextKeysCapacity,
		},
		OutageLogAfter: envCfg.OutageLogAfter,
		Logger:         logger,
	}
	sdkKey = envCfg.SDKKey

	switch envCfg.Mode {
	case "streaming":
		cfg.Mode = flagcore.DataSourceStreaming
	case "polling":
		cfg.Mode = flagcore.DataSourcePolling
	case "offline":
		cfg.Mode = flagcore.DataSourceOffline
		file := offlineFile
		if file == "" {
			return cfg, fmt.Errorf("--offline-file is required when --mode=offline")
		}
		data, err := loadOfflineDataSet(file)
		if err != nil {
			return cfg, fmt.Errorf("loading %s: %w", file, err)
		}
		cfg.OfflineData = data
	default:
		return cfg, fmt.Errorf("unknown mode %q (want streaming, polling, or offline)", envCfg.Mode)
	}

	return cfg, nil
}

// rawItem mirrors the wire shape of one flag/segment entry in an
// offline data file: a version plus its raw JSON body, decoded into
// the concrete type the evaluator expects once the data kind is known.
// Grounded on internal/datasource/streaming.go's put-message decoding,
// which faces the same "version + opaque body, decode once kind is
// known" problem for the live SSE feed.
type rawItem struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type rawDataSet struct {
	Flags    map[string]rawItem `json:"flags"`
	Segments map[string]rawItem `json:"segments"`
}

func loadOfflineDataSet(path string) (flagmodel.FullDataSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw rawDataSet
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding offline data set: %w", err)
	}

	flags := make(map[string]flagmodel.ItemDescriptor, len(raw.Flags))
	for key, ri := range raw.Flags {
		var flag flagmodel.Flag
		if err := json.Unmarshal(ri.Data, &flag); err != nil {
			return nil, fmt.Errorf("decoding flag %q: %w", key, err)
		}
		flags[key] = flagmodel.ItemDescriptor{Version: ri.Version, Item: &flag}
	}

	segments := make(map[string]flagmodel.ItemDescriptor, len(raw.Segments))
	for key, ri := range raw.Segments {
		var seg flagmodel.Segment
		if err := json.Unmarshal(ri.Data, &seg); err != nil {
			return nil, fmt.Errorf("decoding segment %q: %w", key, err)
		}
		segments[key] = flagmodel.ItemDescriptor{Version: ri.Version, Item: &seg}
	}

	return flagmodel.FullDataSet{
		flagmodel.Flags:    flags,
		flagmodel.Segments: segments,
	}, nil
}
