package registry

import (
	"fmt"
	"path"

	"github.com/pelletier/go-toml/v2"
)

// CollectorOptions parameterize the generated collector configuration.
type CollectorOptions struct {
	// IngestAddress is this process's gRPC listener, the target of the
	// generated Vector sink.
	IngestAddress string
	// RemapsDir holds the per-source-type OCSF remap scripts.
	RemapsDir string
}

// vectorSourceType maps a StrIEM source type to the collector source block
// type it configures.
var vectorSourceType = map[SourceType]string{
	SourceAWSCloudtrail: "aws_s3",
	SourceOkta:          "okta",
}

// CollectorConfig renders the upstream collector (Vector) configuration as a
// structured document: one source block per enabled source, a logsource
// transform stamping the Sigma taxonomy, an OCSF remap transform per source
// type, and a sink pointing back at this process's ingest listener.
func (r *Registry) CollectorConfig(opts CollectorOptions) (map[string]any, error) {
	snap := r.Snapshot()

	sources := map[string]any{
		// keeps the ocsf-* wildcard input valid with zero configured sources
		"ocsf-stdin": map[string]any{
			"type":     "stdin",
			"decoding": map[string]any{"codec": "json"},
			"framing":  map[string]any{"method": "newline_delimited"},
		},
	}
	transforms := map[string]any{}

	remaps := opts.RemapsDir
	if remaps == "" {
		remaps = "${STRIEM_REMAPS}"
	}

	for _, src := range snap.Sources() {
		if !src.Enabled {
			continue
		}
		sourceID := fmt.Sprintf("source-%s_%s", src.Type, src.ID)
		logsourceID := fmt.Sprintf("logsource-%s_%s", src.Type, src.ID)
		ocsfID := fmt.Sprintf("ocsf-%s_%s", src.Type, src.ID)

		block := make(map[string]any, len(src.Config)+1)
		for k, v := range src.Config {
			block[k] = v
		}
		block["type"] = vectorSourceType[src.Type]
		sources[sourceID] = block

		product, service := src.Logsource()
		transforms[logsourceID] = map[string]any{
			"type":   "remap",
			"inputs": []string{sourceID},
			"source": fmt.Sprintf("%%source_id = %q\n%%sigma = {\"logsource\": {\"product\": %q, \"service\": %q}}\n",
				sourceID, product, service),
		}
		transforms[ocsfID] = map[string]any{
			"type":   "remap",
			"inputs": []string{logsourceID},
			"file":   path.Join(remaps, string(src.Type), "remap.vrl"),
		}
	}

	doc := map[string]any{
		"schema":  map[string]any{"log_namespace": true},
		"sources": sources,
		"sinks": map[string]any{
			"sink-striem": map[string]any{
				"type":    "vector",
				"inputs":  []string{"ocsf-*"},
				"address": opts.IngestAddress,
			},
		},
	}
	if len(transforms) > 0 {
		doc["transforms"] = transforms
	}
	return doc, nil
}

// CollectorConfigTOML renders the collector document as TOML, the format the
// collector consumes.
func (r *Registry) CollectorConfigTOML(opts CollectorOptions) ([]byte, error) {
	doc, err := r.CollectorConfig(opts)
	if err != nil {
		return nil, err
	}
	return toml.Marshal(doc)
}
