// Package bold queries the BOLD Systems public API for barcode records and
// sequences.
package bold

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/fasta"
	"github.com/JakeFAU/biodumpy/internal/httpclient"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "bold"

const defaultBaseURL = "http://v4.boldsystems.org/index.php"

// taxonRanks are searched from the most specific rank up.
var taxonRanks = []string{"subspecies", "species", "genus", "subfamily", "family", "order", "class", "phylum"}

// Config holds BOLD options.
type Config struct {
	base.Options `mapstructure:",squash"`
	Summary      bool `mapstructure:"summary"`
	Fasta        bool `mapstructure:"fasta"`
}

// Input downloads BOLD records.
type Input struct {
	base.Module
	cfg Config
}

// New validates cfg and builds the input.
func New(cfg Config, deps base.Deps) (*Input, error) {
	m, err := base.New(Name, cfg.Options, defaultBaseURL, deps, biodumpy.FormatJSON, biodumpy.FormatCSV, biodumpy.FormatFASTA)
	if err != nil {
		return nil, err
	}
	if cfg.Fasta && m.Settings().Format != biodumpy.FormatFASTA {
		return nil, errors.New("bold: fasta requires output_format fasta")
	}
	if !cfg.Fasta && m.Settings().Format == biodumpy.FormatFASTA {
		return nil, errors.New("bold: output_format fasta requires fasta")
	}
	if cfg.Fasta && cfg.Summary {
		return nil, errors.New("bold: summary and fasta are mutually exclusive")
	}
	return &Input{Module: m, cfg: cfg}, nil
}

// Download fetches records, a summary of them, or their sequences.
func (b *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	if b.cfg.Fasta {
		return b.sequences(ctx, el.Query)
	}
	var resp struct {
		BoldRecords struct {
			Records map[string]any `json:"records"`
		} `json:"bold_records"`
	}
	err := b.Client.GetJSON(ctx, b.URL("API_Public", "combined"), url.Values{
		"taxon":  {el.Query},
		"format": {"json"},
	}, &resp)
	if errors.Is(err, httpclient.ErrNoContent) {
		return biodumpy.Payload{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("combined: %w", err)
	}
	records := resp.BoldRecords.Records
	if len(records) == 0 {
		return biodumpy.Payload{}, nil
	}
	if !b.cfg.Summary {
		return biodumpy.Payload{records}, nil
	}
	return summarize(records), nil
}

func (b *Input) sequences(ctx context.Context, taxon string) (biodumpy.Payload, error) {
	body, err := b.Client.Get(ctx, b.URL("API_Public", "sequence"), url.Values{"taxon": {taxon}})
	if err != nil {
		return nil, fmt.Errorf("sequence: %w", err)
	}
	records, err := fasta.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	payload := make(biodumpy.Payload, len(records))
	for i, r := range records {
		payload[i] = r
	}
	return payload, nil
}

// summarize emits one row per sequence of every record, in record id order.
func summarize(records map[string]any) biodumpy.Payload {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	payload := biodumpy.Payload{}
	for _, id := range ids {
		rec, ok := records[id].(map[string]any)
		if !ok {
			continue
		}
		event := base.Object(rec, "collection_event")
		coords := base.Object(event, "coordinates")
		row := func() map[string]any {
			return map[string]any{
				"record_id":      base.String(rec, "record_id"),
				"processid":      base.String(rec, "processid"),
				"bin_uri":        base.String(rec, "bin_uri"),
				"taxon":          lowestTaxon(base.Object(rec, "taxonomy")),
				"country":        base.String(event, "country"),
				"province_state": base.String(event, "province_state"),
				"region":         base.String(event, "region"),
				"lat":            coords["lat"],
				"lon":            coords["lon"],
			}
		}
		seqs := base.Objects(base.Object(rec, "sequences"), "sequence")
		if len(seqs) == 0 {
			r := row()
			r["markercode"] = ""
			r["genbank_accession"] = ""
			payload = append(payload, r)
			continue
		}
		for _, seq := range seqs {
			r := row()
			r["markercode"] = base.String(seq, "markercode")
			r["genbank_accession"] = base.String(seq, "genbank_accession")
			payload = append(payload, r)
		}
	}
	return payload
}

func lowestTaxon(taxonomy map[string]any) string {
	for _, rank := range taxonRanks {
		name := base.String(base.Object(base.Object(taxonomy, rank), "taxon"), "name")
		if name != "" {
			return name
		}
	}
	return ""
}
