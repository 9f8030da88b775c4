// Package sources is the registry of input modules.
package sources

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
	"github.com/JakeFAU/biodumpy/internal/sources/bold"
	"github.com/JakeFAU/biodumpy/internal/sources/col"
	"github.com/JakeFAU/biodumpy/internal/sources/crossref"
	"github.com/JakeFAU/biodumpy/internal/sources/gbif"
	"github.com/JakeFAU/biodumpy/internal/sources/inaturalist"
	"github.com/JakeFAU/biodumpy/internal/sources/iucn"
	"github.com/JakeFAU/biodumpy/internal/sources/ncbi"
	"github.com/JakeFAU/biodumpy/internal/sources/obis"
	"github.com/JakeFAU/biodumpy/internal/sources/paperdown"
	"github.com/JakeFAU/biodumpy/internal/sources/worms"
	"github.com/JakeFAU/biodumpy/internal/sources/zoobank"
)

// Modules holds one configuration section per module.
type Modules struct {
	GBIF        gbif.Config        `mapstructure:"gbif"`
	BOLD        bold.Config        `mapstructure:"bold"`
	COL         col.Config         `mapstructure:"col"`
	Crossref    crossref.Config    `mapstructure:"crossref"`
	WoRMS       worms.Config       `mapstructure:"worms"`
	IUCN        iucn.Config        `mapstructure:"iucn"`
	NCBI        ncbi.Config        `mapstructure:"ncbi"`
	INaturalist inaturalist.Config `mapstructure:"inaturalist"`
	ZooBank     zoobank.Config     `mapstructure:"zoobank"`
	OBIS        obis.Config        `mapstructure:"obis"`
	PaperDown   paperdown.Config   `mapstructure:"paperdown"`
}

// Deps extends base.Deps with the collaborators only some modules need.
type Deps struct {
	base.Deps
	Scraper  zoobank.Scraper
	Renderer paperdown.Renderer
}

// Info describes a module for listings.
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Formats     []string `json:"formats"`
}

var catalog = map[string]Info{
	gbif.Name:        {gbif.Name, "GBIF taxonomy search and occurrences", []string{"json", "csv"}},
	bold.Name:        {bold.Name, "BOLD barcode records, summaries and sequences", []string{"json", "csv", "fasta"}},
	col.Name:         {col.Name, "Catalogue of Life name usages and classification", []string{"json", "csv"}},
	crossref.Name:    {crossref.Name, "Crossref work metadata by DOI", []string{"json", "csv"}},
	worms.Name:       {worms.Name, "WoRMS Aphia records and distributions", []string{"json", "csv"}},
	iucn.Name:        {iucn.Name, "IUCN Red List assessments by region", []string{"json", "csv"}},
	ncbi.Name:        {ncbi.Name, "NCBI Entrez GenBank records, summaries and FASTA", []string{"json", "csv", "fasta"}},
	inaturalist.Name: {inaturalist.Name, "iNaturalist licensed taxon photo", []string{"json", "csv"}},
	zoobank.Name:     {zoobank.Name, "ZooBank references and identifiers", []string{"json", "csv"}},
	obis.Name:        {obis.Name, "OBIS checklist and occurrences", []string{"json", "csv"}},
	paperdown.Name:   {paperdown.Name, "PDF links from DOI landing pages", []string{"json", "csv"}},
}

// DefaultModules returns the module defaults.
func DefaultModules() Modules {
	return Modules{
		GBIF:    gbif.DefaultConfig(),
		ZooBank: zoobank.DefaultConfig(),
		OBIS:    obis.DefaultConfig(),
	}
}

// Names returns the registered module names in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns Info for every module, sorted by name.
func Catalog() []Info {
	names := Names()
	out := make([]Info, len(names))
	for i, name := range names {
		out[i] = catalog[name]
	}
	return out
}

// Options returns the shared options section of a module so callers can
// override bulk or format for a single run.
func (c *Modules) Options(name string) (*base.Options, error) {
	switch normalize(name) {
	case gbif.Name:
		return &c.GBIF.Options, nil
	case bold.Name:
		return &c.BOLD.Options, nil
	case col.Name:
		return &c.COL.Options, nil
	case crossref.Name:
		return &c.Crossref.Options, nil
	case worms.Name:
		return &c.WoRMS.Options, nil
	case iucn.Name:
		return &c.IUCN.Options, nil
	case ncbi.Name:
		return &c.NCBI.Options, nil
	case inaturalist.Name:
		return &c.INaturalist.Options, nil
	case zoobank.Name:
		return &c.ZooBank.Options, nil
	case obis.Name:
		return &c.OBIS.Options, nil
	case paperdown.Name:
		return &c.PaperDown.Options, nil
	default:
		return nil, unknown(name)
	}
}

// Build constructs the named module from its configuration section.
func Build(name string, cfg Modules, deps Deps) (biodumpy.Input, error) {
	switch normalize(name) {
	case gbif.Name:
		return gbif.New(cfg.GBIF, deps.Deps)
	case bold.Name:
		return bold.New(cfg.BOLD, deps.Deps)
	case col.Name:
		return col.New(cfg.COL, deps.Deps)
	case crossref.Name:
		return crossref.New(cfg.Crossref, deps.Deps)
	case worms.Name:
		return worms.New(cfg.WoRMS, deps.Deps)
	case iucn.Name:
		return iucn.New(cfg.IUCN, deps.Deps)
	case ncbi.Name:
		return ncbi.New(cfg.NCBI, deps.Deps)
	case inaturalist.Name:
		return inaturalist.New(cfg.INaturalist, deps.Deps)
	case zoobank.Name:
		return zoobank.New(cfg.ZooBank, deps.Deps, deps.Scraper)
	case obis.Name:
		return obis.New(cfg.OBIS, deps.Deps)
	case paperdown.Name:
		return paperdown.New(cfg.PaperDown, deps.Deps, deps.Renderer)
	default:
		return nil, unknown(name)
	}
}

// BuildAll constructs modules in the given order, rejecting duplicates.
func BuildAll(names []string, cfg Modules, deps Deps) ([]biodumpy.Input, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no modules selected, choose from: %s", strings.Join(Names(), ", "))
	}
	seen := make(map[string]bool, len(names))
	inputs := make([]biodumpy.Input, 0, len(names))
	for _, name := range names {
		key := normalize(name)
		if seen[key] {
			return nil, fmt.Errorf("module %q selected twice", key)
		}
		seen[key] = true
		in, err := Build(key, cfg, deps)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func unknown(name string) error {
	return fmt.Errorf("unknown module %q, choose from: %s", name, strings.Join(Names(), ", "))
}

// WithBulk returns a copy of c with bulk forced on for the named modules.
func (c Modules) WithBulk(names []string) (Modules, error) {
	for _, name := range names {
		opts, err := c.Options(name)
		if err != nil {
			return Modules{}, err
		}
		opts.Bulk = true
	}
	return c, nil
}
