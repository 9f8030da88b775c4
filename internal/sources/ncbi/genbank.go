package ncbi

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// gbSet is the efetch rettype=gb retmode=xml document.
type gbSet struct {
	XMLName xml.Name `xml:"GBSet"`
	Seqs    []gbSeq  `xml:"GBSeq"`
}

type gbSeq struct {
	Locus            string        `xml:"GBSeq_locus"`
	Length           int           `xml:"GBSeq_length"`
	Strandedness     string        `xml:"GBSeq_strandedness"`
	MolType          string        `xml:"GBSeq_moltype"`
	Topology         string        `xml:"GBSeq_topology"`
	Division         string        `xml:"GBSeq_division"`
	UpdateDate       string        `xml:"GBSeq_update-date"`
	CreateDate       string        `xml:"GBSeq_create-date"`
	Definition       string        `xml:"GBSeq_definition"`
	PrimaryAccession string        `xml:"GBSeq_primary-accession"`
	AccessionVersion string        `xml:"GBSeq_accession-version"`
	OtherSeqIDs      []string      `xml:"GBSeq_other-seqids>GBSeqid"`
	Keywords         []string      `xml:"GBSeq_keywords>GBKeyword"`
	Source           string        `xml:"GBSeq_source"`
	Organism         string        `xml:"GBSeq_organism"`
	Taxonomy         string        `xml:"GBSeq_taxonomy"`
	References       []gbReference `xml:"GBSeq_references>GBReference"`
	Features         []gbFeature   `xml:"GBSeq_feature-table>GBFeature"`
	Sequence         string        `xml:"GBSeq_sequence"`
}

type gbReference struct {
	Reference string   `xml:"GBReference_reference"`
	Position  string   `xml:"GBReference_position"`
	Authors   []string `xml:"GBReference_authors>GBAuthor"`
	Title     string   `xml:"GBReference_title"`
	Journal   string   `xml:"GBReference_journal"`
	PubMed    string   `xml:"GBReference_pubmed"`
}

type gbFeature struct {
	Key        string        `xml:"GBFeature_key"`
	Location   string        `xml:"GBFeature_location"`
	Qualifiers []gbQualifier `xml:"GBFeature_quals>GBQualifier"`
}

type gbQualifier struct {
	Name  string `xml:"GBQualifier_name"`
	Value string `xml:"GBQualifier_value"`
}

// parseGenBank decodes a GBSet document into JSON-ready records.
func parseGenBank(r io.Reader) ([]map[string]any, error) {
	var set gbSet
	if err := xml.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode genbank xml: %w", err)
	}
	out := make([]map[string]any, 0, len(set.Seqs))
	for _, s := range set.Seqs {
		out = append(out, s.record())
	}
	return out, nil
}

func (s gbSeq) record() map[string]any {
	refs := make([]map[string]any, 0, len(s.References))
	for _, r := range s.References {
		refs = append(refs, map[string]any{
			"reference": r.Reference,
			"location":  r.Position,
			"authors":   strings.Join(r.Authors, ", "),
			"title":     r.Title,
			"journal":   r.Journal,
			"pubmed_id": r.PubMed,
		})
	}
	features := make([]map[string]any, 0, len(s.Features))
	for _, f := range s.Features {
		quals := make(map[string]any, len(f.Qualifiers))
		for _, q := range f.Qualifiers {
			// Repeated qualifiers (db_xref, note) collect into lists.
			switch existing := quals[q.Name].(type) {
			case nil:
				quals[q.Name] = []string{q.Value}
			case []string:
				quals[q.Name] = append(existing, q.Value)
			}
		}
		features = append(features, map[string]any{
			"type":       f.Key,
			"location":   f.Location,
			"qualifiers": quals,
		})
	}
	id := s.AccessionVersion
	if id == "" {
		id = s.PrimaryAccession
	}
	var taxonomy []string
	for _, t := range strings.Split(s.Taxonomy, ";") {
		if t = strings.TrimSpace(t); t != "" {
			taxonomy = append(taxonomy, t)
		}
	}
	return map[string]any{
		"id":          id,
		"name":        s.Locus,
		"description": s.Definition,
		"seq":         strings.ToUpper(s.Sequence),
		"length":      s.Length,
		"annotations": map[string]any{
			"molecule_type":      s.MolType,
			"topology":           s.Topology,
			"data_file_division": s.Division,
			"date":               s.UpdateDate,
			"create_date":        s.CreateDate,
			"accessions":         []string{s.PrimaryAccession},
			"other_seqids":       s.OtherSeqIDs,
			"keywords":           s.Keywords,
			"source":             s.Source,
			"organism":           s.Organism,
			"taxonomy":           taxonomy,
			"references":         refs,
		},
		"features": features,
	}
}
