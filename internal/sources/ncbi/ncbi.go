// Package ncbi downloads nucleotide records through the NCBI E-utilities.
package ncbi

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/fasta"
	"github.com/JakeFAU/biodumpy/internal/httpclient"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "ncbi"

const (
	defaultBaseURL   = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	defaultQueryType = "[Organism]"
	fetchAttempts    = 3
	tool             = "biodumpy"
)

// Return types accepted by efetch.
const (
	RetTypeGenBank = "gb"
	RetTypeFASTA   = "fasta"
)

// Config holds NCBI options.
type Config struct {
	base.Options `mapstructure:",squash"`
	Mail         string `mapstructure:"mail"`
	APIKey       string `mapstructure:"api_key"`
	DB           string `mapstructure:"db"`
	Step         int    `mapstructure:"step"`
	// MaxBP drops records longer than this many base pairs; zero keeps all.
	MaxBP     int    `mapstructure:"max_bp"`
	Summary   bool   `mapstructure:"summary"`
	ByID      bool   `mapstructure:"by_id"`
	QueryType string `mapstructure:"query_type"`
	RetType   string `mapstructure:"rettype"`
}

// Input downloads NCBI records.
type Input struct {
	base.Module
	cfg        Config
	retryPause time.Duration
}

// New validates cfg and builds the input.
func New(cfg Config, deps base.Deps) (*Input, error) {
	m, err := base.New(Name, cfg.Options, defaultBaseURL, deps, biodumpy.FormatJSON, biodumpy.FormatCSV, biodumpy.FormatFASTA)
	if err != nil {
		return nil, err
	}
	if cfg.DB == "" {
		cfg.DB = "nucleotide"
	}
	if cfg.Step <= 0 {
		cfg.Step = 100
	}
	if cfg.RetType == "" {
		cfg.RetType = RetTypeGenBank
	}
	if cfg.MaxBP < 0 {
		return nil, errors.New("ncbi: max_bp must be >= 0")
	}
	format := m.Settings().Format
	switch {
	case cfg.RetType != RetTypeGenBank && cfg.RetType != RetTypeFASTA:
		return nil, fmt.Errorf("ncbi: invalid rettype %q, expected gb or fasta", cfg.RetType)
	case format == biodumpy.FormatFASTA && cfg.RetType != RetTypeFASTA:
		return nil, errors.New("ncbi: output_format fasta requires rettype fasta")
	case cfg.ByID && cfg.QueryType != "":
		return nil, errors.New("ncbi: by_id is set, so query_type must be empty")
	case cfg.Summary && format == biodumpy.FormatFASTA:
		return nil, errors.New("ncbi: summary is set, so output_format cannot be fasta")
	}
	if !cfg.ByID && cfg.QueryType == "" {
		cfg.QueryType = defaultQueryType
	}
	return &Input{Module: m, cfg: cfg, retryPause: 2 * time.Second}, nil
}

// Download resolves the query to IDs and fetches records or summaries.
func (n *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	var (
		ids  []string
		docs []map[string]any
		err  error
	)
	if n.cfg.ByID {
		ids = splitAccessions(el.Query)
		if n.cfg.Summary {
			if docs, err = n.summaries(ctx, ids); err != nil {
				return nil, err
			}
		}
	} else {
		ids, docs, err = n.searchIDs(ctx, n.term(el.Query))
		if err != nil {
			return nil, err
		}
	}
	if len(ids) == 0 {
		return biodumpy.Payload{}, nil
	}
	if n.cfg.Summary {
		payload := make(biodumpy.Payload, 0, len(docs))
		for _, d := range docs {
			d["query"] = el.Query
			payload = append(payload, d)
		}
		return payload, nil
	}

	payload := biodumpy.Payload{}
	for _, batch := range biodumpy.SplitBatches(ids, n.cfg.Step) {
		records, err := n.fetch(ctx, batch)
		if err != nil {
			return nil, err
		}
		payload = append(payload, records...)
	}
	return payload, nil
}

func (n *Input) term(query string) string {
	if n.cfg.QueryType == "" {
		return query
	}
	return query + n.cfg.QueryType
}

func (n *Input) params(extra url.Values) url.Values {
	p := url.Values{"db": {n.cfg.DB}, "tool": {tool}}
	if n.cfg.Mail != "" {
		p.Set("email", n.cfg.Mail)
	}
	if n.cfg.APIKey != "" {
		p.Set("api_key", n.cfg.APIKey)
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
		Error  string   `json:"ERROR"`
	} `json:"esearchresult"`
}

func (n *Input) esearch(ctx context.Context, term string, start, max int) (esearchResponse, error) {
	var resp esearchResponse
	err := n.Client.GetJSON(ctx, n.URL("esearch.fcgi"), n.params(url.Values{
		"term":     {term},
		"retmode":  {"json"},
		"retstart": {strconv.Itoa(start)},
		"retmax":   {strconv.Itoa(max)},
	}), &resp)
	if err != nil {
		return resp, fmt.Errorf("esearch: %w", err)
	}
	if resp.Result.Error != "" {
		return resp, fmt.Errorf("esearch: %s", resp.Result.Error)
	}
	return resp, nil
}

// searchIDs pages through esearch and keeps IDs whose sequence length
// passes max_bp, in search order without duplicates. Paging stops at the
// first failed batch; IDs gathered so far are kept.
func (n *Input) searchIDs(ctx context.Context, term string) ([]string, []map[string]any, error) {
	head, err := n.esearch(ctx, term, 0, 0)
	if err != nil {
		return nil, nil, err
	}
	total, err := strconv.Atoi(head.Result.Count)
	if err != nil {
		return nil, nil, fmt.Errorf("esearch count %q: %w", head.Result.Count, err)
	}

	var (
		ids  []string
		docs []map[string]any
		seen = make(map[string]bool)
	)
	for start := 0; start < total; start += n.cfg.Step {
		page, err := n.esearch(ctx, term, start, n.cfg.Step)
		if err == nil && len(page.Result.IDList) == 0 {
			break
		}
		var batch []map[string]any
		if err == nil {
			batch, err = n.summaries(ctx, page.Result.IDList)
		}
		if err != nil {
			if len(ids) == 0 {
				return nil, nil, err
			}
			n.Logger.Warn("stopped retrieving ids", zap.String("term", term), zap.Int("start", start), zap.Error(err))
			break
		}
		for _, doc := range batch {
			id := base.String(doc, "Id")
			if id == "" || seen[id] {
				continue
			}
			if n.cfg.MaxBP > 0 && base.Int(doc, "Length") > n.cfg.MaxBP {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
			docs = append(docs, doc)
		}
	}
	n.Logger.Debug("ids retrieved", zap.String("term", term), zap.Int("count", total), zap.Int("kept", len(ids)))
	return ids, docs, nil
}

// summaries runs esummary and returns one document per ID in request order.
func (n *Input) summaries(ctx context.Context, ids []string) ([]map[string]any, error) {
	var docs []map[string]any
	for _, batch := range biodumpy.SplitBatches(ids, n.cfg.Step) {
		var resp struct {
			Result map[string]json.RawMessage `json:"result"`
		}
		err := n.Client.GetJSON(ctx, n.URL("esummary.fcgi"), n.params(url.Values{
			"id":      {strings.Join(batch, ",")},
			"retmode": {"json"},
		}), &resp)
		if err != nil {
			return nil, fmt.Errorf("esummary: %w", err)
		}
		var uids []string
		if raw, ok := resp.Result["uids"]; ok {
			if err := json.Unmarshal(raw, &uids); err != nil {
				return nil, fmt.Errorf("esummary uids: %w", err)
			}
		}
		for _, uid := range uids {
			var doc map[string]any
			if err := httpclient.DecodeJSON(resp.Result[uid], &doc); err != nil {
				return nil, fmt.Errorf("esummary %s: %w", uid, err)
			}
			docs = append(docs, summaryDoc(uid, doc))
		}
	}
	return docs, nil
}

// summaryDoc renames the esummary fields people filter on and keeps the rest.
func summaryDoc(uid string, doc map[string]any) map[string]any {
	out := map[string]any{
		"Id":               uid,
		"Caption":          doc["caption"],
		"Title":            doc["title"],
		"Length":           doc["slen"],
		"AccessionVersion": doc["accessionversion"],
		"TaxId":            doc["taxid"],
		"CreateDate":       doc["createdate"],
		"UpdateDate":       doc["updatedate"],
		"Extra":            doc["extra"],
	}
	return out
}

// fetch downloads one batch. A truncated body is retried after a pause.
func (n *Input) fetch(ctx context.Context, ids []string) (biodumpy.Payload, error) {
	retmode := "xml"
	if n.cfg.RetType == RetTypeFASTA {
		retmode = "text"
	}
	params := n.params(url.Values{
		"id":      {strings.Join(ids, ",")},
		"rettype": {n.cfg.RetType},
		"retmode": {retmode},
	})
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		body, err := n.Client.Get(ctx, n.URL("efetch.fcgi"), params)
		if err == nil {
			var payload biodumpy.Payload
			payload, err = n.parse(body)
			if err == nil {
				return payload, nil
			}
		}
		if !isTruncated(err) {
			return nil, fmt.Errorf("efetch: %w", err)
		}
		lastErr = err
		n.Logger.Warn("incomplete efetch response, retrying",
			zap.Int("attempt", attempt), zap.Int("ids", len(ids)), zap.Error(err))
		if attempt < fetchAttempts {
			if err := sleep(ctx, n.retryPause); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("efetch failed after %d attempts: %w", fetchAttempts, lastErr)
}

func (n *Input) parse(body []byte) (biodumpy.Payload, error) {
	if n.cfg.RetType == RetTypeFASTA {
		records, err := fasta.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if len(records) == 0 && len(bytes.TrimSpace(body)) > 0 {
			return nil, fmt.Errorf("fasta body has no records: %w", io.ErrUnexpectedEOF)
		}
		payload := make(biodumpy.Payload, len(records))
		for i, r := range records {
			payload[i] = r
		}
		return payload, nil
	}
	records, err := parseGenBank(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return base.Items(records), nil
}

// isTruncated reports whether err comes from a body that ended early,
// either on the wire or inside the XML document.
func isTruncated(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var syntaxErr *xml.SyntaxError
	return errors.As(err, &syntaxErr) && strings.Contains(syntaxErr.Msg, "unexpected EOF")
}

func splitAccessions(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
