// Package inaturalist picks a licensed representative photo for a taxon
// from iNaturalist.
package inaturalist

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
	"github.com/JakeFAU/biodumpy/internal/httpclient"
	"github.com/JakeFAU/biodumpy/internal/sources/base"
)

// Name is the registry name.
const Name = "inaturalist"

const defaultBaseURL = "https://api.inaturalist.org/v1"

// Licenses are the photo licenses considered reusable.
var Licenses = map[string]bool{
	"cc0": true, "cc-by": true, "cc-by-nc": true, "cc-by-nc-nd": true,
	"cc-by-sa": true, "cc-by-nd": true, "cc-by-nc-sa": true,
}

// Config holds iNaturalist options.
type Config struct {
	base.Options `mapstructure:",squash"`
}

// Input downloads photo details.
type Input struct {
	base.Module
}

// New validates cfg and builds the input.
func New(cfg Config, deps base.Deps) (*Input, error) {
	m, err := base.New(Name, cfg.Options, defaultBaseURL, deps)
	if err != nil {
		return nil, err
	}
	return &Input{Module: m}, nil
}

type taxaResponse struct {
	Results []map[string]any `json:"results"`
}

// Download returns a single row; fields are null when no licensed photo
// exists or the API refuses the request.
func (n *Input) Download(ctx context.Context, el biodumpy.Element) (biodumpy.Payload, error) {
	row, err := n.photo(ctx, el.Query)
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		n.Logger.Warn("photo lookup refused", zap.String("query", el.Query), zap.Error(err))
		return biodumpy.Payload{emptyRow(el.Query)}, nil
	}
	if err != nil {
		return nil, err
	}
	return biodumpy.Payload{row}, nil
}

func (n *Input) photo(ctx context.Context, query string) (map[string]any, error) {
	var resp taxaResponse
	err := n.Client.GetJSON(ctx, n.URL("taxa"), url.Values{
		"q":        {query},
		"order":    {"desc"},
		"order_by": {"observations_count"},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("taxa search: %w", err)
	}
	var match map[string]any
	for _, r := range resp.Results {
		if base.String(r, "name") == query {
			match = r
			break
		}
	}
	if match == nil {
		return emptyRow(query), nil
	}
	if photo := base.Object(match, "default_photo"); Licenses[base.String(photo, "license_code")] {
		return photoRow(query, photo), nil
	}

	var detail taxaResponse
	if err := n.Client.GetJSON(ctx, n.URL("taxa", base.String(match, "id")), nil, &detail); err != nil {
		return nil, fmt.Errorf("taxon detail: %w", err)
	}
	if len(detail.Results) == 0 {
		return emptyRow(query), nil
	}
	for _, tp := range base.Objects(detail.Results[0], "taxon_photos") {
		photo := base.Object(tp, "photo")
		if Licenses[base.String(photo, "license_code")] {
			return photoRow(query, photo), nil
		}
	}
	return emptyRow(query), nil
}

func emptyRow(query string) map[string]any {
	return map[string]any{"taxon": query, "image_id": nil, "license_code": nil, "attribution": nil}
}

func photoRow(query string, photo map[string]any) map[string]any {
	return map[string]any{
		"taxon":        query,
		"image_id":     ImageID(base.String(photo, "url")),
		"license_code": photo["license_code"],
		"attribution":  photo["attribution"],
	}
}

// ImageID turns a photo URL into "<photo id>/<medium file>", the form the
// iNaturalist open-data bucket is addressed by.
func ImageID(photoURL string) string {
	parts := strings.Split(photoURL, "/")
	if len(parts) < 2 {
		return strings.Replace(photoURL, "square", "medium", 1)
	}
	id := parts[len(parts)-2] + "/" + parts[len(parts)-1]
	return strings.Replace(id, "square", "medium", 1)
}
