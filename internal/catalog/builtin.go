package catalog

import (
	"context"

	"github.com/spherical/techread/internal/domain"
)

// builtinEntries lists the ask types known at release time.
var builtinEntries = []domain.CatalogEntry{
	{Name: "PageThumbnail", Attributes: map[string]any{}},
	{Name: "SheetThumbnail", Attributes: map[string]any{}},
	{Name: "PlaneThumbnail", Attributes: map[string]any{}},
	{Name: "SectionalThumbnail", Attributes: map[string]any{}},
	{Name: "TitleBlock", Attributes: map[string]any{}},
	{Name: "VariantMeasures", Attributes: map[string]any{"confidence_min": 0.0}},
	{Name: "VariantGDTs", Attributes: map[string]any{}},
	{Name: "VariantRoughnesses", Attributes: map[string]any{}},
	{Name: "VariantMaterial", Attributes: map[string]any{}},
	{Name: "VariantCAD", Attributes: map[string]any{"is_training": false}},
}

// BuiltinProvider serves a static catalog and never touches the network.
type BuiltinProvider struct{}

// FetchCatalog returns a copy of the builtin entries.
func (BuiltinProvider) FetchCatalog(context.Context) ([]domain.CatalogEntry, error) {
	out := make([]domain.CatalogEntry, len(builtinEntries))
	for i, e := range builtinEntries {
		out[i] = domain.CatalogEntry{Name: e.Name, Attributes: domain.CloneAttributes(e.Attributes)}
	}
	return out, nil
}

var _ domain.CatalogProvider = BuiltinProvider{}
