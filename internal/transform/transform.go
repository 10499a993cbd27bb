// Package transform maps parsed ISO metadata onto normalized catalog
// datasets, applying the FIS-Broker-specific gating and enrichment rules.
package transform

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/annotate"
	"github.com/berlinonline/fisbroker-harvester/internal/catalog"
	"github.com/berlinonline/fisbroker-harvester/internal/iso"
)

// Skip reason codes. Stable: they are persisted on processing entities and
// reported through the reimport API.
const (
	SkipNotOpenData      = 1
	SkipNotServiceRecord = 2
	SkipNoOrganisation   = 3
	SkipNoEmail          = 4
	SkipNoLicense        = 5
	SkipNoReleaseDate    = 6
)

// Skip is the deliberate-exclusion verdict of a transformation. It is a
// result variant, not an error: a skipped record is an expected outcome.
type Skip struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

func (s *Skip) String() string {
	return fmt.Sprintf("skip (code %d): %s", s.Code, s.Description)
}

// canonicalLicenseID is the internal id for
// Datenlizenz Deutschland - Namensnennung - Version 2.0. FIS-Broker has
// shipped several spellings over the years; all are rewritten to this one.
const canonicalLicenseID = "dl-de-by-2.0"

var legacyLicenseIDs = map[string]bool{
	"dl-de-by-2-0":  true,
	"dl-de-/by-2-0": true,
	"dl-by-de/2.0":  true,
}

// tags removed from every harvested dataset
var tagsToRemove = []string{"äöü", "opendata", "open data"}

// Transformer applies the mapping rules to one record at a time.
type Transformer struct {
	logger    *zap.Logger
	annotator *annotate.Annotator
}

type Option func(*Transformer)

func WithLogger(logger *zap.Logger) Option {
	return func(t *Transformer) {
		t.logger = logger
	}
}

func New(opts ...Option) *Transformer {
	t := &Transformer{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	t.annotator = annotate.New(annotate.WithLogger(t.logger))
	return t
}

// Skeleton builds the initial dataset from parsed ISO values, before the
// transformation rules run.
func Skeleton(values *iso.Values) catalog.Dataset {
	dataset := catalog.Dataset{
		Title: values.Title,
		Notes: values.Abstract,
		Tags:  append([]string{}, values.Tags...),
		State: catalog.StateActive,
	}
	for _, locator := range values.ResourceLocators {
		dataset.Resources = append(dataset.Resources, catalog.Resource{
			URL:         locator.URL,
			Name:        locator.Name,
			Description: locator.Description,
		})
	}
	return dataset
}

// Transform applies the full rule chain to values and the skeleton dataset.
// A nil Skip means the returned dataset is ready for upsert; a non-nil Skip
// means the record is deliberately excluded.
func (t *Transformer) Transform(values *iso.Values, dataset catalog.Dataset) (catalog.Dataset, *Skip) {
	log := t.logger

	if !containsString(values.Tags, "opendata") {
		log.Debug("no 'opendata' tag, skipping dataset", zap.String("guid", values.GUID))
		return dataset, &Skip{Code: SkipNotOpenData, Description: "not tagged as open data"}
	}

	if !containsString(values.ResourceType, "service") {
		log.Debug("not a service resource, skipping dataset", zap.String("guid", values.GUID))
		return dataset, &Skip{Code: SkipNotServiceRecord, Description: "not a service resource"}
	}

	extras := map[string]any{
		"guid": values.GUID,
	}

	dataset.Tags = FilterTags(tagsToRemove, values.Tags, dataset.Tags)

	// Veröffentlichende Stelle / author
	// Datenverantwortliche Stelle / maintainer
	// Datenverantwortliche Stelle Email / maintainer_email
	contact := extractContactInfo(values)
	if contact.author == "" {
		log.Info("could not determine responsible organisation name, skipping", zap.String("guid", values.GUID))
		return dataset, &Skip{Code: SkipNoOrganisation, Description: "no organisation name"}
	}
	dataset.Author = contact.author
	if contact.maintainerEmail == "" {
		log.Info("could not determine responsible organisation email, skipping", zap.String("guid", values.GUID))
		return dataset, &Skip{Code: SkipNoEmail, Description: "no responsible organisation email"}
	}
	dataset.MaintainerEmail = contact.maintainerEmail
	dataset.Maintainer = contact.maintainer

	licenseID, attribution := extractLicenseAndAttribution(values)
	if licenseID == "" {
		log.Info("could not determine license code, skipping", zap.String("guid", values.GUID))
		return dataset, &Skip{Code: SkipNoLicense, Description: "could not determine license code"}
	}
	dataset.LicenseID = licenseID
	if attribution != "" {
		extras["attribution_text"] = attribution
	}

	released, updated := extractReferenceDates(values)
	if released == "" {
		log.Info("could not determine release date, skipping", zap.String("guid", values.GUID))
		return dataset, &Skip{Code: SkipNoReleaseDate, Description: "no release date"}
	}
	extras["date_released"] = released
	extras["date_updated"] = updated

	dataset.Resources = annotate.UniqueByURL(t.annotator.AnnotateAll(dataset.Resources))

	dataset.URL = extractURL(dataset.Resources)

	if markup := previewMarkup(values, dataset.Title); markup != "" {
		dataset.Notes += "\n\n" + markup
	}

	// different service variants can share a title; the main resource's
	// format disambiguates
	dataset.Title = generateTitle(dataset.Title, dataset.Resources)
	dataset.Name = GenerateName(dataset.Title, values.GUID)

	extras["berlin_type"] = "datensatz"
	extras["berlin_source"] = "harvest-fisbroker"
	dataset.Groups = []string{"geo"}
	extras["geographical_granularity"] = "Berlin"
	extras["geographical_coverage"] = "Berlin"
	extras["temporal_granularity"] = "Keine"
	if values.TemporalExtentBegin != "" {
		extras["temporal_coverage_from"] = values.TemporalExtentBegin
	}
	if values.TemporalExtentEnd != "" {
		extras["temporal_coverage_to"] = values.TemporalExtentEnd
	}

	dataset.Extras = ExtrasAsList(extras)

	return dataset, nil
}

// FilterTags removes from tags all occurrences of the removal set entries
// that are present in present. Tags outside the removal set are never
// touched.
func FilterTags(remove []string, present []string, tags []string) []string {
	doomed := make(map[string]bool)
	for _, tag := range remove {
		if containsString(present, tag) {
			doomed[tag] = true
		}
	}

	filtered := make([]string, 0, len(tags))
	for _, tag := range tags {
		if !doomed[tag] {
			filtered = append(filtered, tag)
		}
	}
	return filtered
}

type contactInfo struct {
	author          string
	maintainer      string
	maintainerEmail string
}

func extractContactInfo(values *iso.Values) contactInfo {
	var contact contactInfo
	if len(values.ResponsibleOrganisations) == 0 {
		return contact
	}
	org := values.ResponsibleOrganisations[0]
	contact.author = org.OrganisationName
	contact.maintainerEmail = org.Email
	contact.maintainer = org.IndividualName
	return contact
}

// extractLicenseAndAttribution scans the access limitation entries for
// embedded JSON carrying license id and attribution source. First
// successfully parsed value wins per field; non-JSON entries are expected
// and skipped.
func extractLicenseAndAttribution(values *iso.Values) (string, string) {
	var licenseID, attribution string

	for _, limitation := range values.Limitations {
		var structured struct {
			ID     *string `json:"id"`
			Quelle *string `json:"quelle"`
		}
		if err := json.Unmarshal([]byte(limitation), &structured); err != nil {
			continue
		}
		if licenseID == "" && structured.ID != nil {
			licenseID = *structured.ID
		}
		if attribution == "" && structured.Quelle != nil {
			attribution = *structured.Quelle
		}
		if licenseID != "" && attribution != "" {
			break
		}
	}

	if legacyLicenseIDs[licenseID] {
		licenseID = canonicalLicenseID
	}

	return licenseID, attribution
}

// extractReferenceDates resolves date_released and date_updated from the
// dataset reference dates. Creation always wins over publication for
// date_released; revision maps to date_updated. Both returned values are
// either empty or populated together.
func extractReferenceDates(values *iso.Values) (released string, updated string) {
	for _, date := range values.ReferenceDates {
		switch date.Type {
		case "revision":
			updated = date.Value
		case "creation":
			// creation always wins over publication
			released = date.Value
		case "publication":
			if released == "" {
				released = date.Value
			}
		}
	}

	if released == "" && updated != "" {
		released = updated
	}
	if released != "" && updated == "" {
		updated = released
	}

	return released, updated
}

// extractURL picks the dataset's representative URL: the web interface if
// there is one, otherwise the API endpoint.
func extractURL(resources []catalog.Resource) string {
	var url string
	for _, resource := range resources {
		switch resource.InternalFunction {
		case annotate.FunctionWebInterface:
			return resource.URL
		case "api", annotate.FunctionAPIEndpoint:
			url = resource.URL
		}
	}
	return url
}

// previewMarkup builds a Markdown image reference when the record carries a
// preview graphic.
func previewMarkup(values *iso.Values, title string) string {
	for _, graphic := range values.BrowseGraphics {
		if graphic.Description != "Vorschaugrafik" || graphic.File == "" {
			continue
		}
		return fmt.Sprintf("![Vorschaugrafik zu Datensatz '%s'](%s)", title, graphic.File)
	}
	return ""
}

func generateTitle(title string, resources []catalog.Resource) string {
	for _, resource := range resources {
		if resource.Main && resource.Format != "" {
			return fmt.Sprintf("%s - [%s]", title, resource.Format)
		}
	}
	return title
}

// ExtrasAsList flattens an extras map to the catalog's key/value list.
// Non-string values are serialized to JSON strings. Keys are emitted in
// sorted order to keep output deterministic.
func ExtrasAsList(extras map[string]any) []catalog.Extra {
	keys := make([]string, 0, len(extras))
	for key := range extras {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	list := make([]catalog.Extra, 0, len(keys))
	for _, key := range keys {
		value := extras[key]
		if text, ok := value.(string); ok {
			list = append(list, catalog.Extra{Key: key, Value: text})
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			continue
		}
		list = append(list, catalog.Extra{Key: key, Value: string(encoded)})
	}
	return list
}

func containsString(haystack []string, needle string) bool {
	for _, candidate := range haystack {
		if candidate == needle {
			return true
		}
	}
	return false
}
