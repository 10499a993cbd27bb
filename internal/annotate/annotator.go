// Package annotate classifies FIS-Broker resource URLs into semantic roles
// and assigns display metadata and ordering weights.
package annotate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/catalog"
)

const (
	FormatWFS  = "WFS"
	FormatWMS  = "WMS"
	FormatAtom = "Atom"
	FormatHTML = "HTML"

	FunctionAPIEndpoint    = "api_endpoint"
	FunctionAPIDescription = "api_description"
	FunctionWebInterface   = "web_interface"
	FunctionDocumentation  = "documentation"

	// defaultWeight sorts resources without an explicit weight last.
	defaultWeight = 200
)

// Weights, ascending = more prominent.
const (
	weightAPIDescription = 10
	weightAPIEndpoint    = 15
	weightWebInterface   = 20
	weightDocumentation  = 30
)

var validServiceTypes = []string{"wfs", "wms"}

// UnsupportedServiceTypeError is returned when a capabilities query or
// service version is requested for anything other than WFS or WMS.
type UnsupportedServiceTypeError struct {
	Service string
}

func (e *UnsupportedServiceTypeError) Error() string {
	return fmt.Sprintf("service must be one of [ %s ], is %q",
		strings.Join(validServiceTypes, ", "), e.Service)
}

// ServiceVersion returns the version to use in a GetCapabilities query for a
// WFS or WMS service.
func ServiceVersion(service string) (string, error) {
	switch service {
	case "wms":
		return "1.3.0", nil
	case "wfs":
		return "2.0.0", nil
	}
	return "", &UnsupportedServiceTypeError{Service: service}
}

// GetCapabilitiesQuery builds the query string for a GetCapabilities request
// to a WFS or WMS service.
func GetCapabilitiesQuery(service string) (string, error) {
	version, err := ServiceVersion(service)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("service=%s&request=GetCapabilities&version=%s", service, version), nil
}

// Annotator assigns meaningful metadata to FIS-Broker resources based on
// their URLs.
type Annotator struct {
	logger *zap.Logger
}

type Option func(*Annotator)

func WithLogger(logger *zap.Logger) Option {
	return func(a *Annotator) {
		a.logger = logger
	}
}

func New(opts ...Option) *Annotator {
	a := &Annotator{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnnotateService classifies a WFS/WMS resource. A URL without a query
// string is the bare service endpoint; a URL with request=GetCapabilities
// (any case) is the machine-readable endpoint description.
func (a *Annotator) AnnotateService(resource catalog.Resource) (catalog.Resource, error) {
	var serviceType string
	switch {
	case strings.Contains(resource.URL, "/wfs/"):
		serviceType = FormatWFS
	case strings.Contains(resource.URL, "/wms/"):
		serviceType = FormatWMS
	default:
		return resource, &UnsupportedServiceTypeError{Service: resource.URL}
	}

	resource.Name = fmt.Sprintf("Unspezifizierter %s-Service", serviceType)
	resource.Description = fmt.Sprintf("Unspezifizierter %s-Service", serviceType)

	parsed, err := url.Parse(resource.URL)
	if err != nil {
		return resource, err
	}
	query := parsed.Query()
	if len(query) == 0 {
		resource.Name = fmt.Sprintf("API-Endpunkt des %s-Service", serviceType)
		resource.Description = fmt.Sprintf(
			"API-Endpunkt des %s-Service. Weitere Informationen unter https://www.ogc.org/standards/%s",
			serviceType, strings.ToLower(serviceType))
		resource.InternalFunction = FunctionAPIEndpoint
		resource.Weight = weightAPIEndpoint
	} else {
		method := query.Get("request")
		if method == "" {
			method = query.Get("REQUEST")
		}
		if strings.EqualFold(method, "getcapabilities") {
			resource.Name = fmt.Sprintf("Endpunkt-Beschreibung des %s-Service", serviceType)
			resource.Description = fmt.Sprintf(
				"Maschinenlesbare Endpunkt-Beschreibung des %s-Service. Weitere Informationen unter https://www.ogc.org/standards/%s",
				serviceType, strings.ToLower(serviceType))
			resource.Main = true
			resource.InternalFunction = FunctionAPIDescription
			resource.Weight = weightAPIDescription
		}
	}

	resource.Format = serviceType
	return resource, nil
}

// isServicePage decides whether url is the service's entry page in
// FIS-Broker.
func isServicePage(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if parsed.Host != "fbinter.stadt-berlin.de" {
		return false
	}
	path := strings.Trim(parsed.Path, "/")
	if path != "fb" && path != "fb/index.jsp" {
		return false
	}
	return parsed.Query().Has("loginkey")
}

// Annotate classifies a single resource. The second return value is false
// when the resource carries no recognizable role and should be discarded.
func (a *Annotator) Annotate(resource catalog.Resource) (catalog.Resource, bool) {
	resource.Main = false
	switch {
	case strings.Contains(resource.URL, "/feed/"):
		resource.Name = "Atom Feed"
		resource.Description = "Atom Feed"
		resource.Format = FormatAtom
		resource.Main = true
		resource.InternalFunction = FunctionAPIEndpoint
		resource.Weight = weightAPIEndpoint
	case strings.Contains(resource.URL, "/wfs/") || strings.Contains(resource.URL, "/wms/"):
		annotated, err := a.AnnotateService(resource)
		if err != nil {
			a.logger.Warn("could not annotate service resource",
				zap.String("url", resource.URL), zap.Error(err))
			return resource, false
		}
		resource = annotated
	case isServicePage(resource.URL):
		resource.Name = "Serviceseite im FIS-Broker"
		resource.Description = "Serviceseite im FIS-Broker"
		resource.Format = FormatHTML
		resource.InternalFunction = FunctionWebInterface
		resource.Weight = weightWebInterface
	case resource.Description != "":
		resource.Name = resource.Description
		resource.InternalFunction = FunctionDocumentation
		resource.Weight = weightDocumentation
	case strings.HasSuffix(resource.URL, ".html"):
		// no description, fall back to the filename
		segments := strings.Split(resource.URL, "/")
		resource.Name = segments[len(segments)-1]
		resource.InternalFunction = FunctionDocumentation
		resource.Weight = weightDocumentation
	default:
		return resource, false
	}

	return resource, true
}

// AnnotateAll classifies all resources, drops unclassifiable ones and
// ensures a GetCapabilities resource exists whenever there is a WFS/WMS
// endpoint without one. The result is sorted ascending by weight.
func (a *Annotator) AnnotateAll(resources []catalog.Resource) []catalog.Resource {
	annotated := make([]catalog.Resource, 0, len(resources))
	for _, resource := range resources {
		if converted, ok := a.Annotate(resource); ok {
			annotated = append(annotated, converted)
		}
	}

	byFunction := make(map[string]catalog.Resource)
	for _, resource := range annotated {
		byFunction[resource.InternalFunction] = resource
	}

	endpoint, hasEndpoint := byFunction[FunctionAPIEndpoint]
	_, hasDescription := byFunction[FunctionAPIDescription]
	if hasEndpoint && !hasDescription && endpoint.Format != FormatAtom {
		// Atom feeds have no capabilities document; everything else gets
		// a synthesized one.
		query, err := GetCapabilitiesQuery(strings.ToLower(endpoint.Format))
		if err != nil {
			a.logger.Warn("cannot synthesize capabilities resource",
				zap.String("format", endpoint.Format), zap.Error(err))
		} else {
			synthesized := catalog.Resource{
				URL: NormalizeURL(fmt.Sprintf("%s?%s", endpoint.URL, query)),
			}
			converted, err := a.AnnotateService(synthesized)
			if err != nil {
				a.logger.Warn("cannot annotate synthesized capabilities resource",
					zap.String("url", synthesized.URL), zap.Error(err))
			} else {
				annotated = append(annotated, converted)
			}
		}
	}

	sortByWeight(annotated)
	return annotated
}

func sortByWeight(resources []catalog.Resource) {
	sort.SliceStable(resources, func(i, j int) bool {
		return weightOf(resources[i]) < weightOf(resources[j])
	})
}

func weightOf(resource catalog.Resource) int {
	if resource.Weight == 0 {
		return defaultWeight
	}
	return resource.Weight
}
