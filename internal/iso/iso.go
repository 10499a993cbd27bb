// Package iso extracts the subset of ISO19139 metadata the harvester's
// transformation rules depend on.
package iso

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ResponsibleOrganisation is one responsible party attached to the record.
type ResponsibleOrganisation struct {
	OrganisationName string
	IndividualName   string
	Email            string
}

// ReferenceDate is one dataset reference date with its type, one of
// creation, revision or publication.
type ReferenceDate struct {
	Type  string
	Value string
}

// BrowseGraphic is one preview image reference.
type BrowseGraphic struct {
	File        string
	Description string
}

// ResourceLocator is one online resource attached to the record.
type ResourceLocator struct {
	URL         string
	Name        string
	Description string
}

// Values is the dictionary-shaped view of a parsed ISO19139 record.
type Values struct {
	GUID                     string
	Title                    string
	Abstract                 string
	MetadataDate             string
	Tags                     []string
	ResourceType             []string
	ResponsibleOrganisations []ResponsibleOrganisation
	Limitations              []string
	ReferenceDates           []ReferenceDate
	BrowseGraphics           []BrowseGraphic
	ResourceLocators         []ResourceLocator
	TemporalExtentBegin      string
	TemporalExtentEnd        string
}

type xmlCharacterString struct {
	CharacterString string `xml:"CharacterString"`
}

type xmlCodeListValue struct {
	CodeListValue string `xml:"codeListValue,attr"`
	Value         string `xml:",chardata"`
}

type xmlDate struct {
	Date     string `xml:"Date"`
	DateTime string `xml:"DateTime"`
}

func (d xmlDate) value() string {
	if d.Date != "" {
		return d.Date
	}
	return d.DateTime
}

type xmlCIDate struct {
	Date     xmlDate          `xml:"CI_Date>date"`
	DateType xmlCodeListValue `xml:"CI_Date>dateType>CI_DateTypeCode"`
}

type xmlResponsibleParty struct {
	OrganisationName xmlCharacterString `xml:"CI_ResponsibleParty>organisationName"`
	IndividualName   xmlCharacterString `xml:"CI_ResponsibleParty>individualName"`
	Email            []string           `xml:"CI_ResponsibleParty>contactInfo>CI_Contact>address>CI_Address>electronicMailAddress>CharacterString"`
}

type xmlBrowseGraphic struct {
	FileName        xmlCharacterString `xml:"MD_BrowseGraphic>fileName"`
	FileDescription xmlCharacterString `xml:"MD_BrowseGraphic>fileDescription"`
}

type xmlKeywords struct {
	Keywords []xmlCharacterString `xml:"MD_Keywords>keyword"`
}

type xmlLegalConstraints struct {
	OtherConstraints []xmlCharacterString `xml:"MD_LegalConstraints>otherConstraints"`
}

type xmlTimePeriod struct {
	Begin string `xml:"TimePeriod>beginPosition"`
	End   string `xml:"TimePeriod>endPosition"`
}

type xmlIdentification struct {
	Title            xmlCharacterString    `xml:"citation>CI_Citation>title"`
	Dates            []xmlCIDate           `xml:"citation>CI_Citation>date"`
	Abstract         xmlCharacterString    `xml:"abstract"`
	PointOfContact   []xmlResponsibleParty `xml:"pointOfContact"`
	Keywords         []xmlKeywords         `xml:"descriptiveKeywords"`
	BrowseGraphics   []xmlBrowseGraphic    `xml:"graphicOverview"`
	LegalConstraints []xmlLegalConstraints `xml:"resourceConstraints"`
	TemporalExtents  []xmlTimePeriod       `xml:"extent>EX_Extent>temporalElement>EX_TemporalExtent>extent"`
	// service metadata nests its extent without the data identification's
	// EX_Extent wrapper
	ServiceExtents []xmlTimePeriod `xml:"containsOperations>SV_OperationMetadata>extent"`
}

type xmlOnlineResource struct {
	URL         string             `xml:"CI_OnlineResource>linkage>URL"`
	Name        xmlCharacterString `xml:"CI_OnlineResource>name"`
	Description xmlCharacterString `xml:"CI_OnlineResource>description"`
}

type xmlMetadata struct {
	XMLName         xml.Name
	FileIdentifier  xmlCharacterString `xml:"fileIdentifier"`
	HierarchyLevels []xmlCodeListValue `xml:"hierarchyLevel>MD_ScopeCode"`
	Contacts        []xmlResponsibleParty `xml:"contact"`
	DateStamp       xmlDate             `xml:"dateStamp"`
	DataIdent       []xmlIdentification `xml:"identificationInfo>MD_DataIdentification"`
	ServiceIdent    []xmlIdentification `xml:"identificationInfo>SV_ServiceIdentification"`
	OnlineResources []xmlOnlineResource `xml:"distributionInfo>MD_Distribution>transferOptions>MD_DigitalTransferOptions>onLine"`
}

// Parse reads an ISO19139 (gmd:MD_Metadata) document and returns the value
// subset the harvester works with.
func Parse(content []byte) (*Values, error) {
	var doc xmlMetadata
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing ISO document: %w", err)
	}
	if doc.XMLName.Local != "MD_Metadata" {
		return nil, fmt.Errorf("parsing ISO document: unexpected root element %q", doc.XMLName.Local)
	}

	values := &Values{
		GUID:         strings.TrimSpace(doc.FileIdentifier.CharacterString),
		MetadataDate: strings.TrimSpace(doc.DateStamp.value()),
	}

	for _, level := range doc.HierarchyLevels {
		resourceType := level.CodeListValue
		if resourceType == "" {
			resourceType = strings.TrimSpace(level.Value)
		}
		if resourceType != "" {
			values.ResourceType = append(values.ResourceType, resourceType)
		}
	}

	identifications := append(append([]xmlIdentification{}, doc.DataIdent...), doc.ServiceIdent...)
	for _, ident := range identifications {
		if values.Title == "" {
			values.Title = strings.TrimSpace(ident.Title.CharacterString)
		}
		if values.Abstract == "" {
			values.Abstract = strings.TrimSpace(ident.Abstract.CharacterString)
		}
		for _, date := range ident.Dates {
			value := strings.TrimSpace(date.Date.value())
			dateType := date.DateType.CodeListValue
			if dateType == "" {
				dateType = strings.TrimSpace(date.DateType.Value)
			}
			if value != "" && dateType != "" {
				values.ReferenceDates = append(values.ReferenceDates, ReferenceDate{
					Type:  dateType,
					Value: value,
				})
			}
		}
		for _, keywords := range ident.Keywords {
			for _, keyword := range keywords.Keywords {
				if tag := strings.TrimSpace(keyword.CharacterString); tag != "" {
					values.Tags = append(values.Tags, tag)
				}
			}
		}
		for _, graphic := range ident.BrowseGraphics {
			values.BrowseGraphics = append(values.BrowseGraphics, BrowseGraphic{
				File:        strings.TrimSpace(graphic.FileName.CharacterString),
				Description: strings.TrimSpace(graphic.FileDescription.CharacterString),
			})
		}
		for _, constraints := range ident.LegalConstraints {
			for _, constraint := range constraints.OtherConstraints {
				if text := strings.TrimSpace(constraint.CharacterString); text != "" {
					values.Limitations = append(values.Limitations, text)
				}
			}
		}
		for _, party := range ident.PointOfContact {
			values.ResponsibleOrganisations = append(values.ResponsibleOrganisations, toOrganisation(party))
		}
		extents := append(append([]xmlTimePeriod{}, ident.TemporalExtents...), ident.ServiceExtents...)
		for _, extent := range extents {
			if values.TemporalExtentBegin == "" {
				values.TemporalExtentBegin = strings.TrimSpace(extent.Begin)
			}
			if values.TemporalExtentEnd == "" {
				values.TemporalExtentEnd = strings.TrimSpace(extent.End)
			}
		}
	}

	// metadata-level contacts come after the identification's point of
	// contact, mirroring the original parser's precedence
	for _, party := range doc.Contacts {
		values.ResponsibleOrganisations = append(values.ResponsibleOrganisations, toOrganisation(party))
	}

	for _, online := range doc.OnlineResources {
		if url := strings.TrimSpace(online.URL); url != "" {
			values.ResourceLocators = append(values.ResourceLocators, ResourceLocator{
				URL:         url,
				Name:        strings.TrimSpace(online.Name.CharacterString),
				Description: strings.TrimSpace(online.Description.CharacterString),
			})
		}
	}

	return values, nil
}

func toOrganisation(party xmlResponsibleParty) ResponsibleOrganisation {
	organisation := ResponsibleOrganisation{
		OrganisationName: strings.TrimSpace(party.OrganisationName.CharacterString),
		IndividualName:   strings.TrimSpace(party.IndividualName.CharacterString),
	}
	for _, email := range party.Email {
		if trimmed := strings.TrimSpace(email); trimmed != "" {
			organisation.Email = trimmed
			break
		}
	}
	return organisation
}
