// Package csw implements the subset of the OGC Catalogue Service for the
// Web protocol the harvester needs: probing the endpoint, paging through
// record identifiers and fetching single ISO19139 records.
package csw

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	gmdNamespace = "http://www.isotc211.org/2005/gmd"

	defaultTimeout  = 20 * time.Second
	defaultPageSize = 10
)

// Record is one raw metadata record fetched from the service.
type Record struct {
	GUID string
	XML  string
}

// Constraints narrow a GetRecords request.
type Constraints struct {
	// ModifiedSince keeps only records modified at or after this
	// timestamp (formatted as ISO8601). Empty means unconstrained.
	ModifiedSince string
	// CQL is an uninterpreted pass-through filter.
	CQL string
}

func (c Constraints) Empty() bool {
	return c.ModifiedSince == "" && c.CQL == ""
}

// ConnectionError wraps any failure to reach the CSW endpoint.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to CSW endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Client talks to one CSW endpoint.
type Client struct {
	endpoint string
	timeout  time.Duration
	pageSize int
	http     *http.Client
	logger   *zap.Logger
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithPageSize(pageSize int) Option {
	return func(c *Client) {
		c.pageSize = pageSize
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		timeout:  defaultTimeout,
		pageSize: defaultPageSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Connect probes the endpoint with a GetCapabilities request.
func (c *Client) Connect(ctx context.Context) error {
	url := fmt.Sprintf("%s?service=CSW&request=GetCapabilities&version=2.0.2", c.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &ConnectionError{Endpoint: c.endpoint, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnectionError{Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ConnectionError{
			Endpoint: c.endpoint,
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return nil
}

type searchResults struct {
	Matched    int         `xml:"numberOfRecordsMatched,attr"`
	Returned   int         `xml:"numberOfRecordsReturned,attr"`
	NextRecord int         `xml:"nextRecord,attr"`
	Records    []xmlrecord `xml:"MD_Metadata"`
}

type xmlrecordID struct {
	CharacterString string `xml:"CharacterString"`
}

type xmlrecord struct {
	FileIdentifier xmlrecordID `xml:"fileIdentifier"`
}

type getRecordsResponse struct {
	SearchResults searchResults `xml:"SearchResults"`
	Exception     *owsException `xml:"Exception"`
}

type owsException struct {
	Code string `xml:"exceptionCode,attr"`
	Text string `xml:"ExceptionText"`
}

// ListIdentifiers pages through GetRecords responses and returns all record
// identifiers matching the constraints, sorted by the service.
func (c *Client) ListIdentifiers(ctx context.Context, constraints Constraints) ([]string, error) {
	var identifiers []string
	start := 1

	for {
		body := c.getRecordsRequest(start, constraints)
		payload, err := c.post(ctx, body)
		if err != nil {
			return nil, err
		}

		var response getRecordsResponse
		if err := xml.Unmarshal(payload, &response); err != nil {
			return nil, fmt.Errorf("parsing GetRecords response: %w", err)
		}
		if response.Exception != nil {
			return nil, fmt.Errorf("CSW exception %s: %s",
				response.Exception.Code, response.Exception.Text)
		}

		for _, record := range response.SearchResults.Records {
			identifier := strings.TrimSpace(record.FileIdentifier.CharacterString)
			if identifier == "" {
				c.logger.Warn("CSW returned empty identifier, skipping")
				continue
			}
			c.logger.Debug("got identifier from the CSW", zap.String("identifier", identifier))
			identifiers = append(identifiers, identifier)
		}

		if response.SearchResults.Returned == 0 {
			break
		}
		next := response.SearchResults.NextRecord
		if next <= 0 || next > response.SearchResults.Matched {
			break
		}
		start = next
	}

	return identifiers, nil
}

func (c *Client) getRecordsRequest(start int, constraints Constraints) string {
	var filter string
	switch {
	case constraints.ModifiedSince != "":
		filter = fmt.Sprintf(`<csw:Constraint version="1.1.0"><ogc:Filter>`+
			`<ogc:PropertyIsGreaterThanOrEqualTo><ogc:PropertyName>modified</ogc:PropertyName>`+
			`<ogc:Literal>%s</ogc:Literal></ogc:PropertyIsGreaterThanOrEqualTo>`+
			`</ogc:Filter></csw:Constraint>`, xmlEscape(constraints.ModifiedSince))
	case constraints.CQL != "":
		filter = fmt.Sprintf(`<csw:Constraint version="1.1.0"><csw:CqlText>%s</csw:CqlText></csw:Constraint>`,
			xmlEscape(constraints.CQL))
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<csw:GetRecords xmlns:csw="http://www.opengis.net/cat/csw/2.0.2"
    xmlns:ogc="http://www.opengis.net/ogc"
    service="CSW" version="2.0.2" resultType="results"
    startPosition="%d" maxRecords="%d"
    outputSchema="%s">
  <csw:Query typeNames="csw:Record">
    <csw:ElementSetName>brief</csw:ElementSetName>
    %s
    <ogc:SortBy><ogc:SortProperty><ogc:PropertyName>dc:identifier</ogc:PropertyName><ogc:SortOrder>ASC</ogc:SortOrder></ogc:SortProperty></ogc:SortBy>
  </csw:Query>
</csw:GetRecords>`, start, c.pageSize, gmdNamespace, filter)
}

type getRecordByIDResponse struct {
	Metadata  []rawMetadata `xml:"MD_Metadata"`
	Exception *owsException `xml:"Exception"`
}

type rawMetadata struct {
	Inner []byte `xml:",innerxml"`
}

// GetRecordByID fetches one record in the gmd output schema. Returns
// (nil, nil) when the service doesn't know the identifier.
func (c *Client) GetRecordByID(ctx context.Context, identifier string) (*Record, error) {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<csw:GetRecordById xmlns:csw="http://www.opengis.net/cat/csw/2.0.2"
    service="CSW" version="2.0.2" outputSchema="%s">
  <csw:Id>%s</csw:Id>
  <csw:ElementSetName>full</csw:ElementSetName>
</csw:GetRecordById>`, gmdNamespace, xmlEscape(identifier))

	payload, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var response getRecordByIDResponse
	if err := xml.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("parsing GetRecordById response: %w", err)
	}
	if response.Exception != nil {
		return nil, fmt.Errorf("CSW exception %s: %s",
			response.Exception.Code, response.Exception.Text)
	}
	if len(response.Metadata) == 0 {
		return nil, nil
	}

	// re-wrap the metadata subtree as a standalone document
	var doc bytes.Buffer
	doc.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	doc.WriteString(`<gmd:MD_Metadata xmlns:gmd="http://www.isotc211.org/2005/gmd"` +
		` xmlns:gco="http://www.isotc211.org/2005/gco"` +
		` xmlns:srv="http://www.isotc211.org/2005/srv"` +
		` xmlns:gml="http://www.opengis.net/gml"` +
		` xmlns:xlink="http://www.w3.org/1999/xlink">`)
	doc.Write(response.Metadata[0].Inner)
	doc.WriteString(`</gmd:MD_Metadata>`)

	return &Record{GUID: identifier, XML: doc.String()}, nil
}

func (c *Client) post(ctx context.Context, body string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, &ConnectionError{Endpoint: c.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectionError{Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Endpoint: c.endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectionError{
			Endpoint: c.endpoint,
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return payload, nil
}

func xmlEscape(text string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(text))
	return buf.String()
}
