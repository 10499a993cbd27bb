package csw

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	t.Run("probes with GetCapabilities", func(t *testing.T) {
		var probed bool
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			probed = true
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "GetCapabilities", r.URL.Query().Get("request"))
			assert.Equal(t, "CSW", r.URL.Query().Get("service"))
			fmt.Fprint(w, `<csw:Capabilities/>`)
		}))
		defer server.Close()

		client := NewClient(server.URL)
		require.NoError(t, client.Connect(context.Background()))
		assert.True(t, probed)
	})

	t.Run("non-200 is a connection error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewClient(server.URL)
		err := client.Connect(context.Background())
		require.Error(t, err)

		var connErr *ConnectionError
		assert.ErrorAs(t, err, &connErr)
		assert.Equal(t, server.URL, connErr.Endpoint)
	})

	t.Run("unreachable endpoint is a connection error", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1")
		err := client.Connect(context.Background())
		var connErr *ConnectionError
		assert.ErrorAs(t, err, &connErr)
	})
}

func identifierPage(matched, next int, identifiers ...string) string {
	var records strings.Builder
	for _, identifier := range identifiers {
		fmt.Fprintf(&records, `<gmd:MD_Metadata xmlns:gmd="http://www.isotc211.org/2005/gmd" xmlns:gco="http://www.isotc211.org/2005/gco">
  <gmd:fileIdentifier><gco:CharacterString>%s</gco:CharacterString></gmd:fileIdentifier>
</gmd:MD_Metadata>`, identifier)
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<csw:GetRecordsResponse xmlns:csw="http://www.opengis.net/cat/csw/2.0.2">
  <csw:SearchResults numberOfRecordsMatched="%d" numberOfRecordsReturned="%d" nextRecord="%d">
  %s
  </csw:SearchResults>
</csw:GetRecordsResponse>`, matched, len(identifiers), next, records.String())
}

func TestListIdentifiers(t *testing.T) {
	t.Run("pages through all results", func(t *testing.T) {
		var bodies []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, _ := io.ReadAll(r.Body)
			body := string(payload)
			bodies = append(bodies, body)
			switch {
			case strings.Contains(body, `startPosition="1"`):
				fmt.Fprint(w, identifierPage(3, 3, "aaa", "bbb"))
			case strings.Contains(body, `startPosition="3"`):
				fmt.Fprint(w, identifierPage(3, 0, "ccc"))
			default:
				t.Errorf("unexpected request body: %s", body)
			}
		}))
		defer server.Close()

		client := NewClient(server.URL, WithPageSize(2))
		identifiers, err := client.ListIdentifiers(context.Background(), Constraints{})
		require.NoError(t, err)
		assert.Equal(t, []string{"aaa", "bbb", "ccc"}, identifiers)
		assert.Len(t, bodies, 2)
	})

	t.Run("modified constraint becomes an ogc filter", func(t *testing.T) {
		var body string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, _ := io.ReadAll(r.Body)
			body = string(payload)
			fmt.Fprint(w, identifierPage(1, 0, "aaa"))
		}))
		defer server.Close()

		client := NewClient(server.URL)
		_, err := client.ListIdentifiers(context.Background(),
			Constraints{ModifiedSince: "2024-05-01T00:00:00"})
		require.NoError(t, err)
		assert.Contains(t, body, "PropertyIsGreaterThanOrEqualTo")
		assert.Contains(t, body, "<ogc:Literal>2024-05-01T00:00:00</ogc:Literal>")
	})

	t.Run("cql constraint is passed through as CqlText", func(t *testing.T) {
		var body string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, _ := io.ReadAll(r.Body)
			body = string(payload)
			fmt.Fprint(w, identifierPage(1, 0, "aaa"))
		}))
		defer server.Close()

		client := NewClient(server.URL)
		_, err := client.ListIdentifiers(context.Background(),
			Constraints{CQL: "Subject = 'opendata'"})
		require.NoError(t, err)
		assert.Contains(t, body, "<csw:CqlText>Subject = &#39;opendata&#39;</csw:CqlText>")
	})

	t.Run("ows exception becomes an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ows:ExceptionReport xmlns:ows="http://www.opengis.net/ows">
  <ows:Exception exceptionCode="InvalidParameterValue">
    <ows:ExceptionText>bad constraint</ows:ExceptionText>
  </ows:Exception>
</ows:ExceptionReport>`)
		}))
		defer server.Close()

		client := NewClient(server.URL)
		_, err := client.ListIdentifiers(context.Background(), Constraints{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "InvalidParameterValue")
		assert.Contains(t, err.Error(), "bad constraint")
	})

	t.Run("empty identifiers are skipped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, identifierPage(2, 0, "aaa", "  "))
		}))
		defer server.Close()

		client := NewClient(server.URL)
		identifiers, err := client.ListIdentifiers(context.Background(), Constraints{})
		require.NoError(t, err)
		assert.Equal(t, []string{"aaa"}, identifiers)
	})
}

func TestGetRecordByID(t *testing.T) {
	t.Run("re-wraps the record as a standalone document", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(payload), "<csw:Id>65715c6e</csw:Id>")
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<csw:GetRecordByIdResponse xmlns:csw="http://www.opengis.net/cat/csw/2.0.2">
  <gmd:MD_Metadata xmlns:gmd="http://www.isotc211.org/2005/gmd" xmlns:gco="http://www.isotc211.org/2005/gco">
    <gmd:fileIdentifier><gco:CharacterString>65715c6e</gco:CharacterString></gmd:fileIdentifier>
  </gmd:MD_Metadata>
</csw:GetRecordByIdResponse>`)
		}))
		defer server.Close()

		client := NewClient(server.URL)
		record, err := client.GetRecordByID(context.Background(), "65715c6e")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, "65715c6e", record.GUID)
		assert.True(t, strings.HasPrefix(record.XML, `<?xml version="1.0" encoding="UTF-8"?>`))
		assert.Contains(t, record.XML, `<gmd:MD_Metadata xmlns:gmd="http://www.isotc211.org/2005/gmd"`)
		assert.Contains(t, record.XML, "<gco:CharacterString>65715c6e</gco:CharacterString>")
		assert.True(t, strings.HasSuffix(record.XML, "</gmd:MD_Metadata>"))
	})

	t.Run("unknown identifier yields nil without error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<csw:GetRecordByIdResponse xmlns:csw="http://www.opengis.net/cat/csw/2.0.2"></csw:GetRecordByIdResponse>`)
		}))
		defer server.Close()

		client := NewClient(server.URL)
		record, err := client.GetRecordByID(context.Background(), "unknown")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("http failure is a connection error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(server.URL)
		_, err := client.GetRecordByID(context.Background(), "65715c6e")
		var connErr *ConnectionError
		assert.ErrorAs(t, err, &connErr)
	})
}

func TestConstraintsEmpty(t *testing.T) {
	assert.True(t, Constraints{}.Empty())
	assert.False(t, Constraints{ModifiedSince: "2024-01-01"}.Empty())
	assert.False(t, Constraints{CQL: "x = 'y'"}.Empty())
}
