package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for harvest source settings.
const (
	TimeoutDefault   = 20
	TimedeltaDefault = 0
)

// import_since keywords. "big_bang" means a full rescan with no date
// constraint; "last_error_free" resolves to the gather time of the most
// recent clean harvest run.
const (
	ImportSinceBigBang       = "big_bang"
	ImportSinceLastErrorFree = "last_error_free"
)

type Logger struct {
	Level string `yaml:"level"`
}

type Global struct {
	Logger Logger `yaml:"logger"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Store struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

type Catalog struct {
	Type string `yaml:"type"`
}

// Source configures the connection to one CSW harvest source.
type Source struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
	// ImportSince is a keyword (big_bang, last_error_free) or an ISO8601
	// date (YYYY-MM-DD). Empty means no date constraint.
	ImportSince string `yaml:"import_since"`
	// Timeout is the per-request threshold in whole seconds.
	Timeout int `yaml:"-"`
	// Timedelta is the whole-hour offset between the service's timezone
	// and the harvester's, added when resolving last_error_free.
	Timedelta int `yaml:"-"`
	// CQL is passed through uninterpreted to the CSW service.
	CQL string `yaml:"cql"`
	// ReindexUnchanged controls whether unchanged datasets are reindexed
	// so search documents keep pointing at the current entity. Defaults
	// to on.
	ReindexUnchanged *bool `yaml:"reindex_unchanged"`
}

// UnmarshalYAML decodes a source and rejects fractional or non-numeric
// timeout and timedelta values.
func (s *Source) UnmarshalYAML(value *yaml.Node) error {
	type plain Source
	var decoded struct {
		plain     `yaml:",inline"`
		Timeout   any `yaml:"timeout"`
		Timedelta any `yaml:"timedelta"`
	}
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*s = Source(decoded.plain)
	s.Timeout = TimeoutDefault
	s.Timedelta = TimedeltaDefault

	if decoded.Timeout != nil {
		timeout, err := wholeNumber(decoded.Timeout)
		if err != nil {
			return fmt.Errorf("'timeout' is not valid: '%v'; please use whole numbers to indicate seconds until timeout", decoded.Timeout)
		}
		s.Timeout = timeout
	}
	if decoded.Timedelta != nil {
		timedelta, err := wholeNumber(decoded.Timedelta)
		if err != nil {
			return fmt.Errorf("'timedelta' is not valid: '%v'; please use whole numbers to indicate the timezone difference in hours", decoded.Timedelta)
		}
		s.Timedelta = timedelta
	}

	return s.Validate()
}

// Validate checks the import_since setting.
func (s *Source) Validate() error {
	switch s.ImportSince {
	case "", ImportSinceBigBang, ImportSinceLastErrorFree:
		return nil
	}
	if _, err := time.Parse("2006-01-02", s.ImportSince); err != nil {
		return fmt.Errorf("'import_since' is not a valid date: '%s'; use ISO8601 (YYYY-MM-DD) or one of '%s', '%s'",
			s.ImportSince, ImportSinceLastErrorFree, ImportSinceBigBang)
	}
	return nil
}

// TimeoutDuration returns the request timeout as a duration.
func (s *Source) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// ShouldReindexUnchanged reports the reindex_unchanged setting.
func (s *Source) ShouldReindexUnchanged() bool {
	if s.ReindexUnchanged == nil {
		return true
	}
	return *s.ReindexUnchanged
}

func wholeNumber(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("not a whole number: %v", v)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	}
	return 0, fmt.Errorf("not a number: %v", value)
}

// Harvester is the top-level configuration file layout.
type Harvester struct {
	Global   Global  `yaml:"global"`
	HTTP     HTTP    `yaml:"http"`
	Schedule string  `yaml:"schedule"`
	Store    Store   `yaml:"store"`
	Catalog  Catalog `yaml:"catalog"`
	Source   Source  `yaml:"source"`
}

func NewHarvesterFromFile(fpath string) (*Harvester, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	var harvester Harvester
	if err := yaml.Unmarshal(bs, &harvester); err != nil {
		return nil, err
	}
	if harvester.Source.Timeout == 0 {
		harvester.Source.Timeout = TimeoutDefault
	}

	return &harvester, nil
}
