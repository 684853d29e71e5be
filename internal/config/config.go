// Package config loads crawl-target configuration from a YAML file and
// credentials from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration values. These match the behavior of typical
// paginated listing sites: pagination is exhausted quickly once the site
// runs out of results, and a single transient fetch failure is usually
// worth retrying before the page is skipped.
const (
	// DefaultStartPage is the first page number substituted into the
	// page URL template.
	DefaultStartPage = 1

	// DefaultMaxAttempts bounds fetch retries for one page. Transient
	// network errors on listing sites tend to clear within a retry or
	// two; anything beyond that is treated as a permanent failure for
	// that page.
	DefaultMaxAttempts = 3

	// DefaultEmptyPageThreshold is the number of consecutive pages that
	// must yield no surviving records before the crawl stops. 1 stops
	// on the first exhausted page, which is correct for sites that
	// paginate densely.
	DefaultEmptyPageThreshold = 1

	// DefaultMaxConsecutiveFailures is how many pages may fail in a row
	// (fetch or extraction) before the run is aborted as misconfigured.
	// Failing every page usually means bad credentials or a changed
	// site shape, not bad luck.
	DefaultMaxConsecutiveFailures = 3

	// DefaultFetchTimeout applies to a single page load, including
	// browser navigation and settle time.
	DefaultFetchTimeout = 60 * time.Second

	// DefaultPageDelay is the politeness delay between page fetches.
	DefaultPageDelay = 2 * time.Second

	// DefaultLLMTimeout covers one extraction call. Model responses for
	// a full listing page can take minutes on slower backends.
	DefaultLLMTimeout = 360 * time.Second

	// DefaultTemperature keeps extraction output close to deterministic.
	DefaultTemperature = 0.3
)

// Duration wraps time.Duration so YAML values can be written as "30s" or
// as a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Field describes one column of the extraction schema.
type Field struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // string, number, integer
	Required bool   `yaml:"required"`
}

// LLM holds the extraction backend settings. The credential itself is
// never stored in the YAML file; APIKeyEnv names the environment variable
// that carries it.
type LLM struct {
	Endpoint        string  `yaml:"endpoint"`
	Model           string  `yaml:"model"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Temperature     float64 `yaml:"temperature"`
	ReasoningEffort string  `yaml:"reasoning_effort"`
}

// Target is one configured crawl: a paginated listing site plus the schema
// and instruction used to extract records from it. Populated once from the
// config file and read-only during a run.
type Target struct {
	Name string `yaml:"name"`

	// URLTemplate contains a single %d that receives the page number.
	URLTemplate string `yaml:"url_template"`
	StartPage   int    `yaml:"start_page"`

	// ContentSelector scopes extraction to the listing region of the
	// page. ExcludeSelectors name markup to strip before extraction
	// (navigation, ads, footers).
	ContentSelector  string   `yaml:"content_selector"`
	ExcludeSelectors []string `yaml:"exclude_selectors"`

	// ExhaustionMarker is a literal substring whose presence in the
	// fetched page means there are no further results. Empty disables
	// the marker check; the empty-page threshold still applies.
	ExhaustionMarker string `yaml:"exhaustion_marker"`

	Schema      []Field `yaml:"schema"`
	KeyField    string  `yaml:"key_field"`
	Instruction string  `yaml:"instruction"`

	MaxAttempts            int      `yaml:"max_attempts"`
	EmptyPageThreshold     int      `yaml:"empty_page_threshold"`
	MaxPages               int      `yaml:"max_pages"` // 0 = no cap
	MaxConsecutiveFailures int      `yaml:"max_consecutive_failures"`
	FetchTimeout           Duration `yaml:"fetch_timeout"`
	PageDelay              Duration `yaml:"page_delay"`

	LLM LLM `yaml:"llm"`
}

// File is the top-level YAML document.
type File struct {
	Targets []Target `yaml:"targets"`
}

// LoadEnv loads a .env file if one exists next to the working directory.
// Missing files are not an error; the environment may already be set.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads and validates the crawl configuration.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if len(f.Targets) == 0 {
		return nil, fmt.Errorf("config %s defines no targets", path)
	}

	for i := range f.Targets {
		t := &f.Targets[i]
		t.applyDefaults()
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("target %q: %w", t.Name, err)
		}
	}
	return &f, nil
}

func (t *Target) applyDefaults() {
	if t.StartPage == 0 {
		t.StartPage = DefaultStartPage
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if t.EmptyPageThreshold == 0 {
		t.EmptyPageThreshold = DefaultEmptyPageThreshold
	}
	if t.MaxConsecutiveFailures == 0 {
		t.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if t.FetchTimeout == 0 {
		t.FetchTimeout = Duration(DefaultFetchTimeout)
	}
	if t.PageDelay == 0 {
		t.PageDelay = Duration(DefaultPageDelay)
	}
	if t.LLM.Temperature == 0 {
		t.LLM.Temperature = DefaultTemperature
	}
}

// Validate checks the invariants the pipeline relies on: a usable page
// template, a schema that covers every required field, and a key field
// that is itself required (a record without its identifying key could
// never be deduplicated).
func (t *Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !strings.Contains(t.URLTemplate, "%d") {
		return fmt.Errorf("url_template must contain a %%d page placeholder")
	}
	if len(t.Schema) == 0 {
		return fmt.Errorf("schema must define at least one field")
	}
	if t.KeyField == "" {
		return fmt.Errorf("key_field is required")
	}

	fields := make(map[string]*Field, len(t.Schema))
	for i := range t.Schema {
		fields[t.Schema[i].Name] = &t.Schema[i]
	}
	key, ok := fields[t.KeyField]
	if !ok {
		return fmt.Errorf("key_field %q is not in the schema", t.KeyField)
	}
	if !key.Required {
		return fmt.Errorf("key_field %q must be a required field", t.KeyField)
	}
	return nil
}

// PageURL renders the URL for one page number.
func (t *Target) PageURL(page int) string {
	return fmt.Sprintf(t.URLTemplate, page)
}

// RequiredFields returns the schema field names marked required, in
// schema order.
func (t *Target) RequiredFields() []string {
	var req []string
	for _, f := range t.Schema {
		if f.Required {
			req = append(req, f.Name)
		}
	}
	return req
}

// FieldNames returns all schema field names in schema order. The CSV sink
// uses this as its column order.
func (t *Target) FieldNames() []string {
	names := make([]string, len(t.Schema))
	for i, f := range t.Schema {
		names[i] = f.Name
	}
	return names
}

// APIKey resolves the LLM credential from the environment.
func (t *Target) APIKey() (string, error) {
	if t.LLM.APIKeyEnv == "" {
		return "", nil
	}
	key := os.Getenv(t.LLM.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", t.LLM.APIKeyEnv)
	}
	return key, nil
}
