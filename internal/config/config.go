package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv        = "BIBLIO_SCANNER_CONFIG"
	databasePathEnv      = "DATABASE_PATH"
	geminiAPIKeyEnv      = "GEMINI_API_KEY"
	geminiModelEnv       = "GEMINI_MODEL"
	ollamaHostEnv        = "OLLAMA_HOST"
	ollamaModelEnv       = "OLLAMA_MODEL"
	ollamaFilterModelEnv = "OLLAMA_FILTER_MODEL"
	relevanceEngineEnv   = "RELEVANCE_ENGINE"
	synthesisEngineEnv   = "SYNTHESIS_ENGINE"
	maxMonthlyCostEnv    = "MAX_MONTHLY_COST"
	openAlexEmailEnv     = "OPENALEX_EMAIL"
	coreAPIKeyEnv        = "CORE_API_KEY"
	elsevierAPIKeyEnv    = "ELSEVIER_API_KEY"
	elsevierInstTokenEnv = "ELSEVIER_INST_TOKEN"
	telegramTokenEnv     = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv    = "TELEGRAM_CHAT_ID"
	logLevelEnv          = "LOG_LEVEL"
)

// Backend names shared by the relevance filter, synthesis and the budget governor.
const (
	BackendGemini = "gemini-api"
	BackendOllama = "ollama"
)

// Config holds every setting of a run; it is built once and passed to constructors.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Paths         PathsConfig        `yaml:"paths"`
	Discovery     DiscoveryConfig    `yaml:"discovery"`
	Filter        FilterConfig       `yaml:"filter"`
	Gemini        GeminiConfig       `yaml:"gemini"`
	Ollama        OllamaConfig       `yaml:"ollama"`
	Synthesis     SynthesisConfig    `yaml:"synthesis"`
	Budget        BudgetConfig       `yaml:"budget"`
	Acquisition   AcquisitionConfig  `yaml:"acquisition"`
	Backfill      BackfillConfig     `yaml:"backfill"`
	Promotion     PromotionConfig    `yaml:"promotion"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Notifications NotificationConfig `yaml:"notifications"`
	Tasks         []TaskConfig       `yaml:"tasks"`
}

// LoggingConfig selects slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig locates the SQLite ledger.
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyRetries int           `yaml:"busyRetries"`
	BusyBackoff time.Duration `yaml:"busyBackoff"`
}

// PathsConfig holds the artifact directories.
type PathsConfig struct {
	Papers    string `yaml:"papers"`
	Summaries string `yaml:"summaries"`
}

// DiscoveryConfig describes the OpenAlex client.
type DiscoveryConfig struct {
	BaseURL          string        `yaml:"baseUrl"`
	Email            string        `yaml:"email"`
	FallbackLookback time.Duration `yaml:"fallbackLookback"`
	SafetyMargin     time.Duration `yaml:"safetyMargin"`
	CitationBatch    int           `yaml:"citationBatch"`
	CitationDelay    time.Duration `yaml:"citationDelay"`
}

// FilterConfig drives the relevance cascade.
type FilterConfig struct {
	Engine           string   `yaml:"engine"`
	Criteria         string   `yaml:"criteria"`
	CriteriaFile     string   `yaml:"criteriaFile"`
	JournalBlacklist []string `yaml:"journalBlacklist"`
	TopicWhitelist   []string `yaml:"topicWhitelist"`
	TopicBlacklist   []string `yaml:"topicBlacklist"`
}

// GeminiConfig describes the hosted, paid backend.
type GeminiConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// OllamaConfig describes the local, free backend.
type OllamaConfig struct {
	Host        string        `yaml:"host"`
	Model       string        `yaml:"model"`
	FilterModel string        `yaml:"filterModel"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SynthesisConfig selects the default synthesis backend.
type SynthesisConfig struct {
	Engine string `yaml:"engine"`
	Prompt string `yaml:"prompt"`
}

// ModelPrice holds per-million-token rates.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// BudgetConfig caps monthly spend on paid backends.
type BudgetConfig struct {
	// MaxMonthlyCost of 0 keeps synthesis on the free backend; a negative value removes the cap.
	MaxMonthlyCost float64               `yaml:"maxMonthlyCost"`
	Pricing        map[string]ModelPrice `yaml:"pricing"`
}

// AcquisitionConfig configures document retrieval.
type AcquisitionConfig struct {
	UnpaywallURL      string        `yaml:"unpaywallUrl"`
	UnpaywallEmail    string        `yaml:"unpaywallEmail"`
	CoreURL           string        `yaml:"coreUrl"`
	CoreAPIKey        string        `yaml:"coreApiKey"`
	ElsevierURL       string        `yaml:"elsevierUrl"`
	ElsevierAPIKey    string        `yaml:"elsevierApiKey"`
	ElsevierInstToken string        `yaml:"elsevierInstToken"`
	InsecureHosts     []string      `yaml:"insecureHosts"`
	UserAgents        []string      `yaml:"userAgents"`
	MinHTMLChars      int           `yaml:"minHtmlChars"`
	MinRenderedChars  int           `yaml:"minRenderedChars"`
	DownloadTimeout   time.Duration `yaml:"downloadTimeout"`
	PageTimeout       time.Duration `yaml:"pageTimeout"`
	ResolverTimeout   time.Duration `yaml:"resolverTimeout"`
	RenderEnabled     bool          `yaml:"renderEnabled"`
	RenderTimeout     time.Duration `yaml:"renderTimeout"`
	RenderSettle      time.Duration `yaml:"renderSettle"`
}

// BackfillConfig tunes the rolling backward walk.
type BackfillConfig struct {
	Step  int    `yaml:"stepDays"`
	Floor string `yaml:"floor"`
}

// FloorDate parses Floor, defaulting to 2000-01-01.
func (b BackfillConfig) FloorDate() time.Time {
	if t, err := time.Parse("2006-01-02", b.Floor); err == nil {
		return t
	}
	return time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// PromotionConfig holds promotion thresholds.
type PromotionConfig struct {
	JournalThreshold int `yaml:"journalThreshold"`
	AuthorThreshold  int `yaml:"authorThreshold"`
}

// SchedulerConfig defines when the watch loop should run.
type SchedulerConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	return time.UTC
}

// MetricsConfig points at an optional Prometheus textfile.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfilePath"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// TaskConfig is one static discovery task.
type TaskConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	ID      string `yaml:"id"`
	Query   string `yaml:"query"`
	ISSN    string `yaml:"issn"`
	DOI     string `yaml:"doi"`
	FeedURL string `yaml:"feedUrl"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if err := overlay(&cfg, raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			cfg = defaultConfig()
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.loadCriteriaFile()

	if len(cfg.Tasks) == 0 {
		cfg.Tasks = defaultConfig().Tasks
	}

	return cfg
}

// overlay decodes raw YAML on top of cfg; keys absent from the file keep their defaults.
func overlay(cfg *Config, raw []byte) error {
	return yaml.Unmarshal(raw, cfg)
}

func (c *Config) applyEnvOverrides() {
	setString(&c.Database.Path, databasePathEnv)
	setString(&c.Gemini.APIKey, geminiAPIKeyEnv)
	setString(&c.Gemini.Model, geminiModelEnv)
	setString(&c.Ollama.Host, ollamaHostEnv)
	setString(&c.Ollama.Model, ollamaModelEnv)
	setString(&c.Ollama.FilterModel, ollamaFilterModelEnv)
	setString(&c.Filter.Engine, relevanceEngineEnv)
	setString(&c.Synthesis.Engine, synthesisEngineEnv)
	setString(&c.Discovery.Email, openAlexEmailEnv)
	setString(&c.Acquisition.CoreAPIKey, coreAPIKeyEnv)
	setString(&c.Acquisition.ElsevierAPIKey, elsevierAPIKeyEnv)
	setString(&c.Acquisition.ElsevierInstToken, elsevierInstTokenEnv)
	setString(&c.Notifications.Telegram.BotToken, telegramTokenEnv)
	setString(&c.Notifications.Telegram.ChatID, telegramChatIDEnv)
	setString(&c.Logging.Level, logLevelEnv)

	if v := os.Getenv(maxMonthlyCostEnv); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			c.Budget.MaxMonthlyCost = parsed
		} else {
			log.Printf("config: invalid %s=%q ignored", maxMonthlyCostEnv, v)
		}
	}

	if c.Acquisition.UnpaywallEmail == "" {
		c.Acquisition.UnpaywallEmail = c.Discovery.Email
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to UTC", tz)
		loc = time.UTC
	}
	c.Scheduler.location = loc
}

func (c *Config) loadCriteriaFile() {
	if c.Filter.CriteriaFile == "" {
		return
	}
	raw, err := os.ReadFile(c.Filter.CriteriaFile)
	if err != nil {
		log.Printf("config: cannot read criteria %s: %v (keeping built-in criteria)", c.Filter.CriteriaFile, err)
		return
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		c.Filter.Criteria = text
	}
}

// PaidBackend reports whether the named backend costs money.
func PaidBackend(name string) bool {
	return name == BackendGemini || name == "gemini"
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Path: "data/db.sqlite3", BusyRetries: 3, BusyBackoff: time.Second},
		Paths:    PathsConfig{Papers: "data/papers", Summaries: "data/summaries"},
		Discovery: DiscoveryConfig{
			BaseURL:          "https://api.openalex.org",
			FallbackLookback: 90 * 24 * time.Hour,
			SafetyMargin:     7 * 24 * time.Hour,
			CitationBatch:    50,
			CitationDelay:    500 * time.Millisecond,
		},
		Filter: FilterConfig{
			Engine:           "gemini",
			Criteria:         defaultCriteria,
			JournalBlacklist: []string{"Zenodo", "Figshare"},
		},
		Gemini: GeminiConfig{Model: "gemini-2.5-flash"},
		Ollama: OllamaConfig{
			Host:        "http://localhost:11434",
			Model:       "deepseek-r1:14b",
			FilterModel: "llama3.1:8b",
			Timeout:     5 * time.Minute,
		},
		Synthesis: SynthesisConfig{Engine: BackendGemini, Prompt: defaultSynthesisPrompt},
		Budget: BudgetConfig{
			MaxMonthlyCost: 10.0,
			Pricing: map[string]ModelPrice{
				"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
				"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
			},
		},
		Acquisition: AcquisitionConfig{
			UnpaywallURL:     "https://api.unpaywall.org",
			CoreURL:          "https://api.core.ac.uk",
			ElsevierURL:      "https://api.elsevier.com",
			InsecureHosts:    []string{"*.edu", "*.ac.uk", "csic.es", "repositori*", "digital.*"},
			UserAgents:       defaultUserAgents,
			MinHTMLChars:     500,
			MinRenderedChars: 1500,
			DownloadTimeout:  45 * time.Second,
			PageTimeout:      30 * time.Second,
			ResolverTimeout:  20 * time.Second,
			RenderEnabled:    true,
			RenderTimeout:    60 * time.Second,
			RenderSettle:     3 * time.Second,
		},
		Backfill:  BackfillConfig{Step: 7, Floor: "2000-01-01"},
		Promotion: PromotionConfig{JournalThreshold: 3, AuthorThreshold: 3},
		Scheduler: SchedulerConfig{Interval: 24 * time.Hour, Timezone: "UTC", location: time.UTC},
		Tasks: []TaskConfig{
			{
				Name:  "Global: Hydrological Extremes",
				Type:  "search",
				Query: `("drought" OR "flash flood") AND ("groundwater" OR "soil moisture" OR "data assimilation")`,
			},
		},
	}
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:122.0) Gecko/20100101 Firefox/122.0",
}

const defaultCriteria = `You are an expert research assistant for a hydrologist and climate scientist.
Filter scientific papers based on their Title and Abstract.

Criteria for RELEVANT:
1. Land surface models, soil moisture, evapotranspiration, runoff generation, groundwater recharge.
2. Drought propagation and indices, flash floods, heatwaves, climate change impacts on the water cycle.
3. Downscaling, bias correction, data assimilation.
4. Remote sensing of soil moisture and irrigation.
5. Mediterranean, Pyrenees, Spain, France, Southern Europe.

Criteria for NOT RELEVANT:
- Purely marine or atmospheric dynamics without surface coupling.
- Policy or social studies without a quantitative physical basis.
- Crop studies without a hydrological perspective.

Return ONLY a JSON object: {"relevant": true, "reason": "short explanation"}`

const defaultSynthesisPrompt = `You summarise scientific papers for a hydrologist.
Write a structured Markdown summary with the sections: Context, Methods, Key Findings, Relevance.
Be factual and concise. Do not invent results that are not in the text.`
